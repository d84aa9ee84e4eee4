package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kestrellm/kestrel/internal/tensor"
)

// Metaspace is the SentencePiece word-boundary marker.  Pieces use it in
// place of a leading space; the pipeline replaces it on release.
const Metaspace = "▁"

// Vocab is a piece-table tokenizer.  Each token id maps to a text piece;
// pieces of the form "<0xNN>" are byte-fallback tokens that decode to a
// single raw byte, so a multi-byte character can be split across several
// tokens.
type Vocab struct {
	pieces []string
	index  map[string]int32
	bytes  [256]int32 // id of the byte-fallback piece, -1 if absent
}

// NewVocab builds a tokenizer over the given piece table.
func NewVocab(pieces []string) *Vocab {
	v := &Vocab{
		pieces: pieces,
		index:  make(map[string]int32, len(pieces)),
	}
	for i := range v.bytes {
		v.bytes[i] = -1
	}
	for id, p := range pieces {
		v.index[p] = int32(id)
		if b, ok := byteFallback(p); ok {
			v.bytes[b] = int32(id)
		}
	}
	return v
}

// NewByteVocab builds a vocabulary whose first 256 pieces are the byte
// fallbacks, followed by the given extra pieces.  Any text can be encoded
// against it.
func NewByteVocab(extra ...string) *Vocab {
	pieces := make([]string, 0, 256+len(extra))
	for b := 0; b < 256; b++ {
		pieces = append(pieces, fmt.Sprintf("<0x%02X>", b))
	}
	pieces = append(pieces, extra...)
	return NewVocab(pieces)
}

// Size returns the number of pieces in the table.
func (v *Vocab) Size() int { return len(v.pieces) }

// PieceID returns the id of an exact piece, or -1 if the piece is not in
// the table.
func (v *Vocab) PieceID(piece string) int32 {
	if id, ok := v.index[piece]; ok {
		return id
	}
	return -1
}

// Encode converts text to token ids using greedy longest-match over the
// piece table, falling back to byte pieces for anything unmatched.
// Spaces are rewritten to the metaspace marker first, mirroring how the
// pieces are stored.
func (v *Vocab) Encode(text string) ([]int32, error) {
	text = strings.ReplaceAll(text, " ", Metaspace)
	ids := make([]int32, 0, len(text))
	for len(text) > 0 {
		matched := 0
		var matchedID int32
		for l := len(text); l > 0; l-- {
			if id, ok := v.index[text[:l]]; ok {
				matched, matchedID = l, id
				break
			}
		}
		if matched > 0 {
			ids = append(ids, matchedID)
			text = text[matched:]
			continue
		}
		b := text[0]
		if v.bytes[b] < 0 {
			return nil, fmt.Errorf("no piece or byte fallback for byte 0x%02X", b)
		}
		ids = append(ids, v.bytes[b])
		text = text[1:]
	}
	return ids, nil
}

// TensorToTokenIDs converts a [candidates, n] buffer into per-candidate
// id slices.
func (v *Vocab) TensorToTokenIDs(buf *tensor.TokenMat) ([][]int32, error) {
	if buf == nil {
		return nil, fmt.Errorf("nil token buffer")
	}
	ids := make([][]int32, buf.R)
	for i := 0; i < buf.R; i++ {
		row := make([]int32, buf.C)
		copy(row, buf.Row(i))
		ids[i] = row
	}
	return ids, nil
}

// MergeTokenIDs concatenates pending continuation ids with this step's
// ids, candidate by candidate.  Fresh slices are returned.
func (v *Vocab) MergeTokenIDs(pending, next [][]int32) ([][]int32, error) {
	if len(pending) != len(next) {
		return nil, fmt.Errorf("candidate count mismatch: %d pending vs %d next", len(pending), len(next))
	}
	merged := make([][]int32, len(next))
	for i := range next {
		row := make([]int32, 0, len(pending[i])+len(next[i]))
		row = append(row, pending[i]...)
		row = append(row, next[i]...)
		merged[i] = row
	}
	return merged, nil
}

// TokenIDsToTexts decodes each candidate's ids into a text fragment.  A
// fragment whose bytes end part way through a UTF-8 sequence is flagged
// incomplete so the caller can buffer the ids and retry next step.
func (v *Vocab) TokenIDsToTexts(candidates int, ids [][]int32) ([]Decoded, error) {
	if len(ids) != candidates {
		return nil, fmt.Errorf("candidate count mismatch: %d ids vs %d candidates", len(ids), candidates)
	}
	out := make([]Decoded, candidates)
	for i := 0; i < candidates; i++ {
		var sb strings.Builder
		for _, id := range ids[i] {
			if id < 0 || int(id) >= len(v.pieces) {
				return nil, fmt.Errorf("token id %d out of range [0,%d)", id, len(v.pieces))
			}
			p := v.pieces[id]
			if b, ok := byteFallback(p); ok {
				sb.WriteByte(b)
			} else {
				sb.WriteString(p)
			}
		}
		text := sb.String()
		out[i] = Decoded{Text: text, Incomplete: endsIncomplete(text)}
	}
	return out, nil
}

// byteFallback reports whether piece has the "<0xNN>" byte-fallback form
// and, if so, which byte it stands for.
func byteFallback(piece string) (byte, bool) {
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	var b byte
	for i := 3; i < 5; i++ {
		c := piece[i]
		switch {
		case c >= '0' && c <= '9':
			b = b<<4 | (c - '0')
		case c >= 'A' && c <= 'F':
			b = b<<4 | (c - 'A' + 10)
		case c >= 'a' && c <= 'f':
			b = b<<4 | (c - 'a' + 10)
		default:
			return 0, false
		}
	}
	return b, true
}

// endsIncomplete reports whether s ends part way through a multi-byte
// UTF-8 sequence, i.e. the trailing bytes are a valid prefix of a longer
// encoding.  Outright invalid bytes are not considered incomplete.
func endsIncomplete(s string) bool {
	if s == "" {
		return false
	}
	// Find the start of the last rune: at most utf8.UTFMax-1 continuation
	// bytes precede it.
	start := len(s) - 1
	for i := 0; i < utf8.UTFMax-1 && start > 0; i++ {
		if s[start]&0xC0 != 0x80 {
			break
		}
		start--
	}
	tail := s[start:]
	if utf8.FullRuneInString(tail) {
		return false
	}
	// FullRune said the tail could continue; make sure it actually is a
	// truncated sequence and not garbage.
	r, _ := utf8.DecodeRuneInString(tail)
	return r == utf8.RuneError
}
