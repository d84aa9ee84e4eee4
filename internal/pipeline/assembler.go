package pipeline

import (
	"strings"

	"github.com/kestrellm/kestrel/internal/tokenizer"
)

// metaspace is the SentencePiece word-boundary marker some tokenizers
// leak into decoded pieces; it is rewritten to a plain space at the
// release stage only, never in the tokenizer's own strings.
const metaspace = "▁"

// tokenStreamAssembler is the per-candidate scratch between the raw token
// stream and releasable text.  It carries incomplete BPE continuations
// across steps and withholds fragments that might belong to a partially
// matched stop sequence.
type tokenStreamAssembler struct {
	// pending holds the token ids of an incomplete multi-byte fragment,
	// re-decoded together with the next step's tokens.
	pending [][]int32
	// deferred holds, oldest first, fragments withheld because they might
	// be part of an unfolding stop match.  It never holds more than the
	// detector's MaxPartialStopLen fragments; overflow is released oldest
	// first.
	deferred [][]string
}

func newTokenStreamAssembler(candidates int) *tokenStreamAssembler {
	return &tokenStreamAssembler{
		pending:  make([][]int32, candidates),
		deferred: make([][]string, candidates),
	}
}

// emit processes one candidate's merged ids and decoded fragment for this
// step and returns the text that is safe to release now.
func (a *tokenStreamAssembler) emit(i int, merged []int32, dec tokenizer.Decoded, det *StopTokenDetector) string {
	if dec.Incomplete {
		a.pending[i] = append(a.pending[i][:0], merged...)
		return ""
	}
	if det.Done(i) {
		// The candidate finished; trailing fragments would leak stop text.
		return ""
	}
	a.pending[i] = a.pending[i][:0]

	det.noteFragment(i)
	limit := det.MaxPartialStopLen(i)

	var out strings.Builder
	if limit > 0 {
		a.deferred[i] = append(a.deferred[i], dec.Text)
	}
	for len(a.deferred[i]) > limit {
		out.WriteString(a.deferred[i][0])
		a.deferred[i] = a.deferred[i][1:]
	}
	if limit == 0 {
		out.WriteString(dec.Text)
	}
	if out.Len() == 0 {
		return ""
	}
	return strings.ReplaceAll(out.String(), metaspace, " ")
}
