package tokenizer

import "github.com/kestrellm/kestrel/internal/tensor"

// Decoded is the text produced for one candidate in one decode step.
// Incomplete marks a fragment that ends mid way through a multi-byte
// UTF-8 sequence; its token ids must be carried into the next step and
// re-decoded together with the tokens that follow.
type Decoded struct {
	Text       string
	Incomplete bool
}

// Tokenizer is the decode-side interface consumed by the pipeline.
type Tokenizer interface {
	// TensorToTokenIDs converts a [candidates, n] token buffer into one
	// id slice per candidate.
	TensorToTokenIDs(buf *tensor.TokenMat) ([][]int32, error)

	// MergeTokenIDs concatenates each candidate's pending continuation
	// ids with the ids produced this step.  The returned slices must not
	// alias either input.
	MergeTokenIDs(pending, next [][]int32) ([][]int32, error)

	// TokenIDsToTexts decodes each candidate's ids to text, flagging
	// fragments that end on an incomplete UTF-8 sequence.
	TokenIDsToTexts(candidates int, ids [][]int32) ([]Decoded, error)
}
