package executor

import "github.com/kestrellm/kestrel/internal/tensor"

// Settings carries the executor-reported limits the pipeline needs.
type Settings struct {
	// MaxNumTokens is the kv-cache token budget for one context.
	MaxNumTokens int
}

// PrefillParams controls a single Prefill submission.
type PrefillParams struct {
	// WaitForCompletion blocks Prefill until the prompt is fully loaded
	// into the cache.  Some backends overlap prefill with the first decode
	// when this is false.
	WaitForCompletion bool
}

// Inputs bundles the tensors submitted to the executor.  TextTokens is a
// [1, promptLen] buffer for prefill and a [candidates, 1] buffer for the
// external-sampling decode path.
type Inputs struct {
	TextTokens *tensor.TokenMat
}

// Executor is the model execution backend consumed by the pipeline.  It
// owns the kv-cache; the pipeline only drives it.  Implementations may use
// threads internally for tensor ops but expose a synchronous interface,
// and a single executor context must not be shared between concurrent
// generations.
type Executor interface {
	// Prefill loads the prompt tokens into the cache.
	Prefill(inputs Inputs, params PrefillParams) error

	// Decode runs one internally-sampled decode step, writing the next
	// token id for each candidate into out, a [candidates, 1] buffer.
	Decode(out *tensor.TokenMat) error

	// DecodeLogits runs one decode step seeded with the token ids in
	// inputs and returns the [candidates, vocab] logits for external
	// sampling.
	DecodeLogits(inputs Inputs) (*tensor.Mat, error)

	// CurrentStep reports how many tokens are in the cache.
	CurrentStep() int

	// Settings reports the executor limits.  An error here makes the
	// pipeline fall back to its default token budget.
	Settings() (Settings, error)
}
