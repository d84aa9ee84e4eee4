package pipeline

import "errors"

// Error kinds surfaced by the pipeline.  Collaborator errors (executor,
// tokenizer, sampler) pass through verbatim; everything the pipeline
// raises itself wraps one of these sentinels so callers can classify with
// errors.Is.
var (
	// ErrInvalidArgument marks caller mistakes: an empty prompt, a prompt
	// longer than the cache budget, a streaming call without an observer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCancelled is returned once the cancel flag is observed.
	ErrCancelled = errors.New("cancelled")

	// ErrInternal marks broken pipeline invariants: a missing seed buffer
	// under external sampling, or the kv-cache filling up mid stream.
	ErrInternal = errors.New("internal")
)
