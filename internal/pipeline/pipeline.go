// Package pipeline orchestrates a single generation request end to end:
// it prefills the prompt into the executor's kv-cache, then drives the
// decode loop step by step, converting emitted token ids to text,
// suppressing stop sequences, buffering incomplete BPE continuations, and
// delivering output either as one batch response or incrementally through
// an observer.
//
// The pipeline is single-threaded within one generation; run concurrent
// generations against independent executor contexts.
package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/kestrellm/kestrel/internal/benchmark"
	"github.com/kestrellm/kestrel/internal/executor"
	"github.com/kestrellm/kestrel/internal/logger"
	"github.com/kestrellm/kestrel/internal/sampler"
	"github.com/kestrellm/kestrel/internal/tensor"
	"github.com/kestrellm/kestrel/internal/tokenizer"
)

// Pipeline bundles the collaborators one generation context needs.
type Pipeline struct {
	ex  executor.Executor
	tok tokenizer.Tokenizer
	log logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the pipeline's logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New returns a pipeline over the given executor and tokenizer.
func New(ex executor.Executor, tok tokenizer.Tokenizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		ex:  ex,
		tok: tok,
		log: logger.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decode generates a single candidate with the executor's internal
// sampling and returns the whole response at once.
func (p *Pipeline) Decode(det *StopTokenDetector, bench *benchmark.Info, cancel *atomic.Bool) (Responses, error) {
	if err := checkCandidates(det, 1); err != nil {
		return Responses{}, err
	}
	return p.decodeLoop(det, loopConfig{
		candidates: 1,
		bench:      bench,
		cancel:     cancel,
	})
}

// DecodeStreaming generates a single candidate with internal sampling,
// delivering per-step text through the observer.
func (p *Pipeline) DecodeStreaming(det *StopTokenDetector, bench *benchmark.Info, observer Observer, cancel *atomic.Bool) error {
	if observer == nil {
		return fmt.Errorf("%w: observer must not be nil for streaming", ErrInvalidArgument)
	}
	if err := checkCandidates(det, 1); err != nil {
		return err
	}
	_, err := p.decodeLoop(det, loopConfig{
		candidates: 1,
		observer:   observer,
		bench:      bench,
		cancel:     cancel,
	})
	return err
}

// DecodeCustomSampling generates candidates with an external sampler.
// seedIDs is the [candidates, 1] decoded-ids buffer, seeded by the caller
// (typically with the last prompt token) and updated in place each step.
// A candidate's final score is the mean of the scores of the steps that
// released text for it, or -Inf when it released none.
func (p *Pipeline) DecodeCustomSampling(det *StopTokenDetector, candidates int,
	smp sampler.Sampler, seedIDs *tensor.TokenMat,
	bench *benchmark.Info, cancel *atomic.Bool) (Responses, error) {
	if smp == nil {
		return Responses{}, fmt.Errorf("%w: sampler must not be nil for custom sampling", ErrInvalidArgument)
	}
	if err := checkCandidates(det, candidates); err != nil {
		return Responses{}, err
	}
	return p.decodeLoop(det, loopConfig{
		candidates: candidates,
		smp:        smp,
		seedIDs:    seedIDs,
		bench:      bench,
		cancel:     cancel,
	})
}

// DecodeCustomSamplingStreaming generates candidates with an external
// sampler, delivering per-step text and scores through the observer.
func (p *Pipeline) DecodeCustomSamplingStreaming(det *StopTokenDetector, candidates int,
	smp sampler.Sampler, seedIDs *tensor.TokenMat,
	bench *benchmark.Info, observer Observer, cancel *atomic.Bool) error {
	if observer == nil {
		return fmt.Errorf("%w: observer must not be nil for streaming", ErrInvalidArgument)
	}
	if smp == nil {
		return fmt.Errorf("%w: sampler must not be nil for custom sampling", ErrInvalidArgument)
	}
	if err := checkCandidates(det, candidates); err != nil {
		return err
	}
	_, err := p.decodeLoop(det, loopConfig{
		candidates: candidates,
		smp:        smp,
		seedIDs:    seedIDs,
		observer:   observer,
		bench:      bench,
		cancel:     cancel,
	})
	return err
}

func checkCandidates(det *StopTokenDetector, candidates int) error {
	if det == nil {
		return fmt.Errorf("%w: stop token detector must not be nil", ErrInvalidArgument)
	}
	if candidates <= 0 {
		return fmt.Errorf("%w: candidate count must be positive, got %d", ErrInvalidArgument, candidates)
	}
	if det.NumCandidates() != candidates {
		return fmt.Errorf("%w: detector configured for %d candidates, request has %d",
			ErrInvalidArgument, det.NumCandidates(), candidates)
	}
	return nil
}
