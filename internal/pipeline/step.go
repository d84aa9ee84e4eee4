package pipeline

import (
	"fmt"

	"github.com/kestrellm/kestrel/internal/benchmark"
	"github.com/kestrellm/kestrel/internal/executor"
	"github.com/kestrellm/kestrel/internal/sampler"
	"github.com/kestrellm/kestrel/internal/tensor"
	"github.com/kestrellm/kestrel/internal/tokenizer"
)

// decodeStep runs one iteration of the decode process, handling both
// internal and external sampling, and owns the per-candidate scratch
// shared across iterations.
type decodeStep struct {
	ex         executor.Executor
	tok        tokenizer.Tokenizer
	candidates int
	smp        sampler.Sampler // nil selects the executor's internal sampling
	bench      *benchmark.Info // nil disables timing
	det        *StopTokenDetector
	asm        *tokenStreamAssembler

	// outTokens holds the next token ids for internal sampling.
	// Dim: [candidates, 1].
	outTokens *tensor.TokenMat
	// scores holds the external sampler's per-candidate score.
	scores []float32

	resultText []string
}

func newDecodeStep(ex executor.Executor, tok tokenizer.Tokenizer, candidates int,
	det *StopTokenDetector, bench *benchmark.Info, smp sampler.Sampler) *decodeStep {
	s := &decodeStep{
		ex:         ex,
		tok:        tok,
		candidates: candidates,
		smp:        smp,
		bench:      bench,
		det:        det,
		asm:        newTokenStreamAssembler(candidates),
		resultText: make([]string, candidates),
	}
	if smp == nil {
		s.outTokens = tensor.NewTokenMat(candidates, 1)
	} else {
		s.scores = make([]float32, candidates)
	}
	return s
}

// run performs one decode step and reports whether every candidate has
// found its stop.  For external sampling decodedIDs seeds the executor
// and receives the sampled ids; for internal sampling it is ignored.
func (s *decodeStep) run(decodedIDs *tensor.TokenMat) (bool, error) {
	nextTokens, err := s.decodeAndSample(decodedIDs)
	if err != nil {
		return false, err
	}

	tokenIDs, err := s.tok.TensorToTokenIDs(nextTokens)
	if err != nil {
		return false, err
	}

	// Regardless of BPE buffering, the detector always sees the raw step
	// tokens.
	if err := s.det.Process(nextTokens.Data); err != nil {
		return false, err
	}

	merged, err := s.tok.MergeTokenIDs(s.asm.pending, tokenIDs)
	if err != nil {
		return false, err
	}
	decoded, err := s.tok.TokenIDsToTexts(s.candidates, merged)
	if err != nil {
		return false, err
	}

	for i := 0; i < s.candidates; i++ {
		s.resultText[i] = s.asm.emit(i, merged[i], decoded[i], s.det)
	}
	return s.det.AllDone(), nil
}

// decodeAndSample runs the compute half of the step and returns the
// buffer holding this step's token ids.
func (s *decodeStep) decodeAndSample(decodedIDs *tensor.TokenMat) (*tensor.TokenMat, error) {
	if s.smp != nil { // external sampling path
		if decodedIDs == nil {
			return nil, fmt.Errorf("%w: decoded ids buffer required for external sampling", ErrInternal)
		}
		inputs := executor.Inputs{TextTokens: decodedIDs.Clone()}

		if err := s.mark("executor_decode"); err != nil {
			return nil, err
		}
		logits, err := s.ex.DecodeLogits(inputs)
		if err != nil {
			return nil, err
		}
		if err := s.mark("executor_decode"); err != nil {
			return nil, err
		}

		if err := s.mark("sampling"); err != nil {
			return nil, err
		}
		if err := s.smp.Sample(logits, decodedIDs, s.scores); err != nil {
			return nil, err
		}
		if err := s.mark("sampling"); err != nil {
			return nil, err
		}
		return decodedIDs, nil
	}

	// internal sampling path
	if err := s.mark("executor_decode_and_sample"); err != nil {
		return nil, err
	}
	if err := s.ex.Decode(s.outTokens); err != nil {
		return nil, err
	}
	if err := s.mark("executor_decode_and_sample"); err != nil {
		return nil, err
	}
	return s.outTokens, nil
}

func (s *decodeStep) mark(name string) error {
	if s.bench == nil {
		return nil
	}
	return s.bench.TimeMarkDelta(name)
}
