package pipeline

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/kestrellm/kestrel/internal/benchmark"
	"github.com/kestrellm/kestrel/internal/sampler"
	"github.com/kestrellm/kestrel/internal/tensor"
)

// defaultMaxNumTokens is used when the executor does not report a
// kv-cache budget of its own.
const defaultMaxNumTokens = 4096

// loopConfig parameterises the one private decode loop behind the four
// public entry points.
type loopConfig struct {
	candidates int
	smp        sampler.Sampler   // nil selects internal sampling
	seedIDs    *tensor.TokenMat  // required with smp, updated in place
	observer   Observer          // nil selects batch aggregation
	bench      *benchmark.Info   // nil disables timing and the decode cap
	cancel     *atomic.Bool      // nil disables cancellation
}

func (p *Pipeline) maxNumTokens() int {
	settings, err := p.ex.Settings()
	if err != nil {
		p.log.Warn("executor settings unavailable, using default token budget",
			"error", err, "max_num_tokens", defaultMaxNumTokens)
		return defaultMaxNumTokens
	}
	if settings.MaxNumTokens <= 0 {
		p.log.Warn("executor reports no token budget, using default",
			"max_num_tokens", defaultMaxNumTokens)
		return defaultMaxNumTokens
	}
	return settings.MaxNumTokens
}

// shouldStop decides whether the decode loop ends after this step.  In
// benchmark mode (decode cap > 0) a detected stop is ignored until the
// decode-token budget is exhausted.
func shouldStop(allDone bool, benchCap, steps, currentStep, maxTokens int) bool {
	if allDone && benchCap == 0 {
		return true
	}
	if benchCap > 0 && steps >= benchCap {
		return true
	}
	if currentStep >= maxTokens {
		return true
	}
	return false
}

// decodeLoop drives decode steps until termination, aggregating text into
// a final batch response or forwarding per-step views to the observer.
func (p *Pipeline) decodeLoop(det *StopTokenDetector, cfg loopConfig) (Responses, error) {
	streaming := cfg.observer != nil
	custom := cfg.smp != nil

	benchCap := 0
	if cfg.bench != nil {
		benchCap = cfg.bench.Params().NumDecodeTokens
		if err := cfg.bench.TimeDecodeTurnStart(); err != nil {
			return Responses{}, err
		}
	}

	final := NewResponses(cfg.candidates)
	accumScores := make([]float32, cfg.candidates)
	countedTokens := make([]int, cfg.candidates)

	steps := 0
	maxTokens := p.maxNumTokens()
	step := newDecodeStep(p.ex, p.tok, cfg.candidates, det.clone(), cfg.bench, cfg.smp)

	for {
		if cfg.cancel != nil && cfg.cancel.Load() {
			err := fmt.Errorf("%w: process cancelled", ErrCancelled)
			if streaming {
				cfg.observer.OnError(err)
			}
			return Responses{}, err
		}

		allDone, err := step.run(cfg.seedIDs)
		if err != nil {
			if streaming {
				cfg.observer.OnError(err)
			}
			return Responses{}, err
		}
		steps++

		stepView := NewResponses(cfg.candidates)
		anyUpdates := false
		for j := 0; j < cfg.candidates; j++ {
			text := step.resultText[j]
			if text == "" {
				// No output for this candidate: early stop, a partial BPE
				// sequence, or fragments held back for a partial stop match.
				continue
			}
			anyUpdates = true
			if streaming {
				stepView.texts[j] = text
				if custom {
					stepView.scores[j] = step.scores[j]
				}
			} else {
				final.texts[j] += text
				if custom {
					accumScores[j] += step.scores[j]
					countedTokens[j]++
				}
			}
		}

		if streaming && anyUpdates && !allDone {
			cfg.observer.OnNext(stepView)
		}

		if shouldStop(allDone, benchCap, steps, p.ex.CurrentStep(), maxTokens) {
			break
		}
	}

	if cfg.bench != nil {
		if err := cfg.bench.TimeDecodeTurnEnd(steps * cfg.candidates); err != nil {
			return Responses{}, err
		}
	}
	p.log.Debug("decode loop finished",
		"steps", steps, "candidates", cfg.candidates, "current_step", p.ex.CurrentStep())

	if streaming {
		if p.ex.CurrentStep() >= maxTokens {
			cfg.observer.OnError(fmt.Errorf("%w: maximum kv-cache size reached", ErrInternal))
		} else {
			cfg.observer.OnDone()
		}
		return NewResponses(0), nil
	}

	if custom {
		for j := 0; j < cfg.candidates; j++ {
			if countedTokens[j] > 0 {
				final.scores[j] = accumScores[j] / float32(countedTokens[j])
			} else {
				final.scores[j] = float32(math.Inf(-1))
			}
		}
	}
	return final, nil
}
