package pipeline

import (
	"fmt"

	"github.com/kestrellm/kestrel/internal/benchmark"
	"github.com/kestrellm/kestrel/internal/executor"
)

// Prefill validates the prompt against the cache budget and submits it to
// the executor.  It returns the last prompt token id, which some backends
// need as the seed for the first decode step.
func (p *Pipeline) Prefill(inputs executor.Inputs, waitForCompletion bool, bench *benchmark.Info) (int32, error) {
	maxTokens := p.maxNumTokens()
	if inputs.TextTokens == nil || len(inputs.TextTokens.Data) == 0 {
		return 0, fmt.Errorf("%w: input token ids are empty", ErrInvalidArgument)
	}
	numTokens := inputs.TextTokens.C
	if numTokens >= maxTokens {
		return 0, fmt.Errorf(
			"%w: input token ids are too long, exceeding the maximum number of tokens allowed: %d >= %d",
			ErrInvalidArgument, numTokens, maxTokens)
	}
	lastTokenID := inputs.TextTokens.Data[len(inputs.TextTokens.Data)-1]

	params := executor.PrefillParams{WaitForCompletion: waitForCompletion}
	if err := p.ex.Prefill(inputs, params); err != nil {
		return 0, err
	}
	if bench != nil {
		if err := bench.TimePrefillTurnEnd(numTokens); err != nil {
			return 0, err
		}
	}
	return lastTokenID, nil
}
