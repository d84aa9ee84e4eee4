package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/kestrellm/kestrel/internal/tensor"
)

// Sampler turns executor logits into next-token ids, one per candidate.
// Implementations write the chosen ids into ids (a [candidates, 1]
// buffer) and the per-candidate score of the chosen token into scores.
type Sampler interface {
	Sample(logits *tensor.Mat, ids *tensor.TokenMat, scores []float32) error
}

// Config configures the behaviour of a TopKTopP sampler.
type Config struct {
	Seed        int64
	Temperature float32
	TopK        int
	TopP        float32
}

// TopKTopP samples from a temperature-scaled, top-k then top-p truncated
// distribution.  Temperature <= 0 selects greedy argmax.  The score
// reported for each candidate is the natural log probability of the
// chosen token under the truncated distribution's softmax.
type TopKTopP struct {
	rng    *rand.Rand
	cfg    Config
	greedy bool
}

// New returns a sampler with the provided configuration.
func New(cfg Config) *TopKTopP {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &TopKTopP{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Sample draws one token per candidate row of logits.  The process per row:
//
//  1. Scale the logits by the inverse temperature.
//  2. Select the indices of the top k values.
//  3. Compute a softmax over the shortlist with max subtraction for
//     numerical stability.
//  4. If TopP < 1, truncate the shortlist when the cumulative probability
//     reaches TopP.
//  5. Draw from the truncated distribution, or take the argmax when
//     greedy.
func (s *TopKTopP) Sample(logits *tensor.Mat, ids *tensor.TokenMat, scores []float32) error {
	if logits == nil || ids == nil {
		return fmt.Errorf("nil logits or ids buffer")
	}
	if ids.R != logits.R || ids.C != 1 {
		return fmt.Errorf("ids buffer must be [%d,1], got [%d,%d]", logits.R, ids.R, ids.C)
	}
	if len(scores) < logits.R {
		return fmt.Errorf("scores buffer too small: %d < %d", len(scores), logits.R)
	}

	for i := 0; i < logits.R; i++ {
		id, score := s.sampleRow(logits.Row(i))
		ids.Data[i] = id
		scores[i] = score
	}
	return nil
}

func (s *TopKTopP) sampleRow(row []float32) (int32, float32) {
	k := s.cfg.TopK
	if s.greedy {
		k = 1
	}
	if k > len(row) {
		k = len(row)
	}

	invTemp := 1 / s.cfg.Temperature
	idx := make([]int, len(row))
	for j := range idx {
		idx[j] = j
	}
	sort.Slice(idx, func(a, b int) bool { return row[idx[a]] > row[idx[b]] })
	short := idx[:k]

	// Softmax over the shortlist.
	maxVal := row[short[0]] * invTemp
	probs := make([]float64, k)
	var sum float64
	for j, id := range short {
		p := math.Exp(float64(row[id]*invTemp - maxVal))
		probs[j] = p
		sum += p
	}
	for j := range probs {
		probs[j] /= sum
	}

	// Top-p truncation, then renormalise.
	cut := k
	if s.cfg.TopP < 1 {
		var cum float64
		for j, p := range probs {
			cum += p
			if cum >= float64(s.cfg.TopP) {
				cut = j + 1
				break
			}
		}
		var trunc float64
		for j := 0; j < cut; j++ {
			trunc += probs[j]
		}
		for j := 0; j < cut; j++ {
			probs[j] /= trunc
		}
	}

	pick := 0
	if !s.greedy && cut > 1 {
		r := s.rng.Float64()
		var cum float64
		for j := 0; j < cut; j++ {
			cum += probs[j]
			if r < cum {
				pick = j
				break
			}
			pick = j
		}
	}
	return int32(short[pick]), float32(math.Log(probs[pick]))
}
