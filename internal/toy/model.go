package toy

import (
	"fmt"

	"github.com/kestrellm/kestrel/internal/executor"
	"github.com/kestrellm/kestrel/internal/tensor"
)

// LM is a minimal deterministic language model used for testing and
// benchmarking the pipeline.  It consists of an embedding matrix and a
// weight matrix projecting hidden activations back to vocab logits; each
// decode step operates on one token per candidate.  It is deliberately
// simplistic and implements the full executor interface, including the
// external-sampling logits path, so the pipeline can be driven end to end
// without a real model file.
type LM struct {
	vocab  int
	hidden int

	emb *tensor.Mat // [vocab x hidden] embedding matrix
	w   *tensor.Mat // [hidden x vocab] projection weights
	h   []float32   // scratch space [hidden]

	maxNumTokens int
	pos          int     // tokens in the cache
	lasts        []int32 // last seen token per candidate, internal sampling
}

// NewLM constructs a model with the given vocabulary and hidden size.
// The embedding and weight matrices are filled with reproducible random
// values derived from the seed, so the same seed always generates the
// same token chain.
func NewLM(vocab, hidden, maxNumTokens int, seed int64) *LM {
	m := &LM{
		vocab:        vocab,
		hidden:       hidden,
		emb:          tensor.NewMat(vocab, hidden),
		w:            tensor.NewMat(hidden, vocab),
		h:            make([]float32, hidden),
		maxNumTokens: maxNumTokens,
	}
	tensor.FillRand(m.emb, seed+11)
	tensor.FillRand(m.w, seed+23)
	return m
}

// Reset clears the cache so the context can be reused.
func (m *LM) Reset() {
	m.pos = 0
	m.lasts = nil
}

// Prefill loads the prompt tokens.  The toy model only depends on the
// final token, so earlier tokens just advance the cache position.
func (m *LM) Prefill(inputs executor.Inputs, params executor.PrefillParams) error {
	if inputs.TextTokens == nil || len(inputs.TextTokens.Data) == 0 {
		return fmt.Errorf("prefill requires prompt tokens")
	}
	ids := inputs.TextTokens.Data
	if m.pos+len(ids) > m.maxNumTokens {
		return fmt.Errorf("prefill overflows cache: %d + %d > %d", m.pos, len(ids), m.maxNumTokens)
	}
	m.lasts = []int32{ids[len(ids)-1]}
	m.pos += len(ids)
	_ = params // the toy model always completes synchronously
	return nil
}

// Decode produces the greedy next token for each candidate.
func (m *LM) Decode(out *tensor.TokenMat) error {
	if out == nil || out.C != 1 {
		return fmt.Errorf("decode output must be a [candidates, 1] buffer")
	}
	if m.pos >= m.maxNumTokens {
		return fmt.Errorf("cache full: %d tokens", m.pos)
	}
	if len(m.lasts) == 0 {
		return fmt.Errorf("decode before prefill")
	}
	m.growLasts(out.R)
	for i := 0; i < out.R; i++ {
		next := argmax(m.logitsFor(m.lasts[i]))
		out.Data[i] = next
		m.lasts[i] = next
	}
	m.pos++
	return nil
}

// DecodeLogits returns the logits row for each candidate's seed token.
func (m *LM) DecodeLogits(inputs executor.Inputs) (*tensor.Mat, error) {
	if inputs.TextTokens == nil || inputs.TextTokens.C != 1 {
		return nil, fmt.Errorf("decode logits requires a [candidates, 1] seed buffer")
	}
	if m.pos >= m.maxNumTokens {
		return nil, fmt.Errorf("cache full: %d tokens", m.pos)
	}
	n := inputs.TextTokens.R
	out := tensor.NewMat(n, m.vocab)
	for i := 0; i < n; i++ {
		copy(out.Row(i), m.logitsFor(inputs.TextTokens.Data[i]))
	}
	m.pos++
	return out, nil
}

// CurrentStep reports how many tokens are in the cache.
func (m *LM) CurrentStep() int { return m.pos }

// Settings reports the configured cache budget.
func (m *LM) Settings() (executor.Settings, error) {
	return executor.Settings{MaxNumTokens: m.maxNumTokens}, nil
}

// logitsFor computes the logits over the vocabulary for a single token.
// Out-of-range token ids are reduced modulo the vocabulary.
func (m *LM) logitsFor(tok int32) []float32 {
	t := int(tok) % m.vocab
	if t < 0 {
		t += m.vocab
	}
	copy(m.h, m.emb.Row(t))
	logits := make([]float32, m.vocab)
	for j := 0; j < m.vocab; j++ {
		var sum float32
		for i := 0; i < m.hidden; i++ {
			sum += m.h[i] * m.w.Row(i)[j]
		}
		logits[j] = sum
	}
	return logits
}

func (m *LM) growLasts(n int) {
	for len(m.lasts) < n {
		m.lasts = append(m.lasts, m.lasts[0])
	}
}

func argmax(v []float32) int32 {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return int32(best)
}
