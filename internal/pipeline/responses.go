package pipeline

// Responses holds the generated text and score for each candidate.  In
// batch mode it accumulates the whole generation; in streaming mode each
// observer event carries the responses for a single decode step.
type Responses struct {
	texts  []string
	scores []float32
}

// NewResponses returns a Responses sized for n candidates.
func NewResponses(n int) Responses {
	return Responses{
		texts:  make([]string, n),
		scores: make([]float32, n),
	}
}

// NumCandidates returns the number of candidates.
func (r Responses) NumCandidates() int { return len(r.texts) }

// Text returns the text for candidate i.
func (r Responses) Text(i int) string { return r.texts[i] }

// Score returns the score for candidate i.  Scores are only meaningful
// under external sampling.
func (r Responses) Score(i int) float32 { return r.scores[i] }

// Texts returns the backing text slice; mutations are visible to the
// holder.
func (r Responses) Texts() []string { return r.texts }

// Scores returns the backing score slice; mutations are visible to the
// holder.
func (r Responses) Scores() []float32 { return r.scores }

// Observer receives streaming events for one request.  OnNext events
// arrive strictly in decode-step order; OnDone or OnError is the last
// event and is delivered at most once.
type Observer interface {
	OnNext(step Responses)
	OnError(err error)
	OnDone()
}
