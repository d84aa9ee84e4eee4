package benchmark

import (
	"fmt"
	"sort"
	"time"
)

// Params configures benchmark-mode decoding.
type Params struct {
	// NumDecodeTokens caps the number of decode steps; 0 leaves the loop
	// unbounded.  While the cap is active a detected stop sequence is
	// ignored until the decode budget is exhausted, so benchmarked output
	// may contain text past the model's natural stop.
	NumDecodeTokens int
}

// Info collects named paired time deltas around prefill, decode and
// sampling spans.  The first TimeMarkDelta call for a name records a
// start, the second records the end and accumulates the delta.  Not safe
// for concurrent use; one Info belongs to one request.
type Info struct {
	params Params

	open  map[string]time.Time
	total map[string]time.Duration
	count map[string]int

	turnStart time.Time

	prefillTokens   int
	prefillDuration time.Duration

	decodeStart   time.Time
	decodeTokens  int
	decodeTotal   time.Duration
	decodeStarted bool
}

// New returns an empty benchmark collector.
func New(params Params) *Info {
	return &Info{
		params:    params,
		open:      make(map[string]time.Time),
		total:     make(map[string]time.Duration),
		count:     make(map[string]int),
		turnStart: time.Now(),
	}
}

// Params returns the configured benchmark parameters.
func (b *Info) Params() Params { return b.params }

// TimeMarkDelta opens a span for name, or closes and accumulates it if a
// matching open span exists.
func (b *Info) TimeMarkDelta(name string) error {
	if name == "" {
		return fmt.Errorf("benchmark mark name must not be empty")
	}
	if start, ok := b.open[name]; ok {
		delete(b.open, name)
		b.total[name] += time.Since(start)
		b.count[name]++
		return nil
	}
	b.open[name] = time.Now()
	return nil
}

// TimePrefillTurnEnd records the end of a prefill turn covering numTokens
// prompt tokens.  The turn is measured from construction or from the end
// of the previous turn.
func (b *Info) TimePrefillTurnEnd(numTokens int) error {
	if numTokens <= 0 {
		return fmt.Errorf("prefill turn must cover at least one token, got %d", numTokens)
	}
	now := time.Now()
	b.prefillTokens += numTokens
	b.prefillDuration += now.Sub(b.turnStart)
	b.turnStart = now
	return nil
}

// TimeDecodeTurnStart marks the beginning of a decode turn.
func (b *Info) TimeDecodeTurnStart() error {
	if b.decodeStarted {
		return fmt.Errorf("decode turn already started")
	}
	b.decodeStarted = true
	b.decodeStart = time.Now()
	return nil
}

// TimeDecodeTurnEnd closes the decode turn, attributing totalTokens
// (steps x candidates) to it.
func (b *Info) TimeDecodeTurnEnd(totalTokens int) error {
	if !b.decodeStarted {
		return fmt.Errorf("decode turn end without start")
	}
	b.decodeStarted = false
	b.decodeTokens += totalTokens
	b.decodeTotal += time.Since(b.decodeStart)
	b.turnStart = time.Now()
	return nil
}

// SpanReport is the accumulated timing for one named span.
type SpanReport struct {
	Seconds float64 `json:"seconds"`
	Count   int     `json:"count"`
}

// Report is the machine-readable summary of one benchmarked request.
type Report struct {
	RequestID string `json:"request_id,omitempty"`

	PrefillTokens       int     `json:"prefill_tokens"`
	PrefillSeconds      float64 `json:"prefill_seconds"`
	PrefillTokensPerSec float64 `json:"prefill_tokens_per_sec"`

	DecodeTokens       int     `json:"decode_tokens"`
	DecodeSeconds      float64 `json:"decode_seconds"`
	DecodeTokensPerSec float64 `json:"decode_tokens_per_sec"`

	Spans map[string]SpanReport `json:"spans"`
}

// Report summarises the collected timings.  It fails if any paired span
// is still open or a decode turn was never closed.
func (b *Info) Report() (Report, error) {
	if len(b.open) > 0 {
		names := make([]string, 0, len(b.open))
		for name := range b.open {
			names = append(names, name)
		}
		sort.Strings(names)
		return Report{}, fmt.Errorf("unclosed benchmark spans: %v", names)
	}
	if b.decodeStarted {
		return Report{}, fmt.Errorf("decode turn still open")
	}

	r := Report{
		PrefillTokens:  b.prefillTokens,
		PrefillSeconds: b.prefillDuration.Seconds(),
		DecodeTokens:   b.decodeTokens,
		DecodeSeconds:  b.decodeTotal.Seconds(),
		Spans:          make(map[string]SpanReport, len(b.total)),
	}
	if r.PrefillSeconds > 0 {
		r.PrefillTokensPerSec = float64(b.prefillTokens) / r.PrefillSeconds
	}
	if r.DecodeSeconds > 0 {
		r.DecodeTokensPerSec = float64(b.decodeTokens) / r.DecodeSeconds
	}
	for name, total := range b.total {
		r.Spans[name] = SpanReport{Seconds: total.Seconds(), Count: b.count[name]}
	}
	return r, nil
}
