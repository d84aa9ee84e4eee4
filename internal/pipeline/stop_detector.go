package pipeline

import "fmt"

// StopTokenDetector tracks, per candidate, progress through the
// configured multi-token stop sequences.  A candidate is done once the
// longest stop-sequence prefix it is tracking becomes a full stop
// sequence; a shorter sequence lying inside a longer live match is not
// detected.  Further tokens for a done candidate are ignored.
//
// The detector handed to a decode entry point acts as a template: the
// loop works on a private clone, so one configured detector can serve
// many requests.
type StopTokenDetector struct {
	sequences [][]int32
	states    []stopState
}

type stopState struct {
	done bool
	// matched is the longest suffix of the tokens seen so far that is a
	// prefix of some stop sequence.
	matched []int32
	// frags counts the text fragments the assembler has pushed while a
	// match was in progress.  It resets when the match is lost entirely but
	// is not reduced on a fallback to a shorter prefix, so
	// MaxPartialStopLen clamps it by the matched token count.
	// MaxPartialStopLen is reported in this unit so
	// the assembler defers exactly the fragments that might belong to the
	// unfolding match, even when a BPE continuation folds several matched
	// tokens into one fragment.
	frags int
}

// NewStopTokenDetector configures a detector for the given candidate
// count and stop sequences.  Empty sequences are dropped; with no
// sequences at all the detector never completes on its own and the loop
// ends on a length or benchmark bound instead.
func NewStopTokenDetector(candidates int, sequences [][]int32) (*StopTokenDetector, error) {
	if candidates <= 0 {
		return nil, fmt.Errorf("%w: candidate count must be positive, got %d", ErrInvalidArgument, candidates)
	}
	kept := make([][]int32, 0, len(sequences))
	for _, seq := range sequences {
		if len(seq) == 0 {
			continue
		}
		cp := make([]int32, len(seq))
		copy(cp, seq)
		kept = append(kept, cp)
	}
	return &StopTokenDetector{
		sequences: kept,
		states:    make([]stopState, candidates),
	}, nil
}

// NumCandidates returns the configured candidate count.
func (d *StopTokenDetector) NumCandidates() int { return len(d.states) }

// clone deep-copies the detector so a decode loop can advance it without
// mutating the caller's template.
func (d *StopTokenDetector) clone() *StopTokenDetector {
	states := make([]stopState, len(d.states))
	for i, st := range d.states {
		states[i] = stopState{
			done:    st.done,
			matched: append([]int32(nil), st.matched...),
			frags:   st.frags,
		}
	}
	return &StopTokenDetector{sequences: d.sequences, states: states}
}

// Process advances the state machine with one token per candidate.
func (d *StopTokenDetector) Process(next []int32) error {
	if len(next) != len(d.states) {
		return fmt.Errorf("%w: expected %d tokens, got %d", ErrInvalidArgument, len(d.states), len(next))
	}
	for i := range d.states {
		st := &d.states[i]
		if st.done {
			continue
		}
		st.matched = append(st.matched, next[i])
		// On mismatch fall back to the longest proper suffix that is
		// still a prefix of some sequence.
		for len(st.matched) > 0 && !d.isPrefix(st.matched) {
			st.matched = st.matched[1:]
		}
		if len(st.matched) == 0 {
			st.frags = 0
			continue
		}
		if d.isComplete(st.matched) {
			st.done = true
		}
	}
	return nil
}

// Done reports whether candidate i has matched a full stop sequence.
func (d *StopTokenDetector) Done(i int) bool { return d.states[i].done }

// AllDone reports whether every candidate has matched a full stop
// sequence.
func (d *StopTokenDetector) AllDone() bool {
	for i := range d.states {
		if !d.states[i].done {
			return false
		}
	}
	return len(d.states) > 0
}

// MaxPartialStopLen reports the number of already-released-looking text
// fragments that might still belong to an unfolding stop match for
// candidate i, in fragment units.  0 means nothing needs deferring.
func (d *StopTokenDetector) MaxPartialStopLen(i int) int {
	st := &d.states[i]
	if st.done || len(st.matched) == 0 {
		return 0
	}
	if st.frags < len(st.matched) {
		return st.frags
	}
	return len(st.matched)
}

// noteFragment records that the assembler is about to push one complete
// fragment for candidate i while a match may be in progress.
func (d *StopTokenDetector) noteFragment(i int) {
	st := &d.states[i]
	if st.done || len(st.matched) == 0 {
		st.frags = 0
		return
	}
	if st.frags < len(st.matched) {
		st.frags++
	}
}

// isPrefix reports whether buf is a prefix of any stop sequence.
func (d *StopTokenDetector) isPrefix(buf []int32) bool {
	for _, seq := range d.sequences {
		if len(buf) > len(seq) {
			continue
		}
		if tokensEqual(buf, seq[:len(buf)]) {
			return true
		}
	}
	return false
}

// isComplete reports whether buf equals some stop sequence exactly.
func (d *StopTokenDetector) isComplete(buf []int32) bool {
	for _, seq := range d.sequences {
		if len(buf) == len(seq) && tokensEqual(buf, seq) {
			return true
		}
	}
	return false
}

func tokensEqual(a, b []int32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
