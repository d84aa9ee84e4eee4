package pipeline

import (
	"errors"
	"testing"
)

func feed(t *testing.T, det *StopTokenDetector, tokens ...int32) {
	t.Helper()
	for _, tok := range tokens {
		if err := det.Process([]int32{tok}); err != nil {
			t.Fatalf("Process(%d): %v", tok, err)
		}
	}
}

func TestDetectorSingleTokenStop(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{2}})
	feed(t, det, 7, 8)
	if det.Done(0) || det.AllDone() {
		t.Fatal("done before the stop token")
	}
	feed(t, det, 2)
	if !det.Done(0) || !det.AllDone() {
		t.Fatal("not done after the stop token")
	}
}

func TestDetectorMultiTokenStop(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{8, 9}})
	feed(t, det, 7)
	if got := det.MaxPartialStopLen(0); got != 0 {
		t.Fatalf("partial len = %d, want 0", got)
	}
	feed(t, det, 8)
	det.noteFragment(0)
	if got := det.MaxPartialStopLen(0); got != 1 {
		t.Fatalf("partial len = %d, want 1", got)
	}
	feed(t, det, 9)
	if !det.Done(0) {
		t.Fatal("not done after the full sequence")
	}
	if got := det.MaxPartialStopLen(0); got != 0 {
		t.Fatalf("partial len after done = %d, want 0", got)
	}
}

func TestDetectorMismatchFallback(t *testing.T) {
	// After [5,6] a 5 falls back: [6,5] and [5] are checked, and [5] is
	// again a prefix.
	det := mustDetector(t, 1, [][]int32{{5, 6, 7}})
	feed(t, det, 5)
	det.noteFragment(0)
	feed(t, det, 6)
	det.noteFragment(0)
	if got := det.MaxPartialStopLen(0); got != 2 {
		t.Fatalf("partial len = %d, want 2", got)
	}
	feed(t, det, 5)
	det.noteFragment(0)
	if got := det.MaxPartialStopLen(0); got != 1 {
		t.Fatalf("partial len after fallback = %d, want 1", got)
	}
	if det.Done(0) {
		t.Fatal("unexpectedly done")
	}
}

func TestDetectorFallbackCompletesOtherSequence(t *testing.T) {
	// The fallback suffix may itself complete a different sequence.
	det := mustDetector(t, 1, [][]int32{{5, 6, 7}, {6, 8}})
	feed(t, det, 5, 6, 8)
	if !det.Done(0) {
		t.Fatal("fallback should have completed [6 8]")
	}
}

func TestDetectorMismatchResetsFragments(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{5, 6}})
	feed(t, det, 5)
	det.noteFragment(0)
	feed(t, det, 9)
	if got := det.MaxPartialStopLen(0); got != 0 {
		t.Fatalf("partial len after mismatch = %d, want 0", got)
	}
}

func TestDetectorFragmentsLagTokens(t *testing.T) {
	// With a BPE continuation pending, tokens advance but no fragment is
	// pushed; the reported length stays in fragment units.
	det := mustDetector(t, 1, [][]int32{{5, 6, 7}})
	feed(t, det, 5, 6) // two tokens, no fragment yet
	det.noteFragment(0)
	if got := det.MaxPartialStopLen(0); got != 1 {
		t.Fatalf("partial len = %d, want 1 fragment", got)
	}
}

func TestDetectorDoneFreezesCandidate(t *testing.T) {
	det := mustDetector(t, 2, [][]int32{{2}})
	if err := det.Process([]int32{2, 7}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !det.Done(0) || det.Done(1) {
		t.Fatalf("done = (%v, %v), want (true, false)", det.Done(0), det.Done(1))
	}
	if det.AllDone() {
		t.Fatal("all done with one candidate live")
	}
	if err := det.Process([]int32{9, 2}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !det.AllDone() {
		t.Fatal("not all done")
	}
}

func TestDetectorProcessLengthMismatch(t *testing.T) {
	det := mustDetector(t, 2, [][]int32{{2}})
	if err := det.Process([]int32{1}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestDetectorRejectsNonPositiveCandidates(t *testing.T) {
	if _, err := NewStopTokenDetector(0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestDetectorEmptySequencesNeverDone(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{}})
	feed(t, det, 1, 2, 3)
	if det.AllDone() {
		t.Fatal("detector with no usable sequences reported done")
	}
}

func TestDetectorCloneIsolation(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{2}})
	cl := det.clone()
	feed(t, cl, 2)
	if !cl.Done(0) {
		t.Fatal("clone not done")
	}
	if det.Done(0) {
		t.Fatal("clone mutated the template")
	}
}
