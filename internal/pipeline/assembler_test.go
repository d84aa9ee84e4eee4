package pipeline

import (
	"testing"

	"github.com/kestrellm/kestrel/internal/tokenizer"
)

func TestAssemblerDirectRelease(t *testing.T) {
	det := mustDetector(t, 1, nil)
	asm := newTokenStreamAssembler(1)

	feed(t, det, 7)
	got := asm.emit(0, []int32{7}, tokenizer.Decoded{Text: "Hi"}, det)
	if got != "Hi" {
		t.Fatalf("emit = %q, want %q", got, "Hi")
	}
	if len(asm.deferred[0]) != 0 {
		t.Fatalf("deferred = %v, want empty", asm.deferred[0])
	}
}

func TestAssemblerMetaspaceNormalization(t *testing.T) {
	det := mustDetector(t, 1, nil)
	asm := newTokenStreamAssembler(1)

	feed(t, det, 8)
	got := asm.emit(0, []int32{8}, tokenizer.Decoded{Text: "▁there▁now"}, det)
	if got != " there now" {
		t.Fatalf("emit = %q, want %q", got, " there now")
	}
}

func TestAssemblerIncompleteBuffersIds(t *testing.T) {
	det := mustDetector(t, 1, nil)
	asm := newTokenStreamAssembler(1)

	feed(t, det, 8)
	got := asm.emit(0, []int32{8}, tokenizer.Decoded{Text: "\xe2\x96", Incomplete: true}, det)
	if got != "" {
		t.Fatalf("emit = %q, want empty", got)
	}
	if len(asm.pending[0]) != 1 || asm.pending[0][0] != 8 {
		t.Fatalf("pending = %v, want [8]", asm.pending[0])
	}

	// Next step resolves the continuation and clears the pending ids.
	feed(t, det, 9)
	got = asm.emit(0, []int32{8, 9}, tokenizer.Decoded{Text: "▁x"}, det)
	if got != " x" {
		t.Fatalf("emit = %q, want %q", got, " x")
	}
	if len(asm.pending[0]) != 0 {
		t.Fatalf("pending = %v, want empty", asm.pending[0])
	}
}

func TestAssemblerStoppedCandidateEmitsNothing(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{2}})
	asm := newTokenStreamAssembler(1)

	feed(t, det, 2)
	got := asm.emit(0, []int32{2}, tokenizer.Decoded{Text: "<eos>"}, det)
	if got != "" {
		t.Fatalf("emit = %q, want empty", got)
	}
}

func TestAssemblerDefersPartialStopMatch(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{8, 9}})
	asm := newTokenStreamAssembler(1)

	feed(t, det, 8)
	got := asm.emit(0, []int32{8}, tokenizer.Decoded{Text: "maybe"}, det)
	if got != "" {
		t.Fatalf("emit = %q, want deferred (empty)", got)
	}
	if len(asm.deferred[0]) != 1 {
		t.Fatalf("deferred = %v, want one fragment", asm.deferred[0])
	}

	// A mismatch breaks the match; the deferred fragment is released
	// ahead of the new one, in order.
	feed(t, det, 7)
	got = asm.emit(0, []int32{7}, tokenizer.Decoded{Text: "!"}, det)
	if got != "maybe!" {
		t.Fatalf("emit = %q, want %q", got, "maybe!")
	}
	if len(asm.deferred[0]) != 0 {
		t.Fatalf("deferred = %v, want empty", asm.deferred[0])
	}
}

func TestAssemblerSuppressesCompletedStop(t *testing.T) {
	det := mustDetector(t, 1, [][]int32{{8, 9}})
	asm := newTokenStreamAssembler(1)

	feed(t, det, 8)
	if got := asm.emit(0, []int32{8}, tokenizer.Decoded{Text: "sto"}, det); got != "" {
		t.Fatalf("emit = %q, want empty", got)
	}
	feed(t, det, 9)
	if got := asm.emit(0, []int32{9}, tokenizer.Decoded{Text: "p"}, det); got != "" {
		t.Fatalf("emit = %q, want empty (stop completed)", got)
	}
}

func TestAssemblerDeferredBoundOnFallback(t *testing.T) {
	// A fallback to a shorter prefix shrinks the allowance; the oldest
	// fragments are released to respect it.
	det := mustDetector(t, 1, [][]int32{{5, 6, 7}})
	asm := newTokenStreamAssembler(1)

	feed(t, det, 5)
	if got := asm.emit(0, []int32{5}, tokenizer.Decoded{Text: "a"}, det); got != "" {
		t.Fatalf("emit = %q, want empty", got)
	}
	feed(t, det, 6)
	if got := asm.emit(0, []int32{6}, tokenizer.Decoded{Text: "b"}, det); got != "" {
		t.Fatalf("emit = %q, want empty", got)
	}
	// 5 falls back to the one-token prefix [5]; "a" and "b" leave, the
	// new "c" stays deferred.
	feed(t, det, 5)
	if got := asm.emit(0, []int32{5}, tokenizer.Decoded{Text: "c"}, det); got != "ab" {
		t.Fatalf("emit = %q, want %q", got, "ab")
	}
	if len(asm.deferred[0]) != 1 || asm.deferred[0][0] != "c" {
		t.Fatalf("deferred = %v, want [c]", asm.deferred[0])
	}
}
