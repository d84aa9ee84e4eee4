package toy

import (
	"testing"

	"github.com/kestrellm/kestrel/internal/executor"
	"github.com/kestrellm/kestrel/internal/tensor"
)

func prefill(t *testing.T, m *LM, ids ...int32) {
	t.Helper()
	inputs := executor.Inputs{TextTokens: tensor.NewTokenMatFromData(1, len(ids), ids)}
	if err := m.Prefill(inputs, executor.PrefillParams{WaitForCompletion: true}); err != nil {
		t.Fatalf("Prefill: %v", err)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	chain := func() []int32 {
		m := NewLM(64, 8, 32, 3)
		prefill(t, m, 1, 2, 3)
		out := tensor.NewTokenMat(1, 1)
		ids := make([]int32, 0, 8)
		for i := 0; i < 8; i++ {
			if err := m.Decode(out); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			ids = append(ids, out.Data[0])
		}
		return ids
	}
	a, b := chain(), chain()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chains diverge at step %d: %v vs %v", i, a, b)
		}
	}
}

func TestCurrentStepAccounting(t *testing.T) {
	m := NewLM(64, 8, 32, 3)
	if m.CurrentStep() != 0 {
		t.Fatalf("fresh cache position = %d, want 0", m.CurrentStep())
	}
	prefill(t, m, 1, 2, 3)
	if m.CurrentStep() != 3 {
		t.Fatalf("cache position = %d, want 3", m.CurrentStep())
	}
	out := tensor.NewTokenMat(1, 1)
	if err := m.Decode(out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.CurrentStep() != 4 {
		t.Fatalf("cache position = %d, want 4", m.CurrentStep())
	}
}

func TestSettingsReportBudget(t *testing.T) {
	m := NewLM(64, 8, 77, 3)
	settings, err := m.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if settings.MaxNumTokens != 77 {
		t.Fatalf("max tokens = %d, want 77", settings.MaxNumTokens)
	}
}

func TestDecodeBeforePrefillFails(t *testing.T) {
	m := NewLM(64, 8, 32, 3)
	if err := m.Decode(tensor.NewTokenMat(1, 1)); err == nil {
		t.Fatal("expected error for decode before prefill")
	}
}

func TestPrefillOverflowFails(t *testing.T) {
	m := NewLM(64, 8, 2, 3)
	inputs := executor.Inputs{TextTokens: tensor.NewTokenMatFromData(1, 3, []int32{1, 2, 3})}
	if err := m.Prefill(inputs, executor.PrefillParams{}); err == nil {
		t.Fatal("expected error for cache overflow")
	}
}

func TestDecodeLogitsAdvancesCache(t *testing.T) {
	m := NewLM(64, 8, 32, 3)
	prefill(t, m, 1, 2)
	seed := tensor.NewTokenMatFromData(2, 1, []int32{5, 9})
	logits, err := m.DecodeLogits(executor.Inputs{TextTokens: seed})
	if err != nil {
		t.Fatalf("DecodeLogits: %v", err)
	}
	if logits.R != 2 || logits.C != 64 {
		t.Fatalf("logits shape = [%d,%d], want [2,64]", logits.R, logits.C)
	}
	if m.CurrentStep() != 3 {
		t.Fatalf("cache position = %d, want 3", m.CurrentStep())
	}
}

func TestResetClearsCache(t *testing.T) {
	m := NewLM(64, 8, 32, 3)
	prefill(t, m, 1, 2, 3)
	m.Reset()
	if m.CurrentStep() != 0 {
		t.Fatalf("cache position after reset = %d, want 0", m.CurrentStep())
	}
	if err := m.Decode(tensor.NewTokenMat(1, 1)); err == nil {
		t.Fatal("expected error for decode after reset without prefill")
	}
}
