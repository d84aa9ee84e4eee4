package tensor

import "testing"

func TestTokenMatCloneIsIndependent(t *testing.T) {
	m := NewTokenMatFromData(2, 1, []int32{7, 8})
	c := m.Clone()
	c.Data[0] = 99
	if m.Data[0] != 7 {
		t.Fatalf("clone aliased the original: %v", m.Data)
	}
	if c.R != 2 || c.C != 1 {
		t.Fatalf("clone shape = [%d,%d], want [2,1]", c.R, c.C)
	}
}

func TestTokenMatRow(t *testing.T) {
	m := NewTokenMatFromData(2, 3, []int32{1, 2, 3, 4, 5, 6})
	row := m.Row(1)
	if len(row) != 3 || row[0] != 4 {
		t.Fatalf("row = %v, want [4 5 6]", row)
	}
	row[0] = 40
	if m.Data[3] != 40 {
		t.Fatal("row is not a view of the backing data")
	}
}

func TestFillRandReproducible(t *testing.T) {
	a := NewMat(3, 4)
	b := NewMat(3, 4)
	FillRand(a, 9)
	FillRand(b, 9)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("matrices diverge at %d", i)
		}
	}
}
