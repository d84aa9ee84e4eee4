package tensor

// TokenMat represents a dense row-major matrix of int32 token ids.  The
// decode path uses [candidates, 1] buffers for next-token ids and the
// prefill path uses [1, promptLen] buffers for the prompt.
type TokenMat struct {
	R, C int
	Data []int32
}

// NewTokenMat allocates a zero-initialised token matrix.
func NewTokenMat(r, c int) *TokenMat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &TokenMat{
		R:    r,
		C:    c,
		Data: make([]int32, r*c),
	}
}

// NewTokenMatFromData creates a token matrix from existing data.
// It checks that the data length matches r*c.
func NewTokenMatFromData(r, c int, data []int32) *TokenMat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &TokenMat{
		R:    r,
		C:    c,
		Data: data,
	}
}

// Row returns a view of the i-th row as a slice.  Modifications to the
// returned slice update the underlying matrix values.
func (m *TokenMat) Row(i int) []int32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.C
	return m.Data[start : start+m.C]
}

// Clone returns a deep copy of the matrix.  The decode step duplicates the
// caller-owned seed buffer before submitting it to the executor so the
// sampler can update the original in place.
func (m *TokenMat) Clone() *TokenMat {
	data := make([]int32, len(m.Data))
	copy(data, m.Data)
	return &TokenMat{R: m.R, C: m.C, Data: data}
}
