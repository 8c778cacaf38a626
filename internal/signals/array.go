// Package signals models extracted fluorescence traces and the layout
// convention shared by the loader, the per-ROI dispatcher and the persister.
//
// Arrays are stored column-major, the native order of the MAT container, so
// the (time, subregion) block belonging to one ROI is contiguous. Reading that
// block row-major yields the (subregion, time) matrix the separator expects
// without any element shuffling.
package signals

import (
	"fmt"
	"slices"
)

// Array is a dense float64 array stored in column-major order.
type Array struct {
	dims []int
	data []float64
}

// NewArray wraps data with the given dimensions. The slice is retained, not
// copied.
func NewArray(dims []int, data []float64) (*Array, error) {
	n := 1
	for i, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
		n *= d
	}
	if len(dims) == 0 {
		n = 0
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match dims %v (want %d)", len(data), dims, n)
	}
	return &Array{dims: slices.Clone(dims), data: data}, nil
}

// Zeros allocates a zero-valued array with the given dimensions.
func Zeros(dims ...int) *Array {
	n := 1
	for _, d := range dims {
		n *= max(d, 0)
	}
	if len(dims) == 0 {
		n = 0
	}
	return &Array{dims: slices.Clone(dims), data: make([]float64, n)}
}

// Dims returns a copy of the array's dimensions.
func (a *Array) Dims() []int { return slices.Clone(a.dims) }

// Rank returns the number of axes.
func (a *Array) Rank() int { return len(a.dims) }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.data) }

// Data exposes the backing slice in column-major order. Callers must not
// modify it.
func (a *Array) Data() []float64 { return a.data }

// At returns the element at idx, one index per axis.
func (a *Array) At(idx ...int) float64 {
	return a.data[a.offset(idx)]
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.dims) {
		panic(fmt.Sprintf("signals: %d indices for rank %d array", len(idx), len(a.dims)))
	}
	off, stride := 0, 1
	for i, v := range idx {
		if v < 0 || v >= a.dims[i] {
			panic(fmt.Sprintf("signals: index %d out of range for axis %d (size %d)", v, i, a.dims[i]))
		}
		off += v * stride
		stride *= a.dims[i]
	}
	return off
}

// Equal reports whether a and b have identical dims and bit-identical data.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.dims, b.dims) && slices.Equal(a.data, b.data)
}
