package signals

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Output holds the separated and matched arrays for a run. Both have the
// input's exact dims and start zero-valued; Store fills one ROI at a time.
//
// Store calls for distinct ROIs write disjoint memory and may run
// concurrently. Two calls for the same ROI must not.
type Output struct {
	Separated *Array
	Matched   *Array

	in     *Input
	filled []bool
}

// NewOutput allocates an Output shaped like in.
func (in *Input) NewOutput() *Output {
	dims := in.arr.Dims()
	return &Output{
		Separated: Zeros(dims...),
		Matched:   Zeros(dims...),
		in:        in,
		filled:    make([]bool, in.ROIs),
	}
}

// Store writes one ROI's (subregion, time) results back into the
// (time, subregion) layout at position roi.
func (o *Output) Store(roi int, separated, matched mat.Matrix) error {
	if err := o.in.checkROI(roi); err != nil {
		return err
	}
	for _, res := range []struct {
		name string
		m    mat.Matrix
	}{{"separated", separated}, {"matched", matched}} {
		name, m := res.name, res.m
		if m == nil {
			return fmt.Errorf("roi %d: %s result is nil", roi, name)
		}
		if r, c := m.Dims(); r != o.in.Subregions || c != o.in.Samples {
			return fmt.Errorf("roi %d: %s result is %dx%d, want %dx%d (subregion, time)",
				roi, name, r, c, o.in.Subregions, o.in.Samples)
		}
	}

	n := o.in.blockLen()
	off := 0
	if o.in.Kind == MultiROI {
		off = roi * n
	}
	writeTransposed(o.Separated.data[off:off+n], separated)
	writeTransposed(o.Matched.data[off:off+n], matched)
	o.filled[roi] = true
	return nil
}

// writeTransposed copies an (s, t) matrix into a column-major (t, s) block.
func writeTransposed(dst []float64, m mat.Matrix) {
	rows, cols := m.Dims()
	for s := 0; s < rows; s++ {
		for t := 0; t < cols; t++ {
			dst[s*cols+t] = m.At(s, t)
		}
	}
}

// Filled reports whether roi has been stored.
func (o *Output) Filled(roi int) bool {
	return roi >= 0 && roi < len(o.filled) && o.filled[roi]
}

// Missing lists ROI indices that have not been stored, in ascending order.
func (o *Output) Missing() []int {
	var out []int
	for i, ok := range o.filled {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}
