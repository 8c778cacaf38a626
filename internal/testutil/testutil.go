// Package testutil provides shared test utilities and fixtures.
//
// Fixtures here build deterministic neuropil-contaminated traces so tests
// across packages exercise the same realistic signal shapes.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/roisep/internal/signals"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertMatrixNear fails the test if got and want differ in shape or any
// element differs by more than tol.
func AssertMatrixNear(t testing.TB, got, want mat.Matrix, tol float64) {
	t.Helper()
	gr, gc := got.Dims()
	wr, wc := want.Dims()
	if gr != wr || gc != wc {
		t.Fatalf("matrix dims = %dx%d, want %dx%d", gr, gc, wr, wc)
	}
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("matrices differ beyond %g:\ngot  %v\nwant %v", tol, mat.Formatted(got, mat.Squeeze(), mat.Excerpt(4)), mat.Formatted(want, mat.Squeeze(), mat.Excerpt(4)))
	}
}

// Traces returns a (subregion, time) matrix of non-negative traces: a sparse
// calcium-like transient source mixed into subregion 0 and a slow neuropil
// source shared by every subregion. Different seeds give different spike
// trains; the same seed always gives the same matrix.
func Traces(subregions, samples int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, 1))
	cell := make([]float64, samples)
	level := 0.0
	for t := range cell {
		if rng.Float64() < 0.05 {
			level += 2 + 3*rng.Float64()
		}
		level *= 0.85
		cell[t] = level
	}
	phase := rng.Float64() * math.Pi
	x := mat.NewDense(subregions, samples, nil)
	for s := 0; s < subregions; s++ {
		cellWeight := 0.1
		if s == 0 {
			cellWeight = 1
		}
		npWeight := 0.6 + 0.1*float64(s)
		for t := 0; t < samples; t++ {
			np := 5 + 2*math.Sin(phase+float64(t)/15)
			x.Set(s, t, cellWeight*cell[t]+npWeight*np+0.05*rng.Float64())
		}
	}
	return x
}

// SignalArray builds a (time, subregion, roi) array of Traces, one seed per
// ROI. rois < 0 builds the rank-2 single-ROI form from seed 0.
func SignalArray(t testing.TB, samples, subregions, rois int) *signals.Array {
	t.Helper()
	if rois < 0 {
		return fromROIs(t, []int{samples, subregions}, samples, subregions, 1)
	}
	return fromROIs(t, []int{samples, subregions, rois}, samples, subregions, rois)
}

func fromROIs(t testing.TB, dims []int, samples, subregions, rois int) *signals.Array {
	t.Helper()
	data := make([]float64, 0, samples*subregions*rois)
	for r := 0; r < rois; r++ {
		x := Traces(subregions, samples, uint64(r))
		// row-major (subregion, time) is column-major (time, subregion)
		for s := 0; s < subregions; s++ {
			data = append(data, x.RawRowView(s)...)
		}
	}
	a, err := signals.NewArray(dims, data)
	AssertNoError(t, err)
	return a
}
