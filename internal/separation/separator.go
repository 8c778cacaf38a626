// Package separation defines the blind source separation contract used by the
// per-ROI dispatcher and ships the default NMF-based separator.
//
// A Separator receives one ROI's traces as a (subregion, time) matrix, rows
// being the ROI core followed by its surrounding neuropil subregions, and
// returns separated and matched traces of the same shape. Implementations
// must not retain or modify the input and must be safe for concurrent calls.
package separation

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Convergence describes how a fit terminated.
type Convergence struct {
	Converged     bool    `json:"converged"`
	Iterations    int     `json:"iterations"`
	MaxIterations int     `json:"max_iterations"`
	RandomState   int64   `json:"random_state"`
	Tries         int     `json:"tries"`
	Objective     float64 `json:"objective"`
}

// Result is one ROI's separation output.
type Result struct {
	// Separated holds the estimated source signals, (subregion, time).
	Separated *mat.Dense
	// Matched holds the sources ordered by their weight in the ROI core and
	// scaled to it, (subregion, time).
	Matched *mat.Dense
	// Mixing maps sources to observed subregions, (subregion, component).
	Mixing      *mat.Dense
	Convergence Convergence
}

// Separator separates one ROI's mixed traces.
type Separator interface {
	Separate(ctx context.Context, x mat.Matrix) (*Result, error)
}

// Func adapts a function to the Separator interface.
type Func func(ctx context.Context, x mat.Matrix) (*Result, error)

// Separate calls f.
func (f Func) Separate(ctx context.Context, x mat.Matrix) (*Result, error) {
	return f(ctx, x)
}
