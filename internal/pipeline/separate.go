// Package pipeline runs the blind source separation step over every ROI of an
// extracted-signal array and reassembles the results in the input's layout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/roisep/internal/monitoring"
	"github.com/banshee-data/roisep/internal/roierr"
	"github.com/banshee-data/roisep/internal/separation"
	"github.com/banshee-data/roisep/internal/signals"
)

// Options controls the per-ROI dispatch.
type Options struct {
	Workers    int           // concurrent separator calls (>=1); 1 processes ROIs in order
	ROITimeout time.Duration // limit on one separator call; 0 disables
	// FailFast stops at the first failing ROI. When false, failures are
	// collected in Outcome.Failed and the remaining ROIs still run.
	FailFast bool
}

// DefaultOptions returns sequential, fail-fast dispatch.
func DefaultOptions() Options {
	return Options{Workers: 1, FailFast: true}
}

// ROIDiagnostic is the side information produced for one ROI. It is kept out
// of the output arrays.
type ROIDiagnostic struct {
	ROI         int
	Convergence separation.Convergence
	Mixing      *mat.Dense
	Duration    time.Duration
	Err         error
}

// ROIFailure records a ROI that could not be separated in best-effort mode.
type ROIFailure struct {
	ROI int
	Err error
}

// Outcome is the result of Separate.
type Outcome struct {
	Input  *signals.Input
	Output *signals.Output
	// Diagnostics is indexed by ROI.
	Diagnostics []ROIDiagnostic
	// Failed lists failed ROIs in ascending order; empty in fail-fast mode.
	Failed []ROIFailure
}

// Partial reports whether some ROI slots were left zero-valued.
func (o *Outcome) Partial() bool { return len(o.Failed) > 0 }

// FailedROIs returns the indices in Failed.
func (o *Outcome) FailedROIs() []int {
	out := make([]int, len(o.Failed))
	for i, f := range o.Failed {
		out[i] = f.ROI
	}
	return out
}

// Separate runs sep over every ROI of in and assembles the per-ROI results
// into arrays shaped like the input. A zero-ROI input never calls sep.
//
// In fail-fast mode the first failure cancels the ROIs still pending and is
// returned as a *roierr.SeparationError; no partial Outcome is returned.
func Separate(ctx context.Context, in *signals.Input, sep separation.Separator, opts Options) (*Outcome, error) {
	if in == nil {
		return nil, errors.New("pipeline: nil input")
	}
	if sep == nil {
		return nil, errors.New("pipeline: nil separator")
	}
	workers := max(opts.Workers, 1)

	out := in.NewOutput()
	oc := &Outcome{
		Input:       in,
		Output:      out,
		Diagnostics: make([]ROIDiagnostic, in.ROIs),
	}

	var (
		g    *errgroup.Group
		gctx context.Context
	)
	if opts.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g, gctx = new(errgroup.Group), ctx
	}
	g.SetLimit(workers)

	var (
		mu       sync.Mutex
		failures []ROIFailure
	)
	for roi := range in.ROIs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				// cancelled while queued
				return nil
			}
			err := separateROI(gctx, in, out, sep, roi, opts.ROITimeout, &oc.Diagnostics[roi])
			if err == nil {
				return nil
			}
			if opts.FailFast {
				return err
			}
			monitoring.Opsf("roi %d failed, continuing: %v", roi, err)
			mu.Lock()
			failures = append(failures, ROIFailure{ROI: roi, Err: err})
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("separation interrupted: %w", ctxErr)
	}
	if err != nil {
		return nil, err
	}

	slices.SortFunc(failures, func(a, b ROIFailure) int { return a.ROI - b.ROI })
	oc.Failed = failures

	// Every ROI not reported as failed must have been stored.
	if missing := out.Missing(); !slices.Equal(missing, oc.FailedROIs()) {
		return nil, fmt.Errorf("pipeline: roi slots %v left unfilled (failed: %v)", missing, oc.FailedROIs())
	}
	return oc, nil
}

func separateROI(ctx context.Context, in *signals.Input, out *signals.Output, sep separation.Separator, roi int, timeout time.Duration, diag *ROIDiagnostic) error {
	diag.ROI = roi
	fail := func(err error) error {
		diag.Err = err
		return &roierr.SeparationError{ROI: roi, Err: err}
	}

	x, err := in.ROISlice(roi)
	if err != nil {
		return fail(err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := sep.Separate(ctx, x)
	diag.Duration = time.Since(start)
	if err != nil {
		return fail(err)
	}
	if res == nil || res.Separated == nil || res.Matched == nil {
		return fail(errors.New("separator returned no result"))
	}
	if err := out.Store(roi, res.Separated, res.Matched); err != nil {
		return fail(err)
	}

	diag.Convergence = res.Convergence
	diag.Mixing = res.Mixing
	monitoring.Diagf("roi %d/%d: converged=%t iterations=%d tries=%d in %s",
		roi+1, in.ROIs, res.Convergence.Converged, res.Convergence.Iterations, res.Convergence.Tries,
		diag.Duration.Round(time.Millisecond))
	return nil
}
