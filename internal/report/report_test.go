package report

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/roisep/internal/fsutil"
	"github.com/banshee-data/roisep/internal/pipeline"
	"github.com/banshee-data/roisep/internal/separation"
	"github.com/banshee-data/roisep/internal/signals"
	"github.com/banshee-data/roisep/internal/testutil"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// halfSeparator matches each ROI to half its input and fails on ROIs whose
// first sample is negative.
var halfSeparator = separation.Func(func(_ context.Context, x mat.Matrix) (*separation.Result, error) {
	if x.At(0, 0) < 0 {
		return nil, errors.New("rejected")
	}
	var sep, matched mat.Dense
	sep.CloneFrom(x)
	matched.Scale(0.5, x)
	return &separation.Result{
		Separated:   &sep,
		Matched:     &matched,
		Convergence: separation.Convergence{Converged: true, Iterations: 40, Tries: 1},
	}, nil
})

func outcome(t *testing.T, a *signals.Array, opts pipeline.Options) *pipeline.Outcome {
	t.Helper()
	in, err := signals.Resolve(a)
	require.NoError(t, err)
	oc, err := pipeline.Separate(context.Background(), in, halfSeparator, opts)
	require.NoError(t, err)
	return oc
}

func TestTraces(t *testing.T) {
	t.Parallel()

	a := testutil.SignalArray(t, 30, 3, 2)
	traces := Traces(outcome(t, a, pipeline.DefaultOptions()))
	require.Len(t, traces, 2)

	n := 30 * 3
	for roi, tr := range traces {
		assert.Equal(t, roi, tr.ROI)
		// subregion 0 is the first column of the ROI's block
		assert.Equal(t, a.Data()[roi*n:roi*n+30], tr.Raw)
		for i, v := range tr.Raw {
			assert.Equal(t, 0.5*v, tr.Matched[i])
		}
		assert.Equal(t, 40, tr.Convergence.Iterations)
		assert.False(t, tr.Failed)
	}
}

func TestTracesSingleROI(t *testing.T) {
	t.Parallel()

	a := testutil.SignalArray(t, 25, 2, -1)
	traces := Traces(outcome(t, a, pipeline.DefaultOptions()))
	require.Len(t, traces, 1)
	assert.Equal(t, a.Data()[:25], traces[0].Raw)
}

func TestTracesMarksFailures(t *testing.T) {
	t.Parallel()

	a := testutil.SignalArray(t, 20, 2, 3)
	a.Data()[20*2] = -1 // first sample of ROI 1
	traces := Traces(outcome(t, a, pipeline.Options{Workers: 1}))
	require.Len(t, traces, 3)
	assert.False(t, traces[0].Failed)
	assert.True(t, traces[1].Failed)
	assert.Equal(t, make([]float64, 20), traces[1].Matched)
}

func TestWriterWritesPlotsAndIndex(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	traces := Traces(outcome(t, testutil.SignalArray(t, 50, 2, 3), pipeline.DefaultOptions()))

	w := &Writer{FS: fsys, Dir: "/reports/run1"}
	sum, err := w.Write("in.mat", traces)
	require.NoError(t, err)

	require.Len(t, sum.Plots, 3)
	for i, name := range sum.Plots {
		assert.Equal(t, filepath.Join("/reports/run1", []string{"roi_000.png", "roi_001.png", "roi_002.png"}[i]), name)
		data, err := fsys.ReadFile(name)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", name)
	}

	html, err := fsys.ReadFile(sum.Index)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "in.mat")
	assert.Contains(t, page, "ROI 2")
	assert.Contains(t, page, "3 of 3 ROIs converged")
	assert.True(t, strings.Contains(page, "echarts"), "page loads echarts")
}

func TestWriterMaxPlots(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	traces := Traces(outcome(t, testutil.SignalArray(t, 20, 2, 5), pipeline.DefaultOptions()))

	sum, err := (&Writer{FS: fsys, Dir: "/r", MaxPlots: 2}).Write("capped", traces)
	require.NoError(t, err)
	assert.Len(t, sum.Plots, 2)
	assert.False(t, fsys.Exists("/r/roi_002.png"))

	html, err := fsys.ReadFile(sum.Index)
	require.NoError(t, err)
	// the convergence chart still covers every ROI
	assert.Contains(t, string(html), "5 ROIs converged")
}

func TestWriterReadOnlyDir(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	fsys.SetReadOnly("/locked")
	traces := Traces(outcome(t, testutil.SignalArray(t, 20, 2, 1), pipeline.DefaultOptions()))

	_, err := (&Writer{FS: fsys, Dir: "/locked"}).Write("x", traces)
	assert.Error(t, err)
}

func TestWriterZeroROIs(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	traces := Traces(outcome(t, signals.Zeros(10, 2, 0), pipeline.DefaultOptions()))
	assert.Empty(t, traces)

	sum, err := (&Writer{FS: fsys, Dir: "/r"}).Write("empty", traces)
	require.NoError(t, err)
	assert.Empty(t, sum.Plots)
	assert.True(t, fsys.Exists(sum.Index))
}
