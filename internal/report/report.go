// Package report renders diagnostics for a separation run: one PNG per ROI
// comparing the raw ROI-core trace with its matched signal, and an HTML page
// with interactive traces and per-ROI convergence.
package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/roisep/internal/fsutil"
	"github.com/banshee-data/roisep/internal/pipeline"
	"github.com/banshee-data/roisep/internal/separation"
	"github.com/banshee-data/roisep/internal/signals"
)

// IndexFile is the HTML page written into the report directory.
const IndexFile = "index.html"

// ROITrace holds what the report shows for one ROI.
type ROITrace struct {
	ROI int
	// Raw is the ROI-core (subregion 0) input trace.
	Raw []float64
	// Matched is the first matched signal, the ROI's own source.
	Matched     []float64
	Convergence separation.Convergence
	Failed      bool
}

// Traces extracts per-ROI report data from a completed run.
func Traces(oc *pipeline.Outcome) []ROITrace {
	failed := make(map[int]bool, len(oc.Failed))
	for _, f := range oc.Failed {
		failed[f.ROI] = true
	}
	in := oc.Input
	out := make([]ROITrace, in.ROIs)
	for roi := range in.ROIs {
		out[roi] = ROITrace{
			ROI:         roi,
			Raw:         coreTrace(in.Array(), in.Samples, roi),
			Matched:     coreTrace(oc.Output.Matched, in.Samples, roi),
			Convergence: oc.Diagnostics[roi].Convergence,
			Failed:      failed[roi],
		}
	}
	return out
}

// coreTrace returns a[:, 0, roi] (or a[:, 0] for rank-2 arrays).
func coreTrace(a *signals.Array, samples, roi int) []float64 {
	off := 0
	if a.Rank() == 3 {
		d := a.Dims()
		off = roi * d[0] * d[1]
	}
	return append([]float64(nil), a.Data()[off:off+samples]...)
}

// Writer renders reports into Dir.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
	// MaxPlots caps the number of per-ROI PNGs and HTML trace charts; 0
	// means every ROI.
	MaxPlots int
	Width    vg.Length
	Height   vg.Length
}

// Summary lists the files a report produced.
type Summary struct {
	Index string
	Plots []string
}

// Write renders the report for traces under title.
func (w *Writer) Write(title string, traces []ROITrace) (*Summary, error) {
	fsys := w.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	n := len(traces)
	if w.MaxPlots > 0 {
		n = min(n, w.MaxPlots)
	}

	sum := &Summary{}
	for _, tr := range traces[:n] {
		var buf bytes.Buffer
		if err := w.renderPNG(&buf, tr); err != nil {
			return nil, fmt.Errorf("plot roi %d: %w", tr.ROI, err)
		}
		name := filepath.Join(w.Dir, fmt.Sprintf("roi_%03d.png", tr.ROI))
		if err := fsys.WriteFile(name, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		sum.Plots = append(sum.Plots, name)
	}

	var buf bytes.Buffer
	if err := renderPage(&buf, title, traces, n); err != nil {
		return nil, fmt.Errorf("render %s: %w", IndexFile, err)
	}
	sum.Index = filepath.Join(w.Dir, IndexFile)
	if err := fsys.WriteFile(sum.Index, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", sum.Index, err)
	}
	return sum, nil
}
