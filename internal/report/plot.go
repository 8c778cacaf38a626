package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	rawColor     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	matchedColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
)

func series(v []float64) plotter.XYs {
	pts := make(plotter.XYs, len(v))
	for i, y := range v {
		pts[i] = plotter.XY{X: float64(i), Y: y}
	}
	return pts
}

// renderPNG draws the raw and matched traces of one ROI.
func (w *Writer) renderPNG(out io.Writer, tr ROITrace) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("ROI %d", tr.ROI)
	switch {
	case tr.Failed:
		p.Title.Text += " (separation failed)"
	case !tr.Convergence.Converged && tr.Convergence.Iterations > 0:
		p.Title.Text += fmt.Sprintf(" (not converged after %d iterations)", tr.Convergence.Iterations)
	}
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Signal"

	raw, err := plotter.NewLine(series(tr.Raw))
	if err != nil {
		return fmt.Errorf("raw line: %w", err)
	}
	raw.Color = rawColor
	raw.Width = vg.Points(1)
	p.Add(raw)
	p.Legend.Add("raw", raw)

	matched, err := plotter.NewLine(series(tr.Matched))
	if err != nil {
		return fmt.Errorf("matched line: %w", err)
	}
	matched.Color = matchedColor
	matched.Width = vg.Points(1)
	p.Add(matched)
	p.Legend.Add("matched", matched)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	width, height := w.Width, w.Height
	if width == 0 {
		width = 12 * vg.Inch
	}
	if height == 0 {
		height = 4 * vg.Inch
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(out)
	return err
}
