package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxChartPoints bounds the points per HTML series; longer traces are strided.
const maxChartPoints = 2000

func renderPage(w io.Writer, title string, traces []ROITrace, charted int) error {
	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(convergenceChart(title, traces))
	for _, tr := range traces[:charted] {
		page.AddCharts(traceChart(tr))
	}
	return page.Render(w)
}

func convergenceChart(title string, traces []ROITrace) *charts.Bar {
	x := make([]string, len(traces))
	y := make([]opts.BarData, len(traces))
	converged := 0
	for i, tr := range traces {
		x[i] = fmt.Sprintf("ROI %d", tr.ROI)
		bd := opts.BarData{Value: tr.Convergence.Iterations}
		if tr.Failed {
			bd.ItemStyle = &opts.ItemStyle{Color: "#d62728"}
		} else if tr.Convergence.Converged {
			converged++
		}
		y[i] = bd
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("iterations to converge; %d of %d ROIs converged", converged, len(traces)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("iterations", y)
	return bar
}

func traceChart(tr ROITrace) *charts.Line {
	stride := max(1, (len(tr.Raw)+maxChartPoints-1)/maxChartPoints)
	x := make([]int, 0, len(tr.Raw)/stride+1)
	raw := make([]opts.LineData, 0, cap(x))
	matched := make([]opts.LineData, 0, cap(x))
	for i := 0; i < len(tr.Raw); i += stride {
		x = append(x, i)
		raw = append(raw, opts.LineData{Value: tr.Raw[i]})
		if i < len(tr.Matched) {
			matched = append(matched, opts.LineData{Value: tr.Matched[i]})
		}
	}

	subtitle := fmt.Sprintf("converged=%t iterations=%d tries=%d",
		tr.Convergence.Converged, tr.Convergence.Iterations, tr.Convergence.Tries)
	if tr.Failed {
		subtitle = "separation failed; matched trace left at zero"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("ROI %d", tr.ROI), Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(x).
		AddSeries("raw", raw).
		AddSeries("matched", matched)
	return line
}
