package align

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// residualSeries splits the concatenated residuals into coarse and fine
// series over a shared iteration axis. Each series leaves the other pass's
// slots empty.
func residualSeries(res RegistrationResult) (axis []int, coarse, fine []opts.LineData) {
	n := len(res.Residuals)
	split := min(res.CoarseIterations, n)

	axis = make([]int, n)
	coarse = make([]opts.LineData, n)
	fine = make([]opts.LineData, n)
	for i, r := range res.Residuals {
		axis[i] = i + 1
		if i < split {
			coarse[i] = opts.LineData{Value: r}
			fine[i] = opts.LineData{Value: nil}
		} else {
			coarse[i] = opts.LineData{Value: nil}
			fine[i] = opts.LineData{Value: r}
		}
	}
	// join the two lines at the pass boundary
	if split > 0 && split < n {
		fine[split-1] = opts.LineData{Value: res.Residuals[split-1]}
	}
	return axis, coarse, fine
}

// ResidualChart plots the per-iteration residuals of a registration.
func ResidualChart(res RegistrationResult, title string) *charts.Line {
	axis, coarse, fine := residualSeries(res)

	yAxis := opts.YAxis{Name: "mean sq. distance (m²)", Type: "value"}
	if allPositive(res.Residuals) {
		yAxis.Type = "log"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Registration residuals", Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("coarse=%d fine=%d converged=%t", res.CoarseIterations, res.FineIterations, res.Converged),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(yAxis),
	)
	line.SetXAxis(axis).
		AddSeries("coarse", coarse).
		AddSeries("fine", fine)
	return line
}

// FootprintChart scatters the target outline against the aligned scan.
func FootprintChart(out *AlignOutcome) *charts.Scatter {
	toData := func(points []Point) []opts.ScatterData {
		data := make([]opts.ScatterData, len(points))
		for i, p := range points {
			data[i] = opts.ScatterData{Value: []interface{}{p.X, p.Z}}
		}
		return data
	}

	target := NewTargetProfile(out.Profile, out.Target, CoarseRectPoints)
	aligned := out.Result.Transform.Transform().ApplyAll(out.Source)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Aligned footprint",
			Subtitle: fmt.Sprintf("target %.2f x %.2f m, %s", out.Target.Width, out.Target.Depth, out.Profile),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("target", toData(target.Points), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("aligned", toData(aligned), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}

// RenderReport writes an HTML page with the residual and footprint charts.
func RenderReport(w io.Writer, out *AlignOutcome) error {
	page := components.NewPage()
	page.PageTitle = "Alignment " + out.SessionID
	page.AddCharts(
		ResidualChart(out.Result, "Residuals"),
		FootprintChart(out),
	)
	return page.Render(w)
}

func allPositive(values []float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !(v > 0) {
			return false
		}
	}
	return true
}
