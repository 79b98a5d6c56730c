package viz

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/openav/motioncast/evaluation"
)

// TrainingReport writes a standalone HTML page with the loss curve and, when
// metrics are given, the evaluation summary, so a run can be inspected in a
// browser without any tooling.
func TrainingReport(path string, losses []float32, ms *evaluation.Metrics) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Training report", Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Training loss", Subtitle: fmt.Sprintf("%d steps", len(losses))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "masked MSE"}),
	)
	steps := make([]string, len(losses))
	data := make([]opts.LineData, len(losses))
	for i, l := range losses {
		steps[i] = strconv.Itoa(i + 1)
		data[i] = opts.LineData{Value: l}
	}
	line.SetXAxis(steps).AddSeries("loss", data)

	page := components.NewPage()
	page.AddCharts(line)

	if ms != nil {
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: "Evaluation", Subtitle: fmt.Sprintf("%d agents", ms.Agents)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis([]string{"neg log-likelihood", "ADE", "FDE"}).
			AddSeries("metrics", []opts.BarData{
				{Value: ms.NegLogLikelihood},
				{Value: ms.AverageDisplacement},
				{Value: ms.FinalDisplacement},
			}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

		horizon := charts.NewLine()
		horizon.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: "Displacement over the horizon"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "future step"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "meters"}),
		)
		hsteps := make([]string, len(ms.TimeDisplace))
		hdata := make([]opts.LineData, len(ms.TimeDisplace))
		for i, v := range ms.TimeDisplace {
			hsteps[i] = strconv.Itoa(i + 1)
			hdata[i] = opts.LineData{Value: v}
		}
		horizon.SetXAxis(hsteps).AddSeries("time displacement", hdata)

		page.AddCharts(bar, horizon)
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
