package viz

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/openav/motioncast/evaluation"
)

// LossCurve writes a PNG line plot of the per-step training loss.
func LossCurve(path string, losses []float32) error {
	if len(losses) == 0 {
		return fmt.Errorf("no losses to plot")
	}
	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "masked MSE"

	xys := make(plotter.XYs, len(losses))
	for i, l := range losses {
		xys[i] = plotter.XY{X: float64(i + 1), Y: float64(l)}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	line.Width = vg.Points(1.2)
	p.Add(line)
	p.Legend.Add("loss", line)

	grid := plotter.NewGrid()
	p.Add(grid)

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// EndpointScatter writes a PNG overlaying ground-truth trajectory endpoints
// (grey) with predicted ones (blue). Each record contributes its last
// available step.
func EndpointScatter(path string, gt, pred []evaluation.Record) error {
	gxy := endpoints(gt)
	pxy := endpoints(pred)

	p := plot.New()
	p.Title.Text = "Trajectory endpoints: ground truth (grey), predicted (blue)"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	gr, err := plotter.NewScatter(gxy)
	if err != nil {
		return err
	}
	gr.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	gr.GlyphStyle.Radius = vg.Points(1.8)
	p.Add(gr)
	p.Legend.Add("ground truth", gr)

	pr, err := plotter.NewScatter(pxy)
	if err != nil {
		return err
	}
	pr.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	pr.GlyphStyle.Radius = vg.Points(2.2)
	p.Add(pr)
	p.Legend.Add("predicted", pr)

	grid := plotter.NewGrid()
	p.Add(grid)

	all := append(append(plotter.XYs{}, gxy...), pxy...)
	xmin, xmax, ymin, ymax := autoRange(all)
	p.X.Min = xmin
	p.X.Max = xmax
	p.Y.Min = ymin
	p.Y.Max = ymax

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// endpoints extracts the last available position of each record.
func endpoints(records []evaluation.Record) plotter.XYs {
	xys := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		last := -1
		for f := 0; 2*f+1 < len(r.Coords); f++ {
			if f < len(r.Avails) && r.Avails[f] == 1 {
				last = f
			}
		}
		if last < 0 {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(r.Coords[2*last]), Y: float64(r.Coords[2*last+1])})
	}
	return xys
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin = math.Inf(1)
	xmax = math.Inf(-1)
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, p := range xs {
		if p.X < xmin {
			xmin = p.X
		}
		if p.X > xmax {
			xmax = p.X
		}
		if p.Y < ymin {
			ymin = p.Y
		}
		if p.Y > ymax {
			ymax = p.Y
		}
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
