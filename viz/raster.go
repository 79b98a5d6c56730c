// Package viz renders samples, trajectories and training curves to image and
// HTML files.
package viz

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/openav/motioncast/datasets"
)

// RenderSample draws one sample as a PNG: the three map channels form the
// background, agent and neighbor occupancy sit on top, then the ground-truth
// trajectory is stroked in green and the predicted one, when given, in
// magenta.
func RenderSample(path string, meta datasets.Meta, s *datasets.Sample, predicted []float32) error {
	if len(s.Raster) != meta.RasterLen() {
		return fmt.Errorf("raster has %d values, geometry wants %d", len(s.Raster), meta.RasterLen())
	}
	if predicted != nil && len(predicted) != meta.TargetLen() {
		return fmt.Errorf("predicted trajectory has %d values, horizon wants %d", len(predicted), meta.TargetLen())
	}

	img := image.NewRGBA(image.Rect(0, 0, meta.Width, meta.Height))
	plane := meta.Height * meta.Width
	mapBase := 2 * (meta.HistoryFrames + 1) * plane
	for y := 0; y < meta.Height; y++ {
		for x := 0; x < meta.Width; x++ {
			i := y*meta.Width + x
			var agent, others float32
			for h := 0; h <= meta.HistoryFrames; h++ {
				if v := s.Raster[h*plane+i]; v > agent {
					agent = v
				}
				if v := s.Raster[(meta.HistoryFrames+1+h)*plane+i]; v > others {
					others = v
				}
			}
			var c color.RGBA
			switch {
			case agent > 0:
				c = color.RGBA{R: clampByte(agent), G: clampByte(agent), B: clampByte(agent), A: 255}
			case others > 0:
				c = color.RGBA{R: clampByte(others), G: clampByte(others * 0.6), B: 0, A: 255}
			default:
				c = color.RGBA{
					R: clampByte(s.Raster[mapBase+i]),
					G: clampByte(s.Raster[mapBase+plane+i]),
					B: clampByte(s.Raster[mapBase+2*plane+i]),
					A: 255,
				}
			}
			img.SetRGBA(x, y, c)
		}
	}

	dc := gg.NewContextForImage(img)
	drawTrajectory(dc, meta, s.TargetPositions, s.TargetAvailabilities, 0.1, 0.9, 0.2)
	if predicted != nil {
		drawTrajectory(dc, meta, predicted, nil, 0.9, 0.1, 0.9)
	}

	// Ego anchor marker.
	ax, ay := pixelAt(meta, 0, 0)
	dc.SetRGBA(0.2, 0.5, 1, 0.9)
	dc.DrawCircle(ax, ay, 2)
	dc.Fill()

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return dc.SavePNG(path)
}

// drawTrajectory strokes a polyline through the available positions and marks
// the endpoint with a dot. Coordinates are agent-frame meters.
func drawTrajectory(dc *gg.Context, meta datasets.Meta, coords, avails []float32, r, g, b float64) {
	dc.SetRGBA(r, g, b, 0.9)
	dc.SetLineWidth(1.5)
	var lastX, lastY float64
	started := false
	for f := 0; 2*f+1 < len(coords); f++ {
		if avails != nil && (f >= len(avails) || avails[f] == 0) {
			continue
		}
		px, py := pixelAt(meta, float64(coords[2*f]), float64(coords[2*f+1]))
		if started {
			dc.LineTo(px, py)
		} else {
			dc.MoveTo(px, py)
			started = true
		}
		lastX, lastY = px, py
	}
	if !started {
		return
	}
	dc.Stroke()
	dc.DrawCircle(lastX, lastY, 1.5)
	dc.Fill()
}

// pixelAt projects agent-frame meters onto raster pixels using the same
// anchor convention the rasterizer writes with.
func pixelAt(meta datasets.Meta, x, y float64) (float64, float64) {
	return x/meta.PixelSize[0] + meta.EgoCenter[0]*float64(meta.Width),
		y/meta.PixelSize[1] + meta.EgoCenter[1]*float64(meta.Height)
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}
