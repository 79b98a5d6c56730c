package viz

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/openav/motioncast/datasets"
)

func testMeta() datasets.Meta {
	return datasets.Meta{
		Channels:      7,
		Height:        16,
		Width:         16,
		HistoryFrames: 1,
		FutureFrames:  2,
		PixelSize:     [2]float64{0.5, 0.5},
		EgoCenter:     [2]float64{0.25, 0.5},
	}
}

func testSample(m datasets.Meta) *datasets.Sample {
	s := &datasets.Sample{
		TrackID:               7,
		Timestamp:             1,
		Raster:                make([]float32, m.RasterLen()),
		TargetPositions:       []float32{1, 0, 2, 0.5},
		TargetAvailabilities:  []float32{1, 1},
		HistoryPositions:      make([]float32, 2*(m.HistoryFrames+1)),
		HistoryAvailabilities: []float32{1, 1},
	}
	plane := m.Height * m.Width
	mapBase := 2 * (m.HistoryFrames + 1) * plane
	for i := 0; i < plane; i++ {
		s.Raster[mapBase+i] = 0.4
	}
	// Current-frame agent occupancy at the anchor pixel.
	s.Raster[8*m.Width+4] = 1
	return s
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func hasPixel(img image.Image, match func(r, g, b uint8) bool) bool {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if match(uint8(r>>8), uint8(g>>8), uint8(b>>8)) {
				return true
			}
		}
	}
	return false
}

func TestRenderSampleDrawsTrajectories(t *testing.T) {
	m := testMeta()
	s := testSample(m)
	path := filepath.Join(t.TempDir(), "sample.png")

	if err := RenderSample(path, m, s, []float32{1, -1, 2, -2}); err != nil {
		t.Fatalf("RenderSample: %v", err)
	}
	img := decodePNG(t, path)
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Fatalf("image bounds = %v, want 16x16", img.Bounds())
	}
	if !hasPixel(img, func(r, g, b uint8) bool { return g > 130 && int(g) > int(r)+50 && int(g) > int(b)+50 }) {
		t.Fatalf("no green ground-truth stroke found")
	}
	if !hasPixel(img, func(r, g, b uint8) bool { return r > 130 && b > 130 && int(g) < int(r)-50 }) {
		t.Fatalf("no magenta prediction stroke found")
	}
}

func TestRenderSampleWithoutPrediction(t *testing.T) {
	m := testMeta()
	path := filepath.Join(t.TempDir(), "sample.png")
	if err := RenderSample(path, m, testSample(m), nil); err != nil {
		t.Fatalf("RenderSample: %v", err)
	}
	img := decodePNG(t, path)
	if hasPixel(img, func(r, g, b uint8) bool { return r > 130 && b > 130 && int(g) < int(r)-50 }) {
		t.Fatalf("unexpected prediction stroke")
	}
}

func TestRenderSampleRejectsBadGeometry(t *testing.T) {
	m := testMeta()
	s := testSample(m)
	s.Raster = s.Raster[:10]
	if err := RenderSample(filepath.Join(t.TempDir(), "x.png"), m, s, nil); err == nil {
		t.Fatalf("expected an error for a short raster")
	}

	s = testSample(m)
	if err := RenderSample(filepath.Join(t.TempDir(), "y.png"), m, s, []float32{1, 2}); err == nil {
		t.Fatalf("expected an error for a short prediction")
	}
}
