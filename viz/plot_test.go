package viz

import (
	"path/filepath"
	"testing"

	"github.com/openav/motioncast/evaluation"
)

func TestLossCurveWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "loss.png")
	if err := LossCurve(path, []float32{3, 2.5, 1, 0.8}); err != nil {
		t.Fatalf("LossCurve: %v", err)
	}
	img := decodePNG(t, path)
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Fatalf("empty plot image")
	}
}

func TestLossCurveRejectsEmpty(t *testing.T) {
	if err := LossCurve(filepath.Join(t.TempDir(), "x.png"), nil); err == nil {
		t.Fatalf("expected an error for empty losses")
	}
}

func TestEndpointScatterWritesPNG(t *testing.T) {
	gt := []evaluation.Record{
		{TrackID: 1, Timestamp: 1, Coords: []float32{1, 2, 3, 4}, Avails: []float32{1, 1}},
		{TrackID: 2, Timestamp: 1, Coords: []float32{0, 0, -1, -2}, Avails: []float32{1, 1}},
	}
	pred := []evaluation.Record{
		{TrackID: 1, Timestamp: 1, Coords: []float32{1.5, 2, 3, 4.5}, Avails: []float32{1, 1}},
		{TrackID: 2, Timestamp: 1, Coords: []float32{0, 0.5, -1, -1.5}, Avails: []float32{1, 1}},
	}
	path := filepath.Join(t.TempDir(), "endpoints.png")
	if err := EndpointScatter(path, gt, pred); err != nil {
		t.Fatalf("EndpointScatter: %v", err)
	}
	img := decodePNG(t, path)
	if img.Bounds().Dx() == 0 {
		t.Fatalf("empty plot image")
	}
}

func TestEndpointsUseLastAvailableStep(t *testing.T) {
	xys := endpoints([]evaluation.Record{
		{Coords: []float32{1, 2, 30, 40}, Avails: []float32{1, 0}},
	})
	if len(xys) != 1 || xys[0].X != 1 || xys[0].Y != 2 {
		t.Fatalf("endpoints = %+v", xys)
	}
	if got := endpoints([]evaluation.Record{{Coords: []float32{1, 2}, Avails: []float32{0}}}); len(got) != 0 {
		t.Fatalf("fully masked record should contribute nothing, got %+v", got)
	}
}
