package main

// Inspection command for chunked agent archives. It prints archive geometry
// and per-sample details, optionally renders a sample to PNG, exports the
// ground-truth CSV, and can generate a synthetic archive for demos and tests.
//
// Usage:
//   go run ./cmd/inspect -synth data/scenes/train
//   go run ./cmd/inspect -pattern "data/scenes/train/*.gob" -index 3 -png sample.png

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/openav/motioncast/datasets"
	"github.com/openav/motioncast/viz"
)

func main() {
	synthDir := flag.String("synth", "", "generate a synthetic archive into this directory and exit")
	chunks := flag.Int("chunks", 4, "synthetic archive: number of chunk files")
	samples := flag.Int("samples", 32, "synthetic archive: samples per chunk")
	history := flag.Int("history", 10, "synthetic archive: history frames per sample")
	future := flag.Int("future", 50, "synthetic archive: future frames per sample")
	size := flag.Int("size", 224, "synthetic archive: raster width and height in pixels")
	seed := flag.Int64("seed", 1, "synthetic archive: generator seed")
	workers := flag.Int("workers", 0, "synthetic archive: generator workers (0 = NumCPU)")

	pattern := flag.String("pattern", "data/scenes/train/*.gob", "chunk glob pattern to inspect")
	index := flag.Int("index", 0, "sample index to detail")
	pngPath := flag.String("png", "", "render the detailed sample to this PNG path")
	gtCSV := flag.String("gt-csv", "", "export every target trajectory to this CSV path")

	flag.Parse()

	if *synthDir != "" {
		cfg := datasets.SynthConfig{
			Chunks:           *chunks,
			SamplesPerChunk:  *samples,
			HistoryFrames:    *history,
			FutureFrames:     *future,
			Height:           *size,
			Width:            *size,
			Seed:             *seed,
			Workers:          *workers,
			ProgressInterval: 3 * time.Second,
		}
		start := time.Now()
		paths, err := datasets.GenerateSynthetic(*synthDir, cfg)
		if err != nil {
			log.Fatalf("failed to generate synthetic archive: %v", err)
		}
		fmt.Printf("Generated %d chunks (%d samples) in %v:\n", len(paths), (*chunks)*(*samples), time.Since(start))
		for _, p := range paths {
			fmt.Printf("  %s\n", p)
		}
		return
	}

	ds, err := datasets.NewAgentDataset(*pattern)
	if err != nil {
		log.Fatalf("failed to open archive: %v", err)
	}
	m := ds.Meta()
	fmt.Printf("Archive pattern: %s\n", *pattern)
	fmt.Printf("Total samples: %d\n", ds.Len())
	fmt.Printf("Raster: %d channels x %dx%d (history=%d, future=%d)\n",
		m.Channels, m.Height, m.Width, m.HistoryFrames, m.FutureFrames)
	fmt.Printf("Pixel size: %v m/px, ego center: %v\n", m.PixelSize, m.EgoCenter)

	if *index < 0 || *index >= ds.Len() {
		log.Fatalf("sample index %d out of range [0, %d)", *index, ds.Len())
	}
	s, err := ds.Example(*index)
	if err != nil {
		log.Fatalf("failed to read sample %d: %v", *index, err)
	}
	avail := 0
	for _, a := range s.TargetAvailabilities {
		if a != 0 {
			avail++
		}
	}
	nonzero := 0
	var sum float64
	for _, v := range s.Raster {
		if v != 0 {
			nonzero++
		}
		sum += float64(v)
	}
	fmt.Printf("\nSample %d: track %d at timestamp %d\n", *index, s.TrackID, s.Timestamp)
	fmt.Printf("  available future steps: %d/%d\n", avail, m.FutureFrames)
	fmt.Printf("  first target offset: (%.2f, %.2f) m\n", s.TargetPositions[0], s.TargetPositions[1])
	last := 2*m.FutureFrames - 2
	fmt.Printf("  final target offset: (%.2f, %.2f) m\n", s.TargetPositions[last], s.TargetPositions[last+1])
	fmt.Printf("  raster: %.1f%% nonzero, mean value %.4f\n",
		100*float64(nonzero)/float64(len(s.Raster)), sum/float64(len(s.Raster)))

	if *pngPath != "" {
		if err := viz.RenderSample(*pngPath, m, s, nil); err != nil {
			log.Fatalf("failed to render sample: %v", err)
		}
		fmt.Printf("Rendered sample %d to %s\n", *index, *pngPath)
	}

	if *gtCSV != "" {
		if err := datasets.WriteGroundTruthCSV(ds, *gtCSV); err != nil {
			log.Fatalf("failed to export ground truth: %v", err)
		}
		fmt.Printf("Wrote ground-truth CSV to %s\n", *gtCSV)
	}

	// Convert a small batch to gomlx tensors, the same interop boundary the
	// training loop uses.
	n := min(8, ds.Len())
	ds.BatchSize = n
	_, inputs, labels, err := ds.Yield()
	if err != nil {
		log.Fatalf("failed to yield a batch: %v", err)
	}
	fmt.Printf("\nYielded a %d-sample batch as gomlx tensors: input=%T label=%T\n", n, inputs[0], labels[0])
	fmt.Printf("  input shape: [%d, %d, %d, %d]\n", n, m.Channels, m.Height, m.Width)
	fmt.Printf("  label shape: [%d, %d]\n", n, m.TargetLen())
}
