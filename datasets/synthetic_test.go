package datasets

import (
	"os"
	"path/filepath"
	"testing"
)

func smallSynthConfig(seed int64) SynthConfig {
	return SynthConfig{
		Chunks:          2,
		SamplesPerChunk: 3,
		HistoryFrames:   1,
		FutureFrames:    2,
		Height:          16,
		Width:           16,
		PixelSize:       [2]float64{0.5, 0.5},
		EgoCenter:       [2]float64{0.25, 0.5},
		Seed:            seed,
		Workers:         2,
	}
}

func TestGenerateSynthetic(t *testing.T) {
	tmp := t.TempDir()
	paths, err := GenerateSynthetic(tmp, smallSynthConfig(7))
	if err != nil {
		t.Fatalf("GenerateSynthetic failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 chunk paths, got %d", len(paths))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("chunk file %s missing: %v", p, err)
		}
	}

	ds, err := NewAgentDataset(filepath.Join(tmp, "*.gob"))
	if err != nil {
		t.Fatalf("NewAgentDataset over synthetic chunks: %v", err)
	}
	if ds.Len() != 6 {
		t.Fatalf("Len: got %d, want 6", ds.Len())
	}
	m := ds.Meta()
	if m.Channels != 7 {
		t.Fatalf("channels: got %d, want 7", m.Channels)
	}

	for i := 0; i < ds.Len(); i++ {
		s, err := ds.Example(i)
		if err != nil {
			t.Fatalf("Example(%d): %v", i, err)
		}
		// The first future frame is always observed.
		if s.TargetAvailabilities[0] != 1 {
			t.Errorf("sample %d: first availability %v, want 1", i, s.TargetAvailabilities[0])
		}
		// The agent moves forward at 2-14 m/s, so the first x offset sits
		// in a narrow band around speed*dt even with noise.
		if s.TargetPositions[0] < -0.5 || s.TargetPositions[0] > 3 {
			t.Errorf("sample %d: first x offset %v outside plausible range", i, s.TargetPositions[0])
		}
		// Map channels are filled.
		mapBase := 2 * (m.HistoryFrames + 1) * m.Height * m.Width
		if s.Raster[mapBase] == 0 {
			t.Errorf("sample %d: map channel empty", i)
		}
		// The current-frame agent channel has a mark at the ego anchor.
		var agentMarks int
		for _, v := range s.Raster[:m.Height*m.Width] {
			if v > 0 {
				agentMarks++
			}
		}
		if agentMarks == 0 {
			t.Errorf("sample %d: agent channel empty", i)
		}
	}
}

func TestGenerateSyntheticDeterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()

	if _, err := GenerateSynthetic(dirA, smallSynthConfig(11)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := GenerateSynthetic(dirB, smallSynthConfig(11)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, err := ReadChunk(filepath.Join(dirA, "agents_000.gob"))
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	b, err := ReadChunk(filepath.Join(dirB, "agents_000.gob"))
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if len(a.Samples) != len(b.Samples) {
		t.Fatalf("sample counts differ: %d vs %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		sa, sb := &a.Samples[i], &b.Samples[i]
		if sa.TrackID != sb.TrackID || sa.Timestamp != sb.Timestamp {
			t.Fatalf("sample %d identity differs", i)
		}
		for j := range sa.TargetPositions {
			if sa.TargetPositions[j] != sb.TargetPositions[j] {
				t.Fatalf("sample %d target %d differs: %v vs %v",
					i, j, sa.TargetPositions[j], sb.TargetPositions[j])
			}
		}
	}
}

func TestGenerateSyntheticDifferentSeedsDiffer(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()

	if _, err := GenerateSynthetic(dirA, smallSynthConfig(1)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := GenerateSynthetic(dirB, smallSynthConfig(2)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, err := ReadChunk(filepath.Join(dirA, "agents_000.gob"))
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	b, err := ReadChunk(filepath.Join(dirB, "agents_000.gob"))
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	same := true
	for j := range a.Samples[0].TargetPositions {
		if a.Samples[0].TargetPositions[j] != b.Samples[0].TargetPositions[j] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical first sample")
	}
}
