package nn

import (
	"math/rand"
	"path/filepath"
	"testing"
)

func buildTinyModel(t *testing.T, inC, outDim int, seed int64) *Sequential {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	return &Sequential{Layers: []Layer{
		NewConv2D("stem.conv", inC, 4, 3, 1, 1, false, rng),
		NewBatchNorm2D("stem.bn", 4),
		NewReLU(),
		NewGlobalAvgPool(),
		NewLinear("head", 4, outDim, rng),
	}}
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	src := buildTinyModel(t, 5, 6, 21)
	srcParams := src.Params()
	if err := SaveCheckpoint(path, srcParams, 123); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := buildTinyModel(t, 5, 6, 99)
	dstParams := dst.Params()
	step, err := LoadCheckpoint(path, dstParams)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if step != 123 {
		t.Errorf("step = %d, want 123", step)
	}
	for i, p := range dstParams {
		for j := range p.Data {
			if p.Data[j] != srcParams[i].Data[j] {
				t.Fatalf("param %s differs after load at %d: %g vs %g",
					p.Name, j, p.Data[j], srcParams[i].Data[j])
			}
		}
	}
}

func TestLoadCheckpointRejectsMissingTensor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	src := buildTinyModel(t, 5, 6, 21)
	if err := SaveCheckpoint(path, src.Params(), 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	extra := NewLinear("extra_head", 4, 2, rng)
	if _, err := LoadCheckpoint(path, extra.Params()); err == nil {
		t.Fatal("expected error for param absent from checkpoint")
	}
}

func TestLoadMatchingSkipsReshapedStemAndHead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pretrained.ckpt")

	// Pretrained model: 3 input channels, 10 outputs.
	pre := buildTinyModel(t, 3, 10, 21)
	if err := SaveCheckpoint(path, pre.Params(), 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Adapted model: wider stem and different head, same trunk.
	adapted := buildTinyModel(t, 25, 100, 77)
	params := adapted.Params()
	before := make(map[string][]float32)
	for _, p := range params {
		before[p.Name] = append([]float32(nil), p.Data...)
	}

	loaded, skipped, err := LoadMatching(path, params)
	if err != nil {
		t.Fatalf("load matching: %v", err)
	}
	// stem.conv.weight and head weight+bias change shape; everything else
	// (bn gamma/beta/running stats) matches.
	if skipped != 3 {
		t.Errorf("skipped = %d, want 3", skipped)
	}
	if loaded != len(params)-3 {
		t.Errorf("loaded = %d, want %d", loaded, len(params)-3)
	}

	preParams := pre.Params()
	preByName := make(map[string][]float32)
	for _, p := range preParams {
		preByName[p.Name] = p.Data
	}
	for _, p := range params {
		switch p.Name {
		case "stem.conv.weight", "head.weight", "head.bias":
			for j := range p.Data {
				if p.Data[j] != before[p.Name][j] {
					t.Fatalf("reshaped param %s was overwritten", p.Name)
				}
			}
		default:
			src := preByName[p.Name]
			for j := range p.Data {
				if p.Data[j] != src[j] {
					t.Fatalf("matching param %s not restored", p.Name)
				}
			}
		}
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.ckpt"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
