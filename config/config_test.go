package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
raster_params:
  raster_size: [224, 224]
  pixel_size: [0.5, 0.5]
  ego_center: [0.25, 0.5]

model_params:
  architecture: resnet50
  history_num_frames: 10
  future_num_frames: 50
  learning_rate: 0.001

train_data_loader:
  key: scenes/train/*.dat
  batch_size: 12
  shuffle: true
  num_workers: 4

val_data_loader:
  key: scenes/validate/*.dat
  batch_size: 12
  shuffle: false
  num_workers: 2

train_params:
  max_num_steps: 500
  checkpoint_every_n_steps: 100
  seed: 42
`

func TestLoadSampleConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "run.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.InChannels(); got != 3+2*11 {
		t.Fatalf("InChannels: got %d want %d", got, 3+2*11)
	}
	if got := cfg.OutputDim(); got != 100 {
		t.Fatalf("OutputDim: got %d want 100", got)
	}
	if cfg.TrainLoader.BatchSize != 12 || !cfg.TrainLoader.Shuffle {
		t.Fatalf("train loader not decoded: %+v", cfg.TrainLoader)
	}
	if cfg.TrainParams.MaxNumSteps != 500 {
		t.Fatalf("max_num_steps: got %d want 500", cfg.TrainParams.MaxNumSteps)
	}
	// defaults applied for fields the fixture omits
	if cfg.ModelParams.Optimizer != "adam" {
		t.Fatalf("optimizer default: got %q want adam", cfg.ModelParams.Optimizer)
	}
	if cfg.ModelParams.AdamBeta1 != 0.9 || cfg.ModelParams.AdamBeta2 != 0.999 {
		t.Fatalf("adam defaults not applied: %+v", cfg.ModelParams)
	}
}

func TestParseDefaultsOnEmpty(t *testing.T) {
	cfg, err := Parse([]byte("model_params:\n  future_num_frames: 5\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.ModelParams.Architecture != "resnet50" {
		t.Fatalf("architecture default: got %q", cfg.ModelParams.Architecture)
	}
	if cfg.RasterParams.RasterSize[0] != 224 || cfg.RasterParams.RasterSize[1] != 224 {
		t.Fatalf("raster_size default: got %v", cfg.RasterParams.RasterSize)
	}
	if cfg.TrainParams.MaxNumSteps != 1000 {
		t.Fatalf("max_num_steps default: got %d", cfg.TrainParams.MaxNumSteps)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("model_params:\n  future_num_frames: 5\n  lerning_rate: 0.1\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key, got nil")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"zero future frames", "model_params:\n  future_num_frames: 0\n", "future_num_frames"},
		{"bad architecture", "model_params:\n  future_num_frames: 5\n  architecture: vgg16\n", "architecture"},
		{"bad optimizer", "model_params:\n  future_num_frames: 5\n  optimizer: lbfgs\n", "optimizer"},
		{"negative history", "model_params:\n  future_num_frames: 5\n  history_num_frames: -1\n", "history_num_frames"},
		{"bad ego center", "raster_params:\n  ego_center: [2.0, 0.5]\nmodel_params:\n  future_num_frames: 5\n", "ego_center"},
		{"bad raster size", "raster_params:\n  raster_size: [0, 10]\nmodel_params:\n  future_num_frames: 5\n", "raster_size"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.yaml))
		if err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestResolveKey(t *testing.T) {
	cfg, err := Parse([]byte("model_params:\n  future_num_frames: 5\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	t.Setenv(EnvDataRoot, "/srv/motion")
	if got := cfg.ResolveKey("scenes/train"); got != filepath.Join("/srv/motion", "scenes/train") {
		t.Fatalf("env resolution: got %q", got)
	}

	cfg.DataRoot = "/data/override"
	if got := cfg.ResolveKey("scenes/train"); got != filepath.Join("/data/override", "scenes/train") {
		t.Fatalf("explicit data_root should win: got %q", got)
	}

	abs := filepath.Join(string(filepath.Separator), "abs", "key")
	if got := cfg.ResolveKey(abs); got != abs {
		t.Fatalf("absolute key should pass through: got %q", got)
	}
}
