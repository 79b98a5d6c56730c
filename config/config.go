// Package config loads and validates the YAML run configuration shared by the
// training and inspection commands.
//
// A configuration file describes the raster geometry the sample archives were
// exported with, the model hyperparameters, the train/validation loaders and
// the training schedule. CLI flags may override individual values after
// loading; the file is the source of defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvDataRoot is the environment variable naming the directory that holds the
// exported sample archives. Loader keys are resolved relative to it unless the
// configuration sets data_root explicitly.
const EnvDataRoot = "MOTIONCAST_DATA"

// RasterParams describes the geometry of the rasterized bird's-eye-view
// images contained in the sample archives. The values must match the ones the
// archives were exported with; they are used for validation and for
// projecting trajectories onto the raster when rendering.
type RasterParams struct {
	// RasterSize is [width, height] in pixels.
	RasterSize []int `yaml:"raster_size"`

	// PixelSize is [sx, sy] in meters per pixel.
	PixelSize []float64 `yaml:"pixel_size"`

	// EgoCenter is the fractional [cx, cy] position of the agent anchor
	// inside the raster (e.g. [0.25, 0.5] places the agent a quarter in
	// from the left edge, vertically centered).
	EgoCenter []float64 `yaml:"ego_center"`
}

// ModelParams holds the network architecture and optimizer hyperparameters.
type ModelParams struct {
	// Architecture selects the backbone layout: "resnet18", "resnet34" or
	// "resnet50". Default: "resnet50".
	Architecture string `yaml:"architecture"`

	// HistoryNumFrames is the number of past frames rasterized in addition
	// to the current one. The raster carries 2*(HistoryNumFrames+1)
	// occupancy channels plus 3 map channels.
	HistoryNumFrames int `yaml:"history_num_frames"`

	// FutureNumFrames is the prediction horizon; the model outputs
	// 2*FutureNumFrames scalars (flattened x,y offsets per future step).
	FutureNumFrames int `yaml:"future_num_frames"`

	// PretrainedWeights optionally names a checkpoint whose matching
	// parameters seed the backbone. Parameters whose shapes differ (the
	// patched stem and head) keep their fresh initialization.
	PretrainedWeights string `yaml:"pretrained_weights"`

	// Optimizer selects "adam" or "sgd". Default: "adam".
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`

	// Adam hyperparameters (defaults applied when zero).
	AdamBeta1 float64 `yaml:"adam_beta1"`
	AdamBeta2 float64 `yaml:"adam_beta2"`
	AdamEps   float64 `yaml:"adam_eps"`

	// ClipNorm is the global L2 gradient clipping threshold; zero disables
	// clipping.
	ClipNorm float64 `yaml:"clip_norm"`
}

// LoaderParams configures one data loader.
type LoaderParams struct {
	// Key is the chunk glob pattern relative to the data root, e.g.
	// "scenes/train/*.gob".
	Key string `yaml:"key"`

	BatchSize  int  `yaml:"batch_size"`
	Shuffle    bool `yaml:"shuffle"`
	NumWorkers int  `yaml:"num_workers"`
}

// TrainParams holds the training schedule.
type TrainParams struct {
	// MaxNumSteps is the fixed number of optimization steps to run.
	MaxNumSteps int `yaml:"max_num_steps"`

	// CheckpointEveryNSteps writes an intermediate checkpoint every N
	// steps when > 0.
	CheckpointEveryNSteps int `yaml:"checkpoint_every_n_steps"`

	// Seed controls weight initialization and loader shuffling. Zero means
	// "derive from the clock" at the call sites that consume it.
	Seed int64 `yaml:"seed"`
}

// Config is the full run configuration.
type Config struct {
	// DataRoot overrides the MOTIONCAST_DATA environment variable when set.
	DataRoot string `yaml:"data_root"`

	RasterParams RasterParams `yaml:"raster_params"`
	ModelParams  ModelParams  `yaml:"model_params"`
	TrainLoader  LoaderParams `yaml:"train_data_loader"`
	ValLoader    LoaderParams `yaml:"val_data_loader"`
	TrainParams  TrainParams  `yaml:"train_params"`
}

// Load reads, decodes and validates the configuration at path. Unknown keys
// in the file are rejected so typos surface immediately.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration from raw YAML, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the defaults the training command
// assumes.
func (c *Config) ApplyDefaults() {
	if len(c.RasterParams.RasterSize) == 0 {
		c.RasterParams.RasterSize = []int{224, 224}
	}
	if len(c.RasterParams.PixelSize) == 0 {
		c.RasterParams.PixelSize = []float64{0.5, 0.5}
	}
	if len(c.RasterParams.EgoCenter) == 0 {
		c.RasterParams.EgoCenter = []float64{0.25, 0.5}
	}
	if c.ModelParams.Architecture == "" {
		c.ModelParams.Architecture = "resnet50"
	}
	if c.ModelParams.Optimizer == "" {
		c.ModelParams.Optimizer = "adam"
	}
	if c.ModelParams.LearningRate == 0 {
		c.ModelParams.LearningRate = 1e-3
	}
	if c.ModelParams.AdamBeta1 == 0 {
		c.ModelParams.AdamBeta1 = 0.9
	}
	if c.ModelParams.AdamBeta2 == 0 {
		c.ModelParams.AdamBeta2 = 0.999
	}
	if c.ModelParams.AdamEps == 0 {
		c.ModelParams.AdamEps = 1e-8
	}
	if c.TrainLoader.BatchSize == 0 {
		c.TrainLoader.BatchSize = 12
	}
	if c.ValLoader.BatchSize == 0 {
		c.ValLoader.BatchSize = 12
	}
	if c.TrainParams.MaxNumSteps == 0 {
		c.TrainParams.MaxNumSteps = 1000
	}
}

// Validate checks the configuration for values the pipeline cannot work with.
func (c *Config) Validate() error {
	if len(c.RasterParams.RasterSize) != 2 {
		return fmt.Errorf("raster_size must have 2 entries, got %d", len(c.RasterParams.RasterSize))
	}
	if c.RasterParams.RasterSize[0] < 1 || c.RasterParams.RasterSize[1] < 1 {
		return fmt.Errorf("raster_size entries must be >= 1, got %v", c.RasterParams.RasterSize)
	}
	if len(c.RasterParams.PixelSize) != 2 {
		return fmt.Errorf("pixel_size must have 2 entries, got %d", len(c.RasterParams.PixelSize))
	}
	if c.RasterParams.PixelSize[0] <= 0 || c.RasterParams.PixelSize[1] <= 0 {
		return fmt.Errorf("pixel_size entries must be > 0, got %v", c.RasterParams.PixelSize)
	}
	if len(c.RasterParams.EgoCenter) != 2 {
		return fmt.Errorf("ego_center must have 2 entries, got %d", len(c.RasterParams.EgoCenter))
	}
	for _, v := range c.RasterParams.EgoCenter {
		if v < 0 || v > 1 {
			return fmt.Errorf("ego_center entries must be in [0,1], got %v", c.RasterParams.EgoCenter)
		}
	}
	switch c.ModelParams.Architecture {
	case "resnet18", "resnet34", "resnet50":
	default:
		return fmt.Errorf("unknown architecture %q", c.ModelParams.Architecture)
	}
	if c.ModelParams.HistoryNumFrames < 0 {
		return fmt.Errorf("history_num_frames must be >= 0, got %d", c.ModelParams.HistoryNumFrames)
	}
	if c.ModelParams.FutureNumFrames < 1 {
		return fmt.Errorf("future_num_frames must be >= 1, got %d", c.ModelParams.FutureNumFrames)
	}
	switch c.ModelParams.Optimizer {
	case "adam", "sgd":
	default:
		return fmt.Errorf("unknown optimizer %q", c.ModelParams.Optimizer)
	}
	if c.ModelParams.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0, got %v", c.ModelParams.LearningRate)
	}
	if c.ModelParams.ClipNorm < 0 {
		return fmt.Errorf("clip_norm must be >= 0, got %v", c.ModelParams.ClipNorm)
	}
	for name, l := range map[string]*LoaderParams{"train_data_loader": &c.TrainLoader, "val_data_loader": &c.ValLoader} {
		if l.BatchSize < 1 {
			return fmt.Errorf("%s: batch_size must be >= 1, got %d", name, l.BatchSize)
		}
		if l.NumWorkers < 0 {
			return fmt.Errorf("%s: num_workers must be >= 0, got %d", name, l.NumWorkers)
		}
	}
	if c.TrainParams.MaxNumSteps < 1 {
		return fmt.Errorf("max_num_steps must be >= 1, got %d", c.TrainParams.MaxNumSteps)
	}
	if c.TrainParams.CheckpointEveryNSteps < 0 {
		return fmt.Errorf("checkpoint_every_n_steps must be >= 0, got %d", c.TrainParams.CheckpointEveryNSteps)
	}
	return nil
}

// InChannels derives the raster channel count the model consumes: 3 map
// channels plus one occupancy channel pair per history frame and the current
// frame.
func (c *Config) InChannels() int {
	return 3 + 2*(c.ModelParams.HistoryNumFrames+1)
}

// OutputDim derives the model output width: flattened (x, y) offsets for
// every future frame.
func (c *Config) OutputDim() int {
	return 2 * c.ModelParams.FutureNumFrames
}

// ResolveKey joins a loader key with the data root. Precedence: explicit
// data_root in the file, then the MOTIONCAST_DATA environment variable, then
// the current directory. Absolute keys are returned unchanged.
func (c *Config) ResolveKey(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	root := c.DataRoot
	if root == "" {
		root = os.Getenv(EnvDataRoot)
	}
	if root == "" {
		root = "."
	}
	return filepath.Join(root, key)
}
