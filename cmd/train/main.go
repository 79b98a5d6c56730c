package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openav/motioncast/config"
	"github.com/openav/motioncast/datasets"
	"github.com/openav/motioncast/evaluation"
	"github.com/openav/motioncast/motionnet"
	"github.com/openav/motioncast/nn"
	"github.com/openav/motioncast/runlog"
	"github.com/openav/motioncast/viz"
)

// defaultConfigPath is where the command looks for a configuration unless
// -config points elsewhere. When the default path does not exist yet it is
// created from defaultConfigYAML as a starting point to edit.
const defaultConfigPath = "config.yaml"

const defaultConfigYAML = `data_root: data

raster_params:
  raster_size: [224, 224]
  pixel_size: [0.5, 0.5]
  ego_center: [0.25, 0.5]

model_params:
  architecture: resnet50
  history_num_frames: 10
  future_num_frames: 50
  optimizer: adam
  learning_rate: 0.001
  clip_norm: 0

train_data_loader:
  key: scenes/train/*.gob
  batch_size: 12
  shuffle: true
  num_workers: 4

val_data_loader:
  key: scenes/val/*.gob
  batch_size: 12
  shuffle: false
  num_workers: 4

train_params:
  max_num_steps: 200
  checkpoint_every_n_steps: 100
  seed: 42
`

// openLoader opens the chunk archive behind one loader configuration and
// applies its batching, worker and shuffle settings.
func openLoader(cfg *config.Config, lp config.LoaderParams, seed int64, ttl time.Duration, maxEntries int) (*datasets.AgentDataset, error) {
	ds, err := datasets.NewAgentDataset(cfg.ResolveKey(lp.Key))
	if err != nil {
		return nil, err
	}
	ds.BatchSize = lp.BatchSize
	ds.Workers = lp.NumWorkers
	ds.SetChunkTTL(ttl)
	ds.SetChunkMaxEntries(maxEntries)
	if lp.Shuffle {
		ds.ShuffleEachEpoch = true
		ds.Shuffle(seed)
	}
	return ds, nil
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML run configuration")
	dataRoot := flag.String("data-root", "", "data root override (else config data_root, then MOTIONCAST_DATA)")
	steps := flag.Int("steps", 0, "override max_num_steps from the config when > 0")
	seed := flag.Int64("seed", 0, "random seed (0 = config seed, then current time)")
	pretrained := flag.String("pretrained", "", "override pretrained_weights from the config")
	checkpoint := flag.String("checkpoint", "output/model.gob", "path for the trained model checkpoint (empty disables)")
	predCSV := flag.String("pred-csv", "output/pred.csv", "path for the predicted trajectories CSV")
	gtCSV := flag.String("gt-csv", "output/gt.csv", "path for the ground-truth trajectories CSV")
	outDir := flag.String("out", "output/plots", "output directory for plots and rendered samples (empty disables)")
	reportPath := flag.String("report", "output/report.html", "path for the HTML training report (empty disables)")
	runlogPath := flag.String("runlog", "output/runs.db", "path to the sqlite run log (empty disables)")
	progressInterval := flag.Duration("progress-interval", 3*time.Second, "training progress logging interval")
	renderSamples := flag.Int("render-samples", 3, "number of validation rasters to render with predictions")

	// Chunk cache tunables shared by both loaders.
	cacheTTL := flag.Duration("cache-ttl", 5*time.Minute, "TTL for decoded chunk cache entries (e.g., 5m)")
	cacheMax := flag.Int("cache-max", 8, "maximum number of decoded chunks kept in memory per loader")

	flag.Parse()

	// Write the embedded default configuration when running against the
	// default path for the first time. Explicit -config paths are never
	// created.
	if *configPath == defaultConfigPath {
		if _, err := os.Stat(*configPath); os.IsNotExist(err) {
			if werr := os.WriteFile(*configPath, []byte(defaultConfigYAML), 0644); werr != nil {
				log.Printf("warning: failed to write default config to %s: %v", *configPath, werr)
			} else {
				log.Printf("Wrote default config to %s", *configPath)
			}
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataRoot != "" {
		cfg.DataRoot = *dataRoot
	}
	if *steps > 0 {
		cfg.TrainParams.MaxNumSteps = *steps
	}
	if *pretrained != "" {
		cfg.ModelParams.PretrainedWeights = *pretrained
	}

	runSeed := *seed
	if runSeed == 0 {
		runSeed = cfg.TrainParams.Seed
	}
	if runSeed == 0 {
		runSeed = time.Now().UnixNano()
	}
	log.Printf("Using seed %d", runSeed)

	if cfg.TrainLoader.Key == "" {
		log.Fatalf("config %s: train_data_loader.key is required", *configPath)
	}
	trainDS, err := openLoader(cfg, cfg.TrainLoader, runSeed, *cacheTTL, *cacheMax)
	if err != nil {
		log.Fatalf("failed to open training dataset: %v", err)
	}
	log.Printf("Training dataset %s: %d samples", cfg.TrainLoader.Key, trainDS.Len())

	var valDS *datasets.AgentDataset
	if cfg.ValLoader.Key != "" {
		valDS, err = openLoader(cfg, cfg.ValLoader, runSeed, *cacheTTL, *cacheMax)
		if err != nil {
			log.Fatalf("failed to open validation dataset: %v", err)
		}
		log.Printf("Validation dataset %s: %d samples", cfg.ValLoader.Key, valDS.Len())
	} else {
		log.Printf("No val_data_loader key configured; skipping evaluation")
	}

	m, err := motionnet.Build(cfg, runSeed)
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	log.Printf("Built %s: in_channels=%d out_dims=%d, %d trainable parameters",
		m.Architecture, m.InChannels, m.OutputDim, m.NumParams())
	if cfg.ModelParams.PretrainedWeights != "" {
		if err := m.LoadPretrained(cfg.ModelParams.PretrainedWeights); err != nil {
			log.Fatalf("failed to load pretrained weights: %v", err)
		}
	}

	// The run log is auxiliary telemetry: failures downgrade to warnings and
	// training proceeds without it.
	var runLog *runlog.Log
	var runID string
	if *runlogPath != "" {
		rl, err := runlog.Open(*runlogPath)
		if err != nil {
			log.Printf("warning: could not open run log %s: %v", *runlogPath, err)
		} else {
			defer rl.Close()
			snapshot, merr := yaml.Marshal(cfg)
			if merr != nil {
				log.Printf("warning: could not snapshot config for the run log: %v", merr)
			}
			id, serr := rl.StartRun(string(snapshot))
			if serr != nil {
				log.Printf("warning: could not start run log entry: %v", serr)
			} else {
				runLog = rl
				runID = id
				log.Printf("Run log %s: run %s", *runlogPath, runID)
			}
		}
	}

	tr := motionnet.NewTrainer(m, cfg)
	tr.CheckpointPath = *checkpoint
	tr.ProgressInterval = *progressInterval
	if runLog != nil {
		tr.StepHook = func(step int, loss float32) {
			if err := runLog.RecordStep(runID, step, float64(loss)); err != nil {
				log.Printf("warning: record step %d: %v", step, err)
			}
		}
	}

	log.Printf("Training for %d steps (batch=%d)...", cfg.TrainParams.MaxNumSteps, cfg.TrainLoader.BatchSize)
	start := time.Now()
	res, err := tr.Run(trainDS)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("Training completed in %v (final loss %f)", time.Since(start), res.Losses[len(res.Losses)-1])

	if *checkpoint != "" {
		if err := nn.SaveCheckpoint(*checkpoint, m.Params(), res.Steps); err != nil {
			log.Fatalf("failed to save checkpoint: %v", err)
		}
		log.Printf("Saved model checkpoint to %s", *checkpoint)
	}

	var ev *motionnet.EvalResult
	var ms *evaluation.Metrics
	if valDS != nil {
		ev, err = motionnet.Evaluate(m, valDS)
		if err != nil {
			log.Fatalf("evaluation failed: %v", err)
		}
		log.Printf("Evaluated %d samples (mean loss %f)", len(ev.Pred), ev.Loss)

		future := cfg.ModelParams.FutureNumFrames
		if err := evaluation.WriteCSV(*gtCSV, future, ev.GroundTruth); err != nil {
			log.Fatalf("failed to write ground-truth CSV: %v", err)
		}
		if err := evaluation.WriteCSV(*predCSV, future, ev.Pred); err != nil {
			log.Fatalf("failed to write prediction CSV: %v", err)
		}
		log.Printf("Wrote %s and %s", *gtCSV, *predCSV)

		ms, err = evaluation.CompareCSV(*gtCSV, *predCSV)
		if err != nil {
			log.Fatalf("metric computation failed: %v", err)
		}
		ms.Print(os.Stdout)
	}

	if runLog != nil {
		if ms != nil {
			record := func(name string, value float64) {
				if err := runLog.RecordMetric(runID, name, value); err != nil {
					log.Printf("warning: record metric %s: %v", name, err)
				}
			}
			record("neg_log_likelihood", ms.NegLogLikelihood)
			record("average_displacement", ms.AverageDisplacement)
			record("final_displacement", ms.FinalDisplacement)
		}
		if err := runLog.FinishRun(runID); err != nil {
			log.Printf("warning: finish run log entry: %v", err)
		}
	}

	if *outDir != "" {
		if err := viz.LossCurve(filepath.Join(*outDir, "loss.png"), res.Losses); err != nil {
			log.Fatalf("failed to plot loss curve: %v", err)
		}
		if ev != nil {
			if err := viz.EndpointScatter(filepath.Join(*outDir, "endpoints.png"), ev.GroundTruth, ev.Pred); err != nil {
				log.Fatalf("failed to plot endpoint scatter: %v", err)
			}
		}
		log.Printf("Plots written to %s", *outDir)
	}

	if *reportPath != "" {
		if err := viz.TrainingReport(*reportPath, res.Losses, ms); err != nil {
			log.Fatalf("failed to write training report: %v", err)
		}
		log.Printf("Training report written to %s", *reportPath)
	}

	if *outDir != "" && valDS != nil && *renderSamples > 0 {
		n := min(*renderSamples, valDS.Len())
		meta := valDS.Meta()
		rendered := 0
		for i := 0; i < n; i++ {
			s, err := valDS.Example(i)
			if err != nil {
				log.Printf("warning: load sample %d: %v", i, err)
				continue
			}
			x := nn.NewTensor(1, meta.Channels, meta.Height, meta.Width)
			copy(x.Data, s.Raster)
			out := m.Forward(x, false)
			path := filepath.Join(*outDir, fmt.Sprintf("sample_%02d.png", i))
			if err := viz.RenderSample(path, meta, s, out.Data); err != nil {
				log.Printf("warning: render sample %d: %v", i, err)
				continue
			}
			rendered++
		}
		log.Printf("Rendered %d validation samples to %s", rendered, *outDir)
	}
}
