package motionnet

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/openav/motioncast/config"
	"github.com/openav/motioncast/datasets"
	"github.com/openav/motioncast/nn"
)

const sgdMomentum = 0.9

// Dataset is the minimal iteration surface the train and eval loops require.
// This keeps the package decoupled from the concrete datasets package while
// allowing callers to pass *datasets.AgentDataset (it matches these methods).
type Dataset interface {
	Len() int
	Meta() datasets.Meta
	// NextBatch returns the next stacked batch, or io.EOF once the epoch is
	// exhausted.
	NextBatch() (*datasets.Batch, error)
	Restart() error
}

// Trainer drives the fixed-step optimization loop over an agent dataset.
type Trainer struct {
	Model *Model

	MaxSteps int

	// CheckpointPath, when set together with a positive CheckpointEvery,
	// receives an intermediate checkpoint every CheckpointEvery steps. A
	// failed intermediate save is logged and training continues.
	CheckpointPath  string
	CheckpointEvery int

	// ProgressInterval controls how often training progress is logged.
	// Zero disables progress logging.
	ProgressInterval time.Duration

	// StepHook, when set, observes every completed step.
	StepHook func(step int, loss float32)

	opt  nn.Optimizer
	clip float32
}

// ForwardBatch pushes one stacked batch through the model and scores the
// output with the masked criterion. The returned gradient is the loss
// derivative with respect to the model output, ready for Backward when train
// is true.
func ForwardBatch(m *Model, batch *datasets.Batch, train bool) (loss float32, out, grad *nn.Tensor, err error) {
	out = m.Forward(batch.Images, train)
	loss, grad, err = nn.MaskedMSE{}.Loss(out, batch.Targets, batch.Avails)
	if err != nil {
		return 0, nil, nil, err
	}
	return loss, out, grad, nil
}

// Result summarizes a completed training run.
type Result struct {
	Steps  int
	Losses []float32
}

// NewTrainer wires the optimizer selected by cfg.ModelParams. The
// configuration is expected to have its defaults applied already, which
// config.Load and config.Parse take care of.
func NewTrainer(m *Model, cfg *config.Config) *Trainer {
	mp := cfg.ModelParams
	var opt nn.Optimizer
	switch mp.Optimizer {
	case "sgd":
		opt = nn.NewSGD(float32(mp.LearningRate), sgdMomentum)
	default:
		opt = nn.NewAdam(float32(mp.LearningRate), float32(mp.AdamBeta1), float32(mp.AdamBeta2), float32(mp.AdamEps))
	}
	return &Trainer{
		Model:           m,
		MaxSteps:        cfg.TrainParams.MaxNumSteps,
		CheckpointEvery: cfg.TrainParams.CheckpointEveryNSteps,
		opt:             opt,
		clip:            float32(mp.ClipNorm),
	}
}

// Run executes MaxSteps optimization steps over ds. The iterator is restarted
// whenever an epoch ends, so the step count is independent of the dataset
// size. Gradients are clipped to the configured norm before every optimizer
// step.
func (t *Trainer) Run(ds Dataset) (*Result, error) {
	if t.MaxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be positive, got %d", t.MaxSteps)
	}
	if err := t.Model.Compatible(ds.Meta()); err != nil {
		return nil, err
	}

	params := t.Model.Params()
	res := &Result{Losses: make([]float32, 0, t.MaxSteps)}

	var done int64
	if t.ProgressInterval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(t.ProgressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					log.Printf("[Train] step %d/%d", atomic.LoadInt64(&done), t.MaxSteps)
				case <-stop:
					return
				}
			}
		}()
	}

	for step := 1; step <= t.MaxSteps; step++ {
		batch, err := ds.NextBatch()
		if err == io.EOF {
			if err = ds.Restart(); err != nil {
				return nil, fmt.Errorf("restart after epoch: %w", err)
			}
			batch, err = ds.NextBatch()
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}

		loss, _, grad, err := ForwardBatch(t.Model, batch, true)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		nn.ZeroGrad(params)
		t.Model.Backward(grad)
		if t.clip > 0 {
			nn.ClipGradNorm(params, t.clip)
		}
		t.opt.Step(params)

		res.Steps = step
		res.Losses = append(res.Losses, loss)
		atomic.AddInt64(&done, 1)

		if t.StepHook != nil {
			t.StepHook(step, loss)
		}
		if t.CheckpointPath != "" && t.CheckpointEvery > 0 && step%t.CheckpointEvery == 0 {
			if err := nn.SaveCheckpoint(t.CheckpointPath, params, step); err != nil {
				log.Printf("warning: could not save checkpoint at step %d: %v", step, err)
			}
		}
	}
	return res, nil
}
