// Package motionnet builds and trains the trajectory regression network. The
// backbone is a standard residual network whose stem convolution is widened to
// accept the rasterized scene channels and whose final linear layer regresses
// the flattened future xy offsets.
package motionnet

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/openav/motioncast/config"
	"github.com/openav/motioncast/datasets"
	"github.com/openav/motioncast/nn"
)

// backboneLayout fixes the per-stage block counts and block flavor for one of
// the supported depths.
type backboneLayout struct {
	blocks     [4]int
	bottleneck bool
	expansion  int
}

func layoutFor(arch string) (backboneLayout, error) {
	switch arch {
	case "resnet18":
		return backboneLayout{blocks: [4]int{2, 2, 2, 2}, expansion: nn.BasicExpansion}, nil
	case "resnet34":
		return backboneLayout{blocks: [4]int{3, 4, 6, 3}, expansion: nn.BasicExpansion}, nil
	case "resnet50":
		return backboneLayout{blocks: [4]int{3, 4, 6, 3}, bottleneck: true, expansion: nn.BottleneckExpansion}, nil
	default:
		return backboneLayout{}, fmt.Errorf("unknown architecture %q", arch)
	}
}

// Model is a built network together with the geometry it was built for.
type Model struct {
	Net *nn.Sequential

	Architecture  string
	InChannels    int
	HistoryFrames int
	FutureFrames  int
	OutputDim     int
}

// Build constructs the network selected by cfg.ModelParams. The stem accepts
// cfg.InChannels() raster channels instead of RGB and the head outputs
// cfg.OutputDim() values; everything in between follows the standard layout
// for the chosen depth. Initialization is deterministic in seed.
func Build(cfg *config.Config, seed int64) (*Model, error) {
	layout, err := layoutFor(cfg.ModelParams.Architecture)
	if err != nil {
		return nil, err
	}
	inC := cfg.InChannels()
	outDim := cfg.OutputDim()
	rng := rand.New(rand.NewSource(seed))

	layers := []nn.Layer{
		nn.NewConv2D("stem.conv", inC, 64, 7, 2, 3, false, rng),
		nn.NewBatchNorm2D("stem.bn", 64),
		nn.NewReLU(),
		nn.NewMaxPool2D(3, 2, 1),
	}
	channels := 64
	for stage := 0; stage < 4; stage++ {
		planes := 64 << stage
		for b := 0; b < layout.blocks[stage]; b++ {
			stride := 1
			if stage > 0 && b == 0 {
				stride = 2
			}
			name := fmt.Sprintf("layer%d.%d", stage+1, b)
			if layout.bottleneck {
				layers = append(layers, nn.NewBottleneck(name, channels, planes, stride, rng))
			} else {
				layers = append(layers, nn.NewBasicBlock(name, channels, planes, stride, rng))
			}
			channels = planes * layout.expansion
		}
	}
	layers = append(layers,
		nn.NewGlobalAvgPool(),
		nn.NewLinear("head", channels, outDim, rng),
	)

	return &Model{
		Net:           &nn.Sequential{Layers: layers},
		Architecture:  cfg.ModelParams.Architecture,
		InChannels:    inC,
		HistoryFrames: cfg.ModelParams.HistoryNumFrames,
		FutureFrames:  cfg.ModelParams.FutureNumFrames,
		OutputDim:     outDim,
	}, nil
}

// Forward runs the network over a batch of NCHW rasters.
func (m *Model) Forward(x *nn.Tensor, train bool) *nn.Tensor {
	return m.Net.Forward(x, train)
}

// Backward propagates the loss gradient, accumulating parameter gradients.
func (m *Model) Backward(dOut *nn.Tensor) *nn.Tensor {
	return m.Net.Backward(dOut)
}

// Params returns every parameter and running buffer in checkpoint order.
func (m *Model) Params() []*nn.Param {
	return m.Net.Params()
}

// NumParams returns the total scalar count across trainable parameters.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.Params() {
		if p.Trainable {
			n += len(p.Data)
		}
	}
	return n
}

// Compatible verifies that chunk geometry matches what the model was built
// for.
func (m *Model) Compatible(meta datasets.Meta) error {
	if meta.Channels != m.InChannels {
		return fmt.Errorf("dataset rasters have %d channels, model was built for %d", meta.Channels, m.InChannels)
	}
	if 2*meta.FutureFrames != m.OutputDim {
		return fmt.Errorf("dataset has a %d frame horizon, model outputs %d values", meta.FutureFrames, m.OutputDim)
	}
	return nil
}

// LoadPretrained seeds the model from a checkpoint, keeping the fresh
// initialization for any tensor whose shape differs. The widened stem and the
// regression head land in the skipped set when the checkpoint was produced
// with different raster or horizon settings.
func (m *Model) LoadPretrained(path string) error {
	loaded, skipped, err := nn.LoadMatching(path, m.Params())
	if err != nil {
		return fmt.Errorf("pretrained weights %s: %w", path, err)
	}
	log.Printf("[Model] pretrained weights %s: %d tensors loaded, %d skipped", path, loaded, skipped)
	return nil
}
