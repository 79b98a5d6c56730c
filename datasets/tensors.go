package datasets

import (
	"fmt"
	"io"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/openav/motioncast/nn"
)

// Batch is a stacked set of samples ready for the model: NCHW images,
// flattened xy targets and their availability mask, plus the identifiers
// needed to join predictions back to ground truth.
type Batch struct {
	Images  *nn.Tensor // [N, C, H, W]
	Targets *nn.Tensor // [N, 2*FutureFrames]
	Avails  *nn.Tensor // [N, FutureFrames]

	TrackIDs   []int64
	Timestamps []int64

	Samples []*Sample
}

// stackBatch copies samples into contiguous batch tensors. When Workers is
// above 1 the copies are sharded across that many goroutines, each writing a
// disjoint row range.
func (d *AgentDataset) stackBatch(samples []*Sample) (*Batch, error) {
	n := len(samples)
	m := d.meta
	b := &Batch{
		Images:     nn.NewTensor(n, m.Channels, m.Height, m.Width),
		Targets:    nn.NewTensor(n, m.TargetLen()),
		Avails:     nn.NewTensor(n, m.FutureFrames),
		TrackIDs:   make([]int64, n),
		Timestamps: make([]int64, n),
		Samples:    samples,
	}
	rl, tl := m.RasterLen(), m.TargetLen()
	for i, s := range samples {
		if len(s.Raster) != rl || len(s.TargetPositions) != tl {
			return nil, fmt.Errorf("sample %d/%d has inconsistent geometry", s.TrackID, s.Timestamp)
		}
		b.TrackIDs[i] = s.TrackID
		b.Timestamps[i] = s.Timestamp
	}

	fill := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s := samples[i]
			copy(b.Images.Data[i*rl:], s.Raster)
			copy(b.Targets.Data[i*tl:], s.TargetPositions)
			copy(b.Avails.Data[i*m.FutureFrames:], s.TargetAvailabilities)
		}
	}

	workers := d.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fill(0, n)
		return b, nil
	}
	per := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += per {
		hi := lo + per
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fill(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
	return b, nil
}

// NextBatch returns the next batch in the current order, or io.EOF once the
// epoch is exhausted. The final batch of an epoch may be smaller than
// BatchSize.
func (d *AgentDataset) NextBatch() (*Batch, error) {
	if d.cursor >= d.total {
		return nil, io.EOF
	}
	end := d.cursor + d.BatchSize
	if end > d.total {
		end = d.total
	}
	indices := d.order[d.cursor:end]
	d.cursor = end

	samples, err := d.Batch(indices)
	if err != nil {
		return nil, err
	}
	return d.stackBatch(samples)
}

// Restart resets the dataset for a new epoch, reshuffling when configured.
func (d *AgentDataset) Restart() error {
	d.cursor = 0
	if d.ShuffleEachEpoch && d.rand != nil {
		d.rand.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
	return nil
}

// Name returns the name of the dataset.
func (d *AgentDataset) Name() string { return "AgentDataset" }

// Yield returns the next batch as gomlx tensors for the gomlx Dataset
// interface, with io.EOF signalling the end of the epoch.
func (d *AgentDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := d.NextBatch()
	if err != nil {
		return nil, nil, nil, err
	}
	in, lab, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{lab}, nil
}

// ToGomlxTensors converts the batch images and targets to gomlx tensors.
func (b *Batch) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	n := b.Images.Dim(0)
	if n == 0 {
		return tensors.FromAnyValue(make([][][][]float32, 0)), tensors.FromAnyValue(make([][]float32, 0)), nil
	}
	c, h, w := b.Images.Dim(1), b.Images.Dim(2), b.Images.Dim(3)

	images := make([][][][]float32, n)
	for i := 0; i < n; i++ {
		images[i] = make([][][]float32, c)
		for ch := 0; ch < c; ch++ {
			images[i][ch] = make([][]float32, h)
			base := ((i*c + ch) * h) * w
			for y := 0; y < h; y++ {
				images[i][ch][y] = b.Images.Data[base+y*w : base+(y+1)*w]
			}
		}
	}

	tl := b.Targets.Dim(1)
	targets := make([][]float32, n)
	for i := 0; i < n; i++ {
		targets[i] = b.Targets.Data[i*tl : (i+1)*tl]
	}

	return tensors.FromAnyValue(images), tensors.FromAnyValue(targets), nil
}
