package nn

import "fmt"

// BatchNorm2D normalizes each channel over the batch and spatial dimensions.
// Training mode uses batch statistics and folds them into the running
// averages; eval mode normalizes with the running averages.
type BatchNorm2D struct {
	C        int
	Eps      float32
	Momentum float32

	Gamma *Param // [C] scale
	Beta  *Param // [C] shift
	RMean *Param // [C] running mean, non-trainable
	RVar  *Param // [C] running variance, non-trainable

	// cache for Backward
	xhat   []float32
	invStd []float32
	shape  []int
}

// NewBatchNorm2D builds a batch norm layer with gamma=1, beta=0 and unit
// running variance.
func NewBatchNorm2D(name string, c int) *BatchNorm2D {
	bn := &BatchNorm2D{
		C:        c,
		Eps:      1e-5,
		Momentum: 0.1,
		Gamma:    newParam(name+".weight", c),
		Beta:     newParam(name+".bias", c),
		RMean:    newBuffer(name+".running_mean", c),
		RVar:     newBuffer(name+".running_var", c),
	}
	for i := 0; i < c; i++ {
		bn.Gamma.Data[i] = 1
		bn.RVar.Data[i] = 1
	}
	return bn
}

// Forward normalizes x, shape [N, C, H, W].
func (bn *BatchNorm2D) Forward(x *Tensor, train bool) *Tensor {
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	if ch != bn.C {
		panic(fmt.Sprintf("batchnorm %s: input has %d channels, want %d", bn.Gamma.Name, ch, bn.C))
	}
	out := NewTensor(n, ch, h, w)
	plane := h * w
	m := n * plane

	if !train {
		for c := 0; c < ch; c++ {
			mean := bn.RMean.Data[c]
			inv := 1 / sqrt32(bn.RVar.Data[c]+bn.Eps)
			g, b := bn.Gamma.Data[c], bn.Beta.Data[c]
			for in := 0; in < n; in++ {
				base := (in*ch + c) * plane
				for i := 0; i < plane; i++ {
					out.Data[base+i] = g*(x.Data[base+i]-mean)*inv + b
				}
			}
		}
		bn.xhat = nil
		return out
	}

	if m < 2 {
		panic(fmt.Sprintf("batchnorm %s: need at least 2 values per channel in training mode, got %d", bn.Gamma.Name, m))
	}
	if bn.xhat == nil || len(bn.xhat) != len(x.Data) {
		bn.xhat = make([]float32, len(x.Data))
	}
	if bn.invStd == nil || len(bn.invStd) != ch {
		bn.invStd = make([]float32, ch)
	}
	bn.shape = x.Shape

	for c := 0; c < ch; c++ {
		var sum float32
		for in := 0; in < n; in++ {
			base := (in*ch + c) * plane
			for i := 0; i < plane; i++ {
				sum += x.Data[base+i]
			}
		}
		mean := sum / float32(m)

		var sq float32
		for in := 0; in < n; in++ {
			base := (in*ch + c) * plane
			for i := 0; i < plane; i++ {
				d := x.Data[base+i] - mean
				sq += d * d
			}
		}
		biased := sq / float32(m)
		inv := 1 / sqrt32(biased+bn.Eps)
		bn.invStd[c] = inv

		g, b := bn.Gamma.Data[c], bn.Beta.Data[c]
		for in := 0; in < n; in++ {
			base := (in*ch + c) * plane
			for i := 0; i < plane; i++ {
				xh := (x.Data[base+i] - mean) * inv
				bn.xhat[base+i] = xh
				out.Data[base+i] = g*xh + b
			}
		}

		// Running variance tracks the unbiased estimate.
		unbiased := sq / float32(m-1)
		mom := bn.Momentum
		bn.RMean.Data[c] = (1-mom)*bn.RMean.Data[c] + mom*mean
		bn.RVar.Data[c] = (1-mom)*bn.RVar.Data[c] + mom*unbiased
	}
	return out
}

// Backward computes gamma/beta gradients and the input gradient from the
// cached normalized activations.
func (bn *BatchNorm2D) Backward(dOut *Tensor) *Tensor {
	n, ch, h, w := bn.shape[0], bn.shape[1], bn.shape[2], bn.shape[3]
	plane := h * w
	m := float32(n * plane)
	dx := NewTensor(n, ch, h, w)

	for c := 0; c < ch; c++ {
		var sumDy, sumDyXhat float32
		for in := 0; in < n; in++ {
			base := (in*ch + c) * plane
			for i := 0; i < plane; i++ {
				dy := dOut.Data[base+i]
				sumDy += dy
				sumDyXhat += dy * bn.xhat[base+i]
			}
		}
		bn.Beta.Grad[c] += sumDy
		bn.Gamma.Grad[c] += sumDyXhat

		scale := bn.Gamma.Data[c] * bn.invStd[c] / m
		for in := 0; in < n; in++ {
			base := (in*ch + c) * plane
			for i := 0; i < plane; i++ {
				dy := dOut.Data[base+i]
				dx.Data[base+i] = scale * (m*dy - sumDy - bn.xhat[base+i]*sumDyXhat)
			}
		}
	}
	return dx
}

// Params returns gamma, beta and the running-stat buffers.
func (bn *BatchNorm2D) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta, bn.RMean, bn.RVar}
}
