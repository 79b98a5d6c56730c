package nn

import "github.com/chewxy/math32"

// ReLU is the elementwise max(0, x) activation.
type ReLU struct {
	mask []bool
}

// NewReLU builds a ReLU layer.
func NewReLU() *ReLU { return &ReLU{} }

// Forward clamps negatives to zero.
func (r *ReLU) Forward(x *Tensor, train bool) *Tensor {
	out := NewTensor(x.Shape...)
	if train {
		if r.mask == nil || len(r.mask) != len(x.Data) {
			r.mask = make([]bool, len(x.Data))
		}
		for i, v := range x.Data {
			if v > 0 {
				out.Data[i] = v
				r.mask[i] = true
			} else {
				r.mask[i] = false
			}
		}
	} else {
		for i, v := range x.Data {
			if v > 0 {
				out.Data[i] = v
			}
		}
	}
	return out
}

// Backward passes gradient only where the input was positive.
func (r *ReLU) Backward(dOut *Tensor) *Tensor {
	dx := NewTensor(dOut.Shape...)
	for i, on := range r.mask {
		if on {
			dx.Data[i] = dOut.Data[i]
		}
	}
	return dx
}

// Params returns nil; ReLU has no parameters.
func (r *ReLU) Params() []*Param { return nil }

// MaxPool2D is a square-window max pool with zero-padding treated as
// negative infinity.
type MaxPool2D struct {
	Kernel, Stride, Pad int

	argmax []int // flat input index chosen per output element
	inLen  int
	shape  []int
}

// NewMaxPool2D builds a max pool layer.
func NewMaxPool2D(kernel, stride, pad int) *MaxPool2D {
	return &MaxPool2D{Kernel: kernel, Stride: stride, Pad: pad}
}

// OutSize returns the spatial output size for an input of size in.
func (p *MaxPool2D) OutSize(in int) int {
	return (in+2*p.Pad-p.Kernel)/p.Stride + 1
}

// Forward takes the max over each window. Input shape [N, C, H, W].
func (p *MaxPool2D) Forward(x *Tensor, train bool) *Tensor {
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	oh, ow := p.OutSize(h), p.OutSize(w)
	out := NewTensor(n, ch, oh, ow)
	if train {
		if p.argmax == nil || len(p.argmax) != len(out.Data) {
			p.argmax = make([]int, len(out.Data))
		}
		p.inLen = len(x.Data)
		p.shape = x.Shape
	}

	k, s, pad := p.Kernel, p.Stride, p.Pad
	for in := 0; in < n; in++ {
		for c := 0; c < ch; c++ {
			base := (in*ch + c) * h * w
			for oy := 0; oy < oh; oy++ {
				iy0 := oy*s - pad
				for ox := 0; ox < ow; ox++ {
					ix0 := ox*s - pad
					best := float32(math32.Inf(-1))
					bestIdx := -1
					for ky := maxInt(0, -iy0); ky < minInt(k, h-iy0); ky++ {
						row := base + (iy0+ky)*w
						for kx := maxInt(0, -ix0); kx < minInt(k, w-ix0); kx++ {
							idx := row + ix0 + kx
							if v := x.Data[idx]; v > best || bestIdx < 0 {
								best = v
								bestIdx = idx
							}
						}
					}
					oi := ((in*ch+c)*oh+oy)*ow + ox
					out.Data[oi] = best
					if train {
						p.argmax[oi] = bestIdx
					}
				}
			}
		}
	}
	return out
}

// Backward routes each output gradient to the input element that won the max.
func (p *MaxPool2D) Backward(dOut *Tensor) *Tensor {
	dx := &Tensor{Shape: p.shape, Data: make([]float32, p.inLen)}
	for oi, idx := range p.argmax {
		if idx >= 0 {
			dx.Data[idx] += dOut.Data[oi]
		}
	}
	return dx
}

// Params returns nil; pooling has no parameters.
func (p *MaxPool2D) Params() []*Param { return nil }

// GlobalAvgPool averages each channel plane down to a single value,
// flattening [N, C, H, W] to [N, C].
type GlobalAvgPool struct {
	shape []int
}

// NewGlobalAvgPool builds a global average pooling layer.
func NewGlobalAvgPool() *GlobalAvgPool { return &GlobalAvgPool{} }

// Forward averages over the spatial dimensions.
func (g *GlobalAvgPool) Forward(x *Tensor, train bool) *Tensor {
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	out := NewTensor(n, ch)
	plane := h * w
	inv := 1 / float32(plane)
	for in := 0; in < n; in++ {
		for c := 0; c < ch; c++ {
			base := (in*ch + c) * plane
			var sum float32
			for i := 0; i < plane; i++ {
				sum += x.Data[base+i]
			}
			out.Data[in*ch+c] = sum * inv
		}
	}
	if train {
		g.shape = x.Shape
	}
	return out
}

// Backward spreads each channel gradient evenly over the plane it averaged.
func (g *GlobalAvgPool) Backward(dOut *Tensor) *Tensor {
	n, ch, h, w := g.shape[0], g.shape[1], g.shape[2], g.shape[3]
	dx := NewTensor(n, ch, h, w)
	plane := h * w
	inv := 1 / float32(plane)
	for in := 0; in < n; in++ {
		for c := 0; c < ch; c++ {
			gv := dOut.Data[in*ch+c] * inv
			base := (in*ch + c) * plane
			for i := 0; i < plane; i++ {
				dx.Data[base+i] = gv
			}
		}
	}
	return dx
}

// Params returns nil; pooling has no parameters.
func (g *GlobalAvgPool) Params() []*Param { return nil }
