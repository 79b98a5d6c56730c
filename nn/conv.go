package nn

import (
	"fmt"
	"math/rand"
)

// Conv2D is a square-kernel 2D convolution over NCHW input with zero padding.
type Conv2D struct {
	InC, OutC          int
	Kernel, Stride, Pad int

	W *Param // [OutC, InC, K, K]
	B *Param // [OutC], nil when the layer is bias-free

	x *Tensor // cached input for Backward
}

// NewConv2D builds a convolution layer with He-normal weights. Layers feeding
// a batch norm are built without bias.
func NewConv2D(name string, inC, outC, kernel, stride, pad int, bias bool, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		InC:    inC,
		OutC:   outC,
		Kernel: kernel,
		Stride: stride,
		Pad:    pad,
		W:      newParam(name+".weight", outC, inC, kernel, kernel),
	}
	initHeNormal(c.W.Data, inC*kernel*kernel, rng)
	if bias {
		c.B = newParam(name+".bias", outC)
	}
	return c
}

// OutSize returns the spatial output size for an input of size in.
func (c *Conv2D) OutSize(in int) int {
	return (in+2*c.Pad-c.Kernel)/c.Stride + 1
}

// Forward computes the convolution. Input shape [N, InC, H, W].
func (c *Conv2D) Forward(x *Tensor, train bool) *Tensor {
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	if ch != c.InC {
		panic(fmt.Sprintf("conv %s: input has %d channels, want %d", c.W.Name, ch, c.InC))
	}
	oh, ow := c.OutSize(h), c.OutSize(w)
	out := NewTensor(n, c.OutC, oh, ow)

	k, s, p := c.Kernel, c.Stride, c.Pad
	for in := 0; in < n; in++ {
		for oc := 0; oc < c.OutC; oc++ {
			var bias float32
			if c.B != nil {
				bias = c.B.Data[oc]
			}
			wBase := oc * c.InC * k * k
			for oy := 0; oy < oh; oy++ {
				iy0 := oy*s - p
				for ox := 0; ox < ow; ox++ {
					ix0 := ox*s - p
					sum := bias
					for ic := 0; ic < c.InC; ic++ {
						xBase := ((in*ch+ic)*h)*w
						wc := wBase + ic*k*k
						for ky := maxInt(0, -iy0); ky < minInt(k, h-iy0); ky++ {
							iy := iy0 + ky
							row := xBase + iy*w
							wr := wc + ky*k
							for kx := maxInt(0, -ix0); kx < minInt(k, w-ix0); kx++ {
								sum += x.Data[row+ix0+kx] * c.W.Data[wr+kx]
							}
						}
					}
					out.Data[((in*c.OutC+oc)*oh+oy)*ow+ox] = sum
				}
			}
		}
	}
	if train {
		c.x = x
	} else {
		c.x = nil
	}
	return out
}

// Backward accumulates weight and bias gradients and returns the gradient
// with respect to the input.
func (c *Conv2D) Backward(dOut *Tensor) *Tensor {
	x := c.x
	n, ch, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	oh, ow := dOut.Dim(2), dOut.Dim(3)
	dx := NewTensor(n, ch, h, w)

	k, s, p := c.Kernel, c.Stride, c.Pad
	for in := 0; in < n; in++ {
		for oc := 0; oc < c.OutC; oc++ {
			wBase := oc * c.InC * k * k
			for oy := 0; oy < oh; oy++ {
				iy0 := oy*s - p
				for ox := 0; ox < ow; ox++ {
					ix0 := ox*s - p
					g := dOut.Data[((in*c.OutC+oc)*oh+oy)*ow+ox]
					if g == 0 {
						continue
					}
					if c.B != nil {
						c.B.Grad[oc] += g
					}
					for ic := 0; ic < c.InC; ic++ {
						xBase := ((in*ch+ic)*h)*w
						wc := wBase + ic*k*k
						for ky := maxInt(0, -iy0); ky < minInt(k, h-iy0); ky++ {
							iy := iy0 + ky
							row := xBase + iy*w
							wr := wc + ky*k
							for kx := maxInt(0, -ix0); kx < minInt(k, w-ix0); kx++ {
								c.W.Grad[wr+kx] += g * x.Data[row+ix0+kx]
								dx.Data[row+ix0+kx] += g * c.W.Data[wr+kx]
							}
						}
					}
				}
			}
		}
	}
	return dx
}

// Params returns the weight and, when present, the bias.
func (c *Conv2D) Params() []*Param {
	if c.B != nil {
		return []*Param{c.W, c.B}
	}
	return []*Param{c.W}
}
