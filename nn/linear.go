package nn

import (
	"fmt"
	"math/rand"
)

// Linear is a fully-connected layer mapping [N, In] to [N, Out].
type Linear struct {
	In, Out int

	W *Param // [Out, In]
	B *Param // [Out]

	x *Tensor
}

// NewLinear builds a fully-connected layer with Xavier-uniform weights and
// zero bias.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   newParam(name+".weight", out, in),
		B:   newParam(name+".bias", out),
	}
	initXavierUniform(l.W.Data, in, out, rng)
	return l
}

// Forward computes x*W^T + b.
func (l *Linear) Forward(x *Tensor, train bool) *Tensor {
	n, in := x.Dim(0), x.Dim(1)
	if in != l.In {
		panic(fmt.Sprintf("linear %s: input has %d features, want %d", l.W.Name, in, l.In))
	}
	out := NewTensor(n, l.Out)
	for b := 0; b < n; b++ {
		xRow := x.Data[b*in : (b+1)*in]
		for o := 0; o < l.Out; o++ {
			wRow := l.W.Data[o*in : (o+1)*in]
			sum := l.B.Data[o]
			for i, xv := range xRow {
				sum += xv * wRow[i]
			}
			out.Data[b*l.Out+o] = sum
		}
	}
	if train {
		l.x = x
	} else {
		l.x = nil
	}
	return out
}

// Backward accumulates dW = dOut^T * x, dB = column sums of dOut, and returns
// dX = dOut * W.
func (l *Linear) Backward(dOut *Tensor) *Tensor {
	n, in := l.x.Dim(0), l.In
	dx := NewTensor(n, in)
	for b := 0; b < n; b++ {
		xRow := l.x.Data[b*in : (b+1)*in]
		dxRow := dx.Data[b*in : (b+1)*in]
		for o := 0; o < l.Out; o++ {
			g := dOut.Data[b*l.Out+o]
			if g == 0 {
				continue
			}
			l.B.Grad[o] += g
			wRow := l.W.Data[o*in : (o+1)*in]
			gRow := l.W.Grad[o*in : (o+1)*in]
			for i, xv := range xRow {
				gRow[i] += g * xv
				dxRow[i] += g * wRow[i]
			}
		}
	}
	return dx
}

// Params returns the weight and bias.
func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }
