// Package nn implements the fixed set of float32 layers the motion-prediction
// backbone is assembled from: 2D convolution, batch normalization, ReLU, max
// and global-average pooling, fully-connected layers and the two residual
// block shapes. Every layer carries a hand-derived backward pass; there is no
// general autodiff graph. Optimizers, the masked regression loss and gob
// checkpoints live here as well.
//
// Tensors are dense row-major float32 buffers. Image batches use NCHW layout,
// fully-connected activations use [batch, features].
package nn

import (
	"fmt"
	"math/rand"
)

// Tensor is a dense row-major float32 array with an explicit shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// FromSlice wraps data in a tensor of the given shape. The buffer is adopted,
// not copied; the caller gives up ownership.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, data has %d", shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dim returns shape entry i.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Reshape returns a view of the same buffer under a new shape. The element
// count must match.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)", t.Shape, len(t.Data), shape, n)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: t.Data}, nil
}

// Param is a named model parameter (or non-trainable buffer, such as batch
// norm running statistics). Grad is allocated only for trainable parameters.
type Param struct {
	Name      string
	Shape     []int
	Data      []float32
	Grad      []float32
	Trainable bool
}

// newParam allocates a trainable parameter with matching grad buffer.
func newParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      make([]float32, n),
		Grad:      make([]float32, n),
		Trainable: true,
	}
}

// newBuffer allocates a non-trainable buffer (saved in checkpoints, ignored
// by optimizers).
func newBuffer(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      make([]float32, n),
		Trainable: false,
	}
}

// ZeroGrad clears the gradient buffers of all trainable params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Layer is the contract every network stage implements. Forward with
// train=true caches whatever Backward needs; Backward consumes the cache,
// accumulates parameter gradients and returns the gradient with respect to
// the layer input. Backward must only be called after a training-mode
// Forward on the same input.
type Layer interface {
	Forward(x *Tensor, train bool) *Tensor
	Backward(dOut *Tensor) *Tensor
	Params() []*Param
}

// Sequential chains layers front to back.
type Sequential struct {
	Layers []Layer
}

// Forward runs every layer in order.
func (s *Sequential) Forward(x *Tensor, train bool) *Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x, train)
	}
	return x
}

// Backward runs every layer in reverse order.
func (s *Sequential) Backward(dOut *Tensor) *Tensor {
	for i := len(s.Layers) - 1; i >= 0; i-- {
		dOut = s.Layers[i].Backward(dOut)
	}
	return dOut
}

// Params concatenates the parameters of all layers in order.
func (s *Sequential) Params() []*Param {
	var out []*Param
	for _, l := range s.Layers {
		out = append(out, l.Params()...)
	}
	return out
}

// initHeNormal fills w with Kaiming-normal values for a layer with the given
// fan-in, the standard initialization for conv layers feeding ReLUs.
func initHeNormal(w []float32, fanIn int, rng *rand.Rand) {
	std := float32(0)
	if fanIn > 0 {
		std = sqrt32(2 / float32(fanIn))
	}
	for i := range w {
		w[i] = float32(rng.NormFloat64()) * std
	}
}

// initXavierUniform fills w with Glorot-uniform values, used for the final
// regression head.
func initXavierUniform(w []float32, fanIn, fanOut int, rng *rand.Rand) {
	limit := sqrt32(6 / float32(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float32()*2 - 1) * limit
	}
}
