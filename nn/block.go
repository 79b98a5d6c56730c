package nn

import (
	"fmt"
	"math/rand"
)

// addReLU fuses the residual add and final activation of a block.
type addReLU struct {
	mask []bool
}

func (a *addReLU) forward(main, skip *Tensor, train bool) *Tensor {
	out := NewTensor(main.Shape...)
	if train {
		if a.mask == nil || len(a.mask) != len(out.Data) {
			a.mask = make([]bool, len(out.Data))
		}
		for i := range out.Data {
			v := main.Data[i] + skip.Data[i]
			if v > 0 {
				out.Data[i] = v
				a.mask[i] = true
			} else {
				a.mask[i] = false
			}
		}
	} else {
		for i := range out.Data {
			if v := main.Data[i] + skip.Data[i]; v > 0 {
				out.Data[i] = v
			}
		}
	}
	return out
}

func (a *addReLU) backward(dOut *Tensor) *Tensor {
	d := NewTensor(dOut.Shape...)
	for i, on := range a.mask {
		if on {
			d.Data[i] = dOut.Data[i]
		}
	}
	return d
}

// BasicBlock is the two-conv residual block used by the 18 and 34 layer
// backbones: 3x3 conv, bn, relu, 3x3 conv, bn, plus a shortcut, then relu.
type BasicBlock struct {
	conv1 *Conv2D
	bn1   *BatchNorm2D
	relu1 *ReLU
	conv2 *Conv2D
	bn2   *BatchNorm2D

	downConv *Conv2D // nil for identity shortcut
	downBN   *BatchNorm2D

	ar addReLU
}

// BasicExpansion is the channel expansion factor of BasicBlock.
const BasicExpansion = 1

// NewBasicBlock builds a basic residual block. A projection shortcut is added
// when the stride or channel count changes.
func NewBasicBlock(name string, inC, planes, stride int, rng *rand.Rand) *BasicBlock {
	b := &BasicBlock{
		conv1: NewConv2D(name+".conv1", inC, planes, 3, stride, 1, false, rng),
		bn1:   NewBatchNorm2D(name+".bn1", planes),
		relu1: NewReLU(),
		conv2: NewConv2D(name+".conv2", planes, planes, 3, 1, 1, false, rng),
		bn2:   NewBatchNorm2D(name+".bn2", planes),
	}
	if stride != 1 || inC != planes*BasicExpansion {
		b.downConv = NewConv2D(name+".downsample.0", inC, planes*BasicExpansion, 1, stride, 0, false, rng)
		b.downBN = NewBatchNorm2D(name+".downsample.1", planes*BasicExpansion)
	}
	return b
}

// Forward runs the main path and the shortcut, adds them and applies ReLU.
func (b *BasicBlock) Forward(x *Tensor, train bool) *Tensor {
	main := b.conv1.Forward(x, train)
	main = b.bn1.Forward(main, train)
	main = b.relu1.Forward(main, train)
	main = b.conv2.Forward(main, train)
	main = b.bn2.Forward(main, train)

	skip := x
	if b.downConv != nil {
		skip = b.downConv.Forward(x, train)
		skip = b.downBN.Forward(skip, train)
	}
	if len(main.Data) != len(skip.Data) {
		panic(fmt.Sprintf("basic block %s: branch size mismatch %v vs %v", b.conv1.W.Name, main.Shape, skip.Shape))
	}
	return b.ar.forward(main, skip, train)
}

// Backward propagates through both branches and sums the input gradients.
func (b *BasicBlock) Backward(dOut *Tensor) *Tensor {
	dAdd := b.ar.backward(dOut)

	d := b.bn2.Backward(dAdd)
	d = b.conv2.Backward(d)
	d = b.relu1.Backward(d)
	d = b.bn1.Backward(d)
	dx := b.conv1.Backward(d)

	if b.downConv != nil {
		ds := b.downBN.Backward(dAdd)
		ds = b.downConv.Backward(ds)
		for i := range dx.Data {
			dx.Data[i] += ds.Data[i]
		}
	} else {
		for i := range dx.Data {
			dx.Data[i] += dAdd.Data[i]
		}
	}
	return dx
}

// Params returns the parameters of both branches.
func (b *BasicBlock) Params() []*Param {
	out := append(b.conv1.Params(), b.bn1.Params()...)
	out = append(out, b.conv2.Params()...)
	out = append(out, b.bn2.Params()...)
	if b.downConv != nil {
		out = append(out, b.downConv.Params()...)
		out = append(out, b.downBN.Params()...)
	}
	return out
}

// Bottleneck is the three-conv residual block used by the 50 layer backbone:
// 1x1 reduce, 3x3, 1x1 expand by four, plus a shortcut, then relu.
type Bottleneck struct {
	conv1 *Conv2D
	bn1   *BatchNorm2D
	relu1 *ReLU
	conv2 *Conv2D
	bn2   *BatchNorm2D
	relu2 *ReLU
	conv3 *Conv2D
	bn3   *BatchNorm2D

	downConv *Conv2D
	downBN   *BatchNorm2D

	ar addReLU
}

// BottleneckExpansion is the channel expansion factor of Bottleneck.
const BottleneckExpansion = 4

// NewBottleneck builds a bottleneck residual block. The stride sits on the
// 3x3 conv.
func NewBottleneck(name string, inC, planes, stride int, rng *rand.Rand) *Bottleneck {
	outC := planes * BottleneckExpansion
	b := &Bottleneck{
		conv1: NewConv2D(name+".conv1", inC, planes, 1, 1, 0, false, rng),
		bn1:   NewBatchNorm2D(name+".bn1", planes),
		relu1: NewReLU(),
		conv2: NewConv2D(name+".conv2", planes, planes, 3, stride, 1, false, rng),
		bn2:   NewBatchNorm2D(name+".bn2", planes),
		relu2: NewReLU(),
		conv3: NewConv2D(name+".conv3", planes, outC, 1, 1, 0, false, rng),
		bn3:   NewBatchNorm2D(name+".bn3", outC),
	}
	if stride != 1 || inC != outC {
		b.downConv = NewConv2D(name+".downsample.0", inC, outC, 1, stride, 0, false, rng)
		b.downBN = NewBatchNorm2D(name+".downsample.1", outC)
	}
	return b
}

// Forward runs the main path and the shortcut, adds them and applies ReLU.
func (b *Bottleneck) Forward(x *Tensor, train bool) *Tensor {
	main := b.conv1.Forward(x, train)
	main = b.bn1.Forward(main, train)
	main = b.relu1.Forward(main, train)
	main = b.conv2.Forward(main, train)
	main = b.bn2.Forward(main, train)
	main = b.relu2.Forward(main, train)
	main = b.conv3.Forward(main, train)
	main = b.bn3.Forward(main, train)

	skip := x
	if b.downConv != nil {
		skip = b.downConv.Forward(x, train)
		skip = b.downBN.Forward(skip, train)
	}
	if len(main.Data) != len(skip.Data) {
		panic(fmt.Sprintf("bottleneck %s: branch size mismatch %v vs %v", b.conv1.W.Name, main.Shape, skip.Shape))
	}
	return b.ar.forward(main, skip, train)
}

// Backward propagates through both branches and sums the input gradients.
func (b *Bottleneck) Backward(dOut *Tensor) *Tensor {
	dAdd := b.ar.backward(dOut)

	d := b.bn3.Backward(dAdd)
	d = b.conv3.Backward(d)
	d = b.relu2.Backward(d)
	d = b.bn2.Backward(d)
	d = b.conv2.Backward(d)
	d = b.relu1.Backward(d)
	d = b.bn1.Backward(d)
	dx := b.conv1.Backward(d)

	if b.downConv != nil {
		ds := b.downBN.Backward(dAdd)
		ds = b.downConv.Backward(ds)
		for i := range dx.Data {
			dx.Data[i] += ds.Data[i]
		}
	} else {
		for i := range dx.Data {
			dx.Data[i] += dAdd.Data[i]
		}
	}
	return dx
}

// Params returns the parameters of both branches.
func (b *Bottleneck) Params() []*Param {
	out := append(b.conv1.Params(), b.bn1.Params()...)
	out = append(out, b.conv2.Params()...)
	out = append(out, b.bn2.Params()...)
	out = append(out, b.conv3.Params()...)
	out = append(out, b.bn3.Params()...)
	if b.downConv != nil {
		out = append(out, b.downConv.Params()...)
		out = append(out, b.downBN.Params()...)
	}
	return out
}
