package nn

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
)

func TestConvOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		in, kernel, stride, pad, want int
	}{
		{224, 7, 2, 3, 112},
		{112, 3, 2, 1, 56},
		{56, 1, 1, 0, 56},
		{56, 3, 1, 1, 56},
		{14, 3, 2, 1, 7},
	}
	for _, tc := range tests {
		conv := NewConv2D("c", 1, 1, tc.kernel, tc.stride, tc.pad, false, rng)
		if got := conv.OutSize(tc.in); got != tc.want {
			t.Errorf("OutSize(%d) k=%d s=%d p=%d: got %d, want %d",
				tc.in, tc.kernel, tc.stride, tc.pad, got, tc.want)
		}
	}
}

func TestReLUForwardBackward(t *testing.T) {
	r := NewReLU()
	x := &Tensor{Shape: []int{1, 4}, Data: []float32{-1, 0, 0.5, 2}}
	out := r.Forward(x, true)
	want := []float32{0, 0, 0.5, 2}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("forward[%d]: got %g, want %g", i, out.Data[i], want[i])
		}
	}
	dOut := &Tensor{Shape: []int{1, 4}, Data: []float32{1, 1, 1, 1}}
	dx := r.Backward(dOut)
	wantDx := []float32{0, 0, 1, 1}
	for i := range wantDx {
		if dx.Data[i] != wantDx[i] {
			t.Errorf("backward[%d]: got %g, want %g", i, dx.Data[i], wantDx[i])
		}
	}
}

func TestMaxPoolRoutesGradientToArgmax(t *testing.T) {
	p := NewMaxPool2D(2, 2, 0)
	x := &Tensor{Shape: []int{1, 1, 4, 4}, Data: []float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		-1, -2, 0, 0,
		-3, -4, 0, 9,
	}}
	out := p.Forward(x, true)
	wantOut := []float32{4, 8, -1, 9}
	for i := range wantOut {
		if out.Data[i] != wantOut[i] {
			t.Fatalf("forward[%d]: got %g, want %g", i, out.Data[i], wantOut[i])
		}
	}
	dOut := &Tensor{Shape: []int{1, 1, 2, 2}, Data: []float32{10, 20, 30, 40}}
	dx := p.Backward(dOut)
	wantDx := make([]float32, 16)
	wantDx[5] = 10  // 4 at (1,1)
	wantDx[7] = 20  // 8 at (1,3)
	wantDx[8] = 30  // -1 at (2,0)
	wantDx[15] = 40 // 9 at (3,3)
	for i := range wantDx {
		if dx.Data[i] != wantDx[i] {
			t.Errorf("backward[%d]: got %g, want %g", i, dx.Data[i], wantDx[i])
		}
	}
}

func TestMaxPoolPaddedShape(t *testing.T) {
	p := NewMaxPool2D(3, 2, 1)
	if got := p.OutSize(112); got != 56 {
		t.Fatalf("OutSize(112): got %d, want 56", got)
	}
	rng := rand.New(rand.NewSource(2))
	x := &Tensor{Shape: []int{1, 2, 7, 7}, Data: randSlice(2*7*7, rng)}
	out := p.Forward(x, false)
	if out.Dim(2) != 4 || out.Dim(3) != 4 {
		t.Fatalf("padded pool output: got %v, want [1 2 4 4]", out.Shape)
	}
}

func TestBatchNormTrainNormalizes(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	bn := NewBatchNorm2D("bn", 2)
	x := &Tensor{Shape: []int{4, 2, 3, 3}, Data: randSlice(4*2*3*3, rng)}
	// Shift channel 1 so the statistics differ per channel.
	for in := 0; in < 4; in++ {
		base := (in*2 + 1) * 9
		for i := 0; i < 9; i++ {
			x.Data[base+i] += 5
		}
	}
	out := bn.Forward(x, true)
	for c := 0; c < 2; c++ {
		var sum, sq float32
		for in := 0; in < 4; in++ {
			base := (in*2 + c) * 9
			for i := 0; i < 9; i++ {
				sum += out.Data[base+i]
			}
		}
		mean := sum / 36
		for in := 0; in < 4; in++ {
			base := (in*2 + c) * 9
			for i := 0; i < 9; i++ {
				d := out.Data[base+i] - mean
				sq += d * d
			}
		}
		variance := sq / 36
		if math32.Abs(mean) > 1e-4 {
			t.Errorf("channel %d: normalized mean %g, want ~0", c, mean)
		}
		if math32.Abs(variance-1) > 1e-2 {
			t.Errorf("channel %d: normalized variance %g, want ~1", c, variance)
		}
	}
	if math32.Abs(bn.RMean.Data[1]-0.5) > 0.5 {
		t.Errorf("running mean of shifted channel barely moved: %g", bn.RMean.Data[1])
	}
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D("bn", 1)
	bn.RMean.Data[0] = 2
	bn.RVar.Data[0] = 4
	x := &Tensor{Shape: []int{1, 1, 1, 2}, Data: []float32{2, 6}}
	out := bn.Forward(x, false)
	// (2-2)/2 = 0, (6-2)/2 = 2
	if math32.Abs(out.Data[0]) > 1e-4 || math32.Abs(out.Data[1]-2) > 1e-3 {
		t.Fatalf("eval output %v, want [0 2]", out.Data)
	}
}

func TestBasicBlockShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := &Tensor{Shape: []int{2, 8, 8, 8}, Data: randSlice(2*8*8*8, rng)}

	ident := NewBasicBlock("b0", 8, 8, 1, rng)
	if ident.downConv != nil {
		t.Fatal("stride-1 same-width basic block should use identity shortcut")
	}
	out := ident.Forward(x, false)
	if out.Dim(1) != 8 || out.Dim(2) != 8 || out.Dim(3) != 8 {
		t.Fatalf("identity block output %v, want [2 8 8 8]", out.Shape)
	}

	down := NewBasicBlock("b1", 8, 16, 2, rng)
	if down.downConv == nil {
		t.Fatal("stride-2 basic block should use projection shortcut")
	}
	out = down.Forward(x, false)
	if out.Dim(1) != 16 || out.Dim(2) != 4 || out.Dim(3) != 4 {
		t.Fatalf("downsampling block output %v, want [2 16 4 4]", out.Shape)
	}
}

func TestBottleneckShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := &Tensor{Shape: []int{1, 8, 8, 8}, Data: randSlice(8*8*8, rng)}

	first := NewBottleneck("l1.0", 8, 4, 1, rng)
	if first.downConv == nil {
		t.Fatal("channel-expanding bottleneck should use projection shortcut")
	}
	out := first.Forward(x, false)
	if out.Dim(1) != 16 || out.Dim(2) != 8 {
		t.Fatalf("first bottleneck output %v, want [1 16 8 8]", out.Shape)
	}

	rest := NewBottleneck("l1.1", 16, 4, 1, rng)
	if rest.downConv != nil {
		t.Fatal("in-place bottleneck should use identity shortcut")
	}
	out2 := rest.Forward(out, false)
	if out2.Dim(1) != 16 || out2.Dim(2) != 8 {
		t.Fatalf("second bottleneck output %v, want [1 16 8 8]", out2.Shape)
	}

	down := NewBottleneck("l2.0", 16, 8, 2, rng)
	out3 := down.Forward(out2, false)
	if out3.Dim(1) != 32 || out3.Dim(2) != 4 {
		t.Fatalf("downsampling bottleneck output %v, want [1 32 4 4]", out3.Shape)
	}
}

func TestSmallNetworkLossDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	net := &Sequential{Layers: []Layer{
		NewConv2D("stem.conv", 5, 8, 3, 1, 1, false, rng),
		NewBatchNorm2D("stem.bn", 8),
		NewReLU(),
		NewBasicBlock("layer1.0", 8, 8, 2, rng),
		NewGlobalAvgPool(),
		NewLinear("head", 8, 4, rng),
	}}
	params := net.Params()

	x := &Tensor{Shape: []int{4, 5, 8, 8}, Data: randSlice(4*5*8*8, rng)}
	target := &Tensor{Shape: []int{4, 4}, Data: randSlice(16, rng)}
	avail := &Tensor{Shape: []int{4, 2}, Data: []float32{1, 1, 1, 0, 1, 1, 0, 1}}

	var crit MaskedMSE
	opt := NewAdam(0.01, 0.9, 0.999, 1e-8)

	var first, last float32
	for step := 0; step < 100; step++ {
		out := net.Forward(x, true)
		loss, grad, err := crit.Loss(out, target, avail)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if step == 0 {
			first = loss
		}
		last = loss
		ZeroGrad(params)
		net.Backward(grad)
		ClipGradNorm(params, 10)
		opt.Step(params)
	}
	if last >= first*0.75 {
		t.Fatalf("loss did not decrease enough: first=%g last=%g", first, last)
	}
}

func TestSequentialParamNamesUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	net := &Sequential{Layers: []Layer{
		NewConv2D("stem.conv", 3, 4, 3, 1, 1, false, rng),
		NewBatchNorm2D("stem.bn", 4),
		NewBottleneck("layer1.0", 4, 2, 1, rng),
		NewLinear("head", 8, 2, rng),
	}}
	seen := make(map[string]bool)
	for _, p := range net.Params() {
		if seen[p.Name] {
			t.Errorf("duplicate param name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Trainable && len(p.Grad) != len(p.Data) {
			t.Errorf("param %q: grad len %d, data len %d", p.Name, len(p.Grad), len(p.Data))
		}
	}
	if len(seen) == 0 {
		t.Fatal("no params collected")
	}
}
