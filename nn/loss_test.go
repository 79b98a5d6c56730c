package nn

import (
	"testing"

	"github.com/chewxy/math32"
)

func TestMaskedMSEHandComputed(t *testing.T) {
	// One sample, two future steps. Second step unavailable.
	pred := &Tensor{Shape: []int{1, 4}, Data: []float32{1, 2, 10, 10}}
	target := &Tensor{Shape: []int{1, 4}, Data: []float32{0, 0, 0, 0}}
	avail := &Tensor{Shape: []int{1, 2}, Data: []float32{1, 0}}

	var crit MaskedMSE
	loss, grad, err := crit.Loss(pred, target, avail)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	// (1 + 4 + 0 + 0) / 4 elements
	if math32.Abs(loss-1.25) > 1e-6 {
		t.Errorf("loss = %g, want 1.25", loss)
	}
	wantGrad := []float32{2.0 * 1 / 4, 2.0 * 2 / 4, 0, 0}
	for i := range wantGrad {
		if math32.Abs(grad.Data[i]-wantGrad[i]) > 1e-6 {
			t.Errorf("grad[%d] = %g, want %g", i, grad.Data[i], wantGrad[i])
		}
	}
}

func TestMaskedMSENilAvail(t *testing.T) {
	pred := &Tensor{Shape: []int{1, 2}, Data: []float32{3, 1}}
	target := &Tensor{Shape: []int{1, 2}, Data: []float32{1, 1}}

	var crit MaskedMSE
	loss, _, err := crit.Loss(pred, target, nil)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if math32.Abs(loss-2) > 1e-6 {
		t.Errorf("loss = %g, want 2", loss)
	}
}

func TestMaskedMSEShapeMismatch(t *testing.T) {
	pred := &Tensor{Shape: []int{1, 4}, Data: make([]float32, 4)}
	target := &Tensor{Shape: []int{1, 2}, Data: make([]float32, 2)}
	var crit MaskedMSE
	if _, _, err := crit.Loss(pred, target, nil); err == nil {
		t.Fatal("expected error for mismatched pred/target")
	}

	target = &Tensor{Shape: []int{1, 4}, Data: make([]float32, 4)}
	avail := &Tensor{Shape: []int{1, 3}, Data: make([]float32, 3)}
	if _, _, err := crit.Loss(pred, target, avail); err == nil {
		t.Fatal("expected error for mismatched avail")
	}
}
