package nn

import "fmt"

// MaskedMSE is mean squared error with per-step availability masking. The
// prediction and target are [batch, 2*steps] flattened xy offsets and the
// mask is [batch, steps]; a masked step contributes zero to the sum but the
// mean still divides by the full element count, so sparse targets yield
// proportionally smaller losses.
type MaskedMSE struct{}

// Loss returns the scalar loss and the gradient with respect to pred.
// A nil avail treats every step as available.
func (MaskedMSE) Loss(pred, target, avail *Tensor) (float32, *Tensor, error) {
	if len(pred.Data) != len(target.Data) {
		return 0, nil, fmt.Errorf("pred has %d elements, target has %d", len(pred.Data), len(target.Data))
	}
	n, d := pred.Dim(0), pred.Dim(1)
	steps := d / 2
	if avail != nil {
		if avail.Dim(0) != n || avail.Dim(1) != steps {
			return 0, nil, fmt.Errorf("avail shape %v does not match pred %v", avail.Shape, pred.Shape)
		}
	}

	total := float32(len(pred.Data))
	grad := NewTensor(pred.Shape...)
	var sum float32
	for b := 0; b < n; b++ {
		for s := 0; s < steps; s++ {
			m := float32(1)
			if avail != nil {
				m = avail.Data[b*steps+s]
			}
			for k := 0; k < 2; k++ {
				i := b*d + s*2 + k
				diff := pred.Data[i] - target.Data[i]
				sum += m * diff * diff
				grad.Data[i] = 2 * m * diff / total
			}
		}
	}
	return sum / total, grad, nil
}
