package motionnet

import (
	"io"

	"github.com/openav/motioncast/evaluation"
)

// EvalResult carries everything a single evaluation pass produces.
type EvalResult struct {
	// Loss is the masked criterion averaged over all evaluated samples.
	Loss float32

	// Pred holds one record per sample with the predicted offsets.
	// Prediction availabilities are all ones.
	Pred []evaluation.Record

	// GroundTruth holds the matching target offsets with the true per-step
	// availability mask.
	GroundTruth []evaluation.Record
}

// Evaluate runs the model over every sample in ds once, in inference mode,
// and returns the mean loss together with parallel prediction and
// ground-truth records ready for the evaluation CSV writer.
func Evaluate(m *Model, ds Dataset) (*EvalResult, error) {
	if err := m.Compatible(ds.Meta()); err != nil {
		return nil, err
	}
	if err := ds.Restart(); err != nil {
		return nil, err
	}

	steps := ds.Meta().FutureFrames
	res := &EvalResult{
		Pred:        make([]evaluation.Record, 0, ds.Len()),
		GroundTruth: make([]evaluation.Record, 0, ds.Len()),
	}
	var lossSum float64
	for {
		batch, err := ds.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		loss, out, _, err := ForwardBatch(m, batch, false)
		if err != nil {
			return nil, err
		}
		n := batch.Images.Dim(0)
		lossSum += float64(loss) * float64(n)

		for i := 0; i < n; i++ {
			coords := append([]float32(nil), out.Data[i*m.OutputDim:(i+1)*m.OutputDim]...)
			target := append([]float32(nil), batch.Targets.Data[i*m.OutputDim:(i+1)*m.OutputDim]...)
			avail := append([]float32(nil), batch.Avails.Data[i*steps:(i+1)*steps]...)
			ones := make([]float32, steps)
			for j := range ones {
				ones[j] = 1
			}
			res.Pred = append(res.Pred, evaluation.Record{
				TrackID:   batch.TrackIDs[i],
				Timestamp: batch.Timestamps[i],
				Coords:    coords,
				Avails:    ones,
			})
			res.GroundTruth = append(res.GroundTruth, evaluation.Record{
				TrackID:   batch.TrackIDs[i],
				Timestamp: batch.Timestamps[i],
				Coords:    target,
				Avails:    avail,
			})
		}
	}
	if len(res.Pred) > 0 {
		res.Loss = float32(lossSum / float64(len(res.Pred)))
	}
	return res, nil
}
