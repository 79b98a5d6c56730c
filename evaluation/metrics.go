package evaluation

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/chewxy/math32"
)

// Metrics summarizes how far predicted trajectories sit from ground truth.
type Metrics struct {
	// Agents is the number of scored trajectories.
	Agents int

	// NegLogLikelihood is the mean negative log-likelihood of the ground
	// truth under a unit-variance Gaussian centered on the prediction:
	// 0.5 * sum over available steps of squared displacement.
	NegLogLikelihood float64

	// TimeDisplace is the mean displacement per future step, averaged over
	// all agents with unavailable steps contributing zero.
	TimeDisplace []float64

	// AverageDisplacement is the mean displacement over all available steps.
	AverageDisplacement float64

	// FinalDisplacement is the mean displacement at each agent's last
	// available step.
	FinalDisplacement float64
}

type recordKey struct {
	trackID   int64
	timestamp int64
}

// indexRecords builds a key map, rejecting duplicate (track, timestamp)
// pairs.
func indexRecords(records []Record, label string) (map[recordKey]*Record, error) {
	byKey := make(map[recordKey]*Record, len(records))
	for i := range records {
		r := &records[i]
		k := recordKey{r.TrackID, r.Timestamp}
		if _, ok := byKey[k]; ok {
			return nil, fmt.Errorf("duplicate %s record for track %d at timestamp %d", label, r.TrackID, r.Timestamp)
		}
		byKey[k] = r
	}
	return byKey, nil
}

// Compute scores predictions against ground truth. Every ground-truth record
// must have exactly one prediction with the same (track_id, timestamp) key
// and the same horizon length. Availability comes from the ground truth.
func Compute(gt, pred []Record) (*Metrics, error) {
	if len(gt) == 0 {
		return nil, fmt.Errorf("no ground truth records")
	}
	predByKey, err := indexRecords(pred, "prediction")
	if err != nil {
		return nil, err
	}
	if _, err := indexRecords(gt, "ground truth"); err != nil {
		return nil, err
	}

	steps := len(gt[0].Avails)
	m := &Metrics{TimeDisplace: make([]float64, steps)}

	var sumNLL float64
	var sumDisp float64
	var availSteps int
	var sumFinal float64
	var finalCount int

	for i := range gt {
		g := &gt[i]
		if len(g.Avails) != steps {
			return nil, fmt.Errorf("ground truth horizon changed at track %d: %d vs %d steps",
				g.TrackID, len(g.Avails), steps)
		}
		p, ok := predByKey[recordKey{g.TrackID, g.Timestamp}]
		if !ok {
			return nil, fmt.Errorf("missing prediction for track %d at timestamp %d", g.TrackID, g.Timestamp)
		}
		if len(p.Coords) != len(g.Coords) {
			return nil, fmt.Errorf("prediction horizon mismatch for track %d: %d vs %d values",
				g.TrackID, len(p.Coords), len(g.Coords))
		}

		var nll float64
		lastDisp := -1.0
		for s := 0; s < steps; s++ {
			if g.Avails[s] == 0 {
				continue
			}
			dx := float64(p.Coords[2*s] - g.Coords[2*s])
			dy := float64(p.Coords[2*s+1] - g.Coords[2*s+1])
			sq := dx*dx + dy*dy
			disp := float64(math32.Sqrt(float32(sq)))

			nll += 0.5 * sq
			m.TimeDisplace[s] += disp
			sumDisp += disp
			availSteps++
			lastDisp = disp
		}
		sumNLL += nll
		if lastDisp >= 0 {
			sumFinal += lastDisp
			finalCount++
		}
		m.Agents++
	}

	m.NegLogLikelihood = sumNLL / float64(m.Agents)
	for s := range m.TimeDisplace {
		m.TimeDisplace[s] /= float64(m.Agents)
	}
	if availSteps > 0 {
		m.AverageDisplacement = sumDisp / float64(availSteps)
	}
	if finalCount > 0 {
		m.FinalDisplacement = sumFinal / float64(finalCount)
	}
	return m, nil
}

// CompareCSV reads a ground-truth CSV and a prediction CSV and scores them.
func CompareCSV(gtPath, predPath string) (*Metrics, error) {
	gtSteps, gt, err := ReadCSV(gtPath)
	if err != nil {
		return nil, fmt.Errorf("ground truth: %w", err)
	}
	predSteps, pred, err := ReadCSV(predPath)
	if err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}
	if gtSteps != predSteps {
		return nil, fmt.Errorf("horizon mismatch: ground truth has %d steps, predictions %d", gtSteps, predSteps)
	}
	return Compute(gt, pred)
}

// Print writes an aligned metrics table.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintf(w, "Evaluated %d agents\n", m.Agents)
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  neg_log_likelihood\t%f\n", m.NegLogLikelihood)
	fmt.Fprintf(tw, "  average_displacement\t%f m\n", m.AverageDisplacement)
	fmt.Fprintf(tw, "  final_displacement\t%f m\n", m.FinalDisplacement)
	for s, d := range m.TimeDisplace {
		fmt.Fprintf(tw, "  time_displace[%d]\t%f m\n", s, d)
	}
	tw.Flush()
}
