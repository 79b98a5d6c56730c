package datasets

import (
	"fmt"

	"github.com/openav/motioncast/evaluation"
)

// WriteGroundTruthCSV exports every sample's target trajectory and
// availability mask in the evaluation CSV schema, so a dataset can be scored
// against prediction files produced elsewhere.
func WriteGroundTruthCSV(ds *AgentDataset, path string) error {
	records := make([]evaluation.Record, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		s, err := ds.Example(i)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		records = append(records, evaluation.Record{
			TrackID:   s.TrackID,
			Timestamp: s.Timestamp,
			Coords:    append([]float32(nil), s.TargetPositions...),
			Avails:    append([]float32(nil), s.TargetAvailabilities...),
		})
	}
	return evaluation.WriteCSV(path, ds.Meta().FutureFrames, records)
}
