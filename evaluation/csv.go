// Package evaluation writes and reads prediction CSVs and scores predicted
// trajectories against ground truth. Both predictions and ground truth use
// the same row format, so a prediction file and a ground-truth file for the
// same dataset are directly comparable.
package evaluation

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is one agent at one time: its identifiers, a flattened xy
// trajectory over the future horizon, and per-step availability.
type Record struct {
	TrackID   int64
	Timestamp int64
	Coords    []float32 // 2*steps values, x then y per step
	Avails    []float32 // steps values, 1 observed / 0 padding
}

// Header returns the CSV column names for the given horizon length.
func Header(steps int) []string {
	cols := make([]string, 0, 2+3*steps)
	cols = append(cols, "timestamp", "track_id")
	for i := 0; i < steps; i++ {
		cols = append(cols, fmt.Sprintf("avail_%d", i))
	}
	for i := 0; i < steps; i++ {
		cols = append(cols, fmt.Sprintf("coord_x%d", i), fmt.Sprintf("coord_y%d", i))
	}
	return cols
}

// WriteCSV writes records to path with the fixed trajectory schema.
func WriteCSV(path string, steps int, records []Record) error {
	if path == "" {
		return fmt.Errorf("empty csv path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header(steps)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, 2+3*steps)
	for i := range records {
		r := &records[i]
		if len(r.Coords) != 2*steps || len(r.Avails) != steps {
			return fmt.Errorf("record %d (track %d): has %d coords and %d avails, want %d and %d",
				i, r.TrackID, len(r.Coords), len(r.Avails), 2*steps, steps)
		}
		row[0] = strconv.FormatInt(r.Timestamp, 10)
		row[1] = strconv.FormatInt(r.TrackID, 10)
		for s := 0; s < steps; s++ {
			row[2+s] = formatFloat(r.Avails[s])
		}
		for s := 0; s < 2*steps; s++ {
			row[2+steps+s] = formatFloat(r.Coords[s])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

// ReadCSV reads a trajectory CSV, inferring the horizon length from the
// header.
func ReadCSV(path string) (steps int, records []Record, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return 0, nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	steps, err = stepsFromHeader(header)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", path, err)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, fmt.Errorf("read row %d of %s: %w", len(records)+1, path, err)
		}
		rec, err := parseRecord(row, steps)
		if err != nil {
			return 0, nil, fmt.Errorf("row %d of %s: %w", len(records)+1, path, err)
		}
		records = append(records, rec)
	}
	return steps, records, nil
}

func stepsFromHeader(header []string) (int, error) {
	if len(header) < 2 || header[0] != "timestamp" || header[1] != "track_id" {
		return 0, fmt.Errorf("unexpected header start %v", header[:minInt(2, len(header))])
	}
	rest := len(header) - 2
	if rest <= 0 || rest%3 != 0 {
		return 0, fmt.Errorf("header has %d trajectory columns, want a multiple of 3", rest)
	}
	steps := rest / 3
	want := Header(steps)
	for i, col := range header {
		if col != want[i] {
			return 0, fmt.Errorf("header column %d is %q, want %q", i, col, want[i])
		}
	}
	return steps, nil
}

func parseRecord(row []string, steps int) (Record, error) {
	var rec Record
	if len(row) != 2+3*steps {
		return rec, fmt.Errorf("has %d columns, want %d", len(row), 2+3*steps)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return rec, fmt.Errorf("timestamp: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
	if err != nil {
		return rec, fmt.Errorf("track_id: %w", err)
	}
	rec.Timestamp = ts
	rec.TrackID = id
	rec.Avails = make([]float32, steps)
	rec.Coords = make([]float32, 2*steps)
	for s := 0; s < steps; s++ {
		v, err := parseFloat32(row[2+s])
		if err != nil {
			return rec, fmt.Errorf("avail_%d: %w", s, err)
		}
		rec.Avails[s] = v
	}
	for s := 0; s < 2*steps; s++ {
		v, err := parseFloat32(row[2+steps+s])
		if err != nil {
			return rec, fmt.Errorf("coord %d: %w", s, err)
		}
		rec.Coords[s] = v
	}
	return rec, nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
