// Package runlog persists training run history to a sqlite database so runs
// can be compared after the fact: one row per run plus its per-step losses
// and final evaluation metrics.
package runlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	config      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS steps (
	run_id    TEXT NOT NULL REFERENCES runs(run_id),
	step      INTEGER NOT NULL,
	loss      REAL NOT NULL,
	logged_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, step)
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	name   TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (run_id, name)
);
`

// Run is one persisted training run.
type Run struct {
	RunID      string
	Config     string
	StartedAt  int64
	FinishedAt int64 // zero while the run is still open
}

// Step is one persisted training step.
type Step struct {
	Step     int
	Loss     float64
	LoggedAt int64
}

// Log wraps the run-history database.
type Log struct {
	db *sql.DB
}

// Open opens the run log at path, creating the parent directory and the
// schema when missing.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// StartRun inserts a new run carrying its serialized configuration and
// returns the generated run ID.
func (l *Log) StartRun(config string) (string, error) {
	id := uuid.New().String()
	_, err := l.db.Exec(`INSERT INTO runs (run_id, config, started_at) VALUES (?, ?, ?)`,
		id, config, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's completion time.
func (l *Log) FinishRun(runID string) error {
	res, err := l.db.Exec(`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordStep appends one training step.
func (l *Log) RecordStep(runID string, step int, loss float64) error {
	_, err := l.db.Exec(`INSERT INTO steps (run_id, step, loss, logged_at) VALUES (?, ?, ?, ?)`,
		runID, step, loss, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert step %d: %w", step, err)
	}
	return nil
}

// RecordMetric stores one named evaluation result for the run, replacing any
// previous value under the same name.
func (l *Log) RecordMetric(runID, name string, value float64) error {
	_, err := l.db.Exec(`INSERT INTO metrics (run_id, name, value) VALUES (?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET value = excluded.value`,
		runID, name, value)
	if err != nil {
		return fmt.Errorf("insert metric %s: %w", name, err)
	}
	return nil
}

// GetRun returns a single run by ID.
func (l *Log) GetRun(runID string) (*Run, error) {
	row := l.db.QueryRow(`SELECT run_id, config, started_at, finished_at FROM runs WHERE run_id = ?`, runID)

	var r Run
	var finished sql.NullInt64
	if err := row.Scan(&r.RunID, &r.Config, &r.StartedAt, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = finished.Int64
	}
	return &r, nil
}

// Steps returns the run's recorded steps in step order.
func (l *Log) Steps(runID string) ([]Step, error) {
	rows, err := l.db.Query(`SELECT step, loss, logged_at FROM steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.Step, &s.Loss, &s.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Metrics returns the run's recorded metrics by name.
func (l *Log) Metrics(runID string) (map[string]float64, error) {
	rows, err := l.db.Query(`SELECT name, value FROM metrics WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	metrics := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		metrics[name] = value
	}
	return metrics, rows.Err()
}
