// Package runlog keeps a SQLite ledger of separation runs and the per-ROI
// side information (convergence and mixing matrices) that the output file
// does not carry.
package runlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/roisep/internal/pipeline"
	"github.com/banshee-data/roisep/internal/timeutil"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one invocation of the separation pipeline.
type Run struct {
	RunID      string          `json:"run_id"`
	InputPath  string          `json:"input_path"`
	OutputPath string          `json:"output_path"`
	InputKey   string          `json:"input_key"`
	Dims       []int           `json:"dims,omitempty"`
	ROICount   int             `json:"roi_count"`
	Workers    int             `json:"workers"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	Version    string          `json:"version"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"`
}

// ROIResult is the ledger row for one ROI of a run.
type ROIResult struct {
	RunID         string      `json:"run_id"`
	ROI           int         `json:"roi"`
	Converged     bool        `json:"converged"`
	Iterations    int         `json:"iterations"`
	MaxIterations int         `json:"max_iterations"`
	Tries         int         `json:"tries"`
	RandomState   int64       `json:"random_state"`
	Objective     float64     `json:"objective"`
	DurationNanos int64       `json:"duration_nanos"`
	Mixing        [][]float64 `json:"mixing,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Store persists runs in a SQLite database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for run timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if needed) the ledger at path and applies pending
// migrations.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One connection keeps :memory: databases coherent and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure ledger: %w", err)
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(s)
	}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StartRun inserts run with status running. RunID and StartedAt are filled
// in when empty.
func (s *Store) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = s.clock.Now().UnixNano()
	}
	run.Status = StatusRunning

	var dims, cfg interface{}
	if run.Dims != nil {
		b, err := json.Marshal(run.Dims)
		if err != nil {
			return fmt.Errorf("encode dims: %w", err)
		}
		dims = string(b)
	}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}

	_, err := s.db.Exec(`
		INSERT INTO separation_runs (
			run_id, input_path, output_path, input_key, dims_json, roi_count,
			workers, config_json, version, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.InputPath, run.OutputPath, run.InputKey, dims, run.ROICount,
		run.Workers, cfg, run.Version, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// SetShape records the resolved input dims once they are known.
func (s *Store) SetShape(runID string, dims []int, rois int) error {
	b, err := json.Marshal(dims)
	if err != nil {
		return fmt.Errorf("encode dims: %w", err)
	}
	return s.update(runID, `UPDATE separation_runs SET dims_json = ?, roi_count = ? WHERE run_id = ?`,
		string(b), rois, runID)
}

// FinishRun sets the final status of a run. runErr may be nil.
func (s *Store) FinishRun(runID, status string, runErr error) error {
	var msg interface{}
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.update(runID, `UPDATE separation_runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, msg, s.clock.Now().UnixNano(), runID)
}

func (s *Store) update(runID, query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// InsertROIResults stores results in a single transaction.
func (s *Store) InsertROIResults(results []ROIResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO roi_results (
			run_id, roi, converged, iterations, max_iterations, tries,
			random_state, objective, duration_nanos, mixing_json, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare roi insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		var mixing, msg interface{}
		if r.Mixing != nil {
			b, err := json.Marshal(r.Mixing)
			if err != nil {
				return fmt.Errorf("encode mixing for roi %d: %w", r.ROI, err)
			}
			mixing = string(b)
		}
		if r.Error != "" {
			msg = r.Error
		}
		if _, err := stmt.Exec(r.RunID, r.ROI, r.Converged, r.Iterations, r.MaxIterations, r.Tries,
			r.RandomState, r.Objective, r.DurationNanos, mixing, msg); err != nil {
			return fmt.Errorf("insert roi %d: %w", r.ROI, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, input_path, output_path, input_key, dims_json, roi_count,
		       workers, config_json, version, status, error, started_at, finished_at
		FROM separation_runs
		WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, input_path, output_path, input_key, dims_json, roi_count,
		       workers, config_json, version, status, error, started_at, finished_at
		FROM separation_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListROIResults returns a run's ROI rows ordered by ROI.
func (s *Store) ListROIResults(runID string) ([]ROIResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, roi, converged, iterations, max_iterations, tries,
		       random_state, objective, duration_nanos, mixing_json, error
		FROM roi_results
		WHERE run_id = ?
		ORDER BY roi`, runID)
	if err != nil {
		return nil, fmt.Errorf("query roi results: %w", err)
	}
	defer rows.Close()

	var out []ROIResult
	for rows.Next() {
		var (
			r         ROIResult
			objective sql.NullFloat64
			mixing    sql.NullString
			msg       sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.ROI, &r.Converged, &r.Iterations, &r.MaxIterations, &r.Tries,
			&r.RandomState, &objective, &r.DurationNanos, &mixing, &msg); err != nil {
			return nil, fmt.Errorf("scan roi result: %w", err)
		}
		r.Objective = objective.Float64
		r.Error = msg.String
		if mixing.Valid {
			if err := json.Unmarshal([]byte(mixing.String), &r.Mixing); err != nil {
				return nil, fmt.Errorf("decode mixing for roi %d: %w", r.ROI, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r          Run
		dims       sql.NullString
		cfg        sql.NullString
		msg        sql.NullString
		finishedAt sql.NullInt64
	)
	err := sc.Scan(&r.RunID, &r.InputPath, &r.OutputPath, &r.InputKey, &dims, &r.ROICount,
		&r.Workers, &cfg, &r.Version, &r.Status, &msg, &r.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if dims.Valid {
		if err := json.Unmarshal([]byte(dims.String), &r.Dims); err != nil {
			return nil, fmt.Errorf("decode dims: %w", err)
		}
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	r.Error = msg.String
	r.FinishedAt = finishedAt.Int64
	return &r, nil
}

// ROIResults converts pipeline diagnostics into ledger rows.
func ROIResults(runID string, diags []pipeline.ROIDiagnostic) []ROIResult {
	out := make([]ROIResult, len(diags))
	for i, d := range diags {
		c := d.Convergence
		out[i] = ROIResult{
			RunID:         runID,
			ROI:           d.ROI,
			Converged:     c.Converged,
			Iterations:    c.Iterations,
			MaxIterations: c.MaxIterations,
			Tries:         c.Tries,
			RandomState:   c.RandomState,
			Objective:     c.Objective,
			DurationNanos: d.Duration.Nanoseconds(),
			Mixing:        rows(d.Mixing),
		}
		if d.Err != nil {
			out[i].Error = d.Err.Error()
		}
	}
	return out
}

func rows(m *mat.Dense) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, m)
	}
	return out
}
