// Package registry keeps a history of training runs in SQLite. Artifact
// directories are overwritten by every run; the registry is not.
package registry

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clinix/sourceorder/pkg/errors"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("registry: run not found")

// Run is one recorded training run.
type Run struct {
	RunID       string    `json:"run_id"`
	Dataset     string    `json:"dataset"`
	Rows        int       `json:"rows"`
	Classes     int       `json:"classes"`
	Accuracy    float64   `json:"accuracy"`
	Loss        float64   `json:"loss"`
	ArtifactDir string    `json:"artifact_dir"`
	Quantized   bool      `json:"quantized"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps the registry database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS training_runs (
	run_id       TEXT PRIMARY KEY,
	dataset      TEXT NOT NULL,
	rows         INTEGER NOT NULL,
	classes      INTEGER NOT NULL,
	accuracy     REAL NOT NULL,
	loss         REAL NOT NULL,
	artifact_dir TEXT NOT NULL,
	quantized    INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at);
`

// Open opens (creating if needed) the registry at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "registry: open %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "registry: init %s", path)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run. Run ids are unique.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.RunID == "" {
		return errors.NewValidationError("run_id", "must be set", r.RunID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO training_runs (run_id, dataset, rows, classes, accuracy, loss, artifact_dir, quantized, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Dataset, r.Rows, r.Classes, r.Accuracy, r.Loss, r.ArtifactDir, r.Quantized, r.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "registry: record run %s", r.RunID)
	}
	return nil
}

// List returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, dataset, rows, classes, accuracy, loss, artifact_dir, quantized, created_at
		 FROM training_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "registry: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "registry: list runs")
}

// Get returns a single run, or ErrRunNotFound.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, dataset, rows, classes, accuracy, loss, artifact_dir, quantized, created_at
		 FROM training_runs WHERE run_id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	err := sc.Scan(
		&r.RunID, &r.Dataset, &r.Rows, &r.Classes, &r.Accuracy, &r.Loss,
		&r.ArtifactDir, &r.Quantized, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, errors.Wrap(err, "registry: scan run")
	}
	return r, nil
}
