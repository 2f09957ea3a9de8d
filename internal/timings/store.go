// Package timings persists per-run timing rows when timing collection
// is enabled on the coordinator.
package timings

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// Run is one recorded stepping phase.
type Run struct {
	ID        string
	StartedAt time.Time
	Steps     int64
	Dt        float64
	Ranks     int
	WallMS    int64
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("timings: store path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			steps INTEGER NOT NULL,
			dt REAL NOT NULL,
			ranks INTEGER NOT NULL,
			wall_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return errors.New("timings: store not initialized")
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, steps, dt, ranks, wall_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Steps, run.Dt, run.Ranks, run.WallMS)
	return err
}

func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("timings: store not initialized")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, started_at, steps, dt, ranks, wall_ms FROM runs ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &started, &r.Steps, &r.Dt, &r.Ranks, &r.WallMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
