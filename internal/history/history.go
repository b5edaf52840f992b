// Package history keeps an append-only sqlite log of completed generation
// runs. Conversation state itself is never persisted; this log exists for
// diagnostics and per-user recaps and the bot runs fine without it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    prompt TEXT NOT NULL,
    aspect_ratio TEXT,
    quantity INTEGER NOT NULL,
    image_count INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_user_id ON runs(user_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Run is one completed execution, successful or not.
type Run struct {
	ID          string
	UserID      int64
	Kind        string // "create" or "edit"
	Prompt      string
	AspectRatio string
	Quantity    int
	ImageCount  int
	Outcome     string // "ok", "transient", "permanent", "malformed", "error"
	Duration    time.Duration
	CreatedAt   time.Time
}

// Store is the sqlite-backed run log.
type Store struct {
	db *sql.DB
}

// Open creates the database (and its directory) if needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one run.
func (s *Store) Record(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, kind, prompt, aspect_ratio, quantity, image_count, outcome, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.Kind, run.Prompt, run.AspectRatio,
		run.Quantity, run.ImageCount, run.Outcome, run.Duration.Milliseconds(), run.CreatedAt)
	return err
}

// RecentByUser returns the user's latest runs, newest first.
func (s *Store) RecentByUser(ctx context.Context, userID int64, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, prompt, aspect_ratio, quantity, image_count, outcome, duration_ms, created_at
		 FROM runs WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var durationMS int64
		var aspect sql.NullString
		if err := rows.Scan(&run.ID, &run.UserID, &run.Kind, &run.Prompt, &aspect,
			&run.Quantity, &run.ImageCount, &run.Outcome, &durationMS, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.AspectRatio = aspect.String
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountByOutcome tallies recorded runs per outcome across all users.
func (s *Store) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
