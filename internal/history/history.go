// Package history persists terminal task records and their per-attempt
// detail to SQLite so results survive restarts and stay inspectable.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/storage"
)

// ErrNotFound is returned by GetTask for an unknown task id.
var ErrNotFound = errors.New("task not found")

// TaskRecord is the terminal row for one task.
type TaskRecord struct {
	ID          string     `json:"id"`
	Capability  string     `json:"capability"`
	Priority    int        `json:"priority"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Attempt is one execution try of a task.
type Attempt struct {
	TaskID    string        `json:"task_id"`
	Attempt   int           `json:"attempt"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Store wraps the SQLite task history tables.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordAttempt appends one execution try. attempt is 1-based.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_attempts(task_id, attempt, started_at, duration_ms, error)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(task_id, attempt) DO UPDATE SET
  started_at = excluded.started_at, duration_ms = excluded.duration_ms, error = excluded.error;`,
		a.TaskID, a.Attempt, a.StartedAt.UTC().Format(time.RFC3339Nano),
		a.Duration.Milliseconds(), nullable(a.Error))
	if err != nil {
		return fmt.Errorf("insert task attempt: %w", err)
	}
	return nil
}

// RecordFinal upserts the terminal record for a task.
func (s *Store) RecordFinal(ctx context.Context, rec TaskRecord) error {
	var completed any
	if rec.CompletedAt != nil {
		completed = rec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_log(id, capability, priority, state, attempts, created_at, completed_at, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  state = excluded.state, attempts = excluded.attempts,
  completed_at = excluded.completed_at, last_error = excluded.last_error;`,
		rec.ID, rec.Capability, rec.Priority, rec.State, rec.Attempts,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), completed, nullable(rec.LastError))
	if err != nil {
		return fmt.Errorf("insert task_log: %w", err)
	}
	return nil
}

// GetTask returns the terminal record and full attempt history for a task.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskRecord, []Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, capability, priority, state, attempts, created_at, completed_at, last_error
FROM task_log WHERE id = ?;`, id)

	var (
		rec                  TaskRecord
		createdAt            string
		completedAt, lastErr sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Capability, &rec.Priority, &rec.State,
		&rec.Attempts, &createdAt, &completedAt, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query task_log: %w", err)
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		ts, perr := time.Parse(time.RFC3339Nano, completedAt.String)
		if perr == nil {
			rec.CompletedAt = &ts
		}
	}
	rec.LastError = lastErr.String

	attempts, err := s.attempts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &rec, attempts, nil
}

func (s *Store) attempts(ctx context.Context, id string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, attempt, started_at, duration_ms, error
FROM task_attempts WHERE task_id = ? ORDER BY attempt;`, id)
	if err != nil {
		return nil, fmt.Errorf("query task_attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a          Attempt
			startedAt  string
			durationMS int64
			attemptErr sql.NullString
		)
		if err := rows.Scan(&a.TaskID, &a.Attempt, &startedAt, &durationMS, &attemptErr); err != nil {
			return nil, fmt.Errorf("scan task attempt: %w", err)
		}
		a.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.Error = attemptErr.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
