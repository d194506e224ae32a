// Package history persists session and task outcomes to SQLite so past runs
// can be inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// SessionRecord is one row in the sessions table.
type SessionRecord struct {
	ID           string
	JobName      string
	TemplatePath string
	Frames       string
	Status       Status
	CreatedAt    time.Time
	CompletedAt  *time.Time
	LastError    *string
}

// TaskRecord is one row in the tasks table.
type TaskRecord struct {
	ID          string
	SessionID   string
	Frame       int
	Status      Status
	ExitCode    *int
	StartedAt   time.Time
	CompletedAt *time.Time
	LastError   *string
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts a new running session row.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, job_name, template_path, frames, status, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, rec.ID, rec.JobName, rec.TemplatePath, rec.Frames, StatusRunning, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CompleteSession marks a session terminal.
func (s *Store) CompleteSession(ctx context.Context, id string, status Status, lastError *string) error {
	if status != StatusSucceeded && status != StatusFailed && status != StatusCancelled {
		return fmt.Errorf("invalid terminal status: %q", status)
	}
	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET status = ?, completed_at = ?, last_error = ? WHERE id = ?;
`, status, completedAt, lastError, id)
	if err != nil {
		return fmt.Errorf("update session completion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %q not found", id)
	}
	return nil
}

// CreateTask inserts a new running task row.
func (s *Store) CreateTask(ctx context.Context, rec TaskRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	startedAt := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks(id, session_id, frame, status, started_at)
VALUES(?, ?, ?, ?, ?);
`, rec.ID, rec.SessionID, rec.Frame, StatusRunning, startedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// CompleteTask marks a task terminal with its exit code.
func (s *Store) CompleteTask(ctx context.Context, id string, status Status, exitCode *int, lastError *string) error {
	if status != StatusSucceeded && status != StatusFailed && status != StatusCancelled {
		return fmt.Errorf("invalid terminal status: %q", status)
	}
	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = ?, exit_code = ?, completed_at = ?, last_error = ? WHERE id = ?;
`, status, exitCode, completedAt, lastError, id)
	if err != nil {
		return fmt.Errorf("update task completion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %q not found", id)
	}
	return nil
}

// GetSession loads one session by ID. Returns (nil, nil) if absent.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, job_name, template_path, frames, status, created_at, completed_at, last_error
FROM sessions WHERE id = ?;
`, id)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return rec, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, job_name, template_path, frames, status, created_at, completed_at, last_error
FROM sessions ORDER BY created_at DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListTasks returns a session's tasks in start order.
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]*TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, frame, status, exit_code, started_at, completed_at, last_error
FROM tasks WHERE session_id = ? ORDER BY started_at ASC, rowid ASC;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		var (
			rec          TaskRecord
			statusS      string
			exitCode     sql.NullInt64
			startedAtS   string
			completedAtS sql.NullString
			lastError    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Frame, &statusS, &exitCode,
			&startedAtS, &completedAtS, &lastError); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		rec.Status = Status(statusS)
		if exitCode.Valid {
			c := int(exitCode.Int64)
			rec.ExitCode = &c
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
			rec.StartedAt = t
		}
		if completedAtS.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
				rec.CompletedAt = &t
			}
		}
		if lastError.Valid {
			rec.LastError = &lastError.String
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec          SessionRecord
		statusS      string
		createdAtS   string
		completedAtS sql.NullString
		lastError    sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.JobName, &rec.TemplatePath, &rec.Frames,
		&statusS, &createdAtS, &completedAtS, &lastError); err != nil {
		return nil, err
	}
	rec.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		rec.CreatedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	if lastError.Valid {
		rec.LastError = &lastError.String
	}
	return &rec, nil
}
