// Package jobs keeps a history of analysis jobs in SQLite.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a job ID has no history row.
var ErrNotFound = errors.New("job not found")

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 50

// maxErrorMessage caps stored error text.
const maxErrorMessage = 4 << 10

// Store persists job rows in the analysis_jobs table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a Store over a bootstrapped database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a running job.
func (s *Store) Create(ctx context.Context, j Job) error {
	if j.ID == "" {
		return fmt.Errorf("job id is empty")
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO analysis_jobs(
  id, status, stage, archive_name, archive_size, archive_digest, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, j.ID, StatusRunning, j.Stage, nullString(j.ArchiveName), j.ArchiveSize, nullString(j.ArchiveDigest), now, now)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// SetStage records the stage a running job has reached.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE analysis_jobs SET stage = ?, updated_at = ? WHERE id = ?;
`, stage, now, id)
	if err != nil {
		return fmt.Errorf("set job stage: %w", err)
	}
	return requireOneRow(res, id)
}

// Complete records the final outcome of a job.
func (s *Store) Complete(ctx context.Context, id string, c Completion) error {
	if c.Status != StatusSucceeded && c.Status != StatusFailed {
		return fmt.Errorf("invalid completion status %q", c.Status)
	}
	msg := c.ErrorMessage
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = ?, stage = ?, issue_count = ?, poll_attempts = ?, error_kind = ?, error_message = ?,
    updated_at = ?, completed_at = ?
WHERE id = ?;
`, c.Status, c.Stage, c.IssueCount, c.PollAttempts, nullString(c.ErrorKind), nullString(msg), now, now, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireOneRow(res, id)
}

const selectColumns = `
  id, status, stage, archive_name, archive_size, archive_digest, issue_count, poll_attempts,
  error_kind, error_message, created_at, updated_at, completed_at`

// Get returns one job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+selectColumns+` FROM analysis_jobs WHERE id = ?;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns the most recent jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT`+selectColumns+`
FROM analysis_jobs
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// Prune deletes finished jobs that completed more than retention ago and
// returns how many rows were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
DELETE FROM analysis_jobs WHERE completed_at IS NOT NULL AND completed_at < ?;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return n, nil
}

// FailRunning marks jobs left running by a previous process as failed.
// Called once at startup before new work is accepted.
func (s *Store) FailRunning(ctx context.Context, reason string) (int64, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE analysis_jobs
SET status = ?, error_kind = ?, error_message = ?, updated_at = ?, completed_at = ?
WHERE status = ?;
`, StatusFailed, "InternalError", reason, now, now, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fail running jobs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j            Job
		statusS      string
		archiveName  sql.NullString
		digest       sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		createdAtS   string
		updatedAtS   string
		completedAtS sql.NullString
	)
	if err := r.Scan(
		&j.ID, &statusS, &j.Stage, &archiveName, &j.ArchiveSize, &digest, &j.IssueCount, &j.PollAttempts,
		&errorKind, &errorMessage, &createdAtS, &updatedAtS, &completedAtS,
	); err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	j.ArchiveName = archiveName.String
	j.ArchiveDigest = digest.String
	j.ErrorKind = errorKind.String
	j.ErrorMessage = errorMessage.String
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtS); err == nil {
		j.UpdatedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	return &j, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
