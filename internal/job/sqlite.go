package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const jobColumns = `id, project_id, job_type, metadata, state, attempts, max_attempts,
	last_error, created_at, available_at, claimed_at, finished_at`

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened with storage.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, j *Job) error {
	if err := prepareInsert(j); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, project_id, job_type, metadata, state, attempts, max_attempts, last_error, created_at, available_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID,
		j.ProjectID,
		string(j.Type),
		nullableJSON(j.Metadata),
		j.State,
		j.Attempts,
		j.MaxAttempts,
		j.LastError,
		nanos(j.CreatedAt),
		nanos(j.AvailableAt),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Claim selects and transitions in one UPDATE statement. The outer state
// predicate makes the write conditional on the row still being pending.
func (s *SQLiteStore) Claim(ctx context.Context, limit int, now time.Time) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET state = ?, attempts = attempts + 1, claimed_at = ?
		WHERE state = ? AND attempts < max_attempts AND id IN (
			SELECT id FROM jobs
			WHERE state = ? AND attempts < max_attempts AND available_at <= ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)
		RETURNING `+jobColumns,
		StateRunning, nanos(now), StatePending, StatePending, nanos(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	sortOldestFirst(jobs)
	return jobs, nil
}

func (s *SQLiteStore) Resolve(ctx context.Context, j *Job, o Outcome, now time.Time) error {
	r, err := resolution(j, o, now)
	if err != nil {
		return err
	}

	var finishedAt any
	if r.finishedAt != nil {
		finishedAt = nanos(*r.finishedAt)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, last_error = ?, available_at = ?, finished_at = ?
		WHERE id = ? AND state = ? AND attempts = ?
	`, r.state, r.lastError, nanos(r.availableAt), finishedAt, j.ID, StateRunning, j.Attempts)
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", j.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", j.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve job %s attempt %d: %w", j.ID, j.Attempts, ErrConflict)
	}
	r.apply(j)
	return nil
}

func (s *SQLiteStore) SweepStale(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET
			state       = CASE WHEN attempts >= max_attempts THEN ? ELSE ? END,
			finished_at = CASE WHEN attempts >= max_attempts THEN ? ELSE NULL END,
			last_error  = ?,
			available_at = ?
		WHERE state = ? AND claimed_at IS NOT NULL AND claimed_at < ?
		RETURNING id
	`, StateFailed, StatePending, nanos(now), staleError, nanos(now), StateRunning, nanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("sweep stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *SQLiteStore) Requeue(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempts = 0, available_at = ?, claimed_at = NULL, finished_at = NULL
		WHERE id = ? AND state = ?
	`, StatePending, nanos(now), id, StateFailed)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("requeue job %s: %w", id, ErrNotRetryable)
	}
	return nil
}

// List returns jobs ordered by created_at DESC with pagination, and the total count.
func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]*Job, int, error) {
	f = f.Normalize()

	var where []string
	var args []any
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var metadata sql.NullString
	var createdAt, availableAt int64
	var claimedAt, finishedAt sql.NullInt64

	if err := row.Scan(
		&j.ID, &j.ProjectID, &j.Type, &metadata, &j.State, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &createdAt, &availableAt, &claimedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	if metadata.Valid {
		j.Metadata = []byte(metadata.String)
	}
	j.CreatedAt = fromNanos(createdAt)
	j.AvailableAt = fromNanos(availableAt)
	if claimedAt.Valid {
		t := fromNanos(claimedAt.Int64)
		j.ClaimedAt = &t
	}
	if finishedAt.Valid {
		t := fromNanos(finishedAt.Int64)
		j.FinishedAt = &t
	}
	return j, nil
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// nullableJSON returns nil if b is empty, otherwise returns the raw bytes as a string.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
