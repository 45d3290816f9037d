package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool. Claims use
// FOR UPDATE SKIP LOCKED so concurrent dispatchers never block on each other's batch.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a pool opened with storage.OpenPostgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, j *Job) error {
	if err := prepareInsert(j); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, project_id, job_type, metadata, state, attempts, max_attempts, last_error, created_at, available_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		j.ID,
		j.ProjectID,
		string(j.Type),
		nullableBytes(j.Metadata),
		string(j.State),
		j.Attempts,
		j.MaxAttempts,
		j.LastError,
		j.CreatedAt.UTC(),
		j.AvailableAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *PostgresStore) Claim(ctx context.Context, limit int, now time.Time) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET state = $1, attempts = attempts + 1, claimed_at = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = $3 AND attempts < max_attempts AND available_at <= $2
			ORDER BY created_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(StateRunning), now.UTC(), string(StatePending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanPostgresJob(rows)
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

func (s *PostgresStore) Resolve(ctx context.Context, j *Job, o Outcome, now time.Time) error {
	r, err := resolution(j, o, now)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $1, last_error = $2, available_at = $3, finished_at = $4
		WHERE id = $5 AND state = $6 AND attempts = $7
	`, string(r.state), r.lastError, r.availableAt.UTC(), r.finishedAt, j.ID, string(StateRunning), j.Attempts)
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve job %s attempt %d: %w", j.ID, j.Attempts, ErrConflict)
	}
	r.apply(j)
	return nil
}

func (s *PostgresStore) SweepStale(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET
			state        = CASE WHEN attempts >= max_attempts THEN $1::text ELSE $2::text END,
			finished_at  = CASE WHEN attempts >= max_attempts THEN $3::timestamptz ELSE NULL END,
			last_error   = $4,
			available_at = $3
		WHERE state = $5 AND claimed_at IS NOT NULL AND claimed_at < $6
		RETURNING id
	`, string(StateFailed), string(StatePending), now.UTC(), staleError, string(StateRunning), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("sweep stale jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("sweep stale jobs: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *PostgresStore) Requeue(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $1, attempts = 0, available_at = $2, claimed_at = NULL, finished_at = NULL
		WHERE id = $3 AND state = $4
	`, string(StatePending), now.UTC(), id, string(StateFailed))
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("requeue job %s: %w", id, ErrNotRetryable)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Job, int, error) {
	f = f.Normalize()

	var where []string
	var args []any
	if f.State != "" {
		args = append(args, string(f.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page := fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs`+clause+page, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanPostgresJob(rows)
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

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var jobType, state string
	var metadata []byte
	if err := row.Scan(
		&j.ID, &j.ProjectID, &jobType, &metadata, &state, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.CreatedAt, &j.AvailableAt, &j.ClaimedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}
	j.Type = Type(jobType)
	j.State = State(state)
	if len(metadata) > 0 {
		j.Metadata = metadata
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.AvailableAt = j.AvailableAt.UTC()
	if j.ClaimedAt != nil {
		t := j.ClaimedAt.UTC()
		j.ClaimedAt = &t
	}
	if j.FinishedAt != nil {
		t := j.FinishedAt.UTC()
		j.FinishedAt = &t
	}
	return j, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
