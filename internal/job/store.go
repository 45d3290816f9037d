package job

import (
	"context"
	"time"
)

// Ledger is the surface the dispatcher uses. Every method is atomic per row.
type Ledger interface {
	// Claim moves up to limit eligible pending jobs to running, incrementing
	// attempts, and returns them oldest first. Eligible means attempts below the
	// row's own max_attempts and available_at not after now. An empty result is not an error.
	Claim(ctx context.Context, limit int, now time.Time) ([]*Job, error)
	// Resolve records the outcome of the attempt j was claimed for and updates j
	// in place. It returns ErrConflict if the row is no longer running at that attempt.
	Resolve(ctx context.Context, j *Job, o Outcome, now time.Time) error
	// SweepStale requeues (or fails, at the attempt ceiling) jobs left running
	// with a claim older than cutoff and returns their IDs.
	SweepStale(ctx context.Context, cutoff, now time.Time) ([]string, error)
}

// Store is the full persistence surface, including operator operations.
type Store interface {
	Ledger
	Insert(ctx context.Context, j *Job) error
	// Get returns ErrNotFound when no job has the given id.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns a page of jobs ordered by created_at DESC, plus the total count.
	List(ctx context.Context, f ListFilter) ([]*Job, int, error)
	// Requeue resets a failed job to pending with zero attempts.
	Requeue(ctx context.Context, id string, now time.Time) error
	Close() error
}

// staleError is recorded as lastError by SweepStale.
const staleError = "claim expired before the job was resolved"

// Normalize applies the default page size and clamps limit and offset.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
