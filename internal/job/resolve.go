package job

import (
	"fmt"
	"slices"
	"time"
)

// prepareInsert fills defaults for a new job and rejects records that would
// violate the ledger invariants.
func prepareInsert(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("insert job: id must not be empty")
	}
	if j.MaxAttempts <= 0 {
		return fmt.Errorf("insert job %s: max_attempts must be > 0", j.ID)
	}
	if j.Attempts < 0 || j.Attempts > j.MaxAttempts {
		return fmt.Errorf("insert job %s: attempts %d outside [0, %d]", j.ID, j.Attempts, j.MaxAttempts)
	}
	if j.State == "" {
		j.State = StatePending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = j.CreatedAt
	}
	return nil
}

// resolved holds the column values a Resolve writes.
type resolved struct {
	state       State
	lastError   string
	availableAt time.Time
	finishedAt  *time.Time
}

func resolution(j *Job, o Outcome, now time.Time) (resolved, error) {
	if j.State != StateRunning {
		return resolved{}, fmt.Errorf("resolve job %s in state %s: %w", j.ID, j.State, ErrConflict)
	}
	next := Next(j, o)
	if !IsValidTransition(j.State, next) {
		return resolved{}, fmt.Errorf("resolve job %s: invalid transition %s -> %s", j.ID, j.State, next)
	}

	r := resolved{state: next, lastError: j.LastError, availableAt: j.AvailableAt}
	if o.Err != nil {
		r.lastError = o.Message()
	}
	switch next {
	case StatePending:
		r.availableAt = now
		if o.RetryAt.After(now) {
			r.availableAt = o.RetryAt
		}
	case StateDone, StateFailed:
		t := now.UTC()
		r.finishedAt = &t
	}
	return r, nil
}

func (r resolved) apply(j *Job) {
	j.State = r.state
	j.LastError = r.lastError
	j.AvailableAt = r.availableAt.UTC()
	j.FinishedAt = r.finishedAt
}

func sortOldestFirst(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
