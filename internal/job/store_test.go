package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func makeJob(id string, typ Type, created time.Time) *Job {
	return &Job{
		ID:          id,
		ProjectID:   "proj-1",
		Type:        typ,
		Metadata:    []byte(`{"page_id":"page-1"}`),
		MaxAttempts: 3,
		CreatedAt:   created,
	}
}

func insertJobs(t *testing.T, s Store, jobs ...*Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.Insert(context.Background(), j); err != nil {
			t.Fatalf("Insert(%s): %v", j.ID, err)
		}
	}
}

func claimOne(t *testing.T, s Store, now time.Time) *Job {
	t.Helper()
	jobs, err := s.Claim(context.Background(), 1, now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Claim returned %d jobs, want 1", len(jobs))
	}
	return jobs[0]
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

// runStoreTests exercises the Store contract against any backend. newStore
// must return an empty store.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("InsertAndGet", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s, makeJob("job-1", TypeOCR, t0))

		got, err := s.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != StatePending || got.Attempts != 0 || got.MaxAttempts != 3 {
			t.Errorf("got state=%s attempts=%d max=%d", got.State, got.Attempts, got.MaxAttempts)
		}
		if got.Type != TypeOCR || got.ProjectID != "proj-1" {
			t.Errorf("got type=%s project=%s", got.Type, got.ProjectID)
		}
		if !got.CreatedAt.Equal(t0) || !got.AvailableAt.Equal(t0) {
			t.Errorf("created=%v available=%v, want %v", got.CreatedAt, got.AvailableAt, t0)
		}
		if got.ClaimedAt != nil || got.FinishedAt != nil {
			t.Error("new job should have no claim or finish time")
		}
		m, err := got.DecodeMetadata()
		if err != nil || m.PageID != "page-1" {
			t.Errorf("metadata = %+v, %v", m, err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("InsertRejectsZeroMaxAttempts", func(t *testing.T) {
		s := newStore(t)
		j := makeJob("job-1", TypeOCR, t0)
		j.MaxAttempts = 0
		if err := s.Insert(ctx, j); err == nil {
			t.Error("expected error for max_attempts 0")
		}
	})

	t.Run("ClaimOldestFirstUpToLimit", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s,
			makeJob("c", TypeOCR, t0.Add(3*time.Second)),
			makeJob("a", TypeOCR, t0.Add(1*time.Second)),
			makeJob("d", TypeOCR, t0.Add(4*time.Second)),
			makeJob("b", TypeOCR, t0.Add(2*time.Second)),
		)
		now := t0.Add(time.Minute)
		jobs, err := s.Claim(ctx, 3, now)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if got := fmt.Sprint(ids(jobs)); got != "[a b c]" {
			t.Fatalf("claimed %s, want [a b c]", got)
		}
		for _, j := range jobs {
			if j.State != StateRunning || j.Attempts != 1 {
				t.Errorf("%s: state=%s attempts=%d", j.ID, j.State, j.Attempts)
			}
			if j.ClaimedAt == nil || !j.ClaimedAt.Equal(now) {
				t.Errorf("%s: claimed_at = %v, want %v", j.ID, j.ClaimedAt, now)
			}
		}

		rest, err := s.Claim(ctx, 3, now)
		if err != nil {
			t.Fatalf("second Claim: %v", err)
		}
		if got := fmt.Sprint(ids(rest)); got != "[d]" {
			t.Errorf("second claim %s, want [d]", got)
		}
	})

	t.Run("ClaimEmpty", func(t *testing.T) {
		s := newStore(t)
		jobs, err := s.Claim(ctx, 5, t0)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("claimed %d jobs from empty store", len(jobs))
		}
		if jobs, err := s.Claim(ctx, 0, t0); err != nil || len(jobs) != 0 {
			t.Errorf("Claim(0) = %v, %v", jobs, err)
		}
	})

	t.Run("ClaimSkipsExhaustedAndDelayed", func(t *testing.T) {
		s := newStore(t)
		exhausted := makeJob("exhausted", TypeOCR, t0)
		exhausted.Attempts = 3
		delayed := makeJob("delayed", TypeOCR, t0)
		delayed.AvailableAt = t0.Add(time.Hour)
		tight := makeJob("tight", TypeOCR, t0)
		tight.MaxAttempts = 1
		insertJobs(t, s, exhausted, delayed, tight)

		jobs, err := s.Claim(ctx, 10, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if got := fmt.Sprint(ids(jobs)); got != "[tight]" {
			t.Fatalf("claimed %s, want [tight]", got)
		}

		jobs, err = s.Claim(ctx, 10, t0.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("Claim later: %v", err)
		}
		if got := fmt.Sprint(ids(jobs)); got != "[delayed]" {
			t.Errorf("claimed %s after delay, want [delayed]", got)
		}
	})

	t.Run("ResolveSuccess", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s, makeJob("job-1", TypeOCR, t0))
		j := claimOne(t, s, t0)

		done := t0.Add(5 * time.Second)
		if err := s.Resolve(ctx, j, Outcome{}, done); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		got, _ := s.Get(ctx, "job-1")
		if got.State != StateDone || got.LastError != "" {
			t.Errorf("state=%s last_error=%q", got.State, got.LastError)
		}
		if got.FinishedAt == nil || !got.FinishedAt.Equal(done) {
			t.Errorf("finished_at = %v, want %v", got.FinishedAt, done)
		}
		if j.State != StateDone {
			t.Errorf("Resolve did not update the passed job: %s", j.State)
		}
	})

	t.Run("ResolveRetryableFailure", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s, makeJob("job-1", TypeOCR, t0))
		j := claimOne(t, s, t0)

		retryAt := t0.Add(30 * time.Second)
		err := s.Resolve(ctx, j, Outcome{Err: errors.New("tesseract timeout"), RetryAt: retryAt}, t0.Add(time.Second))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		got, _ := s.Get(ctx, "job-1")
		if got.State != StatePending || got.Attempts != 1 {
			t.Errorf("state=%s attempts=%d, want pending/1", got.State, got.Attempts)
		}
		if got.LastError != "tesseract timeout" {
			t.Errorf("last_error = %q", got.LastError)
		}
		if !got.AvailableAt.Equal(retryAt) {
			t.Errorf("available_at = %v, want %v", got.AvailableAt, retryAt)
		}
		if jobs, _ := s.Claim(ctx, 1, t0.Add(10*time.Second)); len(jobs) != 0 {
			t.Error("job claimed before its retry time")
		}
		if again := claimOne(t, s, retryAt); again.Attempts != 2 {
			t.Errorf("attempts after reclaim = %d, want 2", again.Attempts)
		}
	})

	t.Run("ResolveExhaustsAttempts", func(t *testing.T) {
		s := newStore(t)
		j := makeJob("job-1", TypeOCR, t0)
		j.MaxAttempts = 2
		insertJobs(t, s, j)

		for i := 1; i <= 2; i++ {
			c := claimOne(t, s, t0)
			if err := s.Resolve(ctx, c, Outcome{Err: fmt.Errorf("fail %d", i)}, t0); err != nil {
				t.Fatalf("Resolve %d: %v", i, err)
			}
		}
		got, _ := s.Get(ctx, "job-1")
		if got.State != StateFailed || got.Attempts != 2 || got.LastError != "fail 2" {
			t.Errorf("state=%s attempts=%d last_error=%q", got.State, got.Attempts, got.LastError)
		}
		if got.FinishedAt == nil {
			t.Error("failed job should have finished_at")
		}
		if jobs, _ := s.Claim(ctx, 1, t0.Add(time.Hour)); len(jobs) != 0 {
			t.Error("failed job was claimed again")
		}
	})

	t.Run("ResolvePermanentFailure", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s, makeJob("job-1", TypeOCR, t0))
		j := claimOne(t, s, t0)
		if err := s.Resolve(ctx, j, Outcome{Err: Permanent(errors.New("page missing"))}, t0); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		got, _ := s.Get(ctx, "job-1")
		if got.State != StateFailed || got.Attempts != 1 {
			t.Errorf("state=%s attempts=%d, want failed/1", got.State, got.Attempts)
		}
	})

	t.Run("ResolveConflict", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s, makeJob("job-1", TypeOCR, t0))
		j := claimOne(t, s, t0)
		stale := *j

		if err := s.Resolve(ctx, j, Outcome{}, t0); err != nil {
			t.Fatalf("first Resolve: %v", err)
		}
		err := s.Resolve(ctx, &stale, Outcome{Err: errors.New("late")}, t0)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("second Resolve error = %v, want ErrConflict", err)
		}
		got, _ := s.Get(ctx, "job-1")
		if got.State != StateDone {
			t.Errorf("stale resolve overwrote state: %s", got.State)
		}
	})

	t.Run("ResolveRequiresRunning", func(t *testing.T) {
		s := newStore(t)
		j := makeJob("job-1", TypeOCR, t0)
		insertJobs(t, s, j)
		if err := s.Resolve(ctx, j, Outcome{}, t0); !errors.Is(err, ErrConflict) {
			t.Errorf("Resolve(pending) error = %v, want ErrConflict", err)
		}
	})

	t.Run("SweepStale", func(t *testing.T) {
		s := newStore(t)
		last := makeJob("last", TypeOCR, t0)
		last.MaxAttempts = 1
		insertJobs(t, s, makeJob("old", TypeOCR, t0), last, makeJob("fresh", TypeOCR, t0.Add(time.Second)))

		if _, err := s.Claim(ctx, 2, t0); err != nil {
			t.Fatalf("Claim old: %v", err)
		}
		if _, err := s.Claim(ctx, 1, t0.Add(10*time.Minute)); err != nil {
			t.Fatalf("Claim fresh: %v", err)
		}

		now := t0.Add(11 * time.Minute)
		swept, err := s.SweepStale(ctx, t0.Add(5*time.Minute), now)
		if err != nil {
			t.Fatalf("SweepStale: %v", err)
		}
		if got := fmt.Sprint(swept); got != "[last old]" {
			t.Fatalf("swept %s, want [last old]", got)
		}

		old, _ := s.Get(ctx, "old")
		if old.State != StatePending || old.LastError != staleError {
			t.Errorf("old: state=%s last_error=%q", old.State, old.LastError)
		}
		exhausted, _ := s.Get(ctx, "last")
		if exhausted.State != StateFailed || exhausted.FinishedAt == nil {
			t.Errorf("last: state=%s finished=%v", exhausted.State, exhausted.FinishedAt)
		}
		fresh, _ := s.Get(ctx, "fresh")
		if fresh.State != StateRunning {
			t.Errorf("fresh: state=%s, want running", fresh.State)
		}
	})

	t.Run("Requeue", func(t *testing.T) {
		s := newStore(t)
		j := makeJob("job-1", TypeOCR, t0)
		j.MaxAttempts = 1
		insertJobs(t, s, j, makeJob("job-2", TypeOCR, t0))

		c := claimOne(t, s, t0)
		if err := s.Resolve(ctx, c, Outcome{Err: errors.New("boom")}, t0); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		later := t0.Add(time.Hour)
		if err := s.Requeue(ctx, "job-1", later); err != nil {
			t.Fatalf("Requeue: %v", err)
		}
		got, _ := s.Get(ctx, "job-1")
		if got.State != StatePending || got.Attempts != 0 || got.FinishedAt != nil {
			t.Errorf("after requeue: state=%s attempts=%d finished=%v", got.State, got.Attempts, got.FinishedAt)
		}
		if !got.AvailableAt.Equal(later) {
			t.Errorf("available_at = %v, want %v", got.AvailableAt, later)
		}

		if err := s.Requeue(ctx, "job-2", later); !errors.Is(err, ErrNotRetryable) {
			t.Errorf("Requeue(pending) error = %v, want ErrNotRetryable", err)
		}
		if err := s.Requeue(ctx, "missing", later); !errors.Is(err, ErrNotFound) {
			t.Errorf("Requeue(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		s := newStore(t)
		other := makeJob("j3", TypeRender, t0.Add(3*time.Second))
		other.ProjectID = "proj-2"
		insertJobs(t, s,
			makeJob("j1", TypeOCR, t0.Add(1*time.Second)),
			makeJob("j2", TypeTranslate, t0.Add(2*time.Second)),
			other,
		)
		if _, err := s.Claim(ctx, 1, t0.Add(time.Minute)); err != nil {
			t.Fatalf("Claim: %v", err)
		}

		all, total, err := s.List(ctx, ListFilter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total != 3 || fmt.Sprint(ids(all)) != "[j3 j2 j1]" {
			t.Errorf("List = %v total %d", ids(all), total)
		}

		pending, total, _ := s.List(ctx, ListFilter{State: StatePending})
		if total != 2 || fmt.Sprint(ids(pending)) != "[j3 j2]" {
			t.Errorf("pending = %v total %d", ids(pending), total)
		}

		byProject, total, _ := s.List(ctx, ListFilter{ProjectID: "proj-2"})
		if total != 1 || fmt.Sprint(ids(byProject)) != "[j3]" {
			t.Errorf("proj-2 = %v total %d", ids(byProject), total)
		}

		paged, total, _ := s.List(ctx, ListFilter{Limit: 1, Offset: 1})
		if total != 3 || fmt.Sprint(ids(paged)) != "[j2]" {
			t.Errorf("page = %v total %d", ids(paged), total)
		}
	})

	t.Run("UnknownTypeIsStoredAndClaimable", func(t *testing.T) {
		s := newStore(t)
		insertJobs(t, s, makeJob("weird", Type("unknown_type"), t0))
		j := claimOne(t, s, t0)
		if j.Type.Valid() {
			t.Errorf("type %q reported valid", j.Type)
		}
	})

	t.Run("ConcurrentClaimsAreDisjoint", func(t *testing.T) {
		s := newStore(t)
		const n = 60
		for i := range n {
			insertJobs(t, s, makeJob(fmt.Sprintf("job-%02d", i), TypeOCR, t0.Add(time.Duration(i)*time.Millisecond)))
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var g errgroup.Group
		for range 8 {
			g.Go(func() error {
				for {
					jobs, err := s.Claim(ctx, 4, t0.Add(time.Minute))
					if err != nil {
						return err
					}
					if len(jobs) == 0 {
						return nil
					}
					mu.Lock()
					for _, j := range jobs {
						seen[j.ID]++
					}
					mu.Unlock()
				}
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent Claim: %v", err)
		}
		if len(seen) != n {
			t.Errorf("claimed %d distinct jobs, want %d", len(seen), n)
		}
		for id, count := range seen {
			if count != 1 {
				t.Errorf("job %s claimed %d times", id, count)
			}
		}
	})
}
