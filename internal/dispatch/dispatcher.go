// Package dispatch claims pending jobs from the ledger, routes each to its
// handler and records the outcome. One call is one finite batch pass.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mangaflow/mangaflow/internal/job"
)

// ResolveTimeout bounds the ledger write that records an outcome. It runs
// detached from the invocation deadline, so a claim can outlive that deadline
// by up to this long.
const ResolveTimeout = 5 * time.Second

type Config struct {
	// BatchSize is the maximum number of jobs claimed per invocation.
	BatchSize int
	Backoff   Backoff
	// StaleAfter is how long a claim may stay running before reconciliation
	// requeues it. Zero disables the sweep. It must exceed the longest
	// invocation plus ResolveTimeout, or a live job can be claimed twice.
	StaleAfter time.Duration
	// HandlerTimeout bounds each handler call. Zero leaves only the caller's deadline.
	HandlerTimeout time.Duration
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is the per-job line of a Report.
type Result struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes one invocation. Processed counts claimed jobs.
type Report struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results,omitempty"`
}

// Failed returns the number of jobs that did not succeed.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != StatusSuccess {
			n++
		}
	}
	return n
}

type Dispatcher struct {
	ledger   job.Ledger
	registry *Registry
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(ledger job.Ledger, registry *Registry, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Dispatcher{
		ledger:   ledger,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPendingJobs reconciles stale claims, claims a batch and runs it.
// A ledger error before any job is claimed is returned as is; per-job
// failures only appear in the report.
func (d *Dispatcher) ProcessPendingJobs(ctx context.Context) (*Report, error) {
	start := time.Now()
	if d.cfg.StaleAfter > 0 {
		if _, err := d.Reconcile(ctx); err != nil {
			return nil, err
		}
	}

	jobs, err := d.ClaimBatch(ctx)
	if err != nil {
		return nil, err
	}
	report := d.RunBatch(ctx, jobs)

	if report.Processed > 0 {
		d.logger.Info("batch processed",
			"processed", report.Processed,
			"failed", report.Failed(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return report, nil
}

// ClaimBatch claims up to BatchSize eligible jobs, oldest first.
func (d *Dispatcher) ClaimBatch(ctx context.Context) ([]*job.Job, error) {
	jobs, err := d.ledger.Claim(ctx, d.cfg.BatchSize, d.now())
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return jobs, nil
}

// RunBatch executes claimed jobs sequentially. Jobs not started before ctx
// ends stay running and are requeued by a later Reconcile.
func (d *Dispatcher) RunBatch(ctx context.Context, jobs []*job.Job) *Report {
	report := &Report{Processed: len(jobs)}
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("job left running: invocation ended before it started",
				"job_id", j.ID, "job_type", j.Type, "error", err)
			report.Results = append(report.Results, Result{
				JobID:  j.ID,
				Status: StatusFailed,
				Error:  "not started: " + err.Error(),
			})
			continue
		}
		report.Results = append(report.Results, d.runOne(ctx, j))
	}
	return report
}

// Reconcile requeues claims older than StaleAfter.
func (d *Dispatcher) Reconcile(ctx context.Context) ([]string, error) {
	now := d.now()
	ids, err := d.ledger.SweepStale(ctx, now.Add(-d.cfg.StaleAfter), now)
	if err != nil {
		return nil, fmt.Errorf("sweep stale jobs: %w", err)
	}
	if len(ids) > 0 {
		d.logger.Warn("requeued stale jobs", "count", len(ids), "job_ids", ids)
	}
	return ids, nil
}

func (d *Dispatcher) runOne(ctx context.Context, j *job.Job) Result {
	start := time.Now()
	herr := d.execute(ctx, j)

	now := d.now()
	outcome := job.Outcome{Err: herr}
	if herr != nil && !job.IsPermanent(herr) && j.Attempts < j.MaxAttempts {
		if delay := d.cfg.Backoff.Delay(j.Attempts); delay > 0 {
			outcome.RetryAt = now.Add(delay)
		}
	}

	// The resolve must land even if the invocation deadline just passed.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ResolveTimeout)
	defer cancel()
	rerr := d.ledger.Resolve(rctx, j, outcome, now)

	attrs := []any{
		"job_id", j.ID,
		"job_type", j.Type,
		"project_id", j.ProjectID,
		"attempt", j.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch {
	case rerr != nil:
		level := slog.LevelError
		if errors.Is(rerr, job.ErrConflict) {
			level = slog.LevelWarn
		}
		d.logger.Log(ctx, level, "resolve job failed", append(attrs, "handler_error", errString(herr), "error", rerr)...)
		msg := "resolve: " + rerr.Error()
		if herr != nil {
			msg = outcome.Message() + "; " + msg
		}
		return Result{JobID: j.ID, Status: StatusFailed, Error: msg}
	case herr != nil:
		d.logger.Warn("job failed", append(attrs, "state", j.State, "error", herr)...)
		return Result{JobID: j.ID, Status: StatusFailed, Error: outcome.Message()}
	default:
		d.logger.Info("job done", attrs...)
		return Result{JobID: j.ID, Status: StatusSuccess}
	}
}

// execute routes j to its handler. Unknown types and panics become ordinary
// failures. The handler gets a copy so it cannot disturb the resolve.
func (d *Dispatcher) execute(ctx context.Context, j *job.Job) (err error) {
	h, err := d.registry.Lookup(j.Type)
	if err != nil {
		return err
	}
	if d.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	jc := *j
	return h.Handle(ctx, &jc)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
