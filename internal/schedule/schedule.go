// Package schedule wraps dispatcher invocations with a wall-clock ceiling,
// an optional cron trigger and report delivery.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/mangaflow/mangaflow/internal/dispatch"
)

// Processor runs one dispatch invocation.
type Processor interface {
	ProcessPendingJobs(ctx context.Context) (*dispatch.Report, error)
}

// Notifier receives each non-empty report.
type Notifier interface {
	Send(ctx context.Context, v any) error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression or a descriptor such as "@every 5m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

type Options struct {
	// Timeout is the wall-clock ceiling of one invocation. Zero means none.
	Timeout time.Duration
	// MaxConcurrent caps overlapping invocations; callers beyond it wait. Default 1.
	MaxConcurrent int
	Notifier      Notifier
	Logger        *slog.Logger
}

type Runner struct {
	proc     Processor
	timeout  time.Duration
	sem      *semaphore.Weighted
	notifier Notifier
	logger   *slog.Logger
}

func NewRunner(proc Processor, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Runner{
		proc:     proc,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// RunOnce performs a single invocation under the configured ceiling.
func (r *Runner) RunOnce(ctx context.Context) (*dispatch.Report, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for dispatch slot: %w", err)
	}
	defer r.sem.Release(1)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	report, err := r.proc.ProcessPendingJobs(runCtx)
	if err != nil {
		r.logger.Error("dispatch invocation failed", "error", err)
		return nil, err
	}
	if r.notifier != nil && report.Processed > 0 {
		if err := r.notifier.Send(context.WithoutCancel(ctx), report); err != nil {
			r.logger.Warn("report webhook not sent", "error", err)
		}
	}
	return report, nil
}

// Start triggers RunOnce on the cron expression until ctx is done. A tick that fires while
// the previous one is still running is skipped. Start blocks and waits for
// the in-flight invocation before returning.
func (r *Runner) Start(ctx context.Context, spec string) error {
	if _, err := ParseSchedule(spec); err != nil {
		return err
	}
	logger := cronLogger{r.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("add schedule: %w", err)
	}

	r.logger.Info("dispatch schedule started", "schedule", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("dispatch schedule stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
