package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mangaflow/mangaflow/internal/api"
	"github.com/mangaflow/mangaflow/internal/config"
	"github.com/mangaflow/mangaflow/internal/schedule"
	"github.com/mangaflow/mangaflow/internal/webhook"
)

func main() {
	once := flag.Bool("once", false, "process one batch of pending jobs and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("mangaflow", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Claims orphaned by a previous crash become claimable again.
	if cfg.StaleAfter > 0 {
		if _, err := a.dispatcher.Reconcile(ctx); err != nil {
			return err
		}
	}

	opts := schedule.Options{
		Timeout:       cfg.DispatchTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
		Logger:        logger,
	}
	var sender *webhook.Sender
	if cfg.ReportWebhookURL != "" {
		sender, err = webhook.New(cfg.ReportWebhookURL, logger)
		if err != nil {
			return err
		}
		opts.Notifier = sender
	}
	runner := schedule.NewRunner(a.dispatcher, opts)

	if once {
		report, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("one-shot invocation finished", "processed", report.Processed, "failed", report.Failed())
		if sender != nil {
			sender.Wait()
		}
		return nil
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if cfg.Translator == "claude" && !cfg.DisableKeepalive {
		newKeepalive(logger).ensure(ctx, cfg.ClaudePath)
	}

	scheduleDone := make(chan struct{})
	if cfg.Schedule != "" {
		go func() {
			defer close(scheduleDone)
			if err := runner.Start(ctx, cfg.Schedule); err != nil {
				logger.Error("schedule", "error", err)
			}
		}()
	} else {
		close(scheduleDone)
	}

	mux := http.NewServeMux()
	h := api.NewHandler(runner, a.jobs, a.moderator, a.ping, logger)
	h.RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestIDMiddleware,
		api.Logging(logger),
		api.Auth(cfg.APIKeys),
		api.RateLimit(cfg.RateLimitRPS, ctx.Done()),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DispatchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("mangaflow listening", "addr", cfg.ListenAddr, "db_driver", cfg.DBDriver, "schedule", cfg.Schedule)
	err = srv.ListenAndServe()
	// The schedule must release the database before the deferred close runs.
	stop()
	<-scheduleDone
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
