package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		project_id   TEXT NOT NULL,
		job_type     TEXT NOT NULL,
		metadata     JSONB,
		state        TEXT NOT NULL DEFAULT 'pending',
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		available_at TIMESTAMPTZ NOT NULL,
		claimed_at   TIMESTAMPTZ,
		finished_at  TIMESTAMPTZ,
		CHECK (max_attempts > 0),
		CHECK (attempts >= 0 AND attempts <= max_attempts)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim   ON jobs(state, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_claimed ON jobs(state, claimed_at);

	CREATE TABLE IF NOT EXISTS projects (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL DEFAULT '',
		source_language TEXT NOT NULL DEFAULT '',
		target_language TEXT NOT NULL DEFAULT '',
		content_rating  TEXT NOT NULL,
		owner_age       INTEGER,
		created_at      TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id),
		number        INTEGER NOT NULL DEFAULT 0,
		image_path    TEXT NOT NULL,
		rendered_path TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pages_project ON pages(project_id);

	CREATE TABLE IF NOT EXISTS text_regions (
		id                TEXT PRIMARY KEY,
		page_id           TEXT NOT NULL REFERENCES pages(id),
		project_id        TEXT NOT NULL,
		seq               INTEGER NOT NULL,
		source_text       TEXT NOT NULL,
		confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
		box_x             INTEGER NOT NULL DEFAULT 0,
		box_y             INTEGER NOT NULL DEFAULT 0,
		box_width         INTEGER NOT NULL DEFAULT 0,
		box_height        INTEGER NOT NULL DEFAULT 0,
		translated_text   TEXT,
		status            TEXT NOT NULL DEFAULT 'pending',
		moderation_reason TEXT NOT NULL DEFAULT '',
		updated_at        TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_regions_page    ON text_regions(page_id, seq);
	CREATE INDEX IF NOT EXISTS idx_regions_project ON text_regions(project_id, status);
`

// PostgresConfig mirrors the pool knobs exposed through configuration.
type PostgresConfig struct {
	URL              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// OpenPostgres creates a pgx pool, verifies connectivity and runs migrations.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "mangaflow"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("connected to postgres", "max_conns", pc.MaxConns)
	return pool, nil
}
