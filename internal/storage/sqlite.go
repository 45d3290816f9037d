package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteSchema holds every table used by the ledger and the content catalog.
// Timestamps are stored as unix nanoseconds so range predicates compare numerically.
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		project_id   TEXT NOT NULL,
		job_type     TEXT NOT NULL,
		metadata     TEXT,
		state        TEXT NOT NULL DEFAULT 'pending',
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error   TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		available_at INTEGER NOT NULL,
		claimed_at   INTEGER,
		finished_at  INTEGER,
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
		created_at      INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id),
		number        INTEGER NOT NULL DEFAULT 0,
		image_path    TEXT NOT NULL,
		rendered_path TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pages_project ON pages(project_id);

	CREATE TABLE IF NOT EXISTS text_regions (
		id                TEXT PRIMARY KEY,
		page_id           TEXT NOT NULL REFERENCES pages(id),
		project_id        TEXT NOT NULL,
		seq               INTEGER NOT NULL,
		source_text       TEXT NOT NULL,
		confidence        REAL NOT NULL DEFAULT 0,
		box_x             INTEGER NOT NULL DEFAULT 0,
		box_y             INTEGER NOT NULL DEFAULT 0,
		box_width         INTEGER NOT NULL DEFAULT 0,
		box_height        INTEGER NOT NULL DEFAULT 0,
		translated_text   TEXT,
		status            TEXT NOT NULL DEFAULT 'pending',
		moderation_reason TEXT NOT NULL DEFAULT '',
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_regions_page    ON text_regions(page_id, seq);
	CREATE INDEX IF NOT EXISTS idx_regions_project ON text_regions(project_id, status);
`

// OpenSQLite opens (or creates) the SQLite database at path and runs migrations.
// The pool is limited to a single connection: SQLite serializes writers anyway and
// ":memory:" databases exist per connection.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err = db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// sqliteDSN adds WAL and busy timeout pragmas for file databases so every
// connection the driver opens gets them.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
