package project

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/mangaflow/mangaflow/internal/storage"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("MANGAFLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MANGAFLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := storage.OpenPostgres(ctx, storage.PostgresConfig{URL: url}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(pool.Close)

	runStoreTests(t, func(t *testing.T) Store {
		if _, err := pool.Exec(ctx, `TRUNCATE text_regions, pages, projects`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewPostgresStore(pool)
	})
}
