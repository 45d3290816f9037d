package job

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/mangaflow/mangaflow/internal/storage"
)

// TestPostgresStore runs against a disposable database named by
// MANGAFLOW_TEST_DATABASE_URL. The jobs table is truncated for every subtest.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("MANGAFLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MANGAFLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool, err := storage.OpenPostgres(ctx, storage.PostgresConfig{URL: url, MaxConns: 8}, logger)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(pool.Close)

	runStoreTests(t, func(t *testing.T) Store {
		if _, err := pool.Exec(ctx, `TRUNCATE jobs`); err != nil {
			t.Fatalf("truncate jobs: %v", err)
		}
		return NewPostgresStore(pool)
	})
}
