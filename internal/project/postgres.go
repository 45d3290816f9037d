package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertProject(ctx context.Context, p *Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, title, source_language, target_language, content_rating, owner_age, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Title, p.SourceLanguage, p.TargetLanguage, p.ContentRating, p.OwnerAge, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert project %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, source_language, target_language, content_rating, owner_age, created_at
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.Title, &p.SourceLanguage, &p.TargetLanguage, &p.ContentRating, &p.OwnerAge, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) InsertPage(ctx context.Context, p *Page) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pages (id, project_id, number, image_path, rendered_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.ProjectID, p.Number, p.ImagePath, p.RenderedPath, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert page %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPage(ctx context.Context, id string) (*Page, error) {
	p := &Page{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, number, image_path, rendered_path, created_at
		FROM pages WHERE id = $1
	`, id).Scan(&p.ID, &p.ProjectID, &p.Number, &p.ImagePath, &p.RenderedPath, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) SetRenderedPath(ctx context.Context, pageID, path string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pages SET rendered_path = $1 WHERE id = $2`, path, pageID)
	if err != nil {
		return fmt.Errorf("set rendered path for page %s: %w", pageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ReplaceRegions(ctx context.Context, pageID string, regions []Region, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM text_regions WHERE page_id = $1`, pageID); err != nil {
		return fmt.Errorf("delete regions for page %s: %w", pageID, err)
	}
	batch := &pgx.Batch{}
	for i := range regions {
		r := prepareRegion(&regions[i], pageID, now)
		batch.Queue(`
			INSERT INTO text_regions (`+regionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			r.ID, r.PageID, r.ProjectID, r.Seq, r.SourceText, r.Confidence,
			r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height,
			r.TranslatedText, string(r.Status), r.ModerationReason, r.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert regions for page %s: %w", pageID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit regions for page %s: %w", pageID, err)
	}
	return nil
}

func (s *PostgresStore) Regions(ctx context.Context, pageID string) ([]Region, error) {
	return s.queryRegions(ctx, `SELECT `+regionColumns+` FROM text_regions
		WHERE page_id = $1 ORDER BY seq`, pageID)
}

func (s *PostgresStore) UntranslatedRegions(ctx context.Context, projectID string) ([]Region, error) {
	return s.queryRegions(ctx, `SELECT `+regionColumns+` FROM text_regions
		WHERE project_id = $1 AND status = $2 ORDER BY page_id, seq`, projectID, string(RegionPending))
}

func (s *PostgresStore) RenderableRegions(ctx context.Context, pageID string) ([]Region, error) {
	return s.queryRegions(ctx, `SELECT `+regionColumns+` FROM text_regions
		WHERE page_id = $1 AND status <> $2 ORDER BY seq`, pageID, string(RegionRejected))
}

func (s *PostgresStore) SaveTranslation(ctx context.Context, regionID string, t Translation, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE text_regions SET translated_text = $1, status = $2, moderation_reason = $3, updated_at = $4
		WHERE id = $5
	`, t.Text, string(t.Status), t.Reason, now.UTC(), regionID)
	if err != nil {
		return fmt.Errorf("save translation for region %s: %w", regionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("region %s: %w", regionID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) queryRegions(ctx context.Context, query string, args ...any) ([]Region, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	regions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Region, error) {
		var r Region
		var status string
		err := row.Scan(
			&r.ID, &r.PageID, &r.ProjectID, &r.Seq, &r.SourceText, &r.Confidence,
			&r.Box.X, &r.Box.Y, &r.Box.Width, &r.Box.Height,
			&r.TranslatedText, &status, &r.ModerationReason, &r.UpdatedAt,
		)
		r.Status = RegionStatus(status)
		r.UpdatedAt = r.UpdatedAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan regions: %w", err)
	}
	return regions, nil
}
