package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const regionColumns = `id, page_id, project_id, seq, source_text, confidence,
	box_x, box_y, box_width, box_height, translated_text, status, moderation_reason, updated_at`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) InsertProject(ctx context.Context, p *Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var ownerAge any
	if p.OwnerAge != nil {
		ownerAge = *p.OwnerAge
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, source_language, target_language, content_rating, owner_age, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Title, p.SourceLanguage, p.TargetLanguage, p.ContentRating, ownerAge, p.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert project %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	var ownerAge sql.NullInt64
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, source_language, target_language, content_rating, owner_age, created_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.SourceLanguage, &p.TargetLanguage, &p.ContentRating, &ownerAge, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	if ownerAge.Valid {
		age := int(ownerAge.Int64)
		p.OwnerAge = &age
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	return p, nil
}

func (s *SQLiteStore) InsertPage(ctx context.Context, p *Page) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, project_id, number, image_path, rendered_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.ProjectID, p.Number, p.ImagePath, p.RenderedPath, p.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert page %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPage(ctx context.Context, id string) (*Page, error) {
	p := &Page{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, number, image_path, rendered_path, created_at
		FROM pages WHERE id = ?
	`, id).Scan(&p.ID, &p.ProjectID, &p.Number, &p.ImagePath, &p.RenderedPath, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	return p, nil
}

func (s *SQLiteStore) SetRenderedPath(ctx context.Context, pageID, path string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pages SET rendered_path = ? WHERE id = ?`, path, pageID)
	if err != nil {
		return fmt.Errorf("set rendered path for page %s: %w", pageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ReplaceRegions(ctx context.Context, pageID string, regions []Region, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM text_regions WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("delete regions for page %s: %w", pageID, err)
	}
	for i := range regions {
		r := prepareRegion(&regions[i], pageID, now)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO text_regions (`+regionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.ID, r.PageID, r.ProjectID, r.Seq, r.SourceText, r.Confidence,
			r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height,
			r.TranslatedText, string(r.Status), r.ModerationReason, r.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert region %d for page %s: %w", r.Seq, pageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit regions for page %s: %w", pageID, err)
	}
	return nil
}

func (s *SQLiteStore) Regions(ctx context.Context, pageID string) ([]Region, error) {
	return s.queryRegions(ctx, `SELECT `+regionColumns+` FROM text_regions
		WHERE page_id = ? ORDER BY seq`, pageID)
}

func (s *SQLiteStore) UntranslatedRegions(ctx context.Context, projectID string) ([]Region, error) {
	return s.queryRegions(ctx, `SELECT `+regionColumns+` FROM text_regions
		WHERE project_id = ? AND status = ? ORDER BY page_id, seq`, projectID, string(RegionPending))
}

func (s *SQLiteStore) RenderableRegions(ctx context.Context, pageID string) ([]Region, error) {
	return s.queryRegions(ctx, `SELECT `+regionColumns+` FROM text_regions
		WHERE page_id = ? AND status != ? ORDER BY seq`, pageID, string(RegionRejected))
}

func (s *SQLiteStore) SaveTranslation(ctx context.Context, regionID string, t Translation, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE text_regions SET translated_text = ?, status = ?, moderation_reason = ?, updated_at = ?
		WHERE id = ?
	`, t.Text, string(t.Status), t.Reason, now.UnixNano(), regionID)
	if err != nil {
		return fmt.Errorf("save translation for region %s: %w", regionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("region %s: %w", regionID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) queryRegions(ctx context.Context, query string, args ...any) ([]Region, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	defer rows.Close()

	var regions []Region
	for rows.Next() {
		var r Region
		var translated sql.NullString
		var updatedAt int64
		if err := rows.Scan(
			&r.ID, &r.PageID, &r.ProjectID, &r.Seq, &r.SourceText, &r.Confidence,
			&r.Box.X, &r.Box.Y, &r.Box.Width, &r.Box.Height,
			&translated, &r.Status, &r.ModerationReason, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		if translated.Valid {
			r.TranslatedText = &translated.String
		}
		r.UpdatedAt = time.Unix(0, updatedAt).UTC()
		regions = append(regions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}
	return regions, nil
}

// prepareRegion fills the fields a stored region must carry and returns it.
func prepareRegion(r *Region, pageID string, now time.Time) *Region {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.PageID = pageID
	if r.Status == "" {
		r.Status = RegionPending
	}
	r.UpdatedAt = now.UTC()
	return r
}
