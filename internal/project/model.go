// Package project holds the content catalog the pipeline handlers read and
// write: projects, their pages, and the text regions extracted from each page.
package project

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Project struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	// ContentRating is stored as given and validated by the moderation engine.
	ContentRating string    `json:"content_rating"`
	OwnerAge      *int      `json:"owner_age,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Page struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Number       int       `json:"number"`
	ImagePath    string    `json:"image_path"`
	RenderedPath string    `json:"rendered_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// BoundingBox is a region's position in pixel units.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type RegionStatus string

const (
	RegionPending     RegionStatus = "pending"
	RegionTranslated  RegionStatus = "translated"
	RegionNeedsReview RegionStatus = "needs_review"
	RegionFlagged     RegionStatus = "flagged"
	RegionRejected    RegionStatus = "rejected"
)

// Region is one block of text extracted from a page.
type Region struct {
	ID               string       `json:"id"`
	PageID           string       `json:"page_id"`
	ProjectID        string       `json:"project_id"`
	Seq              int          `json:"seq"`
	SourceText       string       `json:"source_text"`
	Confidence       float64      `json:"confidence"`
	Box              BoundingBox  `json:"bounding_box"`
	TranslatedText   *string      `json:"translated_text,omitempty"`
	Status           RegionStatus `json:"status"`
	ModerationReason string       `json:"moderation_reason,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Translation is the moderated result written back to a region.
// A nil Text clears any stored translation.
type Translation struct {
	Text   *string
	Status RegionStatus
	Reason string
}

type Store interface {
	InsertProject(ctx context.Context, p *Project) error
	// GetProject returns ErrNotFound if no project has the given id.
	GetProject(ctx context.Context, id string) (*Project, error)
	InsertPage(ctx context.Context, p *Page) error
	// GetPage returns ErrNotFound if no page has the given id.
	GetPage(ctx context.Context, id string) (*Page, error)
	SetRenderedPath(ctx context.Context, pageID, path string) error

	// ReplaceRegions atomically swaps the page's regions for the given set.
	// Empty region IDs are assigned.
	ReplaceRegions(ctx context.Context, pageID string, regions []Region, now time.Time) error
	// Regions returns every region of a page in reading order.
	Regions(ctx context.Context, pageID string) ([]Region, error)
	// UntranslatedRegions returns the project's pending regions ordered by page and sequence.
	UntranslatedRegions(ctx context.Context, projectID string) ([]Region, error)
	// RenderableRegions returns the page's regions that were not rejected.
	RenderableRegions(ctx context.Context, pageID string) ([]Region, error)
	SaveTranslation(ctx context.Context, regionID string, t Translation, now time.Time) error
}
