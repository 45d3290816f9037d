// Package pipeline implements the OCR, translate and render job handlers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mangaflow/mangaflow/internal/blob"
	"github.com/mangaflow/mangaflow/internal/job"
	"github.com/mangaflow/mangaflow/internal/moderation"
	"github.com/mangaflow/mangaflow/internal/ocr"
	"github.com/mangaflow/mangaflow/internal/project"
	"github.com/mangaflow/mangaflow/internal/render"
	"github.com/mangaflow/mangaflow/internal/translate"
)

// Recognizer is satisfied by *ocr.Service.
type Recognizer interface {
	Perform(ctx context.Context, image []byte, engineName string, opts ocr.Options) ([]ocr.Result, error)
}

// Moderator is satisfied by *moderation.Engine.
type Moderator interface {
	Moderate(req moderation.Request) moderation.Result
}

// loadPage resolves the page named by the job's metadata and checks that it
// belongs to the job's project.
func loadPage(ctx context.Context, store project.Store, j *job.Job) (*project.Page, error) {
	meta, err := ValidateMetadata(j)
	if err != nil {
		return nil, err
	}
	page, err := store.GetPage(ctx, meta.PageID)
	if errors.Is(err, project.ErrNotFound) {
		return nil, job.Permanent(err)
	}
	if err != nil {
		return nil, err
	}
	if page.ProjectID != j.ProjectID {
		return nil, job.Permanent(fmt.Errorf("page %s belongs to project %s, not %s", page.ID, page.ProjectID, j.ProjectID))
	}
	return page, nil
}

// OCRHandler extracts text regions from a page image and replaces the page's
// stored regions with them.
type OCRHandler struct {
	Projects project.Store
	Blobs    blob.Store
	OCR      Recognizer
	Engine   string
	Language string
	Logger   *slog.Logger
	Now      func() time.Time
}

func (h *OCRHandler) Handle(ctx context.Context, j *job.Job) error {
	page, err := loadPage(ctx, h.Projects, j)
	if err != nil {
		return err
	}
	img, err := h.Blobs.Read(ctx, page.ImagePath)
	if err != nil {
		return fmt.Errorf("load image for page %s: %w", page.ID, err)
	}

	results, err := h.OCR.Perform(ctx, img, h.Engine, ocr.Options{Language: h.Language})
	if err != nil {
		return err
	}

	regions := make([]project.Region, 0, len(results))
	for _, r := range results {
		if r.Text == "" {
			continue
		}
		regions = append(regions, project.Region{
			ProjectID:  page.ProjectID,
			Seq:        len(regions),
			SourceText: r.Text,
			Confidence: r.Confidence,
			Box: project.BoundingBox{
				X:      r.BoundingBox.X,
				Y:      r.BoundingBox.Y,
				Width:  r.BoundingBox.Width,
				Height: r.BoundingBox.Height,
			},
		})
	}
	if err := h.Projects.ReplaceRegions(ctx, page.ID, regions, now(h.Now)); err != nil {
		return err
	}
	logger(h.Logger).Info("page recognized",
		"job_id", j.ID, "project_id", j.ProjectID, "page_id", page.ID, "regions", len(regions))
	return nil
}

// TranslateHandler translates every pending region of the job's project and
// stores the moderated result. Only collaborator and storage errors fail it;
// moderation verdicts never do.
type TranslateHandler struct {
	Projects    project.Store
	Translator  translate.Translator
	Moderator   Moderator
	Placeholder string
	Logger      *slog.Logger
	Now         func() time.Time
}

func (h *TranslateHandler) Handle(ctx context.Context, j *job.Job) error {
	if _, err := ValidateMetadata(j); err != nil {
		return err
	}
	proj, err := h.Projects.GetProject(ctx, j.ProjectID)
	if errors.Is(err, project.ErrNotFound) {
		return job.Permanent(err)
	}
	if err != nil {
		return err
	}
	regions, err := h.Projects.UntranslatedRegions(ctx, proj.ID)
	if err != nil {
		return err
	}

	counts := make(map[moderation.Action]int)
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := h.Translator.Translate(ctx, translate.Request{
			Text:           r.SourceText,
			SourceLanguage: proj.SourceLanguage,
			TargetLanguage: proj.TargetLanguage,
		})
		if err != nil {
			return fmt.Errorf("translate region %s: %w", r.ID, err)
		}

		verdict := h.Moderator.Moderate(moderation.Request{
			OriginalText:   r.SourceText,
			TranslatedText: text,
			ContentRating:  moderation.Rating(proj.ContentRating),
			UserAge:        proj.OwnerAge,
		})
		counts[verdict.Action]++

		if err := h.Projects.SaveTranslation(ctx, r.ID, h.translation(text, verdict), now(h.Now)); err != nil {
			return err
		}
	}

	logger(h.Logger).Info("project translated",
		"job_id", j.ID,
		"project_id", proj.ID,
		"regions", len(regions),
		"allowed", counts[moderation.ActionAllow],
		"flagged", counts[moderation.ActionFlag],
		"masked", counts[moderation.ActionMask],
		"blocked", counts[moderation.ActionBlock],
	)
	return nil
}

// translation maps a moderation verdict to what is stored for the region.
func (h *TranslateHandler) translation(text string, v moderation.Result) project.Translation {
	switch v.Action {
	case moderation.ActionAllow:
		return project.Translation{Text: &text, Status: project.RegionTranslated}
	case moderation.ActionFlag:
		return project.Translation{Text: &text, Status: project.RegionFlagged, Reason: v.Reason}
	case moderation.ActionMask:
		placeholder := h.Placeholder
		if placeholder == "" {
			placeholder = DefaultPlaceholder
		}
		return project.Translation{Text: &placeholder, Status: project.RegionNeedsReview, Reason: v.Reason}
	default:
		return project.Translation{Status: project.RegionRejected, Reason: v.Reason}
	}
}

// DefaultPlaceholder replaces masked translations.
const DefaultPlaceholder = "[redacted]"

// RenderHandler paints the page's translated, non-rejected regions over the
// source image and stores the result.
type RenderHandler struct {
	Projects project.Store
	Blobs    blob.Store
	Renderer render.Renderer
	Logger   *slog.Logger
}

func (h *RenderHandler) Handle(ctx context.Context, j *job.Job) error {
	page, err := loadPage(ctx, h.Projects, j)
	if err != nil {
		return err
	}
	regions, err := h.Projects.RenderableRegions(ctx, page.ID)
	if err != nil {
		return err
	}

	overlays := make([]render.Overlay, 0, len(regions))
	for _, r := range regions {
		if r.Status == project.RegionRejected || r.TranslatedText == nil {
			continue
		}
		overlays = append(overlays, render.Overlay{
			Text: *r.TranslatedText,
			Box:  render.Box{X: r.Box.X, Y: r.Box.Y, Width: r.Box.Width, Height: r.Box.Height},
		})
	}

	img, err := h.Blobs.Read(ctx, page.ImagePath)
	if err != nil {
		return fmt.Errorf("load image for page %s: %w", page.ID, err)
	}
	out, err := h.Renderer.Render(ctx, img, overlays)
	if err != nil {
		return fmt.Errorf("render page %s: %w", page.ID, err)
	}

	key := RenderedKey(page.ProjectID, page.ID)
	if err := h.Blobs.Write(ctx, key, out); err != nil {
		return err
	}
	if err := h.Projects.SetRenderedPath(ctx, page.ID, key); err != nil {
		return err
	}
	logger(h.Logger).Info("page rendered",
		"job_id", j.ID, "project_id", page.ProjectID, "page_id", page.ID, "overlays", len(overlays))
	return nil
}

// RenderedKey is the blob key of a page's rendered output.
func RenderedKey(projectID, pageID string) string {
	return fmt.Sprintf("rendered/%s/%s.png", projectID, pageID)
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func now(f func() time.Time) time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}
