package project

import (
	"context"
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seedPage(t *testing.T, s Store, projectID, pageID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetProject(ctx, projectID); errors.Is(err, ErrNotFound) {
		age := 21
		if err := s.InsertProject(ctx, &Project{
			ID: projectID, Title: "One Shot", SourceLanguage: "ja", TargetLanguage: "en",
			ContentRating: "general", OwnerAge: &age, CreatedAt: t0,
		}); err != nil {
			t.Fatalf("InsertProject: %v", err)
		}
	}
	if err := s.InsertPage(ctx, &Page{ID: pageID, ProjectID: projectID, Number: 1, ImagePath: "pages/" + pageID + ".png", CreatedAt: t0}); err != nil {
		t.Fatalf("InsertPage: %v", err)
	}
}

func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("ProjectAndPage", func(t *testing.T) {
		s := newStore(t)
		seedPage(t, s, "proj-1", "page-1")

		p, err := s.GetProject(ctx, "proj-1")
		if err != nil {
			t.Fatalf("GetProject: %v", err)
		}
		if p.ContentRating != "general" || p.OwnerAge == nil || *p.OwnerAge != 21 {
			t.Errorf("project = %+v", p)
		}
		if !p.CreatedAt.Equal(t0) {
			t.Errorf("created_at = %v, want %v", p.CreatedAt, t0)
		}

		pg, err := s.GetPage(ctx, "page-1")
		if err != nil {
			t.Fatalf("GetPage: %v", err)
		}
		if pg.ProjectID != "proj-1" || pg.ImagePath != "pages/page-1.png" || pg.RenderedPath != "" {
			t.Errorf("page = %+v", pg)
		}

		if err := s.SetRenderedPath(ctx, "page-1", "rendered/proj-1/page-1.png"); err != nil {
			t.Fatalf("SetRenderedPath: %v", err)
		}
		pg, _ = s.GetPage(ctx, "page-1")
		if pg.RenderedPath != "rendered/proj-1/page-1.png" {
			t.Errorf("rendered_path = %q", pg.RenderedPath)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetProject(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetProject error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetPage(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetPage error = %v, want ErrNotFound", err)
		}
		if err := s.SetRenderedPath(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetRenderedPath error = %v, want ErrNotFound", err)
		}
		if err := s.SaveTranslation(ctx, "nope", Translation{Status: RegionTranslated}, t0); !errors.Is(err, ErrNotFound) {
			t.Errorf("SaveTranslation error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ReplaceRegions", func(t *testing.T) {
		s := newStore(t)
		seedPage(t, s, "proj-1", "page-1")

		first := []Region{
			{ProjectID: "proj-1", Seq: 0, SourceText: "古い", Confidence: 0.5},
		}
		if err := s.ReplaceRegions(ctx, "page-1", first, t0); err != nil {
			t.Fatalf("ReplaceRegions: %v", err)
		}
		if first[0].ID == "" {
			t.Error("region id was not assigned")
		}

		second := []Region{
			{ProjectID: "proj-1", Seq: 1, SourceText: "さようなら", Confidence: 0.8, Box: BoundingBox{X: 40, Y: 50, Width: 60, Height: 70}},
			{ProjectID: "proj-1", Seq: 0, SourceText: "こんにちは", Confidence: 0.9, Box: BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}},
		}
		if err := s.ReplaceRegions(ctx, "page-1", second, t0); err != nil {
			t.Fatalf("ReplaceRegions: %v", err)
		}

		got, err := s.Regions(ctx, "page-1")
		if err != nil {
			t.Fatalf("Regions: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d regions, want 2", len(got))
		}
		if got[0].SourceText != "こんにちは" || got[1].SourceText != "さようなら" {
			t.Errorf("regions out of order: %q %q", got[0].SourceText, got[1].SourceText)
		}
		if got[0].Box != (BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}) {
			t.Errorf("box = %+v", got[0].Box)
		}
		if got[0].Status != RegionPending || got[0].TranslatedText != nil {
			t.Errorf("new region status=%s translated=%v", got[0].Status, got[0].TranslatedText)
		}
	})

	t.Run("TranslationLifecycle", func(t *testing.T) {
		s := newStore(t)
		seedPage(t, s, "proj-1", "page-1")
		seedPage(t, s, "proj-1", "page-2")
		seedPage(t, s, "proj-2", "page-3")

		for _, page := range []struct{ page, project string }{{"page-1", "proj-1"}, {"page-2", "proj-1"}, {"page-3", "proj-2"}} {
			regions := []Region{
				{ProjectID: page.project, Seq: 0, SourceText: page.page + "-a"},
				{ProjectID: page.project, Seq: 1, SourceText: page.page + "-b"},
			}
			if err := s.ReplaceRegions(ctx, page.page, regions, t0); err != nil {
				t.Fatalf("ReplaceRegions(%s): %v", page.page, err)
			}
		}

		pending, err := s.UntranslatedRegions(ctx, "proj-1")
		if err != nil {
			t.Fatalf("UntranslatedRegions: %v", err)
		}
		if len(pending) != 4 {
			t.Fatalf("got %d pending regions, want 4", len(pending))
		}
		if pending[0].SourceText != "page-1-a" || pending[3].SourceText != "page-2-b" {
			t.Errorf("unexpected order: %q .. %q", pending[0].SourceText, pending[3].SourceText)
		}

		if err := s.SaveTranslation(ctx, pending[0].ID, Translation{Text: strPtr("Hello"), Status: RegionTranslated}, t0); err != nil {
			t.Fatalf("SaveTranslation: %v", err)
		}
		if err := s.SaveTranslation(ctx, pending[1].ID, Translation{Status: RegionRejected, Reason: "age_restriction"}, t0); err != nil {
			t.Fatalf("SaveTranslation: %v", err)
		}

		pending, _ = s.UntranslatedRegions(ctx, "proj-1")
		if len(pending) != 2 {
			t.Errorf("got %d pending regions after saving, want 2", len(pending))
		}

		renderable, err := s.RenderableRegions(ctx, "page-1")
		if err != nil {
			t.Fatalf("RenderableRegions: %v", err)
		}
		if len(renderable) != 1 || renderable[0].TranslatedText == nil || *renderable[0].TranslatedText != "Hello" {
			t.Fatalf("renderable = %+v", renderable)
		}

		all, _ := s.Regions(ctx, "page-1")
		if all[1].Status != RegionRejected || all[1].ModerationReason != "age_restriction" || all[1].TranslatedText != nil {
			t.Errorf("rejected region = %+v", all[1])
		}
	})
}
