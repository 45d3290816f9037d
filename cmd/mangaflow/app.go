package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mangaflow/mangaflow/internal/blob"
	"github.com/mangaflow/mangaflow/internal/config"
	"github.com/mangaflow/mangaflow/internal/dispatch"
	"github.com/mangaflow/mangaflow/internal/execrun"
	"github.com/mangaflow/mangaflow/internal/job"
	"github.com/mangaflow/mangaflow/internal/moderation"
	"github.com/mangaflow/mangaflow/internal/ocr"
	"github.com/mangaflow/mangaflow/internal/pipeline"
	"github.com/mangaflow/mangaflow/internal/project"
	"github.com/mangaflow/mangaflow/internal/render"
	"github.com/mangaflow/mangaflow/internal/storage"
	"github.com/mangaflow/mangaflow/internal/translate"
)

// app holds every long-lived component of the process.
type app struct {
	jobs       job.Store
	projects   project.Store
	moderator  *moderation.Engine
	dispatcher *dispatch.Dispatcher
	ping       func(context.Context) error
	close      func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	switch cfg.DBDriver {
	case "postgres":
		pool, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: int32(cfg.DBMaxConns),
			MinConns: int32(cfg.DBMinConns),
		}, logger)
		if err != nil {
			return nil, err
		}
		return &app{
			jobs:     job.NewPostgresStore(pool),
			projects: project.NewPostgresStore(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil
	default:
		db, err := storage.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite database", "path", cfg.DBPath)
		return &app{
			jobs:     job.NewSQLiteStore(db),
			projects: project.NewSQLiteStore(db),
			ping:     db.PingContext,
			close:    func() { db.Close() },
		}, nil
	}
}

func newTranslator(cfg *config.Config, logger *slog.Logger) translate.Translator {
	var t translate.Translator
	switch cfg.Translator {
	case "claude":
		t = &translate.Claude{Path: cfg.ClaudePath, Model: cfg.ClaudeModel}
	default:
		t = translate.NewOpenAI(translate.OpenAIConfig{
			BaseURL: cfg.TranslateURL,
			APIKey:  cfg.TranslateAPIKey,
			Model:   cfg.TranslateModel,
			Timeout: cfg.TranslateTimeout,
		}, logger)
	}
	return translate.NewLimited(t, cfg.TranslateRPS, 1)
}

// build wires storage, collaborators, handlers and the dispatcher.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	blobs, err := blob.NewFileStore(cfg.ImageDir)
	if err != nil {
		return fail(fmt.Errorf("image store: %w", err))
	}
	a.moderator, err = moderation.New(cfg.Policy())
	if err != nil {
		return fail(fmt.Errorf("moderation policy: %w", err))
	}

	runner := execrun.Exec{Logger: logger}
	recognizer := ocr.NewService(cfg.OCRLanguage)
	recognizer.Register("tesseract", ocr.NewTesseract(ocr.TesseractConfig{
		Path:        cfg.TesseractPath,
		PSM:         cfg.TesseractPSM,
		TessdataDir: cfg.TessdataDir,
	}, runner))

	registry := dispatch.NewRegistry()
	handlers := map[job.Type]dispatch.Handler{
		job.TypeOCR: &pipeline.OCRHandler{
			Projects: a.projects,
			Blobs:    blobs,
			OCR:      recognizer,
			Engine:   cfg.OCREngine,
			Language: cfg.OCRLanguage,
			Logger:   logger,
		},
		job.TypeTranslate: &pipeline.TranslateHandler{
			Projects:    a.projects,
			Translator:  newTranslator(cfg, logger),
			Moderator:   a.moderator,
			Placeholder: cfg.RedactionPlaceholder,
			Logger:      logger,
		},
		job.TypeRender: &pipeline.RenderHandler{
			Projects: a.projects,
			Blobs:    blobs,
			Renderer: render.NewMagick(render.MagickConfig{Path: cfg.MagickPath, Font: cfg.Font}, runner),
			Logger:   logger,
		},
	}
	for t, h := range handlers {
		if err := registry.Register(t, h); err != nil {
			return fail(err)
		}
	}
	if err := registry.Complete(); err != nil {
		return fail(err)
	}

	a.dispatcher = dispatch.New(a.jobs, registry, dispatch.Config{
		BatchSize:      cfg.BatchSize,
		Backoff:        dispatch.Backoff{Base: cfg.RetryBackoff, Cap: cfg.RetryBackoffMax},
		StaleAfter:     cfg.StaleAfter,
		HandlerTimeout: cfg.HandlerTimeout,
	}, logger)
	return a, nil
}
