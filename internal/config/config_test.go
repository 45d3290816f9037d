package config

import (
	"log/slog"
	"slices"
	"testing"
	"time"
)

func TestLoad_AllVarsSet(t *testing.T) {
	t.Setenv("MANGAFLOW_API_KEYS", "key1, key2")
	t.Setenv("MANGAFLOW_LISTEN_ADDR", ":9090")
	t.Setenv("MANGAFLOW_LOG_LEVEL", "debug")
	t.Setenv("MANGAFLOW_DB_DRIVER", "postgres")
	t.Setenv("MANGAFLOW_DATABASE_URL", "postgres://mangaflow@db/mangaflow")
	t.Setenv("MANGAFLOW_DB_MAX_CONNS", "20")
	t.Setenv("MANGAFLOW_BATCH_SIZE", "25")
	t.Setenv("MANGAFLOW_DISPATCH_TIMEOUT", "90s")
	t.Setenv("MANGAFLOW_HANDLER_TIMEOUT", "30s")
	t.Setenv("MANGAFLOW_STALE_AFTER", "0")
	t.Setenv("MANGAFLOW_RETRY_BACKOFF", "2s")
	t.Setenv("MANGAFLOW_SCHEDULE", "*/2 * * * *")
	t.Setenv("MANGAFLOW_TRANSLATOR", "claude")
	t.Setenv("MANGAFLOW_TRANSLATE_RPS", "0.5")
	t.Setenv("MANGAFLOW_MATURE_MIN_AGE", "16")
	t.Setenv("MANGAFLOW_MASK_TERMS", "gore,,bloodbath")
	t.Setenv("MANGAFLOW_CORS_ORIGINS", "https://reader.example")
	t.Setenv("MANGAFLOW_DISABLE_KEEPALIVE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if !slices.Equal(cfg.APIKeys, []string{"key1", "key2"}) {
		t.Errorf("APIKeys = %v, want [key1 key2]", cfg.APIKeys)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.DBDriver != "postgres" || cfg.DBMaxConns != 20 || cfg.DBMinConns != 1 {
		t.Errorf("db = %s max %d min %d", cfg.DBDriver, cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if cfg.DispatchTimeout != 90*time.Second || cfg.HandlerTimeout != 30*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.DispatchTimeout, cfg.HandlerTimeout)
	}
	if cfg.StaleAfter != 0 || cfg.RetryBackoff != 2*time.Second || cfg.RetryBackoffMax != 5*time.Minute {
		t.Errorf("stale %v backoff %v max %v", cfg.StaleAfter, cfg.RetryBackoff, cfg.RetryBackoffMax)
	}
	if cfg.Schedule != "*/2 * * * *" || cfg.Translator != "claude" || cfg.TranslateRPS != 0.5 {
		t.Errorf("schedule %q translator %q rps %v", cfg.Schedule, cfg.Translator, cfg.TranslateRPS)
	}
	if cfg.MatureMinAge != 16 || cfg.ExplicitMinAge != 18 {
		t.Errorf("min ages = %d / %d", cfg.MatureMinAge, cfg.ExplicitMinAge)
	}
	if !slices.Equal(cfg.MaskTerms, []string{"gore", "bloodbath"}) {
		t.Errorf("MaskTerms = %v", cfg.MaskTerms)
	}
	if !slices.Equal(cfg.CORSOrigins, []string{"https://reader.example"}) || !cfg.DisableKeepalive {
		t.Errorf("cors %v keepalive disabled %v", cfg.CORSOrigins, cfg.DisableKeepalive)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Only required variable set; all others should use defaults.
	t.Setenv("MANGAFLOW_API_KEYS", "defaultkey")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with defaults, got: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ListenAddr", cfg.ListenAddr, ":8080"},
		{"LogLevel", cfg.LogLevel, slog.LevelInfo},
		{"DBDriver", cfg.DBDriver, "sqlite"},
		{"DBPath", cfg.DBPath, "mangaflow.db"},
		{"BatchSize", cfg.BatchSize, 10},
		{"DispatchTimeout", cfg.DispatchTimeout, 300 * time.Second},
		{"HandlerTimeout", cfg.HandlerTimeout, time.Duration(0)},
		{"StaleAfter", cfg.StaleAfter, 10 * time.Minute},
		{"RetryBackoff", cfg.RetryBackoff, time.Duration(0)},
		{"MaxConcurrent", cfg.MaxConcurrent, 1},
		{"Schedule", cfg.Schedule, ""},
		{"ImageDir", cfg.ImageDir, "./data"},
		{"OCRLanguage", cfg.OCRLanguage, "jpn"},
		{"Translator", cfg.Translator, "openai"},
		{"TranslateModel", cfg.TranslateModel, "gpt-4o-mini"},
		{"MagickPath", cfg.MagickPath, "magick"},
		{"MatureMinAge", cfg.MatureMinAge, 18},
		{"RedactionPlaceholder", cfg.RedactionPlaceholder, "[redacted]"},
		{"RateLimitRPS", cfg.RateLimitRPS, 0},
		{"DisableKeepalive", cfg.DisableKeepalive, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !slices.Contains(cfg.MaskTerms, "nsfw") || !slices.Contains(cfg.FlagTerms, "violence") {
		t.Errorf("default terms = %v / %v", cfg.MaskTerms, cfg.FlagTerms)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api keys", map[string]string{"MANGAFLOW_API_KEYS": ""}},
		{"blank api keys", map[string]string{"MANGAFLOW_API_KEYS": " , "}},
		{"bad integer", map[string]string{"MANGAFLOW_BATCH_SIZE": "ten"}},
		{"zero batch", map[string]string{"MANGAFLOW_BATCH_SIZE": "0"}},
		{"bad duration", map[string]string{"MANGAFLOW_DISPATCH_TIMEOUT": "300"}},
		{"negative duration", map[string]string{"MANGAFLOW_STALE_AFTER": "-1m"}},
		{"negative min age", map[string]string{"MANGAFLOW_EXPLICIT_MIN_AGE": "-1"}},
		{"unknown driver", map[string]string{"MANGAFLOW_DB_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"MANGAFLOW_DB_DRIVER": "postgres"}},
		{"min conns above max", map[string]string{"MANGAFLOW_DB_MIN_CONNS": "5", "MANGAFLOW_DB_MAX_CONNS": "2"}},
		{"unknown translator", map[string]string{"MANGAFLOW_TRANSLATOR": "deepl"}},
		{"unknown ocr engine", map[string]string{"MANGAFLOW_OCR_ENGINE": "paddle"}},
		{"bad schedule", map[string]string{"MANGAFLOW_SCHEDULE": "every five minutes"}},
		{"overlapping terms", map[string]string{"MANGAFLOW_MASK_TERMS": "gore", "MANGAFLOW_FLAG_TERMS": "Gore"}},
		{"bad log level", map[string]string{"MANGAFLOW_LOG_LEVEL": "loud"}},
		{"negative rps", map[string]string{"MANGAFLOW_TRANSLATE_RPS": "-2"}},
		{"stale sweep without dispatch timeout", map[string]string{"MANGAFLOW_DISPATCH_TIMEOUT": "0"}},
		{"stale equal to dispatch timeout", map[string]string{"MANGAFLOW_STALE_AFTER": "5m", "MANGAFLOW_DISPATCH_TIMEOUT": "5m"}},
		{"stale within resolve margin", map[string]string{"MANGAFLOW_STALE_AFTER": "5m5s", "MANGAFLOW_DISPATCH_TIMEOUT": "5m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MANGAFLOW_API_KEYS", "somekey")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_StaleAfterMargin(t *testing.T) {
	t.Setenv("MANGAFLOW_API_KEYS", "somekey")
	t.Setenv("MANGAFLOW_DISPATCH_TIMEOUT", "5m")
	t.Setenv("MANGAFLOW_STALE_AFTER", "5m6s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StaleAfter != 5*time.Minute+6*time.Second {
		t.Errorf("StaleAfter = %v", cfg.StaleAfter)
	}

	// Without a sweep the dispatch ceiling is free.
	t.Setenv("MANGAFLOW_DISPATCH_TIMEOUT", "0")
	t.Setenv("MANGAFLOW_STALE_AFTER", "0")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with sweep disabled: %v", err)
	}
}
