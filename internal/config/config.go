package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mangaflow/mangaflow/internal/dispatch"
	"github.com/mangaflow/mangaflow/internal/moderation"
	"github.com/mangaflow/mangaflow/internal/schedule"
)

type Config struct {
	ListenAddr string
	APIKeys    []string
	LogLevel   slog.Level

	DBDriver    string // sqlite or postgres
	DBPath      string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	BatchSize       int
	DispatchTimeout time.Duration
	HandlerTimeout  time.Duration
	// StaleAfter is the age at which a running claim is requeued. Zero
	// disables the sweep. A non-zero value needs a non-zero DispatchTimeout
	// and must exceed DispatchTimeout plus dispatch.ResolveTimeout, so no
	// invocation can still be working a claim when another one sweeps it.
	StaleAfter      time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	MaxConcurrent   int
	Schedule        string

	ImageDir      string
	OCREngine     string
	OCRLanguage   string
	TesseractPath string
	TesseractPSM  int
	TessdataDir   string

	Translator       string // openai or claude
	TranslateURL     string
	TranslateAPIKey  string
	TranslateModel   string
	TranslateTimeout time.Duration
	TranslateRPS     float64
	ClaudePath       string
	ClaudeModel      string

	MagickPath string
	Font       string

	MatureMinAge         int
	ExplicitMinAge       int
	MaskTerms            []string
	FlagTerms            []string
	RedactionPlaceholder string

	RateLimitRPS     int
	CORSOrigins      []string
	ReportWebhookURL string
	DisableKeepalive bool
}

func Load() (*Config, error) {
	defaults := moderation.DefaultPolicy()
	cfg := &Config{
		ListenAddr:           getEnv("MANGAFLOW_LISTEN_ADDR", ":8080"),
		DBDriver:             getEnv("MANGAFLOW_DB_DRIVER", "sqlite"),
		DBPath:               getEnv("MANGAFLOW_DB_PATH", "mangaflow.db"),
		DatabaseURL:          getEnv("MANGAFLOW_DATABASE_URL", ""),
		Schedule:             strings.TrimSpace(getEnv("MANGAFLOW_SCHEDULE", "")),
		ImageDir:             getEnv("MANGAFLOW_IMAGE_DIR", "./data"),
		OCREngine:            getEnv("MANGAFLOW_OCR_ENGINE", "tesseract"),
		OCRLanguage:          getEnv("MANGAFLOW_OCR_LANGUAGE", "jpn"),
		TesseractPath:        getEnv("MANGAFLOW_TESSERACT_PATH", "tesseract"),
		TessdataDir:          getEnv("MANGAFLOW_TESSDATA_DIR", ""),
		Translator:           getEnv("MANGAFLOW_TRANSLATOR", "openai"),
		TranslateURL:         getEnv("MANGAFLOW_TRANSLATE_URL", "https://api.openai.com/v1"),
		TranslateAPIKey:      getEnv("MANGAFLOW_TRANSLATE_API_KEY", ""),
		TranslateModel:       getEnv("MANGAFLOW_TRANSLATE_MODEL", "gpt-4o-mini"),
		ClaudePath:           getEnv("MANGAFLOW_CLAUDE_PATH", "/root/.local/bin/claude"),
		ClaudeModel:          getEnv("MANGAFLOW_CLAUDE_MODEL", "haiku"),
		MagickPath:           getEnv("MANGAFLOW_MAGICK_PATH", "magick"),
		Font:                 getEnv("MANGAFLOW_FONT", ""),
		RedactionPlaceholder: getEnv("MANGAFLOW_REDACTION_PLACEHOLDER", "[redacted]"),
		ReportWebhookURL:     getEnv("MANGAFLOW_REPORT_WEBHOOK_URL", ""),
		APIKeys:              getEnvList("MANGAFLOW_API_KEYS", nil),
		CORSOrigins:          getEnvList("MANGAFLOW_CORS_ORIGINS", nil),
		MaskTerms:            getEnvList("MANGAFLOW_MASK_TERMS", defaults.MaskTerms),
		FlagTerms:            getEnvList("MANGAFLOW_FLAG_TERMS", defaults.FlagTerms),
		DisableKeepalive:     getEnv("MANGAFLOW_DISABLE_KEEPALIVE", "false") == "true",
	}

	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("MANGAFLOW_API_KEYS must not be empty")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("MANGAFLOW_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("MANGAFLOW_LOG_LEVEL: %w", err)
	}

	ints := []struct {
		key      string
		dst      *int
		fallback int
		min      int
	}{
		{"MANGAFLOW_DB_MAX_CONNS", &cfg.DBMaxConns, 10, 1},
		{"MANGAFLOW_DB_MIN_CONNS", &cfg.DBMinConns, 1, 0},
		{"MANGAFLOW_BATCH_SIZE", &cfg.BatchSize, 10, 1},
		{"MANGAFLOW_MAX_CONCURRENT_DISPATCH", &cfg.MaxConcurrent, 1, 1},
		{"MANGAFLOW_TESSERACT_PSM", &cfg.TesseractPSM, 0, 0},
		{"MANGAFLOW_MATURE_MIN_AGE", &cfg.MatureMinAge, 18, 0},
		{"MANGAFLOW_EXPLICIT_MIN_AGE", &cfg.ExplicitMinAge, 18, 0},
		{"MANGAFLOW_RATE_LIMIT_RPS", &cfg.RateLimitRPS, 0, 0},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, v.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if n < v.min {
			return nil, fmt.Errorf("%s must be >= %d", v.key, v.min)
		}
		*v.dst = n
	}

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"MANGAFLOW_DISPATCH_TIMEOUT", &cfg.DispatchTimeout, 300 * time.Second},
		{"MANGAFLOW_HANDLER_TIMEOUT", &cfg.HandlerTimeout, 0},
		{"MANGAFLOW_STALE_AFTER", &cfg.StaleAfter, 10 * time.Minute},
		{"MANGAFLOW_RETRY_BACKOFF", &cfg.RetryBackoff, 0},
		{"MANGAFLOW_RETRY_BACKOFF_MAX", &cfg.RetryBackoffMax, 5 * time.Minute},
		{"MANGAFLOW_TRANSLATE_TIMEOUT", &cfg.TranslateTimeout, 60 * time.Second},
	}
	for _, v := range durations {
		d, err := getEnvDuration(v.key, v.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s must not be negative", v.key)
		}
		*v.dst = d
	}
	if cfg.StaleAfter > 0 {
		if cfg.DispatchTimeout == 0 {
			return nil, errors.New("MANGAFLOW_STALE_AFTER requires a non-zero MANGAFLOW_DISPATCH_TIMEOUT")
		}
		if minStale := cfg.DispatchTimeout + dispatch.ResolveTimeout; cfg.StaleAfter <= minStale {
			return nil, fmt.Errorf("MANGAFLOW_STALE_AFTER must exceed %s (MANGAFLOW_DISPATCH_TIMEOUT plus resolve margin)", minStale)
		}
	}

	rps, err := getEnvFloat("MANGAFLOW_TRANSLATE_RPS", 0)
	if err != nil {
		return nil, fmt.Errorf("MANGAFLOW_TRANSLATE_RPS: %w", err)
	}
	cfg.TranslateRPS = rps

	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("MANGAFLOW_DATABASE_URL is required when MANGAFLOW_DB_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("MANGAFLOW_DB_DRIVER %q must be one of: sqlite, postgres", cfg.DBDriver)
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return nil, errors.New("MANGAFLOW_DB_MIN_CONNS must not exceed MANGAFLOW_DB_MAX_CONNS")
	}

	if cfg.Translator != "openai" && cfg.Translator != "claude" {
		return nil, fmt.Errorf("MANGAFLOW_TRANSLATOR %q must be one of: openai, claude", cfg.Translator)
	}
	if cfg.OCREngine != "tesseract" {
		return nil, fmt.Errorf("MANGAFLOW_OCR_ENGINE %q is not supported", cfg.OCREngine)
	}

	if cfg.Schedule != "" {
		if _, err := schedule.ParseSchedule(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("MANGAFLOW_SCHEDULE: %w", err)
		}
	}

	if _, err := moderation.New(cfg.Policy()); err != nil {
		return nil, fmt.Errorf("moderation policy: %w", err)
	}

	return cfg, nil
}

// Policy returns the moderation policy described by the configuration.
func (c *Config) Policy() moderation.Policy {
	return moderation.Policy{
		MinAge: map[moderation.Rating]int{
			moderation.RatingMature:   c.MatureMinAge,
			moderation.RatingExplicit: c.ExplicitMinAge,
		},
		MaskTerms: c.MaskTerms,
		FlagTerms: c.FlagTerms,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid non-negative number %q", v)
	}
	return f, nil
}

// getEnvDuration accepts Go duration syntax ("90s", "5m"). A bare "0" is zero.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
