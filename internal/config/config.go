package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port string

	// Auth
	StorygestAPIKey string

	// Upstream story generation endpoint
	UpstreamURL     string
	UpstreamAPIKey  string
	UpstreamTimeout time.Duration

	// Sessions
	FlushInterval time.Duration
	SessionTTL    time.Duration
	MaxStoryBytes int64

	// Import
	MaxUploadBytes       int64
	PDFFallbackPdftotext bool

	StatsWindow time.Duration
	LogLevel    slog.Level
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		StorygestAPIKey: os.Getenv("STORYGEST_API_KEY"),

		UpstreamURL:     os.Getenv("UPSTREAM_URL"),
		UpstreamAPIKey:  os.Getenv("UPSTREAM_API_KEY"),
		UpstreamTimeout: envDuration("UPSTREAM_TIMEOUT", 5*time.Minute),

		FlushInterval: envDuration("FLUSH_INTERVAL", 50*time.Millisecond),
		SessionTTL:    envDuration("SESSION_TTL", 1*time.Hour),
		MaxStoryBytes: envInt64("MAX_STORY_BYTES", 1<<20),

		MaxUploadBytes:       envInt64("MAX_UPLOAD_BYTES", 20<<20),
		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		StatsWindow: envDuration("STATS_WINDOW", 1*time.Hour),
		LogLevel:    ParseLevel(os.Getenv("LOG_LEVEL")),
	}

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 5 * time.Minute
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 1 * time.Hour
	}
	if cfg.MaxStoryBytes <= 0 {
		cfg.MaxStoryBytes = 1 << 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.StorygestAPIKey == "" {
		return fmt.Errorf("STORYGEST_API_KEY is required")
	}
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	if !strings.HasPrefix(c.UpstreamURL, "http://") && !strings.HasPrefix(c.UpstreamURL, "https://") {
		return fmt.Errorf("UPSTREAM_URL must be an http(s) URL, got %q", c.UpstreamURL)
	}
	return nil
}

// ParseLevel maps debug/info/warn/error to a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
