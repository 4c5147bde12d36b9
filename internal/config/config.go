// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"release_bot/internal/logging"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	LogFile          string
	AdminUserID      int64

	TMDBAPIKey      string
	TMDBBaseURL     string
	TMDBMinInterval time.Duration
	OMDBAPIKey      string
	OMDBBaseURL     string
	OMDBMinInterval time.Duration

	NotifyInterval     time.Duration
	NotifyInitialDelay time.Duration
	CycleTimeout       time.Duration

	NewsURL      string
	NewsFormat   string
	NewsXPath    string
	NewsInterval time.Duration
	NewsKeywords []string

	MetricsAddr string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	tmdbKey := os.Getenv("TMDB_API_KEY")
	if tmdbKey == "" {
		return nil, fmt.Errorf("TMDB_API_KEY is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envOr("DATABASE_PATH", "./data/bot.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
		TMDBAPIKey:       tmdbKey,
		TMDBBaseURL:      envOr("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		OMDBAPIKey:       os.Getenv("OMDB_API_KEY"),
		OMDBBaseURL:      envOr("OMDB_BASE_URL", "https://www.omdbapi.com/"),
		NewsURL:          os.Getenv("NEWS_URL"),
		NewsFormat:       strings.ToLower(envOr("NEWS_FORMAT", "html")),
		NewsXPath:        envOr("NEWS_XPATH", "//a"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	if raw := os.Getenv("ADMIN_USER_ID"); raw != "" {
		uid, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_USER_ID %q: %w", raw, err)
		}
		cfg.AdminUserID = uid
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"TMDB_MIN_INTERVAL", 250 * time.Millisecond, &cfg.TMDBMinInterval},
		{"OMDB_MIN_INTERVAL", time.Second, &cfg.OMDBMinInterval},
		{"NOTIFY_INTERVAL", 24 * time.Hour, &cfg.NotifyInterval},
		{"NOTIFY_INITIAL_DELAY", 10 * time.Second, &cfg.NotifyInitialDelay},
		{"CYCLE_TIMEOUT", 30 * time.Minute, &cfg.CycleTimeout},
		{"NEWS_INTERVAL", 6 * time.Hour, &cfg.NewsInterval},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dest = v
	}
	if cfg.NotifyInterval <= 0 {
		return nil, fmt.Errorf("NOTIFY_INTERVAL must be positive")
	}
	if cfg.NewsURL != "" && cfg.NewsInterval <= 0 {
		return nil, fmt.Errorf("NEWS_INTERVAL must be positive when NEWS_URL is set")
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: want debug, info, warn or error", cfg.LogLevel)
	}

	switch cfg.NewsFormat {
	case "html", "rss":
	default:
		return nil, fmt.Errorf("invalid NEWS_FORMAT %q: want html or rss", cfg.NewsFormat)
	}

	if raw := os.Getenv("NEWS_KEYWORDS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.NewsKeywords = append(cfg.NewsKeywords, s)
			}
		}
	}

	return cfg, nil
}

// IsAdmin reports whether userID is the configured admin.
// With no admin configured nobody is.
func (c *Config) IsAdmin(userID int64) bool {
	return c.AdminUserID != 0 && c.AdminUserID == userID
}

// SecondaryEnabled reports whether an OMDb key was provided.
func (c *Config) SecondaryEnabled() bool {
	return c.OMDBAPIKey != ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
