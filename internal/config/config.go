// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rubiojr/ukfueldb/internal/geo"
	"github.com/rubiojr/ukfueldb/pkg/api"
)

const (
	DefaultDBPath          = "data/fuel_prices.db"
	DefaultHost            = "0.0.0.0"
	DefaultPort            = "8000"
	DefaultFeedRate        = 5.0
	DefaultRateLimit       = 20
	DefaultCacheTTL        = 10 * time.Minute
	DefaultRefreshSchedule = ""
)

// Config holds runtime configuration. Feeds is nil when UKFUEL_FEEDS is
// unset, meaning the built-in list. RefreshSchedule is a cron spec, empty
// disables scheduled refreshes. RateLimit is the number of API requests
// allowed per IP per minute.
type Config struct {
	DBPath          string
	Host            string
	Port            string
	UserAgent       string
	FeedTimeout     time.Duration
	FeedRate        float64
	FeedConcurrency int
	Feeds           []api.Feed
	RefreshSchedule string
	RateLimit       int
	CacheTTL        time.Duration
	LogLevel        slog.Level
	LogJSON         bool
	NominatimServer string
	MPG             float64
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		DBPath:          envOr("UKFUEL_DB", DefaultDBPath),
		Host:            envOr("UKFUEL_HOST", DefaultHost),
		Port:            envOr("PORT", DefaultPort),
		UserAgent:       envOr("UKFUEL_USER_AGENT", api.DefaultUserAgent),
		RefreshSchedule: envOr("UKFUEL_REFRESH_SCHEDULE", DefaultRefreshSchedule),
		NominatimServer: envOr("UKFUEL_NOMINATIM", geo.DefaultNominatimServer),
		MPG:             geo.DefaultMPG,
	}

	var err error
	if cfg.FeedTimeout, err = envDuration("UKFUEL_FEED_TIMEOUT", api.DefaultTimeout); err != nil {
		return cfg, err
	}
	if cfg.CacheTTL, err = envDuration("UKFUEL_CACHE_TTL", DefaultCacheTTL); err != nil {
		return cfg, err
	}
	if cfg.FeedRate, err = envFloat("UKFUEL_FEED_RATE", DefaultFeedRate); err != nil {
		return cfg, err
	}
	if cfg.FeedConcurrency, err = envInt("UKFUEL_FEED_CONCURRENCY", api.DefaultConcurrency); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = envInt("UKFUEL_RATE_LIMIT", DefaultRateLimit); err != nil {
		return cfg, err
	}

	if v := strings.TrimSpace(os.Getenv("UKFUEL_FEEDS")); v != "" {
		if cfg.Feeds, err = ParseFeeds(v); err != nil {
			return cfg, fmt.Errorf("invalid UKFUEL_FEEDS: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("UKFUEL_LOG_LEVEL")); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("invalid UKFUEL_LOG_LEVEL: %w", err)
		}
	}

	logJSON := strings.TrimSpace(os.Getenv("UKFUEL_LOG_JSON"))
	cfg.LogJSON = logJSON == "1" || strings.EqualFold(logJSON, "true")

	return cfg, nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// ParseFeeds parses a comma separated list of name=url pairs.
func ParseFeeds(s string) ([]api.Feed, error) {
	var feeds []api.Feed
	seen := map[string]bool{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("expected name=url, got %q", entry)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("feed %s: unsupported url %q", name, url)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate feed %s", name)
		}
		seen[name] = true
		feeds = append(feeds, api.Feed{Name: name, URL: url})
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds in %q", s)
	}
	return feeds, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return def, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
