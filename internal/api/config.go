package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	ServerDBPath    string
	UserDataDir     string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitRead      int // collection fetches per API key per minute (default: 600)
	RateLimitWrite     int // put/delete/batch per API key per minute (default: 300)
	RateLimitSubscribe int // websocket subscriptions per API key per minute (default: 60)

	CORSAllowedOrigins []string // allowed browser origins; empty = disabled

	RateLimitEventRetention time.Duration // retention period for rate limit events (default: 30 days)
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		ServerDBPath:    "./data/server.db",
		UserDataDir:     "./data/users",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitRead:      600,
		RateLimitWrite:     300,
		RateLimitSubscribe: 60,

		RateLimitEventRetention: 30 * 24 * time.Hour,
	}

	if v := os.Getenv("RIFF_SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RIFF_SYNC_DB_PATH"); v != "" {
		cfg.ServerDBPath = v
	}
	if v := os.Getenv("RIFF_SYNC_USER_DATA_DIR"); v != "" {
		cfg.UserDataDir = v
	}
	if v := os.Getenv("RIFF_SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("RIFF_SYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("RIFF_SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	positiveInt("RIFF_SYNC_RATE_LIMIT_READ", &cfg.RateLimitRead)
	positiveInt("RIFF_SYNC_RATE_LIMIT_WRITE", &cfg.RateLimitWrite)
	positiveInt("RIFF_SYNC_RATE_LIMIT_SUBSCRIBE", &cfg.RateLimitSubscribe)

	if v := os.Getenv("RIFF_SYNC_RATE_LIMIT_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.RateLimitEventRetention = d
		}
	}

	if v := os.Getenv("RIFF_SYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}

func positiveInt(env string, dst *int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
