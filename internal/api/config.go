package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	PullPageSize int // changes per pull page (default: 1000)
	MaxPushBatch int // max changes per push request (default: 500)

	RateLimitAuth  int // /api/auth/* per IP per minute (default: 10)
	RateLimitPush  int // /api/sync/push per device per minute (default: 60)
	RateLimitPull  int // /api/sync/pull per device per minute (default: 120)
	RateLimitOther int // all other per device per minute (default: 300)
}

// LoadConfig reads configuration from environment variables with sensible defaults.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      ":8080",
		DBPath:          "./data/ventasync.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		PullPageSize: 1000,
		MaxPushBatch: 500,

		RateLimitAuth:  10,
		RateLimitPush:  60,
		RateLimitPull:  120,
		RateLimitOther: 300,
	}

	if v := os.Getenv("VENTASYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VENTASYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VENTASYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("VENTASYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("VENTASYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("VENTASYNC_PULL_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PullPageSize = n
		}
	}
	if v := os.Getenv("VENTASYNC_MAX_PUSH_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPushBatch = n
		}
	}

	if v := os.Getenv("VENTASYNC_RATE_LIMIT_AUTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitAuth = n
		}
	}
	if v := os.Getenv("VENTASYNC_RATE_LIMIT_PUSH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPush = n
		}
	}
	if v := os.Getenv("VENTASYNC_RATE_LIMIT_PULL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPull = n
		}
	}
	if v := os.Getenv("VENTASYNC_RATE_LIMIT_OTHER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitOther = n
		}
	}

	return cfg
}
