package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP API limits.
type Config struct {
	MaxBodyBytes int64
	// MaxHistoryLimit caps ?limit= on history reads before the service applies its own cap.
	MaxHistoryLimit int

	// Per-user request budget; zero disables throttling.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes:    envInt64("MESSENGER_API_MAX_BODY_BYTES", 64<<10),
		MaxHistoryLimit: envInt("MESSENGER_API_MAX_HISTORY_LIMIT", 200),

		RateLimitRequests: envInt("MESSENGER_API_RATE_REQUESTS", 500),
		RateLimitWindow:   envDuration("MESSENGER_API_RATE_WINDOW", 15*time.Minute),
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.MaxHistoryLimit <= 0 {
		cfg.MaxHistoryLimit = 200
	}
	return cfg
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
