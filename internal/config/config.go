// SPDX-License-Identifier: MIT

// Package config loads the immutable runtime configuration from the process
// environment with precedence ENV > defaults.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the complete runtime configuration of the daemon.
type Config struct {
	// HTTP server
	ListenAddr      string
	APIRateRPM      int // ingress API rate limit, requests per minute per IP
	ShutdownTimeout time.Duration

	// Storage
	DBPath string

	// Distributed lock (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	// Upstream support-ticket API
	UpstreamBaseURL string
	UpstreamTimeout time.Duration
	PageSize        int

	// Notifier
	NotifyURL        string
	NotifyWorkers    int
	NotifyQueueSize  int
	NotifyMaxRetries int

	// Upstream rate limiter (global budget)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Circuit breaker (notifier)
	BreakerFailureThreshold int
	BreakerWindowSize       int
	BreakerTimeout          time.Duration

	// Ingestion
	FetchMaxRetries  int
	FetchBackoffBase time.Duration
	RetentionMaxAge  time.Duration

	// Logging
	LogLevel string
}

// FromEnv builds a Config from TICKD_* environment variables.
func FromEnv() Config {
	return Config{
		ListenAddr:      ParseString("TICKD_LISTEN", ":8080"),
		APIRateRPM:      ParseInt("TICKD_API_RATE_RPM", 600),
		ShutdownTimeout: ParseDuration("TICKD_SHUTDOWN_TIMEOUT", 15*time.Second),

		DBPath: ParseString("TICKD_DB_PATH", "/data/tickd.db"),

		RedisAddr:     ParseString("TICKD_REDIS_ADDR", "localhost:6379"),
		RedisPassword: ParseString("TICKD_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("TICKD_REDIS_DB", 0),
		LockTTL:       ParseDuration("TICKD_LOCK_TTL", 60*time.Second),

		UpstreamBaseURL: ParseString("TICKD_UPSTREAM_URL", "http://mock-external-api:9000"),
		UpstreamTimeout: ParseDuration("TICKD_UPSTREAM_TIMEOUT", 10*time.Second),
		PageSize:        ParseInt("TICKD_PAGE_SIZE", 50),

		NotifyURL:        ParseString("TICKD_NOTIFY_URL", "http://mock-external-api:9000/notify"),
		NotifyWorkers:    ParseInt("TICKD_NOTIFY_WORKERS", 4),
		NotifyQueueSize:  ParseInt("TICKD_NOTIFY_QUEUE", 256),
		NotifyMaxRetries: ParseInt("TICKD_NOTIFY_RETRIES", 3),

		RateLimitRequests: ParseInt("TICKD_RATELIMIT_REQUESTS", 60),
		RateLimitWindow:   ParseDuration("TICKD_RATELIMIT_WINDOW", 60*time.Second),

		BreakerFailureThreshold: ParseInt("TICKD_BREAKER_FAILURES", 5),
		BreakerWindowSize:       ParseInt("TICKD_BREAKER_WINDOW", 10),
		BreakerTimeout:          ParseDuration("TICKD_BREAKER_TIMEOUT", 30*time.Second),

		FetchMaxRetries:  ParseInt("TICKD_FETCH_RETRIES", 3),
		FetchBackoffBase: ParseDuration("TICKD_FETCH_BACKOFF", 500*time.Millisecond),
		RetentionMaxAge:  ParseDuration("TICKD_RETENTION_MAX_AGE", 90*24*time.Hour),

		LogLevel: ParseString("TICKD_LOG_LEVEL", "info"),
	}
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is empty")
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base URL %q: %w", c.UpstreamBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported upstream URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream base URL %q is missing host", c.UpstreamBaseURL)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d per %s", c.RateLimitRequests, c.RateLimitWindow)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive, got %s", c.LockTTL)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page size must be within [1,100], got %d", c.PageSize)
	}
	return nil
}
