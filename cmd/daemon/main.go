// SPDX-License-Identifier: MIT

// Command daemon runs the tickd backend: the tenant ticket API, the
// ingestion orchestrator and the retention sweeper, with graceful shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tickd/internal/analytics"
	"github.com/ManuGH/tickd/internal/api"
	"github.com/ManuGH/tickd/internal/classify"
	"github.com/ManuGH/tickd/internal/config"
	"github.com/ManuGH/tickd/internal/health"
	"github.com/ManuGH/tickd/internal/ingest"
	"github.com/ManuGH/tickd/internal/lock"
	xlog "github.com/ManuGH/tickd/internal/log"
	"github.com/ManuGH/tickd/internal/notify"
	"github.com/ManuGH/tickd/internal/ratelimit"
	"github.com/ManuGH/tickd/internal/resilience"
	"github.com/ManuGH/tickd/internal/store"
	tsync "github.com/ManuGH/tickd/internal/sync"
	"github.com/ManuGH/tickd/internal/upstream"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "tickd",
		Version: version,
	})
	logger := xlog.WithComponent("daemon")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.checks_failed").
			Msg("pre-flight checks failed")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	// Storage
	st, err := store.Open(cfg.DBPath, store.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Str("event", "store.close_failed").Msg("store close failed")
		}
	}()

	// Distributed lock
	locks, err := lock.New(lock.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.LockTTL,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = locks.Close() }()

	// Upstream client, rate limiter, circuit breakers
	up := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	breakers := resilience.NewRegistry(resilience.Config{
		FailureThreshold:      cfg.BreakerFailureThreshold,
		SuccessThreshold:      1,
		WindowSize:            cfg.BreakerWindowSize,
		Timeout:               cfg.BreakerTimeout,
		HalfOpenMaxConcurrent: 1,
	})

	// Notification dispatch
	var notifier ingest.Notifier
	var dispatcher *notify.Dispatcher
	if cfg.NotifyURL != "" {
		dispatcher = notify.NewDispatcher(
			notify.NewClient(cfg.NotifyURL, cfg.UpstreamTimeout),
			breakers.Get("notifications"),
			notify.Config{
				Workers:     cfg.NotifyWorkers,
				QueueSize:   cfg.NotifyQueueSize,
				MaxAttempts: cfg.NotifyMaxRetries,
			},
		)
		dispatcher.Start(ctx)
		defer dispatcher.Close()
		notifier = dispatcher
	}

	// Ingestion pipeline
	orch := ingest.New(st, locks, limiter, up, tsync.New(st), classify.Classify, notifier, ingest.Config{
		PageSize:    cfg.PageSize,
		MaxRetries:  cfg.FetchMaxRetries,
		BackoffBase: cfg.FetchBackoffBase,
	})

	// Health surface
	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewPingChecker("store", 2*time.Second, st.Ping))
	healthMgr.RegisterChecker(health.NewPingChecker("redis", 2*time.Second, locks.Ping))
	healthMgr.RegisterChecker(health.NewUpstreamChecker(2*time.Second, up.Ping))
	healthMgr.RegisterChecker(health.NewLastIngestChecker(func() (time.Time, string) {
		lctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ts, errMsg, err := st.LastIngestion(lctx)
		if err != nil {
			return time.Time{}, ""
		}
		return ts, errMsg
	}))

	// HTTP server
	server := api.New(st, orch, analytics.New(st), locks, breakers, limiter, healthMgr, api.Options{
		DefaultPageSize: 20,
		MaxPageSize:     cfg.PageSize * 2,
		StatsTimeout:    2 * time.Second,
		RateLimitRPM:    cfg.APIRateRPM,
		RateLimitWindow: time.Minute,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.ListenAddr).
			Msg("HTTP server started")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		// Let in-flight ingestion runs reach a terminal state.
		orch.Wait()
		return nil
	})

	// Retention sweep: soft-deleted and stale tickets age out of the store.
	g.Go(func() error {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := st.PurgeOlderThan(gctx, cfg.RetentionMaxAge)
				if err != nil {
					logger.Error().Err(err).Str("event", "retention.sweep_failed").Msg("retention sweep failed")
					continue
				}
				if n > 0 {
					logger.Info().
						Str("event", "retention.swept").
						Int64("purged", n).
						Msg("retention sweep purged tickets")
				}
			}
		}
	})

	return g.Wait()
}
