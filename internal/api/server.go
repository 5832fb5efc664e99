// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the tickd daemon: the tenant
// ticket read API, ingestion control, analytics and the operational
// endpoints (lock, circuit, rate limit, health, metrics).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/tickd/internal/analytics"
	apimw "github.com/ManuGH/tickd/internal/api/middleware"
	"github.com/ManuGH/tickd/internal/audit"
	"github.com/ManuGH/tickd/internal/health"
	"github.com/ManuGH/tickd/internal/lock"
	"github.com/ManuGH/tickd/internal/ratelimit"
	"github.com/ManuGH/tickd/internal/resilience"
	"github.com/ManuGH/tickd/internal/store"
	"github.com/ManuGH/tickd/internal/types"
)

// IngestRunner is the slice of the orchestrator the handlers need.
type IngestRunner interface {
	Start(ctx context.Context, tenantID string) (string, error)
	Cancel(ctx context.Context, jobID string) bool
	JobStatus(ctx context.Context, jobID string) (types.Job, error)
	TenantStatus(ctx context.Context, tenantID string) (types.Job, error)
}

// LockStatuser reports on a distributed lock without touching it.
type LockStatuser interface {
	Status(ctx context.Context, resource string) (*lock.Info, error)
}

// Options tunes the HTTP surface.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	StatsTimeout    time.Duration

	RateLimitRPM    int
	RateLimitWindow time.Duration
}

// DefaultOptions match the documented defaults.
func DefaultOptions() Options {
	return Options{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		StatsTimeout:    2 * time.Second,
		RateLimitRPM:    120,
		RateLimitWindow: time.Minute,
	}
}

// Server holds the handler dependencies.
type Server struct {
	store     *store.Store
	ingest    IngestRunner
	stats     *analytics.Service
	locks     LockStatuser
	breakers  *resilience.Registry
	limiter   *ratelimit.Limiter
	healthMgr *health.Manager
	audit     *audit.Logger
	opts      Options
}

// New wires a server. Nil healthMgr registers bare liveness endpoints.
func New(st *store.Store, ing IngestRunner, stats *analytics.Service, locks LockStatuser,
	breakers *resilience.Registry, limiter *ratelimit.Limiter, healthMgr *health.Manager, opts Options) *Server {
	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = 100
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = 2 * time.Second
	}
	if healthMgr == nil {
		healthMgr = health.NewManager("")
	}
	return &Server{
		store:     st,
		ingest:    ing,
		stats:     stats,
		locks:     locks,
		breakers:  breakers,
		limiter:   limiter,
		healthMgr: healthMgr,
		audit:     audit.NewLogger(),
		opts:      opts,
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := apimw.NewRouter(apimw.StackConfig{
		EnableMetrics:   true,
		EnableLogging:   true,
		EnableRateLimit: s.opts.RateLimitRPM > 0,
		RateLimitRPM:    s.opts.RateLimitRPM,
		RateLimitWindow: s.opts.RateLimitWindow,
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tickets", s.handleListTickets)
		r.Get("/tickets/urgent", s.handleUrgentTickets)
		r.Get("/tickets/{id}", s.handleGetTicket)
		r.Get("/tickets/{id}/history", s.handleTicketHistory)

		r.Get("/tenants/{tenant}/stats", s.handleTenantStats)

		r.Post("/ingest/run", s.handleIngestRun)
		r.Get("/ingest/status", s.handleIngestStatus)
		r.Get("/ingest/progress/{jobID}", s.handleIngestProgress)
		r.Delete("/ingest/{jobID}", s.handleIngestCancel)
		r.Get("/ingest/lock/{tenant}", s.handleLockStatus)

		r.Get("/circuit/{name}/status", s.handleCircuitStatus)
		r.Post("/circuit/{name}/reset", s.handleCircuitReset)
		r.Get("/ratelimit/status", s.handleRateLimitStatus)
	})

	r.Get("/healthz", s.healthMgr.ServeHealth)
	r.Get("/readyz", s.healthMgr.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
