// SPDX-License-Identifier: MIT

// Package ingest orchestrates one full ingestion run per tenant: acquire the
// distributed lock, walk the upstream pages under the client rate limit,
// classify and reconcile each ticket, detect deletions, and leave a terminal
// job record behind on every exit path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tickd/internal/audit"
	"github.com/ManuGH/tickd/internal/classify"
	"github.com/ManuGH/tickd/internal/log"
	"github.com/ManuGH/tickd/internal/metrics"
	"github.com/ManuGH/tickd/internal/ratelimit"
	"github.com/ManuGH/tickd/internal/store"
	tsync "github.com/ManuGH/tickd/internal/sync"
	"github.com/ManuGH/tickd/internal/types"
	"github.com/ManuGH/tickd/internal/upstream"
)

// ErrAlreadyRunning is returned when another run holds the tenant's lock.
var ErrAlreadyRunning = errors.New("ingest: run already in progress for tenant")

// Upstream is the slice of the upstream client the orchestrator needs.
type Upstream interface {
	Tickets(ctx context.Context, page, pageSize int, includeDeleted bool) (upstream.Page, error)
	DeletedIDs(ctx context.Context) ([]string, error)
}

// Locker is the slice of the lock service the orchestrator needs.
type Locker interface {
	Acquire(ctx context.Context, resource, owner string) (bool, error)
	Release(ctx context.Context, resource, owner string) (bool, error)
	Refresh(ctx context.Context, resource, owner string) (bool, error)
	TTL() time.Duration
}

// Notifier accepts urgent-ticket notifications without blocking.
type Notifier interface {
	Enqueue(n types.Notification) bool
}

// Config tunes the page loop.
type Config struct {
	PageSize    int
	MaxRetries  int           // transient-error retries per page
	BackoffBase time.Duration // first retry delay, doubles per attempt
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{PageSize: 50, MaxRetries: 3, BackoffBase: 500 * time.Millisecond}
}

// Orchestrator runs and tracks ingestion jobs.
type Orchestrator struct {
	store    *store.Store
	locks    Locker
	limiter  *ratelimit.Limiter
	upstream Upstream
	engine   *tsync.Engine
	classify classify.Classifier
	notifier Notifier
	audit    *audit.Logger
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator. The notifier may be nil when notification
// dispatch is disabled.
func New(st *store.Store, locks Locker, limiter *ratelimit.Limiter, up Upstream,
	engine *tsync.Engine, cls classify.Classifier, notifier Notifier, cfg Config) *Orchestrator {
	if cfg.PageSize < 1 {
		cfg.PageSize = 50
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Orchestrator{
		store:    st,
		locks:    locks,
		limiter:  limiter,
		upstream: up,
		engine:   engine,
		classify: cls,
		notifier: notifier,
		audit:    audit.NewLogger(),
		cfg:      cfg,
		log:      log.WithComponent("ingest"),
		cancels:  make(map[string]context.CancelFunc),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lockResource(tenantID string) string { return "ingest:" + tenantID }

// Start begins an ingestion run for the tenant and returns its job id. The
// run itself proceeds in a background goroutine; callers poll JobStatus.
// ErrAlreadyRunning is returned when the tenant's lock is held.
func (o *Orchestrator) Start(ctx context.Context, tenantID string) (string, error) {
	jobID := uuid.NewString()

	ok, err := o.locks.Acquire(ctx, lockResource(tenantID), jobID)
	if err != nil {
		return "", fmt.Errorf("ingest start: %w", err)
	}
	if !ok {
		return "", ErrAlreadyRunning
	}

	job := types.Job{JobID: jobID, TenantID: tenantID, Status: types.JobRunning, StartedAt: time.Now()}
	if err := o.store.CreateJob(ctx, job); err != nil {
		_, _ = o.locks.Release(ctx, lockResource(tenantID), jobID)
		return "", fmt.Errorf("ingest start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()

	o.audit.IngestStart(tenantID, jobID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(runCtx, tenantID, jobID)
	}()
	return jobID, nil
}

// Cancel requests cooperative cancellation of a job. For a job running in
// this process it flips the context; for a job owned by another replica it
// transitions the job record, which the owning loop observes at the next
// page boundary. It reports whether a running job was found.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) bool {
	o.mu.Lock()
	cancel, local := o.cancels[jobID]
	o.mu.Unlock()
	if local {
		cancel()
		return true
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil || job.Status != types.JobRunning {
		return false
	}
	ok, err := o.store.FinishJob(ctx, jobID, types.JobCancelled)
	if err != nil || !ok {
		return false
	}
	o.audit.IngestCancel("api", job.TenantID, jobID)
	return true
}

// JobStatus returns the job record.
func (o *Orchestrator) JobStatus(ctx context.Context, jobID string) (types.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// TenantStatus returns the tenant's running job, or store.ErrNotFound when
// the tenant is idle.
func (o *Orchestrator) TenantStatus(ctx context.Context, tenantID string) (types.Job, error) {
	return o.store.RunningJob(ctx, tenantID)
}

// Wait blocks until all in-flight runs have finished. Used by the daemon
// during graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// counters is the mutable progress of one run.
type counters struct {
	totalPages     *int
	processedPages int
	newIngested    int
	updated        int
	errors         int
}

// run executes the page loop. Terminal job transition, ingestion log and
// lock release happen on every exit path.
func (o *Orchestrator) run(ctx context.Context, tenantID, jobID string) {
	started := time.Now()
	logger := o.log.With().Str("tenant_id", tenantID).Str("job_id", jobID).Logger()
	ctx = log.ContextWithJobID(log.ContextWithTenantID(ctx, tenantID), jobID)

	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := o.locks.Release(releaseCtx, lockResource(tenantID), jobID); err != nil {
			logger.Error().Str("event", "ingest.lock_release_failed").Err(err).Msg("lock release failed")
		}
	}()

	refreshDone := make(chan struct{})
	defer close(refreshDone)
	go o.refreshLock(tenantID, jobID, refreshDone, logger)

	var c counters
	runErr := o.pages(ctx, tenantID, jobID, &c, logger)

	status := types.JobCompleted
	errMsg := ""
	switch {
	case errors.Is(runErr, context.Canceled):
		status = types.JobCancelled
	case runErr != nil:
		status = types.JobFailed
		errMsg = runErr.Error()
	}

	// The guard makes this a no-op when another replica already cancelled.
	transitioned, err := o.store.FinishJob(context.Background(), jobID, status)
	if err != nil {
		logger.Error().Str("event", "ingest.finish_failed").Err(err).Msg("terminal transition failed")
	}
	if !transitioned {
		if job, err := o.store.GetJob(context.Background(), jobID); err == nil {
			status = job.Status
		}
	}

	if err := o.store.AppendIngestionLog(context.Background(), store.IngestionLogEntry{
		JobID:       jobID,
		TenantID:    tenantID,
		Status:      status,
		Error:       errMsg,
		StartedAt:   started,
		EndedAt:     time.Now(),
		NewIngested: c.newIngested,
		Updated:     c.updated,
		Errors:      c.errors,
	}); err != nil {
		logger.Error().Str("event", "ingest.log_failed").Err(err).Msg("ingestion log write failed")
	}

	switch status {
	case types.JobCompleted:
		o.audit.IngestComplete(tenantID, jobID, c.newIngested, c.updated, c.errors, time.Since(started).Milliseconds())
	case types.JobCancelled:
		o.audit.IngestCancel("run", tenantID, jobID)
	default:
		o.audit.IngestError(tenantID, jobID, errMsg)
	}

	logger.Info().
		Str("event", "ingest.finished").
		Str("status", status).
		Int("pages", c.processedPages).
		Int("new_ingested", c.newIngested).
		Int("updated", c.updated).
		Int("errors", c.errors).
		Dur("duration", time.Since(started)).
		Msg("ingestion run finished")
}

// refreshLock extends the lock at half its TTL until the run exits. A lost
// lock is logged but does not abort the run: the store upsert is idempotent,
// so the worst case is duplicated work, not corruption.
func (o *Orchestrator) refreshLock(tenantID, jobID string, done <-chan struct{}, logger zerolog.Logger) {
	interval := o.locks.TTL() / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := o.locks.Refresh(ctx, lockResource(tenantID), jobID)
			cancel()
			if err != nil || !ok {
				logger.Warn().Str("event", "ingest.lock_refresh_lost").Err(err).Msg("lock refresh failed")
			}
		}
	}
}

// pages walks the upstream listing until the last page, a fatal error or
// cancellation. Per-ticket and per-page errors are counted, not fatal.
func (o *Orchestrator) pages(ctx context.Context, tenantID, jobID string, c *counters, logger zerolog.Logger) error {
	page := 1
	skipped := false
	var seenIDs []string

	for {
		if err := o.checkpoint(ctx, jobID); err != nil {
			return err
		}

		p, err := o.fetchPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			c.errors++
			metrics.RecordIngestError(tenantID, "page")
			logger.Error().Str("event", "ingest.page_failed").Int("page", page).Err(err).Msg("page fetch failed")
			o.progress(jobID, c)
			// Without a single successful page there is no paging state to
			// continue from, so the run fails. Otherwise the page is skipped
			// and the walk moves on.
			if c.totalPages == nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			skipped = true
			page++
			if page > *c.totalPages {
				break
			}
			continue
		}

		if p.TotalCount > 0 && o.cfg.PageSize > 0 {
			tp := (p.TotalCount + o.cfg.PageSize - 1) / o.cfg.PageSize
			c.totalPages = &tp
		}

		for _, up := range p.Tickets {
			if ctx.Err() != nil {
				return context.Canceled
			}
			seenIDs = append(seenIDs, up.ID)

			labels := o.classify(up.Subject, up.Message)
			res, err := o.engine.SyncTicket(ctx, tenantID, up, labels)
			if err != nil {
				c.errors++
				metrics.RecordIngestError(tenantID, "sync")
				logger.Error().Str("event", "ingest.ticket_failed").Str("ticket_id", up.ID).Err(err).Msg("ticket sync failed")
				continue
			}
			metrics.RecordIngestTicket(tenantID, res.Action)
			switch res.Action {
			case types.ActionCreated:
				c.newIngested++
			case types.ActionUpdated:
				c.updated++
			}
			if o.notifier != nil && labels.Urgency == types.UrgencyHigh && res.Action != types.ActionUnchanged {
				o.notifier.Enqueue(types.Notification{
					TicketID: up.ID,
					TenantID: tenantID,
					Urgency:  labels.Urgency,
					Reason:   "high urgency ticket ingested",
				})
			}
		}

		c.processedPages++
		metrics.RecordIngestPage(tenantID)
		o.progress(jobID, c)

		if p.NextPage == nil {
			break
		}
		page = *p.NextPage
	}

	if err := o.checkpoint(ctx, jobID); err != nil {
		return err
	}
	if skipped {
		// A skipped page leaves the seen-id set incomplete; diffing against
		// it would soft-delete every ticket on that page.
		logger.Warn().Str("event", "ingest.deletion_skipped").Msg("deletion reconciliation skipped after page failures")
		return nil
	}
	return o.reconcileDeleted(ctx, tenantID, seenIDs, c, logger)
}

// checkpoint enforces cooperative cancellation at page boundaries: local
// context cancellation and cross-replica terminal transitions both stop the
// loop.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string) error {
	if ctx.Err() != nil {
		return context.Canceled
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if job.Status != types.JobRunning {
		return context.Canceled
	}
	return nil
}

// fetchPage acquires the client rate limit and fetches one page. A 429 waits
// out Retry-After and retries the same page without consuming an attempt;
// transient failures retry with exponential backoff and jitter.
func (o *Orchestrator) fetchPage(ctx context.Context, page int) (upstream.Page, error) {
	attempt := 0
	for {
		if err := o.limiter.Acquire(ctx); err != nil {
			return upstream.Page{}, err
		}

		p, err := o.upstream.Tickets(ctx, page, o.cfg.PageSize, false)
		if err == nil {
			return p, nil
		}

		var throttled *upstream.ThrottledError
		if errors.As(err, &throttled) {
			if serr := o.sleep(ctx, throttled.RetryAfter); serr != nil {
				return upstream.Page{}, serr
			}
			continue
		}

		if !transient(err) {
			return upstream.Page{}, err
		}
		attempt++
		if attempt >= o.cfg.MaxRetries {
			return upstream.Page{}, err
		}
		if serr := o.sleep(ctx, backoff(o.cfg.BackoffBase, attempt)); serr != nil {
			return upstream.Page{}, serr
		}
	}
}

// transient reports whether an upstream error is worth retrying: 5xx
// responses and transport failures are, other HTTP statuses are not.
func transient(err error) bool {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return true
}

// reconcileDeleted soft-deletes tickets upstream no longer reports. The page
// walk's id set is authoritative; the deleted-tickets endpoint is merged in
// as a cross-check since upstream prunes its listing lazily.
func (o *Orchestrator) reconcileDeleted(ctx context.Context, tenantID string, seenIDs []string, c *counters, logger zerolog.Logger) error {
	missing, err := o.engine.DetectDeleted(ctx, tenantID, seenIDs)
	if err != nil {
		return err
	}

	if err := o.limiter.Acquire(ctx); err == nil {
		if declared, err := o.upstream.DeletedIDs(ctx); err == nil {
			missing = mergeIDs(missing, declared)
		} else {
			logger.Warn().Str("event", "ingest.deleted_fetch_failed").Err(err).Msg("deleted-tickets fetch failed")
		}
	} else {
		return err
	}

	if len(missing) == 0 {
		return nil
	}
	n, err := o.engine.MarkDeleted(ctx, tenantID, missing)
	if err != nil {
		return err
	}
	metrics.RecordIngestTicket(tenantID, types.ActionDeleted)
	logger.Info().Str("event", "ingest.deleted").Int("count", n).Msg("deleted tickets reconciled")
	return nil
}

func (o *Orchestrator) progress(jobID string, c *counters) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateJobProgress(ctx, jobID, c.totalPages, c.processedPages, c.newIngested, c.updated, c.errors); err != nil {
		o.log.Error().Str("event", "ingest.progress_failed").Str("job_id", jobID).Err(err).Msg("progress update failed")
	}
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// backoff doubles per attempt with ±20% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + jitter
}
