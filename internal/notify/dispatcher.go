// SPDX-License-Identifier: MIT

package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tickd/internal/log"
	"github.com/ManuGH/tickd/internal/metrics"
	"github.com/ManuGH/tickd/internal/resilience"
	"github.com/ManuGH/tickd/internal/types"
)

// Config tunes the dispatcher pool.
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultConfig matches the documented defaults: 4 workers, queue of 256,
// 3 attempts, 500ms backoff base.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256, MaxAttempts: 3, BackoffBase: 500 * time.Millisecond}
}

// Dispatcher fans notifications out to a bounded worker pool. Enqueue never
// blocks the ingestion path: when the queue is full the notification is
// dropped to the dead-letter log.
type Dispatcher struct {
	sender  Sender
	breaker *resilience.CircuitBreaker
	cfg     Config
	log     zerolog.Logger

	queue chan types.Notification
	wg    sync.WaitGroup
	once  sync.Once

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a dispatcher; call Start before enqueuing.
func NewDispatcher(sender Sender, breaker *resilience.CircuitBreaker, cfg Config) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Dispatcher{
		sender:  sender,
		breaker: breaker,
		cfg:     cfg,
		log:     log.WithComponent("notify"),
		queue:   make(chan types.Notification, cfg.QueueSize),
		sleep:   sleepCtx,
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

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// queue is closed via Close.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n, ok := <-d.queue:
					if !ok {
						return
					}
					d.deliver(ctx, n)
				}
			}
		}()
	}
}

// Enqueue hands a notification to the pool without blocking. It reports
// whether the notification was accepted.
func (d *Dispatcher) Enqueue(n types.Notification) bool {
	select {
	case d.queue <- n:
		return true
	default:
		metrics.RecordNotifyOutcome("dropped")
		d.deadLetter(n, "queue full", nil)
		return false
	}
}

// Close stops accepting work and waits for in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// deliver attempts the send with exponential backoff. A breaker-open reject
// goes straight to the dead-letter log: retrying locally while the breaker
// is open would only burn attempts.
func (d *Dispatcher) deliver(ctx context.Context, n types.Notification) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, backoff(d.cfg.BackoffBase, attempt)); err != nil {
				d.deadLetter(n, "shutdown", lastErr)
				return
			}
		}

		err := d.breaker.Do(func() error { return d.sender.Send(ctx, n) })
		if err == nil {
			metrics.RecordNotifyOutcome("delivered")
			d.log.Info().
				Str("event", "notify.delivered").
				Str("tenant_id", n.TenantID).
				Str("ticket_id", n.TicketID).
				Int("attempt", attempt+1).
				Msg("notification delivered")
			return
		}

		var open *resilience.OpenError
		if errors.As(err, &open) {
			metrics.RecordNotifyOutcome("dead_letter")
			d.deadLetter(n, "circuit open", err)
			return
		}
		lastErr = err
	}

	metrics.RecordNotifyOutcome("dead_letter")
	d.deadLetter(n, "attempts exhausted", lastErr)
}

// deadLetter is the terminal record for an undeliverable notification. There
// is no persistence behind it; the structured log line is the audit trail.
func (d *Dispatcher) deadLetter(n types.Notification, reason string, err error) {
	ev := d.log.Warn().
		Str("event", "notify.dead_letter").
		Str("tenant_id", n.TenantID).
		Str("ticket_id", n.TicketID).
		Str("urgency", n.Urgency).
		Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("notification dead-lettered")
}

// backoff doubles per attempt with ±20% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + jitter
}
