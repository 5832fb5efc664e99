// SPDX-License-Identifier: MIT

// Package ratelimit enforces the process-wide request budget against the
// upstream support-ticket API. All concurrent tenant ingestions share one
// Limiter instance; a per-tenant limiter would exceed the upstream cap as soon
// as tenants*per_tenant_rate > limit.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/tickd/internal/metrics"
)

// slack added on top of the computed wait so the oldest timestamp is
// guaranteed to have left the window when we re-check.
const waitSlack = 10 * time.Millisecond

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Status is the observable state of the limiter.
type Status struct {
	Limit           int `json:"limit"`
	WindowSeconds   int `json:"window_seconds"`
	CurrentRequests int `json:"current_requests"`
	Remaining       int `json:"remaining"`
}

// Limiter is a sliding-window rate limiter over acquisition timestamps.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time // at most `limit` entries, oldest first

	clock clock
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(c clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithSleep overrides the wait primitive (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = fn }
}

// New creates a limiter that admits at most limit acquisitions per window.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		times:  make([]time.Time, 0, limit),
		clock:  realClock{},
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
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

// Acquire blocks until issuing one request now keeps the trailing-window count
// at or below the limit. The wait happens outside the mutex.
func (l *Limiter) Acquire(ctx context.Context) error {
	waited := time.Duration(0)
	for {
		wait, ok := l.tryAcquire()
		if ok {
			if waited > 0 {
				metrics.RecordRateLimitWait(waited)
			}
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// tryAcquire records an acquisition if the window has room; otherwise it
// returns the time until the oldest entry leaves the window.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.evictLocked(now)

	if len(l.times) < l.limit {
		l.times = append(l.times, now)
		return 0, true
	}

	wait := l.window - now.Sub(l.times[0]) + waitSlack
	if wait < waitSlack {
		wait = waitSlack
	}
	return wait, false
}

// evictLocked drops timestamps older than now-window. Caller holds the mutex.
func (l *Limiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.times) && !l.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}

// Status reports current window occupancy.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(l.clock.Now())
	current := len(l.times)
	remaining := l.limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Limit:           l.limit,
		WindowSeconds:   int(l.window / time.Second),
		CurrentRequests: current,
		Remaining:       remaining,
	}
}
