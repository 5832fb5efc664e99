// SPDX-License-Identifier: MIT

// Package resilience implements the circuit breaker that gates flaky
// downstreams (the notifier is the only required one). It converts tail
// failures into fast rejects so retry loops cannot stampede a sick service.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/tickd/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// OpenError is returned when a call is rejected because the circuit is open
// (or half-open with the probe slot taken). RetryAfter hints when probing is
// permitted again.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry after %.1fs", e.Name, e.RetryAfter.Seconds())
}

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds circuit breaker tuning parameters.
type Config struct {
	FailureThreshold      int           // failures within the window that trip the breaker
	SuccessThreshold      int           // half-open successes required to close
	WindowSize            int           // bounded FIFO of recent outcomes
	Timeout               time.Duration // open duration before probing
	HalfOpenMaxConcurrent int           // probe slots while half-open
}

// DefaultConfig matches the notifier protection defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:      5,
		SuccessThreshold:      1,
		WindowSize:            10,
		Timeout:               30 * time.Second,
		HalfOpenMaxConcurrent: 1,
	}
}

// Status is the observable state of a breaker.
type Status struct {
	Name              string     `json:"name"`
	State             State      `json:"state"`
	FailureCount      int        `json:"failure_count"`
	SuccessCount      int        `json:"success_count"`
	RecentFailureRate float64    `json:"recent_failure_rate"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	RetryAfter        *float64   `json:"retry_after,omitempty"`
}

// CircuitBreaker is a three-state failure detector over a sliding window of
// call outcomes. All state decisions happen under one mutex; the wrapped
// function runs outside it.
type CircuitBreaker struct {
	mu   sync.Mutex
	name string
	cfg  Config

	state           State
	results         []bool // FIFO of outcomes, true = success, bounded by WindowSize
	failureCount    int    // lifetime failures, observability only
	successCount    int    // lifetime successes, observability only
	openedAt        time.Time
	halfOpenInFlight int
	halfOpenSuccesses int

	clock clock
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock overrides the time source (tests).
func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// New creates a circuit breaker with the given name and config.
func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxConcurrent <= 0 {
		cfg.HalfOpenMaxConcurrent = 1
	}

	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		clock: realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(cb.name, string(cb.state))
	return cb
}

// Do executes fn when the breaker permits and records its outcome. When the
// circuit is open it fails immediately with *OpenError.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()

	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// admit decides whether a call may proceed, applying the open->half-open
// transition at call time.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := cb.clock.Now().Sub(cb.openedAt)
		if elapsed < cb.cfg.Timeout {
			return &OpenError{Name: cb.name, RetryAfter: cb.cfg.Timeout - elapsed}
		}
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return nil

	default: // StateHalfOpen
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxConcurrent {
			return &OpenError{Name: cb.name, RetryAfter: 0}
		}
		cb.halfOpenInFlight++
		return nil
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.pushResultLocked(true)

	if cb.state == StateHalfOpen {
		cb.halfOpenInFlight--
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.pushResultLocked(false)

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight--
		metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
		cb.transitionLocked(StateOpen)

	case StateClosed:
		if cb.windowFailuresLocked() >= cb.cfg.FailureThreshold {
			metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
			cb.transitionLocked(StateOpen)
		}
	}
}

// pushResultLocked appends one outcome, evicting the oldest when the window is
// full. A success never resets the window, it only evicts.
func (cb *CircuitBreaker) pushResultLocked(ok bool) {
	if len(cb.results) >= cb.cfg.WindowSize {
		cb.results = cb.results[1:]
	}
	cb.results = append(cb.results, ok)
}

func (cb *CircuitBreaker) windowFailuresLocked() int {
	n := 0
	for _, ok := range cb.results {
		if !ok {
			n++
		}
	}
	return n
}

// transitionLocked handles state changes and metrics. Caller holds the mutex.
func (cb *CircuitBreaker) transitionLocked(next State) {
	if cb.state == next && next != StateOpen {
		return
	}
	cb.state = next
	switch next {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccesses = 0
	}
	metrics.SetCircuitBreakerState(cb.name, string(next))
}

// State returns the current state, applying the timed open->half-open
// transition so observers see the probe-ready state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.clock.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// Status reports the observable breaker state.
func (cb *CircuitBreaker) Status() Status {
	state := cb.State()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := Status{
		Name:         cb.name,
		State:        state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
	}
	if len(cb.results) > 0 {
		st.RecentFailureRate = float64(cb.windowFailuresLocked()) / float64(len(cb.results))
	}
	if !cb.openedAt.IsZero() {
		at := cb.openedAt
		st.OpenedAt = &at
	}
	if state == StateOpen {
		remaining := (cb.cfg.Timeout - cb.clock.Now().Sub(cb.openedAt)).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		st.RetryAfter = &remaining
	}
	return st
}

// Reset returns the breaker to a pristine closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.results = nil
	cb.failureCount = 0
	cb.successCount = 0
	cb.openedAt = time.Time{}
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0
	metrics.SetCircuitBreakerState(cb.name, string(StateClosed))
}
