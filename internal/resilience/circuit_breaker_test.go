// SPDX-License-Identifier: MIT

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		FailureThreshold:      3,
		SuccessThreshold:      1,
		WindowSize:            5,
		Timeout:               time.Second,
		HalfOpenMaxConcurrent: 1,
	}
}

func TestTripAfterThresholdFailures(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := New("notify", testConfig(), WithClock(clock))

	for i := 0; i < 3; i++ {
		err := cb.Do(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Fourth call rejected without invoking the function.
	invoked := false
	err := cb.Do(func() error { invoked = true; return nil })
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.False(t, invoked)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestHalfOpenAfterTimeoutThenClose(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := New("notify", testConfig(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errBoom })
	}
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(1100 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// One probe success closes the circuit.
	require.NoError(t, cb.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := New("notify", testConfig(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errBoom })
	}
	clock.now = clock.now.Add(2 * time.Second)

	err := cb.Do(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// opened_at was reset, so the breaker rejects again for a full timeout.
	clock.now = clock.now.Add(500 * time.Millisecond)
	var openErr *OpenError
	assert.ErrorAs(t, cb.Do(func() error { return nil }), &openErr)
}

func TestSuccessEvictsOldestOutcome(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cfg := testConfig()
	cfg.WindowSize = 3
	cb := New("notify", cfg, WithClock(clock))

	// Two failures, then enough successes to push them out of the window.
	_ = cb.Do(func() error { return errBoom })
	_ = cb.Do(func() error { return errBoom })
	require.NoError(t, cb.Do(func() error { return nil }))
	require.NoError(t, cb.Do(func() error { return nil }))

	// Window is now [fail, ok, ok]; one more failure must not trip (2 < 3).
	_ = cb.Do(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestStatusShape(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := New("notify", testConfig(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errBoom })
	}
	st := cb.Status()
	assert.Equal(t, "notify", st.Name)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 3, st.FailureCount)
	assert.Equal(t, 1.0, st.RecentFailureRate)
	require.NotNil(t, st.RetryAfter)
	assert.InDelta(t, 1.0, *st.RetryAfter, 0.01)
	require.NotNil(t, st.OpenedAt)
}

func TestReset(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := New("notify", testConfig(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errBoom })
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Status().FailureCount)
	require.NoError(t, cb.Do(func() error { return nil }))
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewRegistry(testConfig())
	a := r.Get("notify")
	b := r.Get("notify")
	assert.Same(t, a, b)

	_, ok := r.Lookup("unknown")
	assert.False(t, ok)
}
