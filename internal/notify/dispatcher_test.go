// SPDX-License-Identifier: MIT

package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tickd/internal/resilience"
	"github.com/ManuGH/tickd/internal/types"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []types.Notification
	failN    int32 // fail this many calls before succeeding
	failWith error
}

func (f *fakeSender) Send(_ context.Context, n types.Notification) error {
	if atomic.AddInt32(&f.failN, -1) >= 0 {
		return f.failWith
	}
	f.mu.Lock()
	f.sent = append(f.sent, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func instantSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testNotification(id string) types.Notification {
	return types.Notification{TicketID: id, TenantID: "tenant_a", Urgency: types.UrgencyHigh, Reason: "urgency high"}
}

func newTestDispatcher(t *testing.T, sender Sender, cfg Config) *Dispatcher {
	t.Helper()
	d := NewDispatcher(sender, resilience.New(t.Name(), resilience.DefaultConfig()), cfg)
	d.sleep = instantSleep
	return d
}

func TestDeliverySucceeds(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	d := newTestDispatcher(t, sender, DefaultConfig())
	d.Start(context.Background())

	require.True(t, d.Enqueue(testNotification("ext-001")))
	d.Close()

	assert.Equal(t, 1, sender.delivered())
}

func TestRetryThenDeliver(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{failN: 2, failWith: errors.New("webhook down")}
	d := newTestDispatcher(t, sender, DefaultConfig())
	d.Start(context.Background())

	require.True(t, d.Enqueue(testNotification("ext-001")))
	d.Close()

	// Two failures, third attempt lands.
	assert.Equal(t, 1, sender.delivered())
}

func TestAttemptsExhaustedDeadLetters(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{failN: 100, failWith: errors.New("webhook down")}
	d := newTestDispatcher(t, sender, DefaultConfig())
	d.Start(context.Background())

	require.True(t, d.Enqueue(testNotification("ext-001")))
	d.Close()

	assert.Equal(t, 0, sender.delivered())
}

func TestBreakerOpenDeadLettersWithoutSending(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	cb := resilience.New(t.Name(), resilience.Config{
		FailureThreshold: 1, SuccessThreshold: 1, WindowSize: 5,
		Timeout: time.Hour, HalfOpenMaxConcurrent: 1,
	})
	// Trip the breaker up front.
	_ = cb.Do(func() error { return errors.New("boom") })
	require.Equal(t, resilience.StateOpen, cb.State())

	d := NewDispatcher(sender, cb, DefaultConfig())
	d.sleep = instantSleep
	d.Start(context.Background())

	require.True(t, d.Enqueue(testNotification("ext-001")))
	d.Close()

	assert.Equal(t, 0, sender.delivered())
}

func TestQueueFullDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	d := newTestDispatcher(t, sender, Config{Workers: 1, QueueSize: 1, MaxAttempts: 1, BackoffBase: time.Millisecond})
	// Workers not started: the queue holds one item, the second must drop.

	assert.True(t, d.Enqueue(testNotification("ext-001")))
	assert.False(t, d.Enqueue(testNotification("ext-002")))

	d.Start(context.Background())
	d.Close()
	assert.Equal(t, 1, sender.delivered())
}

func TestContextCancelStopsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	d := newTestDispatcher(t, sender, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	d.Close()
}
