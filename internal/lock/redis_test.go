// SPDX-License-Identifier: MIT

package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, ttl), mr
}

func TestAcquireExcludesSecondOwner(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	ok, err := svc.Acquire(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Acquire(ctx, "ingest:tenant_x", "job-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different resource is unaffected.
	ok, err = svc.Acquire(ctx, "ingest:tenant_y", "job-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockIsReclaimable(t *testing.T) {
	svc, mr := newTestService(t, 100*time.Millisecond)
	ctx := context.Background()

	ok, err := svc.Acquire(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(150 * time.Millisecond)

	ok, err = svc.Acquire(ctx, "ingest:tenant_x", "job-2")
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be reclaimable by any owner")
}

func TestReleaseRequiresOwner(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)

	ok, err := svc.Release(ctx, "ingest:tenant_x", "job-2")
	require.NoError(t, err)
	assert.False(t, ok, "non-owner release must be a no-op")

	ok, err = svc.Release(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Released lock is acquirable again.
	ok, err = svc.Acquire(ctx, "ingest:tenant_x", "job-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAfterExpiryRace(t *testing.T) {
	svc, mr := newTestService(t, 100*time.Millisecond)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)

	mr.FastForward(150 * time.Millisecond)

	// job-2 reclaims; the zombie job-1 must not be able to release it.
	ok, err := svc.Acquire(ctx, "ingest:tenant_x", "job-2")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Release(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := svc.Status(ctx, "ingest:tenant_x")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "job-2", info.OwnerID)
}

func TestRefreshExtendsOnlyForOwner(t *testing.T) {
	svc, mr := newTestService(t, 200*time.Millisecond)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)

	mr.FastForward(150 * time.Millisecond)

	ok, err := svc.Refresh(ctx, "ingest:tenant_x", "job-other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Refresh(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Refresh restarted the TTL, so the lock survives past the original expiry.
	mr.FastForward(150 * time.Millisecond)
	info, err := svc.Status(ctx, "ingest:tenant_x")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "job-1", info.OwnerID)
}

func TestStatusDistinguishesAbsent(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	info, err := svc.Status(ctx, "ingest:nope")
	require.NoError(t, err)
	assert.Nil(t, info, "missing lock must be distinguishable from a held one")

	_, err = svc.Acquire(ctx, "ingest:tenant_x", "job-1")
	require.NoError(t, err)

	info, err = svc.Status(ctx, "ingest:tenant_x")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "ingest:tenant_x", info.ResourceID)
	assert.Equal(t, "job-1", info.OwnerID)
	assert.False(t, info.IsExpired)
	assert.False(t, info.AcquiredAt.IsZero())
	assert.True(t, info.ExpiresAt.After(time.Now()))
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := svc.Acquire(ctx, "ingest:tenant_x", "job-"+string(rune('a'+n)))
			assert.NoError(t, err)
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
