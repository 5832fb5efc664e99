// SPDX-License-Identifier: MIT

package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tickd/internal/store"
	"github.com/ManuGH/tickd/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tickd.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func seed(t *testing.T, st *store.Store, tenant, id, status, urgency, sentiment string, created time.Time) {
	t.Helper()
	_, err := st.UpsertTicket(context.Background(), types.Ticket{
		TenantID: tenant, ExternalID: id, Source: "email", CustomerID: "c1",
		Subject: "s", Message: "m", Status: status,
		CreatedAt: created, UpdatedAt: created,
		Labels: types.Labels{Urgency: urgency, Sentiment: sentiment},
	})
	require.NoError(t, err)
}

func TestTenantStats(t *testing.T) {
	svc, st := newTestService(t)
	now := time.Now().UTC().Truncate(time.Hour)

	seed(t, st, "tenant_a", "e1", types.StatusOpen, types.UrgencyHigh, types.SentimentNegative, now.Add(-30*time.Minute))
	seed(t, st, "tenant_a", "e2", types.StatusOpen, types.UrgencyLow, types.SentimentNeutral, now.Add(-30*time.Minute))
	seed(t, st, "tenant_a", "e3", types.StatusClosed, types.UrgencyHigh, types.SentimentPositive, now.Add(-90*time.Minute))
	seed(t, st, "tenant_a", "e4", types.StatusPending, types.UrgencyLow, types.SentimentNegative, now.Add(-2*time.Hour))
	// Another tenant's data must not bleed in.
	seed(t, st, "tenant_b", "e1", types.StatusOpen, types.UrgencyHigh, types.SentimentNegative, now)

	stats, err := svc.TenantStats(context.Background(), "tenant_a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", stats.TenantID)
	assert.Equal(t, 4, stats.TotalTickets)
	assert.Equal(t, 2, stats.ByStatus[types.StatusOpen])
	assert.Equal(t, 1, stats.ByStatus[types.StatusClosed])
	assert.Equal(t, 1, stats.ByStatus[types.StatusPending])
	assert.InDelta(t, 0.5, stats.UrgencyHighRatio, 1e-9)
	assert.InDelta(t, 0.5, stats.NegativeSentimentRatio, 1e-9)
	assert.NotEmpty(t, stats.HourlyTrend)
}

func TestTenantStatsEmptyTenant(t *testing.T) {
	svc, _ := newTestService(t)

	stats, err := svc.TenantStats(context.Background(), "tenant_empty", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalTickets)
	assert.Zero(t, stats.UrgencyHighRatio)
	assert.Zero(t, stats.NegativeSentimentRatio)
	assert.NotNil(t, stats.HourlyTrend)
	assert.Empty(t, stats.HourlyTrend)
}

func TestTenantStatsDateRange(t *testing.T) {
	svc, st := newTestService(t)
	now := time.Now().UTC().Truncate(time.Hour)

	seed(t, st, "tenant_a", "old", types.StatusOpen, types.UrgencyHigh, types.SentimentNegative, now.Add(-72*time.Hour))
	seed(t, st, "tenant_a", "new", types.StatusOpen, types.UrgencyLow, types.SentimentNeutral, now.Add(-time.Hour))

	from := now.Add(-24 * time.Hour)
	stats, err := svc.TenantStats(context.Background(), "tenant_a", &from, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTickets)
	assert.Zero(t, stats.UrgencyHighRatio)
}
