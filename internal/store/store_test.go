// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tickd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tickd.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTicket(tenant, id string, created time.Time) types.Ticket {
	return types.Ticket{
		TenantID:   tenant,
		ExternalID: id,
		Source:     "email",
		CustomerID: "cust-1",
		Subject:    "subject " + id,
		Message:    "message " + id,
		Status:     types.StatusOpen,
		CreatedAt:  created,
		UpdatedAt:  created,
		Labels:     types.DefaultLabels(),
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tk := testTicket("tenant_a", "ext-001", now)
	changed, err := s.UpsertTicket(ctx, tk)
	require.NoError(t, err)
	assert.True(t, changed)

	// Same input again is a no-op.
	changed, err = s.UpsertTicket(ctx, tk)
	require.NoError(t, err)
	assert.False(t, changed)

	n, err := s.CountTickets(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertMonotonicUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tk := testTicket("tenant_a", "ext-001", now)
	_, err := s.UpsertTicket(ctx, tk)
	require.NoError(t, err)

	// A stale payload (older updated_at) must not overwrite.
	stale := tk
	stale.Subject = "stale"
	stale.UpdatedAt = now.Add(-time.Hour)
	changed, err := s.UpsertTicket(ctx, stale)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetTicket(ctx, "tenant_a", "ext-001")
	require.NoError(t, err)
	assert.Equal(t, "subject ext-001", got.Subject)

	// A strictly newer payload replaces.
	fresh := tk
	fresh.Subject = "fresh"
	fresh.UpdatedAt = now.Add(time.Hour)
	changed, err = s.UpsertTicket(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = s.GetTicket(ctx, "tenant_a", "ext-001")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Subject)
	assert.Equal(t, now.Add(time.Hour), got.UpdatedAt)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.UpsertTicket(ctx, testTicket("tenant_a", "ext-001", now))
	require.NoError(t, err)
	_, err = s.UpsertTicket(ctx, testTicket("tenant_b", "ext-001", now))
	require.NoError(t, err)
	_, err = s.UpsertTicket(ctx, testTicket("tenant_b", "ext-002", now))
	require.NoError(t, err)

	list, err := s.ListTickets(ctx, "tenant_a", Filters{}, 1, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	for _, tk := range list {
		assert.Equal(t, "tenant_a", tk.TenantID)
		assert.Nil(t, tk.DeletedAt)
	}
}

func TestSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for _, id := range []string{"ext-001", "ext-002", "ext-003"} {
		_, err := s.UpsertTicket(ctx, testTicket("tenant_y", id, now))
		require.NoError(t, err)
	}

	transitioned, err := s.SoftDelete(ctx, "tenant_y", []string{"ext-002", "ext-missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ext-002"}, transitioned)

	// Already-deleted rows do not transition again.
	transitioned, err = s.SoftDelete(ctx, "tenant_y", []string{"ext-002"})
	require.NoError(t, err)
	assert.Empty(t, transitioned)

	// Soft-deleted rows are invisible to the scoped read.
	_, err = s.GetTicket(ctx, "tenant_y", "ext-002")
	assert.ErrorIs(t, err, ErrNotFound)

	// But still reachable for reconciliation.
	got, err := s.GetTicketIncludeDeleted(ctx, "tenant_y", "ext-002")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)

	list, err := s.ListTickets(ctx, "tenant_y", Filters{}, 1, 50)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	ids, err := s.ListActiveExternalIDs(ctx, "tenant_y")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ext-001", "ext-003"}, ids)
}

func TestUpsertResurrectsSoftDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	tk := testTicket("tenant_y", "ext-001", now)
	_, err := s.UpsertTicket(ctx, tk)
	require.NoError(t, err)
	_, err = s.SoftDelete(ctx, "tenant_y", []string{"ext-001"})
	require.NoError(t, err)

	// A newer write clears deleted_at and the ticket is visible again.
	fresh := tk
	fresh.UpdatedAt = now.Add(time.Hour)
	changed, err := s.UpsertTicket(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.GetTicket(ctx, "tenant_y", "ext-001")
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)

	list, err := s.ListTickets(ctx, "tenant_y", Filters{}, 1, 50)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// A strictly stale write does not resurrect.
	_, err = s.SoftDelete(ctx, "tenant_y", []string{"ext-001"})
	require.NoError(t, err)
	stale := tk
	stale.UpdatedAt = now.Add(-time.Hour)
	changed, err = s.UpsertTicket(ctx, stale)
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = s.GetTicket(ctx, "tenant_y", "ext-001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	for i := 0; i < 5; i++ {
		tk := testTicket("tenant_a", "ext-00"+string(rune('1'+i)), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			tk.Status = types.StatusClosed
		}
		_, err := s.UpsertTicket(ctx, tk)
		require.NoError(t, err)
	}

	closed, err := s.ListTickets(ctx, "tenant_a", Filters{Status: types.StatusClosed}, 1, 50)
	require.NoError(t, err)
	assert.Len(t, closed, 3)

	page1, err := s.ListTickets(ctx, "tenant_a", Filters{}, 1, 2)
	require.NoError(t, err)
	page2, err := s.ListTickets(ctx, "tenant_a", Filters{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	// Newest first across pages.
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))
	assert.True(t, page1[1].CreatedAt.After(page2[0].CreatedAt))
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := types.Job{JobID: "job-1", TenantID: "tenant_a", Status: types.JobRunning, StartedAt: time.Now()}
	require.NoError(t, s.CreateJob(ctx, job))

	running, err := s.RunningJob(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, "job-1", running.JobID)

	tp := 7
	require.NoError(t, s.UpdateJobProgress(ctx, "job-1", &tp, 3, 10, 2, 1))
	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.TotalPages)
	assert.Equal(t, 7, *got.TotalPages)
	assert.Equal(t, 3, got.ProcessedPages)
	assert.Equal(t, 10, got.NewIngested)

	ok, err := s.FinishJob(ctx, "job-1", types.JobCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	// Terminal transitions are monotonic: a second transition is rejected.
	ok, err = s.FinishJob(ctx, "job-1", types.JobCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, got.Status)
	require.NotNil(t, got.EndedAt)

	_, err = s.RunningJob(ctx, "tenant_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastIngestion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts, errMsg, err := s.LastIngestion(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
	assert.Empty(t, errMsg)

	ended := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AppendIngestionLog(ctx, IngestionLogEntry{
		JobID: "job-1", TenantID: "tenant_a", Status: types.JobFailed,
		Error: "upstream unreachable", StartedAt: ended.Add(-time.Minute), EndedAt: ended,
	}))
	require.NoError(t, s.AppendIngestionLog(ctx, IngestionLogEntry{
		JobID: "job-2", TenantID: "tenant_a", Status: types.JobCompleted,
		StartedAt: ended.Add(time.Minute), EndedAt: ended.Add(2 * time.Minute),
		NewIngested: 5,
	}))

	ts, errMsg, err = s.LastIngestion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ended.Add(2*time.Minute), ts)
	assert.Empty(t, errMsg)
}

func TestHistoryAppendOnlyOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	entries := []types.HistoryEntry{
		{TicketID: "ext-001", TenantID: "tenant_a", Action: types.ActionCreated, RecordedAt: base},
		{TicketID: "ext-001", TenantID: "tenant_a", Action: types.ActionUpdated,
			Changes:    types.ChangeSet{"subject": {Old: "old", New: "new"}},
			RecordedAt: base.Add(time.Minute)},
		{TicketID: "ext-001", TenantID: "tenant_a", Action: types.ActionDeleted, RecordedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.RecordHistory(ctx, e))
	}

	got, err := s.ListHistory(ctx, "ext-001", "tenant_a", 50)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, types.ActionDeleted, got[0].Action)
	assert.Equal(t, types.ActionUpdated, got[1].Action)
	assert.Equal(t, types.ActionCreated, got[2].Action)

	// Diff payload round-trips; untouched fields are absent, not null.
	require.Contains(t, got[1].Changes, "subject")
	assert.Equal(t, "old", got[1].Changes["subject"].Old)
	assert.Equal(t, "new", got[1].Changes["subject"].New)
	assert.NotContains(t, got[1].Changes, "message")

	// Scoped to tenant.
	other, err := s.ListHistory(ctx, "ext-001", "tenant_b", 50)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestTenantFacets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Hour)

	mk := func(id, status, urgency, sentiment string, created time.Time) {
		tk := testTicket("tenant_a", id, created)
		tk.Status = status
		tk.Urgency = urgency
		tk.Sentiment = sentiment
		_, err := s.UpsertTicket(ctx, tk)
		require.NoError(t, err)
	}
	mk("e1", types.StatusOpen, types.UrgencyHigh, types.SentimentNegative, now.Add(-30*time.Minute))
	mk("e2", types.StatusOpen, types.UrgencyLow, types.SentimentNeutral, now.Add(-90*time.Minute))
	mk("e3", types.StatusClosed, types.UrgencyHigh, types.SentimentPositive, now.Add(-30*time.Minute))
	mk("e4", types.StatusPending, types.UrgencyLow, types.SentimentNegative, now.Add(-25*time.Hour))

	f, err := s.TenantFacets(ctx, "tenant_a", nil, nil, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, f.Total)
	assert.Equal(t, 2, f.ByStatus[types.StatusOpen])
	assert.Equal(t, 1, f.ByStatus[types.StatusClosed])
	assert.Equal(t, 2, f.HighUrgency)
	assert.Equal(t, 2, f.Negative)

	// e4 is outside the 24h trend window.
	trendTotal := 0
	for _, b := range f.Hourly {
		trendTotal += b.Count
	}
	assert.Equal(t, 3, trendTotal)
}

func TestListPlanUsesTenantIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := s.UpsertTicket(ctx, testTicket("tenant_a", "ext-001", now))
	require.NoError(t, err)

	plan, err := s.ExplainListPlan(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Contains(t, plan, "idx_tickets_tenant_created")
	assert.NotContains(t, plan, "SCAN tickets")
}

func TestPurgeOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := testTicket("tenant_a", "ext-old", time.Now().UTC().Add(-100*24*time.Hour))
	fresh := testTicket("tenant_a", "ext-new", time.Now().UTC())
	_, err := s.UpsertTicket(ctx, old)
	require.NoError(t, err)
	_, err = s.UpsertTicket(ctx, fresh)
	require.NoError(t, err)

	n, err := s.PurgeOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetTicket(ctx, "tenant_a", "ext-old")
	assert.ErrorIs(t, err, ErrNotFound)
}
