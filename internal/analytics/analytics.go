// SPDX-License-Identifier: MIT

// Package analytics turns the store's per-tenant aggregates into the stats
// payload served by the API. All heavy lifting is pushed down to SQLite; this
// layer only derives ratios and shapes the response.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/tickd/internal/store"
)

// Stats is the per-tenant analytics response.
type Stats struct {
	TenantID               string            `json:"tenant_id"`
	TotalTickets           int               `json:"total_tickets"`
	ByStatus               map[string]int    `json:"by_status"`
	UrgencyHighRatio       float64           `json:"urgency_high_ratio"`
	NegativeSentimentRatio float64           `json:"negative_sentiment_ratio"`
	HourlyTrend            []store.HourBucket `json:"hourly_trend"`
}

// Service computes tenant statistics.
type Service struct {
	store       *store.Store
	trendWindow time.Duration
}

// New returns a service with the default 24h trend window.
func New(st *store.Store) *Service {
	return &Service{store: st, trendWindow: 24 * time.Hour}
}

// TenantStats aggregates non-deleted tickets for one tenant, optionally
// bounded by a created_at range. Ratios are 0 when the tenant has no tickets.
func (s *Service) TenantStats(ctx context.Context, tenantID string, from, to *time.Time) (Stats, error) {
	f, err := s.store.TenantFacets(ctx, tenantID, from, to, s.trendWindow)
	if err != nil {
		return Stats{}, fmt.Errorf("tenant stats %s: %w", tenantID, err)
	}

	out := Stats{
		TenantID:     tenantID,
		TotalTickets: f.Total,
		ByStatus:     f.ByStatus,
		HourlyTrend:  f.Hourly,
	}
	if out.HourlyTrend == nil {
		out.HourlyTrend = []store.HourBucket{}
	}
	if f.Total > 0 {
		out.UrgencyHighRatio = float64(f.HighUrgency) / float64(f.Total)
		out.NegativeSentimentRatio = float64(f.Negative) / float64(f.Total)
	}
	return out, nil
}
