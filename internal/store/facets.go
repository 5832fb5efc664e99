// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HourBucket is one hourly trend point.
type HourBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// Facets are the raw per-tenant aggregates the analytics planner consumes.
// All counts are computed inside SQLite so the full ticket set never
// materializes in application memory.
type Facets struct {
	Total       int
	ByStatus    map[string]int
	HighUrgency int
	Negative    int
	Hourly      []HourBucket
}

// TenantFacets aggregates non-deleted tickets for one tenant, optionally
// bounded by a created_at range. The trend window is hourly over trendWindow.
func (s *Store) TenantFacets(ctx context.Context, tenantID string, from, to *time.Time, trendWindow time.Duration) (Facets, error) {
	f := Facets{ByStatus: make(map[string]int)}

	where := []string{"tenant_id = ?", "deleted_at IS NULL"}
	args := []any{tenantID}
	if from != nil {
		where = append(where, "created_at >= ?")
		args = append(args, fmtTime(*from))
	}
	if to != nil {
		where = append(where, "created_at <= ?")
		args = append(args, fmtTime(*to))
	}
	cond := strings.Join(where, " AND ")

	// Status facet; total derives from the same pass.
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tickets WHERE `+cond+` GROUP BY status`, args...)
	if err != nil {
		return f, fmt.Errorf("facets status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return f, err
		}
		f.ByStatus[status] = n
		f.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return f, err
	}

	// Urgency and sentiment facets in one pass each.
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN urgency = 'high' THEN 1 END),
			COUNT(CASE WHEN sentiment = 'negative' THEN 1 END)
		FROM tickets WHERE `+cond, args...).Scan(&f.HighUrgency, &f.Negative)
	if err != nil {
		return f, fmt.Errorf("facets urgency: %w", err)
	}

	// Hourly trend over the trailing window.
	if trendWindow <= 0 {
		trendWindow = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-trendWindow)
	trendArgs := append(append([]any{}, args...), fmtTime(since))
	rows, err = s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00Z', created_at) AS hour, COUNT(*)
		FROM tickets
		WHERE `+cond+` AND created_at >= ?
		GROUP BY hour ORDER BY hour`, trendArgs...)
	if err != nil {
		return f, fmt.Errorf("facets trend: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b HourBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return f, err
		}
		f.Hourly = append(f.Hourly, b)
	}
	return f, rows.Err()
}

// ExplainListPlan returns the SQLite query plan for the tenant listing query.
// Used by tests to assert index usage rather than a table scan.
func (s *Store) ExplainListPlan(ctx context.Context, tenantID string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		EXPLAIN QUERY PLAN
		SELECT external_id FROM tickets
		WHERE tenant_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 20`, tenantID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var plan strings.Builder
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			return "", err
		}
		plan.WriteString(detail)
		plan.WriteString("\n")
	}
	return plan.String(), rows.Err()
}
