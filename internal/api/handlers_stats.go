// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleTenantStats serves GET /api/tenants/{tenant}/stats. The aggregation
// runs under a hard timeout; a tenant whose stats cannot be computed in time
// gets a 504 instead of holding a connection open.
func (s *Server) handleTenantStats(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var from, to *time.Time
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "from must be RFC3339")
			return
		}
		from = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "to must be RFC3339")
			return
		}
		to = &ts
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StatsTimeout)
	defer cancel()

	stats, err := s.stats.TenantStats(ctx, tenant, from, to)
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "stats computation timed out")
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
