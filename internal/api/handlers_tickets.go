// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tickd/internal/store"
	"github.com/ManuGH/tickd/internal/types"
)

// tenantID extracts the mandatory tenant_id query parameter. Every ticket
// read is tenant-scoped; a missing tenant is a client error, never an
// implicit cross-tenant query.
func tenantID(r *http.Request) string {
	return r.URL.Query().Get("tenant_id")
}

func (s *Server) pagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = s.opts.DefaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 {
		pageSize = v
	}
	if pageSize > s.opts.MaxPageSize {
		pageSize = s.opts.MaxPageSize
	}
	return page, pageSize
}

// handleListTickets serves GET /api/tickets.
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeBadRequest(w, "tenant_id is required")
		return
	}

	q := r.URL.Query()
	filters := store.Filters{
		Status:  q.Get("status"),
		Urgency: q.Get("urgency"),
		Source:  q.Get("source"),
	}
	page, pageSize := s.pagination(r)

	tickets, err := s.store.ListTickets(r.Context(), tenant, filters, page, pageSize)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets":   tickets,
		"page":      page,
		"page_size": pageSize,
		"count":     len(tickets),
	})
}

// handleUrgentTickets serves GET /api/tickets/urgent: the high-urgency slice
// of the tenant's open tickets.
func (s *Server) handleUrgentTickets(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeBadRequest(w, "tenant_id is required")
		return
	}
	page, pageSize := s.pagination(r)

	tickets, err := s.store.ListTickets(r.Context(), tenant, store.Filters{Urgency: types.UrgencyHigh}, page, pageSize)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// handleGetTicket serves GET /api/tickets/{id}.
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeBadRequest(w, "tenant_id is required")
		return
	}

	ticket, err := s.store.GetTicket(r.Context(), tenant, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleTicketHistory serves GET /api/tickets/{id}/history.
func (s *Server) handleTicketHistory(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeBadRequest(w, "tenant_id is required")
		return
	}

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	entries, err := s.store.ListHistory(r.Context(), chi.URLParam(r, "id"), tenant, limit)
	if err != nil {
		writeInternal(w)
		return
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id": chi.URLParam(r, "id"),
		"history":   entries,
	})
}
