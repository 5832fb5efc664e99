// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleCircuitStatus serves GET /api/circuit/{name}/status. Handlers only
// look breakers up; construction happens once at startup.
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	cb, ok := s.breakers.Lookup(chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, cb.Status())
}

// handleCircuitReset serves POST /api/circuit/{name}/reset.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cb, ok := s.breakers.Lookup(name)
	if !ok {
		writeNotFound(w)
		return
	}
	cb.Reset()
	s.audit.CircuitReset(r.RemoteAddr, name)
	writeJSON(w, http.StatusOK, cb.Status())
}

// handleRateLimitStatus serves GET /api/ratelimit/status: the upstream
// client limiter's window occupancy.
func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Status())
}
