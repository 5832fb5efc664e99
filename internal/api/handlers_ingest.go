// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tickd/internal/ingest"
	"github.com/ManuGH/tickd/internal/store"
)

// handleIngestRun serves POST /api/ingest/run. The run proceeds in the
// background; 202 hands back the job id to poll.
func (s *Server) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeBadRequest(w, "tenant_id is required")
		return
	}

	jobID, err := s.ingest.Start(r.Context(), tenant)
	if errors.Is(err, ingest.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":    "already_running",
			"tenant_id": tenant,
		})
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":    jobID,
		"tenant_id": tenant,
		"status":    "started",
	})
}

// handleIngestStatus serves GET /api/ingest/status: the tenant's running
// job, or idle.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeBadRequest(w, "tenant_id is required")
		return
	}

	job, err := s.ingest.TenantStatus(r.Context(), tenant)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{
			"tenant_id": tenant,
			"status":    "idle",
		})
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleIngestProgress serves GET /api/ingest/progress/{jobID}.
func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	job, err := s.ingest.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleIngestCancel serves DELETE /api/ingest/{jobID}.
func (s *Server) handleIngestCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.ingest.Cancel(r.Context(), jobID) {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}

// handleLockStatus serves GET /api/ingest/lock/{tenant}.
func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	info, err := s.locks.Status(r.Context(), "ingest:"+tenant)
	if err != nil {
		writeInternal(w)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"tenant_id": tenant,
			"locked":    false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"locked":    true,
		"lock":      info,
	})
}
