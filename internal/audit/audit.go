// SPDX-License-Identifier: MIT

// Package audit provides structured audit logging for state-changing
// operations. It follows the WHO/WHAT/WHEN pattern for compliance and
// forensics.
package audit

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tickd/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Ingestion lifecycle events
	EventIngestStart    EventType = "ingest.start"
	EventIngestComplete EventType = "ingest.complete"
	EventIngestError    EventType = "ingest.error"
	EventIngestCancel   EventType = "ingest.cancel"

	// Circuit breaker administration
	EventCircuitReset EventType = "circuit.reset"

	// API access events
	EventAPIRateLimit EventType = "api.ratelimit"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Actor     string            `json:"actor"`    // WHO: tenant, client IP, or "system"
	Action    string            `json:"action"`   // WHAT: human-readable action description
	Resource  string            `json:"resource"` // Resource affected (job id, breaker name, endpoint)
	Result    string            `json:"result"`   // success, failure, denied, started, cancelled
	JobID     string            `json:"job_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Logger{logger: auditLogger}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.JobID != "" {
		logEvent.Str("job_id", event.JobID)
	}
	if event.TenantID != "" {
		logEvent.Str("tenant_id", event.TenantID)
	}
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// IngestStart logs the start of an ingestion run.
func (l *Logger) IngestStart(tenantID, jobID string) {
	l.Log(Event{
		Type:     EventIngestStart,
		Actor:    tenantID,
		Action:   "started ingestion run",
		Resource: jobID,
		Result:   "started",
		JobID:    jobID,
		TenantID: tenantID,
	})
}

// IngestComplete logs a successfully finished ingestion run.
func (l *Logger) IngestComplete(tenantID, jobID string, newIngested, updated, errCount int, durationMS int64) {
	l.Log(Event{
		Type:     EventIngestComplete,
		Actor:    tenantID,
		Action:   "completed ingestion run",
		Resource: jobID,
		Result:   "success",
		JobID:    jobID,
		TenantID: tenantID,
		Details: map[string]string{
			"new_ingested": strconv.Itoa(newIngested),
			"updated":      strconv.Itoa(updated),
			"errors":       strconv.Itoa(errCount),
			"duration_ms":  strconv.FormatInt(durationMS, 10),
		},
	})
}

// IngestError logs a failed ingestion run.
func (l *Logger) IngestError(tenantID, jobID, reason string) {
	l.Log(Event{
		Type:     EventIngestError,
		Actor:    tenantID,
		Action:   "ingestion run failed",
		Resource: jobID,
		Result:   "failure",
		JobID:    jobID,
		TenantID: tenantID,
		Details: map[string]string{
			"error": reason,
		},
	})
}

// IngestCancel logs a cancelled ingestion run.
func (l *Logger) IngestCancel(actor, tenantID, jobID string) {
	l.Log(Event{
		Type:     EventIngestCancel,
		Actor:    actor,
		Action:   "cancelled ingestion run",
		Resource: jobID,
		Result:   "cancelled",
		JobID:    jobID,
		TenantID: tenantID,
	})
}

// CircuitReset logs a manual breaker reset through the admin API.
func (l *Logger) CircuitReset(actor, name string) {
	l.Log(Event{
		Type:     EventCircuitReset,
		Actor:    actor,
		Action:   "reset circuit breaker",
		Resource: name,
		Result:   "success",
	})
}

// RateLimitExceeded logs rate limit violations.
func (l *Logger) RateLimitExceeded(remoteAddr, endpoint string) {
	l.Log(Event{
		Type:     EventAPIRateLimit,
		Actor:    remoteAddr,
		Action:   "rate limit exceeded",
		Resource: endpoint,
		Result:   "denied",
	})
}
