// SPDX-License-Identifier: MIT

package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()
	assert.NotNil(t, logger)
	assert.NotNil(t, logger.logger)
}

func TestLogger_Log(t *testing.T) {
	logger := NewLogger()

	event := Event{
		Type:     EventIngestStart,
		Actor:    "tenant_a",
		Action:   "started ingestion run",
		Resource: "job-123",
		Result:   "started",
		JobID:    "job-123",
		TenantID: "tenant_a",
		Details: map[string]string{
			"pages": "3",
		},
	}

	// Should not panic
	logger.Log(event)

	// Test with missing timestamp (should be set automatically)
	logger.Log(Event{
		Type:     EventCircuitReset,
		Actor:    "admin",
		Action:   "reset circuit breaker",
		Resource: "notifications",
		Result:   "success",
	})
}

func TestLogger_IngestLifecycle(t *testing.T) {
	logger := NewLogger()

	logger.IngestStart("tenant_a", "job-123")
	logger.IngestComplete("tenant_a", "job-123", 10, 2, 0, 1500)
	logger.IngestError("tenant_a", "job-124", "upstream unreachable")
	logger.IngestCancel("api", "tenant_a", "job-125")
}

func TestLogger_CircuitReset(t *testing.T) {
	logger := NewLogger()
	logger.CircuitReset("10.0.0.1", "notifications")
}

func TestLogger_RateLimitExceeded(t *testing.T) {
	logger := NewLogger()
	logger.RateLimitExceeded("10.0.0.1", "/api/tickets")
}
