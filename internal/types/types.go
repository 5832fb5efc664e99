// SPDX-License-Identifier: MIT

// Package types holds the canonical domain records shared across the
// ingestion, sync, store and analytics packages.
package types

import "time"

// Ticket statuses as reported by the upstream API.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusPending = "pending"
)

// Derived urgency labels.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Derived sentiment labels.
const (
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentPositive = "positive"
)

// Labels are the classifier outputs attached to a ticket.
type Labels struct {
	Urgency        string `json:"urgency"`
	Sentiment      string `json:"sentiment"`
	RequiresAction bool   `json:"requires_action"`
}

// DefaultLabels are applied when classification fails.
func DefaultLabels() Labels {
	return Labels{Urgency: UrgencyLow, Sentiment: SentimentNeutral, RequiresAction: false}
}

// Ticket is the canonical stored record. Identity is (TenantID, ExternalID).
type Ticket struct {
	ExternalID string     `json:"external_id"`
	TenantID   string     `json:"tenant_id"`
	Source     string     `json:"source"`
	CustomerID string     `json:"customer_id"`
	Subject    string     `json:"subject"`
	Message    string     `json:"message"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	Labels
}

// UpstreamTicket is the wire shape returned by the external support-ticket API.
type UpstreamTicket struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	CustomerID string    `json:"customer_id"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Job statuses. Transitions are monotonic: running is the only non-terminal state.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is one end-to-end ingestion run for one tenant.
type Job struct {
	JobID          string     `json:"job_id"`
	TenantID       string     `json:"tenant_id"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	TotalPages     *int       `json:"total_pages,omitempty"`
	ProcessedPages int        `json:"processed_pages"`
	NewIngested    int        `json:"new_ingested"`
	Updated        int        `json:"updated"`
	Errors         int        `json:"errors"`
}

// History actions.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionUnchanged = "unchanged"
)

// FieldChange is one before/after pair in a history entry.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeSet maps changed field names to their before/after values. Fields that
// did not change are absent.
type ChangeSet map[string]FieldChange

// HistoryEntry is one append-only change record for a ticket.
type HistoryEntry struct {
	TicketID   string    `json:"ticket_id"`
	TenantID   string    `json:"tenant_id"`
	Action     string    `json:"action"`
	Changes    ChangeSet `json:"changes,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Notification is the payload handed to the downstream notifier.
type Notification struct {
	TicketID string `json:"ticket_id"`
	TenantID string `json:"tenant_id"`
	Urgency  string `json:"urgency"`
	Reason   string `json:"reason"`
}
