// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation for tickd.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickd_circuit_breaker_state",
		Help: "Circuit breaker state by component (exactly one of closed/half-open/open is 1)",
	}, []string{"component", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickd_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker transitions to the open state",
	}, []string{"component", "reason"})

	rateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickd_ratelimit_waits_total",
		Help: "Total acquisitions that had to wait for the upstream rate budget",
	})

	rateLimitWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickd_ratelimit_wait_seconds_total",
		Help: "Cumulative time spent waiting for the upstream rate budget",
	})

	ingestPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickd_ingest_pages_total",
		Help: "Pages fetched from the upstream ticket API",
	}, []string{"tenant"})

	ingestTickets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickd_ingest_tickets_total",
		Help: "Tickets processed during ingestion by sync outcome",
	}, []string{"tenant", "action"})

	ingestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickd_ingest_errors_total",
		Help: "Per-ticket and per-page errors recorded during ingestion",
	}, []string{"tenant", "kind"})

	notifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickd_notify_outcomes_total",
		Help: "Notification dispatch outcomes",
	}, []string{"outcome"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(component, reason string) {
	circuitBreakerTrips.WithLabelValues(component, reason).Inc()
}

// RecordRateLimitWait records one blocking acquisition and its wait duration.
func RecordRateLimitWait(d time.Duration) {
	rateLimitWaits.Inc()
	rateLimitWaitSeconds.Add(d.Seconds())
}

// RecordIngestPage counts one fetched upstream page.
func RecordIngestPage(tenant string) {
	ingestPages.WithLabelValues(tenant).Inc()
}

// RecordIngestTicket counts one processed ticket by sync action.
func RecordIngestTicket(tenant, action string) {
	ingestTickets.WithLabelValues(tenant, action).Inc()
}

// RecordIngestError counts an ingestion error by kind (page, ticket, classify).
func RecordIngestError(tenant, kind string) {
	ingestErrors.WithLabelValues(tenant, kind).Inc()
}

// RecordNotifyOutcome counts a notification outcome (sent, retried, dead_letter, dropped).
func RecordNotifyOutcome(outcome string) {
	notifyOutcomes.WithLabelValues(outcome).Inc()
}
