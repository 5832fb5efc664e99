// SPDX-License-Identifier: MIT

// Package sync reconciles upstream ticket pages with the local store: create,
// update or skip per ticket, soft-delete what upstream no longer reports, and
// keep the per-ticket history trail consistent with every write.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tickd/internal/log"
	"github.com/ManuGH/tickd/internal/store"
	"github.com/ManuGH/tickd/internal/types"
)

// Result reports what one SyncTicket call did.
type Result struct {
	Action  string // types.ActionCreated | ActionUpdated | ActionUnchanged
	Changes types.ChangeSet
}

// Engine applies upstream ticket state to the store.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
}

// New returns an engine bound to the given store.
func New(st *store.Store) *Engine {
	return &Engine{store: st, log: log.WithComponent("sync")}
}

// diffFields compares the stored ticket against the incoming one over the
// fields upstream or the classifier can change. Identity and created_at are
// immutable and never diffed.
func diffFields(old, new types.Ticket) types.ChangeSet {
	cs := types.ChangeSet{}
	add := func(field string, o, n any) {
		if o != n {
			cs[field] = types.FieldChange{Old: o, New: n}
		}
	}
	add("subject", old.Subject, new.Subject)
	add("message", old.Message, new.Message)
	add("status", old.Status, new.Status)
	add("urgency", old.Urgency, new.Urgency)
	add("sentiment", old.Sentiment, new.Sentiment)
	add("requires_action", old.RequiresAction, new.RequiresAction)
	if len(cs) == 0 {
		return nil
	}
	return cs
}

// SyncTicket reconciles one upstream ticket. The decision is driven by the
// upstream updated_at: a payload that is not strictly newer than the stored
// row is a no-op, which makes re-running a page idempotent.
func (e *Engine) SyncTicket(ctx context.Context, tenantID string, up types.UpstreamTicket, labels types.Labels) (Result, error) {
	incoming := types.Ticket{
		ExternalID: up.ID,
		TenantID:   tenantID,
		Source:     up.Source,
		CustomerID: up.CustomerID,
		Subject:    up.Subject,
		Message:    up.Message,
		Status:     up.Status,
		CreatedAt:  up.CreatedAt,
		UpdatedAt:  up.UpdatedAt,
		Labels:     labels,
	}

	existing, err := e.store.GetTicketIncludeDeleted(ctx, tenantID, up.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, err := e.store.UpsertTicket(ctx, incoming); err != nil {
			return Result{}, fmt.Errorf("sync create %s: %w", up.ID, err)
		}
		e.recordHistory(ctx, tenantID, up.ID, types.ActionCreated, nil)
		return Result{Action: types.ActionCreated}, nil

	case err != nil:
		return Result{}, fmt.Errorf("sync lookup %s: %w", up.ID, err)
	}

	// A soft-deleted row that upstream reports active again is resurrected
	// unless the payload is strictly stale.
	resurrect := existing.DeletedAt != nil && !incoming.UpdatedAt.Before(existing.UpdatedAt)
	if !resurrect && !incoming.UpdatedAt.After(existing.UpdatedAt) {
		return Result{Action: types.ActionUnchanged}, nil
	}

	changes := diffFields(existing, incoming)
	if resurrect {
		if changes == nil {
			changes = types.ChangeSet{}
		}
		changes["deleted_at"] = types.FieldChange{Old: existing.DeletedAt, New: nil}
	}
	if _, err := e.store.UpsertTicket(ctx, incoming); err != nil {
		return Result{}, fmt.Errorf("sync update %s: %w", up.ID, err)
	}
	if changes == nil {
		// Only updated_at moved; nothing worth a history entry.
		return Result{Action: types.ActionUnchanged}, nil
	}
	e.recordHistory(ctx, tenantID, up.ID, types.ActionUpdated, changes)
	return Result{Action: types.ActionUpdated, Changes: changes}, nil
}

// DetectDeleted returns the stored non-deleted external ids that upstream no
// longer reports as active.
func (e *Engine) DetectDeleted(ctx context.Context, tenantID string, upstreamIDs []string) ([]string, error) {
	stored, err := e.store.ListActiveExternalIDs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("detect deleted: %w", err)
	}
	active := make(map[string]struct{}, len(upstreamIDs))
	for _, id := range upstreamIDs {
		active[id] = struct{}{}
	}
	var missing []string
	for _, id := range stored {
		if _, ok := active[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// MarkDeleted soft-deletes the given ids and records a history entry for each
// row that actually transitioned. Already-deleted or unknown ids get no entry,
// so repeated reconciliation runs do not pad the timeline. It returns the
// number of rows transitioned.
func (e *Engine) MarkDeleted(ctx context.Context, tenantID string, ids []string) (int, error) {
	transitioned, err := e.store.SoftDelete(ctx, tenantID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark deleted: %w", err)
	}
	for _, id := range transitioned {
		e.recordHistory(ctx, tenantID, id, types.ActionDeleted, nil)
	}
	if len(transitioned) > 0 {
		e.log.Info().
			Str("event", "sync.deleted").
			Str("tenant_id", tenantID).
			Int("count", len(transitioned)).
			Msg("soft-deleted tickets missing upstream")
	}
	return len(transitioned), nil
}

// recordHistory is best-effort: a failed history write must not fail the
// ticket write it describes.
func (e *Engine) recordHistory(ctx context.Context, tenantID, ticketID, action string, changes types.ChangeSet) {
	err := e.store.RecordHistory(ctx, types.HistoryEntry{
		TicketID:   ticketID,
		TenantID:   tenantID,
		Action:     action,
		Changes:    changes,
		RecordedAt: time.Now(),
	})
	if err != nil {
		e.log.Error().
			Str("event", "sync.history_failed").
			Str("tenant_id", tenantID).
			Str("ticket_id", ticketID).
			Str("action", action).
			Err(err).
			Msg("history write failed")
	}
}
