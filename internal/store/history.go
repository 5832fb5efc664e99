// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/tickd/internal/types"
)

// RecordHistory appends one change record. Entries are never modified or
// removed; ordering by recorded_at is the authoritative per-ticket timeline.
func (s *Store) RecordHistory(ctx context.Context, e types.HistoryEntry) error {
	var changes any
	if len(e.Changes) > 0 {
		raw, err := json.Marshal(e.Changes)
		if err != nil {
			return fmt.Errorf("record history %s: marshal changes: %w", e.TicketID, err)
		}
		changes = string(raw)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_history (ticket_id, tenant_id, action, changes, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.TicketID, e.TenantID, e.Action, changes, fmtTime(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("record history %s: %w", e.TicketID, err)
	}
	return nil
}

// ListHistory returns up to limit entries for one ticket within one tenant,
// newest first.
func (s *Store) ListHistory(ctx context.Context, ticketID, tenantID string, limit int) ([]types.HistoryEntry, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, tenant_id, action, changes, recorded_at
		FROM ticket_history
		WHERE tenant_id = ? AND ticket_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, tenantID, ticketID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", ticketID, err)
	}
	defer rows.Close()

	var out []types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		var changes sql.NullString
		var recordedAt string
		if err := rows.Scan(&e.TicketID, &e.TenantID, &e.Action, &changes, &recordedAt); err != nil {
			return nil, err
		}
		if changes.Valid {
			if err := json.Unmarshal([]byte(changes.String), &e.Changes); err != nil {
				return nil, fmt.Errorf("list history %s: corrupt changes: %w", ticketID, err)
			}
		}
		e.RecordedAt = parseTime(recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
