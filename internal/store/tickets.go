// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/tickd/internal/types"
)

// ErrNotFound is returned when a scoped lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Filters narrows ticket listings. Zero values mean "no filter".
type Filters struct {
	Status  string
	Urgency string
	Source  string
}

const ticketColumns = `tenant_id, external_id, source, customer_id, subject, message,
	status, urgency, sentiment, requires_action, created_at, updated_at, deleted_at`

func scanTicket(row interface{ Scan(...any) error }) (types.Ticket, error) {
	var t types.Ticket
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	err := row.Scan(
		&t.TenantID, &t.ExternalID, &t.Source, &t.CustomerID, &t.Subject, &t.Message,
		&t.Status, &t.Urgency, &t.Sentiment, &t.RequiresAction, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return t, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if deletedAt.Valid {
		ts := parseTime(deletedAt.String)
		t.DeletedAt = &ts
	}
	return t, nil
}

// UpsertTicket inserts the ticket or replaces the stored version when the
// incoming updated_at is strictly newer. It is idempotent: re-applying the
// same input affects zero rows. Concurrent duplicate inserts resolve through
// the primary key conflict instead of failing the job. A soft-deleted row is
// resurrected by any write upstream reports at or after its stored
// updated_at: deleted_at is cleared so the ticket is visible again.
func (s *Store) UpsertTicket(ctx context.Context, t types.Ticket) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(tenant_id, external_id) DO UPDATE SET
			source = excluded.source,
			customer_id = excluded.customer_id,
			subject = excluded.subject,
			message = excluded.message,
			status = excluded.status,
			urgency = excluded.urgency,
			sentiment = excluded.sentiment,
			requires_action = excluded.requires_action,
			updated_at = excluded.updated_at,
			deleted_at = NULL
		WHERE excluded.updated_at > tickets.updated_at
		   OR (tickets.deleted_at IS NOT NULL AND excluded.updated_at >= tickets.updated_at)`,
		t.TenantID, t.ExternalID, t.Source, t.CustomerID, t.Subject, t.Message,
		t.Status, t.Urgency, t.Sentiment, t.RequiresAction,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("upsert ticket %s/%s: %w", t.TenantID, t.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTicket returns one non-deleted ticket scoped to the tenant. Soft-deleted
// rows are invisible here; reconciliation paths use GetTicketIncludeDeleted.
func (s *Store) GetTicket(ctx context.Context, tenantID, externalID string) (types.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = ? AND external_id = ? AND deleted_at IS NULL`,
		tenantID, externalID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("get ticket %s/%s: %w", tenantID, externalID, err)
	}
	return t, nil
}

// GetTicketIncludeDeleted returns the ticket regardless of its deleted_at
// state. The sync engine needs the stored row even when it is soft-deleted,
// so a reappearing upstream ticket can be resurrected instead of recreated.
func (s *Store) GetTicketIncludeDeleted(ctx context.Context, tenantID, externalID string) (types.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = ? AND external_id = ?`,
		tenantID, externalID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("get ticket %s/%s: %w", tenantID, externalID, err)
	}
	return t, nil
}

// SoftDelete sets deleted_at for the given external ids where it is still
// null and returns the ids actually transitioned. Already-deleted and unknown
// ids are not in the result, so callers can record history per real
// transition instead of per request.
func (s *Store) SoftDelete(ctx context.Context, tenantID string, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(externalIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(externalIDs)+2)
	args = append(args, fmtTime(time.Now()), tenantID)
	for _, id := range externalIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE tickets SET deleted_at = ?
		WHERE tenant_id = ? AND deleted_at IS NULL AND external_id IN (`+placeholders+`)
		RETURNING external_id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("soft delete: %w", err)
	}
	defer rows.Close()

	var transitioned []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		transitioned = append(transitioned, id)
	}
	return transitioned, rows.Err()
}

// ListTickets returns one page of non-deleted tickets for the tenant, newest
// first. Tenant scoping is mandatory; callers cannot opt out.
func (s *Store) ListTickets(ctx context.Context, tenantID string, f Filters, page, pageSize int) ([]types.Ticket, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := []string{"tenant_id = ?", "deleted_at IS NULL"}
	args := []any{tenantID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Urgency != "" {
		where = append(where, "urgency = ?")
		args = append(args, f.Urgency)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := make([]types.Ticket, 0, pageSize)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListActiveExternalIDs returns the external ids of all non-deleted tickets
// for the tenant. The sync engine diffs this against the upstream id set.
func (s *Store) ListActiveExternalIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id FROM tickets
		WHERE tenant_id = ? AND deleted_at IS NULL`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountTickets counts non-deleted tickets for the tenant.
func (s *Store) CountTickets(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tickets WHERE tenant_id = ? AND deleted_at IS NULL`,
		tenantID).Scan(&n)
	return n, err
}
