// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/tickd/internal/types"
)

const jobColumns = `job_id, tenant_id, status, started_at, ended_at,
	total_pages, processed_pages, new_ingested, updated, errors`

func scanJob(row interface{ Scan(...any) error }) (types.Job, error) {
	var j types.Job
	var startedAt string
	var endedAt sql.NullString
	var totalPages sql.NullInt64
	err := row.Scan(
		&j.JobID, &j.TenantID, &j.Status, &startedAt, &endedAt,
		&totalPages, &j.ProcessedPages, &j.NewIngested, &j.Updated, &j.Errors,
	)
	if err != nil {
		return j, err
	}
	j.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		ts := parseTime(endedAt.String)
		j.EndedAt = &ts
	}
	if totalPages.Valid {
		tp := int(totalPages.Int64)
		j.TotalPages = &tp
	}
	return j, nil
}

// CreateJob records the start of an ingestion run. It is called only after
// the distributed lock for the tenant has been acquired.
func (s *Store) CreateJob(ctx context.Context, j types.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (job_id, tenant_id, status, started_at)
		VALUES (?, ?, ?, ?)`,
		j.JobID, j.TenantID, j.Status, fmtTime(j.StartedAt))
	if err != nil {
		return fmt.Errorf("create job %s: %w", j.JobID, err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM ingestion_jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	if err != nil {
		return j, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return j, nil
}

// RunningJob returns the most recent running job for a tenant, or ErrNotFound.
func (s *Store) RunningJob(ctx context.Context, tenantID string) (types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE tenant_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`,
		tenantID, types.JobRunning)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	if err != nil {
		return j, fmt.Errorf("running job for %s: %w", tenantID, err)
	}
	return j, nil
}

// UpdateJobProgress persists per-page progress counters on the job record so
// the working set stays in the store, not in process memory.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, totalPages *int, processedPages, newIngested, updated, errCount int) error {
	var tp any
	if totalPages != nil {
		tp = *totalPages
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET total_pages = ?, processed_pages = ?, new_ingested = ?, updated = ?, errors = ?
		WHERE job_id = ?`,
		tp, processedPages, newIngested, updated, errCount, jobID)
	if err != nil {
		return fmt.Errorf("update job progress %s: %w", jobID, err)
	}
	return nil
}

// FinishJob transitions a running job to a terminal status. The guard on the
// current status keeps transitions monotonic: a cancelled job cannot become
// completed afterwards. It reports whether the transition happened.
func (s *Store) FinishJob(ctx context.Context, jobID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET status = ?, ended_at = ?
		WHERE job_id = ? AND status = ?`,
		status, fmtTime(time.Now()), jobID, types.JobRunning)
	if err != nil {
		return false, fmt.Errorf("finish job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IngestionLogEntry is one observability record per terminal job transition.
type IngestionLogEntry struct {
	JobID       string    `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	NewIngested int       `json:"new_ingested"`
	Updated     int       `json:"updated"`
	Errors      int       `json:"errors"`
}

// LastIngestion returns when the most recent ingestion run ended and its
// error message, if any. A zero time means no run has finished yet.
func (s *Store) LastIngestion(ctx context.Context) (time.Time, string, error) {
	var endedAt, errMsg string
	err := s.db.QueryRowContext(ctx, `
		SELECT ended_at, error FROM ingestion_logs
		ORDER BY ended_at DESC LIMIT 1`).Scan(&endedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, "", nil
	}
	if err != nil {
		return time.Time{}, "", fmt.Errorf("last ingestion: %w", err)
	}
	return parseTime(endedAt), errMsg, nil
}

// AppendIngestionLog writes one log entry for a terminal job transition.
func (s *Store) AppendIngestionLog(ctx context.Context, e IngestionLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_logs (job_id, tenant_id, status, error, started_at, ended_at, new_ingested, updated, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, e.TenantID, e.Status, e.Error,
		fmtTime(e.StartedAt), fmtTime(e.EndedAt), e.NewIngested, e.Updated, e.Errors)
	if err != nil {
		return fmt.Errorf("append ingestion log %s: %w", e.JobID, err)
	}
	return nil
}
