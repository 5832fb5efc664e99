// SPDX-License-Identifier: MIT

// Package store owns the persistent state: tickets, ingestion jobs, ingestion
// logs and the append-only ticket history. It is the only package that talks
// to SQLite; tenant scoping and the unique (tenant_id, external_id) index are
// enforced here, not by callers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const schemaVersion = 1

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended pool configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open initializes the connection pool with mandatory PRAGMAs and runs the
// schema migration. WAL and busy_timeout are set in the DSN so they apply to
// every pooled connection.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Every ticket index leads with tenant_id: all queries carry a tenant
	// predicate, so an index with any other leading column cannot serve them.
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		tenant_id       TEXT NOT NULL,
		external_id     TEXT NOT NULL,
		source          TEXT NOT NULL DEFAULT '',
		customer_id     TEXT NOT NULL DEFAULT '',
		subject         TEXT NOT NULL DEFAULT '',
		message         TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'open',
		urgency         TEXT NOT NULL DEFAULT 'low',
		sentiment       TEXT NOT NULL DEFAULT 'neutral',
		requires_action BOOLEAN NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		deleted_at      TEXT,
		PRIMARY KEY (tenant_id, external_id)
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_tenant_created ON tickets(tenant_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tickets_tenant_status_created ON tickets(tenant_id, status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tickets_tenant_urgency ON tickets(tenant_id, urgency);
	CREATE INDEX IF NOT EXISTS idx_tickets_tenant_deleted ON tickets(tenant_id, deleted_at);

	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		job_id          TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		status          TEXT NOT NULL,
		started_at      TEXT NOT NULL,
		ended_at        TEXT,
		total_pages     INTEGER,
		processed_pages INTEGER NOT NULL DEFAULT 0,
		new_ingested    INTEGER NOT NULL DEFAULT 0,
		updated         INTEGER NOT NULL DEFAULT 0,
		errors          INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status ON ingestion_jobs(tenant_id, status);

	CREATE TABLE IF NOT EXISTS ingestion_logs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id       TEXT NOT NULL,
		tenant_id    TEXT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT,
		started_at   TEXT NOT NULL,
		ended_at     TEXT NOT NULL,
		new_ingested INTEGER NOT NULL DEFAULT 0,
		updated      INTEGER NOT NULL DEFAULT 0,
		errors       INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_logs_tenant ON ingestion_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_logs_job ON ingestion_logs(job_id);

	CREATE TABLE IF NOT EXISTS ticket_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id   TEXT NOT NULL,
		tenant_id   TEXT NOT NULL,
		action      TEXT NOT NULL,
		changes     TEXT,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_tenant_ticket ON ticket_history(tenant_id, ticket_id, recorded_at DESC);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping reports database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// PurgeOlderThan hard-deletes tickets created before the retention horizon.
// This is the only hard delete in the system and stands in for a TTL index.
func (s *Store) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tickets: %w", err)
	}
	return res.RowsAffected()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
