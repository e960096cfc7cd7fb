package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Portable DDL: every column type below means the same thing to Postgres and
// SQLite. UUIDs are stored as text, JSON payloads as text, timestamps as
// RFC3339 text so both drivers scan them identically.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		state       TEXT NOT NULL,
		source_path TEXT NOT NULL,
		fields      TEXT,
		reasons     TEXT,
		attempts    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_state ON documents (state)`,
	`CREATE TABLE IF NOT EXISTS review_tickets (
		id               TEXT PRIMARY KEY,
		document_id      TEXT NOT NULL,
		reasons          TEXT,
		status           TEXT NOT NULL,
		disposition      TEXT,
		corrected_fields TEXT,
		resolved_by      TEXT,
		created_at       TEXT NOT NULL,
		resolved_at      TEXT
	)`,
	// At most one open ticket per document; Enqueue relies on this.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_pending_doc
		ON review_tickets (document_id) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_status ON review_tickets (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS archive_records (
		document_id   TEXT PRIMARY KEY,
		final_state   TEXT NOT NULL,
		fields        TEXT,
		reasons       TEXT,
		resolved_by   TEXT,
		archived_path TEXT,
		archived_at   TEXT NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent, so running on every
// startup is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
