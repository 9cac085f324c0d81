// SPDX-License-Identifier: MIT

// Package store persists the marketplace entities in SQLite. All mutation
// goes through InTx, which runs an immediate write transaction; the single
// writer is what linearises session transitions and ledger movements.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EmilynnJ/ccodeseer/internal/persistence/sqlite"
)

const schemaVersion = 1

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries bundles all entity accessors over a database handle or an open
// transaction.
type Queries struct {
	db DBTX
}

// Store owns the connection pool. Its embedded Queries run auto-committed;
// use InTx for multi-statement atomicity.
type Store struct {
	*Queries
	db *sql.DB
}

// Open opens (creating if needed) the store at dbPath and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{Queries: &Queries{db: db}, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InTx runs fn inside an immediate write transaction. The transaction is
// rolled back when fn returns an error.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
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

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_profiles (
		user_id TEXT PRIMARY KEY REFERENCES users(id),
		balance TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reader_profiles (
		user_id TEXT PRIMARY KEY REFERENCES users(id),
		chat_rate TEXT NOT NULL,
		voice_rate TEXT NOT NULL,
		video_rate TEXT NOT NULL,
		available INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		pending_balance TEXT NOT NULL,
		total_earned TEXT NOT NULL,
		total_paid_out TEXT NOT NULL,
		rating TEXT NOT NULL,
		review_count INTEGER NOT NULL DEFAULT 0,
		total_readings INTEGER NOT NULL DEFAULT 0,
		payout_account TEXT NOT NULL DEFAULT '',
		account_status TEXT NOT NULL DEFAULT 'pending',
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reader_profiles_status ON reader_profiles(status);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES users(id),
		reader_id TEXT NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		rate_per_min TEXT NOT NULL,
		start_time_ms INTEGER,
		end_time_ms INTEGER,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		total_amount TEXT NOT NULL DEFAULT '0',
		platform_fee TEXT NOT NULL DEFAULT '0',
		reader_earnings TEXT NOT NULL DEFAULT '0',
		rtc_channel TEXT NOT NULL,
		pubsub_channel TEXT NOT NULL,
		partial_settlement INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_reader_status ON sessions(reader_id, status);
	CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON sessions(status, created_at_ms);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		session_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		external_ref TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at_ms);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_external_ref
		ON transactions(type, external_ref) WHERE external_ref != '';

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES sessions(id),
		client_id TEXT NOT NULL REFERENCES users(id),
		reader_id TEXT NOT NULL REFERENCES users(id),
		rating INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		read INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at_ms);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		sender_id TEXT NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at_ms);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		reader_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		transfer_ref TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status, updated_at_ms);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- column helpers ---

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t time.Time) int64 {
	return t.UnixMilli()
}

func nullableMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func scanDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
