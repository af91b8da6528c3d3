package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// statements are applied in order and are individually idempotent.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS exchange_accounts (
		id UUID PRIMARY KEY,
		owner TEXT NOT NULL,
		balance_tmn BIGINT NOT NULL DEFAULT 0 CHECK (balance_tmn >= 0),
		kyc_level INT NOT NULL DEFAULT 0,
		kyc_status TEXT NOT NULL DEFAULT 'none',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS balance_reservations (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES exchange_accounts(id),
		amount_tmn BIGINT NOT NULL CHECK (amount_tmn > 0),
		status TEXT NOT NULL DEFAULT 'held',
		created_at TIMESTAMPTZ NOT NULL,
		settled_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_addresses (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES exchange_accounts(id),
		symbol TEXT NOT NULL,
		address TEXT NOT NULL,
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (account_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS kyc_submissions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES exchange_accounts(id),
		level INT NOT NULL,
		payload JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		admin_note TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ NOT NULL,
		decided_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS kyc_submissions_pending_uniq
		ON kyc_submissions (account_id, level) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS exchange_orders (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES exchange_accounts(id),
		order_type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		amount_tmn BIGINT NOT NULL DEFAULT 0,
		amount_crypto NUMERIC(30, 8) NOT NULL DEFAULT 0,
		price_at_order BIGINT NOT NULL,
		total_value_tmn BIGINT NOT NULL,
		reservation_id UUID NOT NULL REFERENCES balance_reservations(id),
		status TEXT NOT NULL DEFAULT 'pending',
		admin_note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		decided_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		account_id UUID NOT NULL REFERENCES exchange_accounts(id),
		symbol TEXT NOT NULL,
		amount NUMERIC(30, 8) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (account_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS price_snapshots (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		price_tmn BIGINT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		collected_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON exchange_orders (status)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON price_snapshots (symbol, collected_at DESC)`,
}

// Apply runs all schema statements against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
