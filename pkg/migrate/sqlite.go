package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// PlatformAccountID is the fee recipient seeded by the accounts migration.
const PlatformAccountID = "00000000-0000-0000-0000-000000000001"

// sqliteSchema mirrors the goose migrations for local SQLite runs. Postgres
// enums become TEXT columns and uuid/jsonb are stored as TEXT.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  display_name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user',
  balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS sellers (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL,
  unit_price_per_1k_cents INTEGER NOT NULL,
  min_quantity INTEGER NOT NULL,
  max_quantity INTEGER NOT NULL,
  delivery_methods TEXT NOT NULL DEFAULT '{}',
  is_active INTEGER NOT NULL DEFAULT 1,
  rating_sum INTEGER NOT NULL DEFAULT 0,
  rating_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_account_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  seller_account_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_per_1k_cents INTEGER NOT NULL,
  total_price_cents INTEGER NOT NULL,
  delivery_method TEXT NOT NULL,
  character_name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  updated_at DATETIME,
  completed_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS order_ratings (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  buyer_account_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  score INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
  comment TEXT,
  created_at DATETIME
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_order_ratings_order_id ON order_ratings (order_id)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  account_id TEXT NOT NULL,
  gross_amount_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  pix_key TEXT NOT NULL,
  pix_key_type TEXT NOT NULL,
  gateway_transfer_id TEXT,
  gateway_metadata TEXT,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  processed_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  order_id TEXT,
  withdrawal_id TEXT,
  amount_cents INTEGER NOT NULL,
  kind TEXT NOT NULL,
  description TEXT NOT NULL,
  idempotency_key TEXT,
  created_at DATETIME
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_idempotency_key ON transactions (idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS gateway_customers (
  account_id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)`,
	`INSERT OR IGNORE INTO accounts (id, email, display_name, role, balance_cents, created_at, updated_at)
VALUES ('` + PlatformAccountID + `', 'platform@coinmarket.local', 'Platform', 'platform', 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
}

// ApplySQLiteSchema creates the settlement tables on a SQLite connection and
// seeds the platform account. It is idempotent.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	db := conn.WithContext(ctx)
	for i, stmt := range sqliteSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite statement %d: %w", i, err)
		}
	}
	return nil
}
