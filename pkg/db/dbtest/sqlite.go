// Package dbtest opens in-memory sqlite databases shaped like the Postgres
// schema so repositories can be exercised without a server.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  buyer_id TEXT NOT NULL,
  farmer_ids TEXT NOT NULL DEFAULT '{}',
  status TEXT NOT NULL DEFAULT 'pending',
  payment_method TEXT NOT NULL DEFAULT 'payhere',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  transaction_id TEXT,
  gateway_order_id TEXT NOT NULL UNIQUE,
  currency TEXT NOT NULL DEFAULT 'LKR',
  subtotal_cents INTEGER NOT NULL,
  delivery_fee_cents INTEGER NOT NULL DEFAULT 0,
  tax_cents INTEGER NOT NULL DEFAULT 0,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  inventory_decremented INTEGER NOT NULL DEFAULT 0,
  cancel_reason TEXT,
  refund_reason TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  paid_at DATETIME,
  confirmed_at DATETIME,
  shipped_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (total_cents = subtotal_cents + delivery_fee_cents + tax_cents - discount_cents)
);`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL,
  farmer_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  unit_price_cents INTEGER NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE order_status_history (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  sequence INTEGER NOT NULL,
  status TEXT NOT NULL,
  actor_id TEXT,
  actor_role TEXT NOT NULL,
  note TEXT,
  created_at DATETIME,
  UNIQUE (order_id, sequence)
);`,
	`CREATE TABLE product_prices (
  product_id TEXT PRIMARY KEY,
  farmer_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit TEXT NOT NULL DEFAULT 'kg',
  price_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'LKR',
  is_active INTEGER NOT NULL DEFAULT 1,
  updated_at DATETIME
);`,
	`CREATE TABLE card_tokens (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  token_ciphertext BLOB NOT NULL,
  token_fingerprint TEXT NOT NULL,
  masked_number TEXT NOT NULL,
  holder_name TEXT NOT NULL,
  method TEXT NOT NULL,
  expiry_month INTEGER NOT NULL,
  expiry_year INTEGER NOT NULL,
  display_name TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (buyer_id, token_fingerprint)
);`,
	`CREATE TABLE ledger_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  actor_id TEXT,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  gateway_payment_id TEXT,
  metadata TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  ordering_key TEXT NOT NULL DEFAULT '',
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
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
  created_at DATETIME,
  UNIQUE (event_id)
);`,
}

// Open returns an isolated in-memory database with every table created. A
// single connection keeps transactions from tripping over shared-cache locks.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Count returns the number of rows in table matching the optional where clause.
func Count(t testing.TB, conn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()

	query := conn.Table(table)
	if where != "" {
		query = query.Where(where, args...)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
