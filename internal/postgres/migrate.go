package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Status columns hold the orders.Status / orders.RefundStatus string values.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id              TEXT PRIMARY KEY,
		user_id         TEXT        NOT NULL,
		total_amount    BIGINT      NOT NULL,
		discount_amount BIGINT      NOT NULL DEFAULT 0,
		real_amount     BIGINT      NOT NULL CHECK (real_amount >= 0),
		status          TEXT        NOT NULL,
		message         TEXT        NOT NULL DEFAULT '',
		pay_channel     TEXT        NOT NULL DEFAULT '',
		pay_order_no    TEXT        NOT NULL DEFAULT '',
		create_time     TIMESTAMPTZ NOT NULL,
		pay_time        TIMESTAMPTZ,
		finish_time     TIMESTAMPTZ,
		close_time      TIMESTAMPTZ,
		update_time     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (real_amount = total_amount - discount_amount)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, create_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status)`,

	`CREATE TABLE IF NOT EXISTS order_lines (
		id              TEXT PRIMARY KEY,
		order_id        TEXT        NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		user_id         TEXT        NOT NULL,
		course_id       TEXT        NOT NULL,
		price           BIGINT      NOT NULL,
		discount_amount BIGINT      NOT NULL DEFAULT 0,
		real_pay_amount BIGINT      NOT NULL,
		status          TEXT        NOT NULL,
		refund_status   TEXT        NOT NULL DEFAULT 'NONE',
		pay_channel     TEXT        NOT NULL DEFAULT '',
		name            TEXT        NOT NULL DEFAULT '',
		cover_url       TEXT        NOT NULL DEFAULT '',
		valid_duration  INTEGER     NOT NULL DEFAULT 0,
		create_time     TIMESTAMPTZ NOT NULL,
		update_time     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (order_id, course_id),
		CHECK (real_pay_amount = price - discount_amount)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_lines_order ON order_lines(order_id)`,

	`CREATE TABLE IF NOT EXISTS payment_receipts (
		pay_order_no TEXT PRIMARY KEY,
		order_id     TEXT        NOT NULL,
		pay_channel  TEXT        NOT NULL,
		settled_at   TIMESTAMPTZ NOT NULL,
		received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id              UUID PRIMARY KEY,
		topic           TEXT        NOT NULL,
		msg_key         TEXT        NOT NULL,
		event_type      TEXT        NOT NULL,
		payload         JSONB       NOT NULL,
		status          TEXT        NOT NULL DEFAULT 'pending',
		attempts        INTEGER     NOT NULL DEFAULT 0,
		last_error      TEXT        NOT NULL DEFAULT '',
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		locked_until    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sent_at         TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
