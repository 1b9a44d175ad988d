package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// EnsureSchema creates the tables and indexes the store needs when they are
// missing. It is safe to run on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool) error
	}{
		{"accounts", ensureAccountTables},
		{"transactions", ensureTransactionsTable},
		{"bookings", ensureBookingsTable},
		{"escrows", ensureEscrowsTable},
		{"reviews", ensureReviewsTable},
		{"notifications", ensureNotificationsTable},
	}
	for _, step := range steps {
		if err := step.fn(ctx, pool); err != nil {
			return fmt.Errorf("ensure %s schema: %w", step.name, err)
		}
		logger.Debug("schema ensured", zap.String("part", step.name))
	}
	return nil
}

func execAll(ctx context.Context, pool *pgxpool.Pool, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func ensureAccountTables(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool,
		`CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			phone       TEXT NOT NULL DEFAULT '',
			balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL DEFAULT '',
			phone             TEXT NOT NULL DEFAULT '',
			earnings          BIGINT NOT NULL DEFAULT 0 CHECK (earnings >= 0),
			is_verified       BOOLEAN NOT NULL DEFAULT FALSE,
			is_available      BOOLEAN NOT NULL DEFAULT TRUE,
			completed_orders  INTEGER NOT NULL DEFAULT 0,
			rating            NUMERIC(3,2) NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	)
}

func ensureTransactionsTable(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool,
		`CREATE TABLE IF NOT EXISTS transactions (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL CHECK (type IN ('deposit','booking_payment','escrow_release','refund','withdrawal')),
			status          TEXT NOT NULL CHECK (status IN ('pending','completed','failed')),
			amount          BIGINT NOT NULL CHECK (amount > 0),
			user_id         TEXT REFERENCES users(id),
			driver_id       TEXT REFERENCES drivers(id),
			booking_id      TEXT,
			correlation_id  TEXT,
			receipt_ref     TEXT NOT NULL DEFAULT '',
			reason          TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT transactions_owner_check CHECK (user_id IS NOT NULL OR driver_id IS NOT NULL)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS transactions_correlation_id_key
			ON transactions (correlation_id) WHERE correlation_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS transactions_pending_idx
			ON transactions (created_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS transactions_user_idx ON transactions (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS transactions_driver_idx ON transactions (driver_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS transactions_booking_idx ON transactions (booking_id)`,
	)
}

func ensureBookingsTable(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool,
		`CREATE TABLE IF NOT EXISTS bookings (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL REFERENCES users(id),
			driver_id       TEXT NOT NULL REFERENCES drivers(id),
			pickup          TEXT NOT NULL,
			dropoff         TEXT NOT NULL,
			distance_km     DOUBLE PRECISION NOT NULL,
			price           BIGINT NOT NULL CHECK (price > 0),
			promo_code      TEXT NOT NULL DEFAULT '',
			payment_method  TEXT NOT NULL,
			status          TEXT NOT NULL CHECK (status IN ('pending_payment','pending','accepted','completed','cancelled')),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS bookings_user_idx ON bookings (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS bookings_driver_idx ON bookings (driver_id, created_at DESC)`,
	)
}

func ensureEscrowsTable(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool,
		`CREATE TABLE IF NOT EXISTS escrows (
			booking_id    TEXT PRIMARY KEY REFERENCES bookings(id),
			payer_id      TEXT NOT NULL,
			payee_id      TEXT NOT NULL,
			amount        BIGINT NOT NULL CHECK (amount > 0),
			platform_fee  BIGINT NOT NULL CHECK (platform_fee >= 0),
			payee_amount  BIGINT NOT NULL CHECK (payee_amount >= 0),
			status        TEXT NOT NULL CHECK (status IN ('held','released','refunded','cancelled')),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT escrows_split_check CHECK (platform_fee + payee_amount = amount)
		)`,
		`CREATE INDEX IF NOT EXISTS escrows_status_idx ON escrows (status, created_at DESC)`,
	)
}

func ensureReviewsTable(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool,
		`CREATE TABLE IF NOT EXISTS reviews (
			id          TEXT PRIMARY KEY,
			booking_id  TEXT NOT NULL REFERENCES bookings(id),
			user_id     TEXT NOT NULL,
			driver_id   TEXT NOT NULL,
			rating      INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment     TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT reviews_booking_id_key UNIQUE (booking_id)
		)`,
		`CREATE INDEX IF NOT EXISTS reviews_driver_idx ON reviews (driver_id, created_at DESC)`,
	)
}

func ensureNotificationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool,
		`CREATE TABLE IF NOT EXISTS notifications (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			recipient_id  TEXT NOT NULL,
			audience      TEXT NOT NULL,
			kind          TEXT NOT NULL,
			title         TEXT NOT NULL,
			body          TEXT NOT NULL,
			reference     TEXT NOT NULL DEFAULT '',
			amount        BIGINT NOT NULL DEFAULT 0,
			read_at       TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications (recipient_id, created_at DESC)`,
	)
}
