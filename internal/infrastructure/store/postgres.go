package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/lib/pq"
)

const (
	// maxTxAttempts bounds retries on serialization conflicts
	maxTxAttempts = 3

	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// PostgresStore implements Store on PostgreSQL using serializable
// transactions. Product rows touched by stock mutations are additionally
// locked FOR UPDATE so concurrent order creation cannot oversell.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// WithinTx runs fn inside one serializable transaction, retrying a bounded
// number of times when PostgreSQL reports a serialization conflict.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(10<<attempt)*time.Millisecond + time.Duration(rand.Intn(10))*time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			log.Printf("[Store] Retrying transaction after conflict (attempt %d)", attempt+1)
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxAttempts, lastErr)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Printf("[Store] Rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// isSerializationFailure reports whether err is a transient conflict worth
// retrying with a fresh transaction.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqSerializationFailure || string(pqErr.Code) == pqDeadlockDetected
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// EnsureSchema creates the fulfillment tables if they do not exist
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	price           BIGINT NOT NULL CHECK (price >= 0),
	stock           INTEGER NOT NULL CHECK (stock >= 0),
	warranty_months INTEGER NOT NULL DEFAULT 0 CHECK (warranty_months >= 0),
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cart_lines (
	user_id    TEXT NOT NULL,
	product_id TEXT NOT NULL REFERENCES products(id),
	quantity   INTEGER NOT NULL CHECK (quantity >= 1),
	added_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	user_email        TEXT NOT NULL DEFAULT '',
	subtotal          BIGINT NOT NULL CHECK (subtotal >= 0),
	shipping_fee      BIGINT NOT NULL CHECK (shipping_fee >= 0),
	tax               BIGINT NOT NULL CHECK (tax >= 0),
	total_price       BIGINT NOT NULL CHECK (total_price >= 0),
	order_status      TEXT NOT NULL,
	payment_status    TEXT NOT NULL,
	payment_reference TEXT NOT NULL DEFAULT '',
	recipient         TEXT NOT NULL,
	street            TEXT NOT NULL,
	city              TEXT NOT NULL,
	postal_code       TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS orders_status_updated_idx ON orders (order_status, updated_at);
CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id);

CREATE TABLE IF NOT EXISTS order_items (
	id                TEXT PRIMARY KEY,
	order_id          TEXT NOT NULL REFERENCES orders(id),
	product_id        TEXT NOT NULL,
	product_name      TEXT NOT NULL DEFAULT '',
	quantity          INTEGER NOT NULL CHECK (quantity >= 1),
	price_at_purchase BIGINT NOT NULL CHECK (price_at_purchase >= 0)
);

CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id);

CREATE TABLE IF NOT EXISTS warranties (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	user_email        TEXT NOT NULL DEFAULT '',
	product_id        TEXT NOT NULL,
	order_id          TEXT NOT NULL DEFAULT '',
	unit_index        INTEGER NOT NULL DEFAULT 0,
	purchase_date     TIMESTAMPTZ NOT NULL,
	expiry_date       TIMESTAMPTZ NOT NULL,
	serial_number     TEXT UNIQUE,
	registration_type TEXT NOT NULL,
	reminded          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- one auto warranty per purchased unit, the idempotency guard for issuance
CREATE UNIQUE INDEX IF NOT EXISTS warranties_auto_unit_idx
	ON warranties (order_id, product_id, unit_index)
	WHERE registration_type = 'auto';

CREATE INDEX IF NOT EXISTS warranties_expiry_idx ON warranties (expiry_date) WHERE NOT reminded;

CREATE TABLE IF NOT EXISTS claims (
	id                TEXT PRIMARY KEY,
	warranty_id       TEXT NOT NULL REFERENCES warranties(id),
	user_id           TEXT NOT NULL,
	issue_description TEXT NOT NULL,
	status            TEXT NOT NULL,
	admin_notes       TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
