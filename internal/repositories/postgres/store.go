// Package postgres stores payments and invoices in PostgreSQL through the pgx database/sql driver. Each
// record is kept as a JSONB document next to the columns used for lookups and ordering.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	document   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS payments_user_created_idx ON payments (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS payments_status_updated_idx ON payments (status, updated_at);

CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	payment_id     TEXT NOT NULL UNIQUE,
	invoice_number TEXT NOT NULL UNIQUE,
	document       JSONB NOT NULL
);
`

// Store owns the connection pool.
type Store struct {
	db       *sql.DB
	payments *PaymentRepository
	invoices *InvoiceRepository
}

// Open connects to databaseURL, verifies the connection and creates the schema when missing.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{
		db:       db,
		payments: &PaymentRepository{db: db},
		invoices: &InvoiceRepository{db: db},
	}, nil
}

// Payments implements repositories.Registry.
func (s *Store) Payments() repositories.PaymentRepository { return s.payments }

// Invoices implements repositories.Registry.
func (s *Store) Invoices() repositories.InvoiceRepository { return s.invoices }

// Ping implements repositories.Registry.
func (s *Store) Ping(ctx context.Context) error { return wrap("postgres.ping", s.db.PingContext(ctx)) }

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return s.db.Close() }

// truncate empties both tables. Tests only.
func (s *Store) truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE payments, invoices`)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified repositories.RepositoryError
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.ErrorKindNotFound, err)
	}
	if isUniqueViolation(err) {
		return repositories.NewStoreError(op, repositories.ErrorKindConflict, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return repositories.NewStoreError(op, repositories.ErrorKindUnknown, err)
	}
	return repositories.NewStoreError(op, repositories.ErrorKindUnavailable, err)
}
