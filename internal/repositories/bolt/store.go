// Package bolt stores payments and invoices in a single BoltDB file. Bolt serialises read-write
// transactions, so a check-then-write inside db.Update is atomic with respect to every other writer.
package bolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

var (
	paymentsBucket         = []byte("payments")
	invoicesBucket         = []byte("invoices")
	invoiceByPaymentBucket = []byte("invoices_by_payment")
	invoiceByNumberBucket  = []byte("invoices_by_number")
)

// Store wraps the Bolt database and exposes the repositories backed by it.
type Store struct {
	db       *bolt.DB
	payments *PaymentRepository
	invoices *InvoiceRepository
}

// Open opens (or creates) the database at path and ensures every bucket exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("bolt: create directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{paymentsBucket, invoicesBucket, invoiceByPaymentBucket, invoiceByNumberBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
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

// Ping implements repositories.Registry by opening a read transaction.
func (s *Store) Ping(context.Context) error {
	return wrap("bolt.ping", s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(paymentsBucket) == nil {
			return fmt.Errorf("bolt: bucket %s missing", paymentsBucket)
		}
		return nil
	}))
}

// Close releases the database file lock.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(repositories.RepositoryError); ok {
		return err
	}
	if err == bolt.ErrTimeout || err == bolt.ErrDatabaseNotOpen {
		return repositories.NewStoreError(op, repositories.ErrorKindUnavailable, err)
	}
	return err
}
