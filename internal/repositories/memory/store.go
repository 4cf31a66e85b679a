// Package memory provides process-local repositories for tests and single-instance development runs.
package memory

import (
	"context"
	"sync"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

// Store bundles the in-memory repositories. Each Store is independent; nothing is shared between instances.
type Store struct {
	payments *PaymentRepository
	invoices *InvoiceRepository
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		payments: NewPaymentRepository(),
		invoices: NewInvoiceRepository(),
	}
}

// Payments implements repositories.Registry.
func (s *Store) Payments() repositories.PaymentRepository { return s.payments }

// Ping implements repositories.Registry.
func (s *Store) Ping(context.Context) error { return nil }

// Invoices implements repositories.Registry.
func (s *Store) Invoices() repositories.InvoiceRepository { return s.invoices }

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// keyedLocks hands out one mutex per key so that transitions on different payments never contend.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
