package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/firestore"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

// Store bundles the Firestore repositories behind repositories.Registry.
type Store struct {
	provider *pfirestore.Provider
	payments *PaymentRepository
	invoices *InvoiceRepository
}

// NewStore wires the repositories to a shared provider. Closing the store closes the provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	invoices, err := NewInvoiceRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Store{provider: provider, payments: payments, invoices: invoices}, nil
}

// Payments implements repositories.Registry.
func (s *Store) Payments() repositories.PaymentRepository { return s.payments }

// Invoices implements repositories.Registry.
func (s *Store) Invoices() repositories.InvoiceRepository { return s.invoices }

// Ping implements repositories.Registry by reading at most one payment document.
func (s *Store) Ping(ctx context.Context) error {
	coll, err := s.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return err
	}
	_, err = coll.Limit(1).Documents(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}

// Close implements repositories.Registry.
func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }
