package repositories

import (
	"context"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// Registry exposes the repositories of one store driver and its lifecycle hook.
type Registry interface {
	Payments() PaymentRepository
	Invoices() InvoiceRepository
	// Ping reports whether the backing store is reachable. Readiness checks call it.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PaymentMutation edits the freshly loaded payment inside a transition. Returning an error aborts the
// transition and nothing is written.
type PaymentMutation func(current *domain.Payment) error

// PaymentRepository persists payment records. Payments are never deleted.
type PaymentRepository interface {
	// Insert stores a new payment. A duplicate id yields a conflict RepositoryError.
	Insert(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	// ListByUser returns the user's payments newest first. A limit of zero or less returns all of them.
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payment, error)
	// ListByStatus returns payments in status whose last update is older than updatedBefore, oldest first.
	ListByStatus(ctx context.Context, status domain.PaymentStatus, updatedBefore time.Time, limit int) ([]domain.Payment, error)
	// Transition is the single compare-and-set point of the payment state machine. It reads the current
	// stored record, fails with a *StatusMismatchError when its status is not in allowed, applies mutate and
	// writes the result, all atomically with respect to other transitions on the same id.
	Transition(ctx context.Context, paymentID string, allowed []domain.PaymentStatus, mutate PaymentMutation) (domain.Payment, error)
}

// InvoiceRepository persists invoices derived from completed payments. One invoice exists per payment.
type InvoiceRepository interface {
	// Insert stores a new invoice. An existing invoice for the same payment yields a conflict RepositoryError.
	Insert(ctx context.Context, invoice domain.Invoice) error
	FindByPaymentID(ctx context.Context, paymentID string) (domain.Invoice, error)
	FindByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error)
	UpdateDelivery(ctx context.Context, invoiceID string, delivery domain.InvoiceDelivery, updatedAt time.Time) error
}
