package services

import (
	"errors"
	"fmt"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

var (
	// ErrPaymentInvalidInput wraps every *domain.ValidationError raised by payment operations.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentInvalidState wraps every *domain.InvalidStateError.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentNotFound indicates the payment id is unknown.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentForbidden indicates the caller does not own the payment.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentGateway indicates the external gateway failed or timed out.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentConflict indicates a concurrent write won a race the caller cannot retry blindly.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentUnavailable indicates the store or a required dependency is down.
	ErrPaymentUnavailable = errors.New("payment: unavailable")

	// ErrInvoiceNotFound indicates no invoice exists for the payment.
	ErrInvoiceNotFound = errors.New("invoice: not found")
	// ErrInvoiceInvalidState indicates an invoice was requested for a payment that never completed.
	ErrInvoiceInvalidState = errors.New("invoice: payment not completed")
	// ErrInvoiceUnavailable indicates the invoice store is down.
	ErrInvoiceUnavailable = errors.New("invoice: unavailable")

	// ErrCostInvalidInput wraps validation failures of cost procedures.
	ErrCostInvalidInput = errors.New("cost: invalid input")
	// ErrCostUnavailable indicates rate configuration could not be loaded.
	ErrCostUnavailable = errors.New("cost: unavailable")
)

// GatewayError reports a failed gateway capability call. The payment stays in its last consistent status.
type GatewayError struct {
	Capability string
	PaymentID  string
	Err        error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s for payment %s: %v", e.Capability, e.PaymentID, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrPaymentGateway, e.Err} }

func invalidInput(verr *domain.ValidationError) error {
	return fmt.Errorf("%w: %w", ErrPaymentInvalidInput, verr)
}

func invalidState(operation string, current domain.PaymentStatus, allowed []domain.PaymentStatus) error {
	return fmt.Errorf("%w: %w", ErrPaymentInvalidState, &domain.InvalidStateError{
		Operation: operation,
		Current:   current,
		Allowed:   allowed,
	})
}

// translatePaymentRepoError maps repository failures onto payment sentinels. A StatusMismatchError becomes
// an InvalidStateError for operation; errors already classified by this package pass through.
func translatePaymentRepoError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPaymentInvalidInput) || errors.Is(err, ErrPaymentInvalidState) || errors.Is(err, ErrPaymentGateway) {
		return err
	}
	if mismatch, ok := repositories.AsStatusMismatch(err); ok {
		return invalidState(operation, mismatch.Current, mismatch.Allowed)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPaymentUnavailable, operation, err)
}

func translateInvoiceRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %w", ErrInvoiceNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrInvoiceUnavailable, err)
}
