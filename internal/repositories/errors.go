package repositories

import (
	"errors"
	"fmt"
	"slices"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// ErrorKind classifies StoreError failures.
type ErrorKind string

const (
	ErrorKindUnknown     ErrorKind = "unknown"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// StoreError is the RepositoryError used by the non-Firestore store drivers.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

// NewStoreError constructs a StoreError.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// NotFound is shorthand for a not-found StoreError.
func NotFound(op, what string) *StoreError {
	return NewStoreError(op, ErrorKindNotFound, fmt.Errorf("%s not found", what))
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// StatusMismatchError reports that a transition found the payment in a status outside the allowed set.
type StatusMismatchError struct {
	PaymentID string
	Current   domain.PaymentStatus
	Allowed   []domain.PaymentStatus
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("payment %s is %s, expected one of %v", e.PaymentID, e.Current, e.Allowed)
}

func (e *StatusMismatchError) IsNotFound() bool    { return false }
func (e *StatusMismatchError) IsConflict() bool    { return true }
func (e *StatusMismatchError) IsUnavailable() bool { return false }

// CheckStatus returns a *StatusMismatchError when payment is not in one of allowed. An empty allowed list
// accepts every status.
func CheckStatus(payment domain.Payment, allowed []domain.PaymentStatus) error {
	if len(allowed) == 0 || slices.Contains(allowed, payment.Status) {
		return nil
	}
	return &StatusMismatchError{PaymentID: payment.ID, Current: payment.Status, Allowed: slices.Clone(allowed)}
}

// AsStatusMismatch extracts a StatusMismatchError from err.
func AsStatusMismatch(err error) (*StatusMismatchError, bool) {
	var mismatch *StatusMismatchError
	if errors.As(err, &mismatch) {
		return mismatch, true
	}
	return nil, false
}
