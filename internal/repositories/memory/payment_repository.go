package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

// PaymentRepository keeps payments in a map. Transitions hold a per-payment lock for their full
// read-check-write cycle.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
	locks    keyedLocks
}

// NewPaymentRepository constructs an empty repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]domain.Payment)}
}

// Insert implements repositories.PaymentRepository.
func (r *PaymentRepository) Insert(_ context.Context, payment domain.Payment) error {
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return repositories.NewStoreError("payments.insert", repositories.ErrorKindUnknown, fmt.Errorf("payment id is required"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.payments[id]; exists {
		return repositories.NewStoreError("payments.insert", repositories.ErrorKindConflict, fmt.Errorf("payment %s already exists", id))
	}
	r.payments[id] = payment.Clone()
	return nil
}

// FindByID implements repositories.PaymentRepository.
func (r *PaymentRepository) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payment, ok := r.payments[strings.TrimSpace(paymentID)]
	if !ok {
		return domain.Payment{}, repositories.NotFound("payments.find", "payment "+paymentID)
	}
	return payment.Clone(), nil
}

// ListByUser implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	out := make([]domain.Payment, 0)
	for _, payment := range r.payments {
		if payment.UserID == userID {
			out = append(out, payment.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByStatus implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByStatus(_ context.Context, status domain.PaymentStatus, updatedBefore time.Time, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	out := make([]domain.Payment, 0)
	for _, payment := range r.payments {
		if payment.Status == status && payment.UpdatedAt.Before(updatedBefore) {
			out = append(out, payment.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transition implements repositories.PaymentRepository.
func (r *PaymentRepository) Transition(_ context.Context, paymentID string, allowed []domain.PaymentStatus, mutate repositories.PaymentMutation) (domain.Payment, error) {
	id := strings.TrimSpace(paymentID)
	unlock := r.locks.lock(id)
	defer unlock()

	r.mu.RLock()
	current, ok := r.payments[id]
	r.mu.RUnlock()
	if !ok {
		return domain.Payment{}, repositories.NotFound("payments.transition", "payment "+id)
	}
	if err := repositories.CheckStatus(current, allowed); err != nil {
		return domain.Payment{}, err
	}

	next := current.Clone()
	if mutate != nil {
		if err := mutate(&next); err != nil {
			return domain.Payment{}, err
		}
	}
	next.ID = id

	r.mu.Lock()
	r.payments[id] = next.Clone()
	r.mu.Unlock()
	return next, nil
}
