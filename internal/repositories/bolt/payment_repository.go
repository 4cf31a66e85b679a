package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/records"
)

// PaymentRepository stores payments as JSON documents keyed by id.
type PaymentRepository struct {
	db *bolt.DB
}

// Insert implements repositories.PaymentRepository.
func (r *PaymentRepository) Insert(_ context.Context, payment domain.Payment) error {
	const op = "payments.insert"
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return repositories.NewStoreError(op, repositories.ErrorKindUnknown, fmt.Errorf("payment id is required"))
	}
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(paymentsBucket)
		if b.Get([]byte(id)) != nil {
			return repositories.NewStoreError(op, repositories.ErrorKindConflict, fmt.Errorf("payment %s already exists", id))
		}
		return putPayment(b, payment)
	})
	return wrap(op, err)
}

// FindByID implements repositories.PaymentRepository.
func (r *PaymentRepository) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	const op = "payments.find"
	var payment domain.Payment
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		payment, err = getPayment(tx.Bucket(paymentsBucket), op, strings.TrimSpace(paymentID))
		return err
	})
	return payment, wrap(op, err)
}

// ListByUser implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
	out, err := r.scan(func(p domain.Payment) bool { return p.UserID == userID })
	if err != nil {
		return nil, wrap("payments.list_by_user", err)
	}
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
	out, err := r.scan(func(p domain.Payment) bool {
		return p.Status == status && p.UpdatedAt.Before(updatedBefore)
	})
	if err != nil {
		return nil, wrap("payments.list_by_status", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transition implements repositories.PaymentRepository.
func (r *PaymentRepository) Transition(_ context.Context, paymentID string, allowed []domain.PaymentStatus, mutate repositories.PaymentMutation) (domain.Payment, error) {
	const op = "payments.transition"
	id := strings.TrimSpace(paymentID)
	var next domain.Payment
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(paymentsBucket)
		current, err := getPayment(b, op, id)
		if err != nil {
			return err
		}
		if err := repositories.CheckStatus(current, allowed); err != nil {
			return err
		}
		next = current.Clone()
		if mutate != nil {
			if err := mutate(&next); err != nil {
				return err
			}
		}
		next.ID = id
		return putPayment(b, next)
	})
	if err != nil {
		return domain.Payment{}, wrap(op, err)
	}
	return next, nil
}

func (r *PaymentRepository) scan(keep func(domain.Payment) bool) ([]domain.Payment, error) {
	out := make([]domain.Payment, 0)
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(paymentsBucket).ForEach(func(_, v []byte) error {
			var doc records.Payment
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode payment: %w", err)
			}
			if p := doc.Domain(); keep(p) {
				out = append(out, p)
			}
			return nil
		})
	})
	return out, err
}

func getPayment(b *bolt.Bucket, op, id string) (domain.Payment, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return domain.Payment{}, repositories.NotFound(op, "payment "+id)
	}
	var doc records.Payment
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return doc.Domain(), nil
}

func putPayment(b *bolt.Bucket, payment domain.Payment) error {
	data, err := json.Marshal(records.FromPayment(payment))
	if err != nil {
		return fmt.Errorf("encode payment %s: %w", payment.ID, err)
	}
	return b.Put([]byte(strings.TrimSpace(payment.ID)), data)
}
