package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	pfirestore "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/firestore"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

const paymentsCollection = "payments"

// PaymentRepository persists payments in the top-level payments collection. Transitions run inside a
// Firestore transaction so the status check and the write commit together.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{provider: provider}, nil
}

// Insert implements repositories.PaymentRepository. Create fails with AlreadyExists on duplicate ids.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return repositories.NewStoreError("payments.insert", repositories.ErrorKindUnknown, errors.New("payment id is required"))
	}
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Create(ctx, encodePayment(payment)); err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return nil
}

// FindByID implements repositories.PaymentRepository.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return domain.Payment{}, err
	}
	snap, err := coll.Doc(strings.TrimSpace(paymentID)).Get(ctx)
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.find", err)
	}
	return snapshotPayment(snap)
}

// ListByUser implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return nil, err
	}
	query := coll.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.collect(ctx, "payments.list_by_user", query)
}

// ListByStatus implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByStatus(ctx context.Context, statusValue domain.PaymentStatus, updatedBefore time.Time, limit int) ([]domain.Payment, error) {
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return nil, err
	}
	query := coll.Where("status", "==", string(statusValue)).
		Where("updatedAt", "<", updatedBefore.UTC()).
		OrderBy("updatedAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.collect(ctx, "payments.list_by_status", query)
}

// Transition implements repositories.PaymentRepository. Firestore may retry the callback on contention;
// each attempt starts from a freshly read record.
func (r *PaymentRepository) Transition(ctx context.Context, paymentID string, allowed []domain.PaymentStatus, mutate repositories.PaymentMutation) (domain.Payment, error) {
	id := strings.TrimSpace(paymentID)
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return domain.Payment{}, err
	}
	ref := coll.Doc(id)

	var next domain.Payment
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NotFound("payments.transition", "payment "+id)
		}
		if err != nil {
			return err
		}
		current, err := snapshotPayment(snap)
		if err != nil {
			return err
		}
		if err := repositories.CheckStatus(current, allowed); err != nil {
			return err
		}
		candidate := current.Clone()
		if mutate != nil {
			if err := mutate(&candidate); err != nil {
				return err
			}
		}
		candidate.ID = id
		if err := tx.Set(ref, encodePayment(candidate)); err != nil {
			return err
		}
		next = candidate
		return nil
	}, pfirestore.WithTxOperation("payments.transition"), pfirestore.WithTxField("paymentID", id))
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.transition", err)
	}
	return next, nil
}

func (r *PaymentRepository) collect(ctx context.Context, op string, query firestore.Query) ([]domain.Payment, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	payments := make([]domain.Payment, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError(op, err)
		}
		payment, err := snapshotPayment(snap)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, nil
}

func snapshotPayment(snap *firestore.DocumentSnapshot) (domain.Payment, error) {
	var doc paymentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Payment{}, fmt.Errorf("firestore payments decode %s: %w", snap.Ref.ID, err)
	}
	return decodePayment(snap.Ref.ID, doc)
}
