package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/records"
)

// PaymentRepository implements repositories.PaymentRepository. Transitions lock the row with
// SELECT ... FOR UPDATE so concurrent transitions on one payment serialise.
type PaymentRepository struct {
	db *sql.DB
}

// Insert implements repositories.PaymentRepository.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	const op = "payments.insert"
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return repositories.NewStoreError(op, repositories.ErrorKindUnknown, errors.New("payment id is required"))
	}
	payment.ID = id
	doc, err := json.Marshal(records.FromPayment(payment))
	if err != nil {
		return fmt.Errorf("encode payment %s: %w", id, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, status, created_at, updated_at, document)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, payment.UserID, string(payment.Status), payment.CreatedAt.UTC(), payment.UpdatedAt.UTC(), doc)
	return wrap(op, err)
}

// FindByID implements repositories.PaymentRepository.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	const op = "payments.find"
	id := strings.TrimSpace(paymentID)
	payment, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT document FROM payments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, repositories.NotFound(op, "payment "+id)
	}
	return payment, wrap(op, err)
}

// ListByUser implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	query := `SELECT document FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	payments, err := r.query(ctx, query, args...)
	return payments, wrap("payments.list_by_user", err)
}

// ListByStatus implements repositories.PaymentRepository.
func (r *PaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus, updatedBefore time.Time, limit int) ([]domain.Payment, error) {
	query := `SELECT document FROM payments WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC`
	args := []any{string(status), updatedBefore.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	payments, err := r.query(ctx, query, args...)
	return payments, wrap("payments.list_by_status", err)
}

// Transition implements repositories.PaymentRepository.
func (r *PaymentRepository) Transition(ctx context.Context, paymentID string, allowed []domain.PaymentStatus, mutate repositories.PaymentMutation) (domain.Payment, error) {
	const op = "payments.transition"
	id := strings.TrimSpace(paymentID)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.Payment{}, wrap(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanPayment(tx.QueryRowContext(ctx, `SELECT document FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, repositories.NotFound(op, "payment "+id)
	}
	if err != nil {
		return domain.Payment{}, wrap(op, err)
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

	doc, err := json.Marshal(records.FromPayment(next))
	if err != nil {
		return domain.Payment{}, fmt.Errorf("encode payment %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $2, updated_at = $3, document = $4 WHERE id = $1
	`, id, string(next.Status), next.UpdatedAt.UTC(), doc); err != nil {
		return domain.Payment{}, wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, wrap(op, err)
	}
	return next, nil
}

func (r *PaymentRepository) query(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return domain.Payment{}, err
	}
	var doc records.Payment
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment: %w", err)
	}
	return doc.Domain(), nil
}
