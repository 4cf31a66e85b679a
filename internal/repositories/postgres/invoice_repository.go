package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/records"
)

// InvoiceRepository implements repositories.InvoiceRepository. The unique payment_id column enforces one
// invoice per payment.
type InvoiceRepository struct {
	db *sql.DB
}

// Insert implements repositories.InvoiceRepository.
func (r *InvoiceRepository) Insert(ctx context.Context, invoice domain.Invoice) error {
	doc, err := json.Marshal(records.FromInvoice(invoice))
	if err != nil {
		return fmt.Errorf("encode invoice %s: %w", invoice.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO invoices (id, payment_id, invoice_number, document) VALUES ($1, $2, $3, $4)
	`, invoice.ID, invoice.PaymentID, invoice.InvoiceNumber, doc)
	return wrap("invoices.insert", err)
}

// FindByPaymentID implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.Invoice, error) {
	return r.findOne(ctx, "invoices.find_by_payment", `SELECT document FROM invoices WHERE payment_id = $1`, paymentID)
}

// FindByNumber implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error) {
	return r.findOne(ctx, "invoices.find_by_number", `SELECT document FROM invoices WHERE invoice_number = $1`, invoiceNumber)
}

// UpdateDelivery implements repositories.InvoiceRepository.
func (r *InvoiceRepository) UpdateDelivery(ctx context.Context, invoiceID string, delivery domain.InvoiceDelivery, updatedAt time.Time) error {
	const op = "invoices.update_delivery"
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	invoice, err := scanInvoice(tx.QueryRowContext(ctx, `SELECT document FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NotFound(op, "invoice "+invoiceID)
	}
	if err != nil {
		return wrap(op, err)
	}
	invoice.Delivery = delivery
	invoice.UpdatedAt = updatedAt

	doc, err := json.Marshal(records.FromInvoice(invoice))
	if err != nil {
		return fmt.Errorf("encode invoice %s: %w", invoiceID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE invoices SET document = $2 WHERE id = $1`, invoiceID, doc); err != nil {
		return wrap(op, err)
	}
	return wrap(op, tx.Commit())
}

func (r *InvoiceRepository) findOne(ctx context.Context, op, query, key string) (domain.Invoice, error) {
	invoice, err := scanInvoice(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invoice{}, repositories.NotFound(op, "invoice "+key)
	}
	return invoice, wrap(op, err)
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return domain.Invoice{}, err
	}
	var doc records.Invoice
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode invoice: %w", err)
	}
	return doc.Domain(), nil
}
