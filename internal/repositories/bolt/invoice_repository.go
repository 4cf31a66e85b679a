package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/records"
)

// InvoiceRepository stores invoices keyed by id with secondary index buckets for the payment id and the
// invoice number.
type InvoiceRepository struct {
	db *bolt.DB
}

// Insert implements repositories.InvoiceRepository.
func (r *InvoiceRepository) Insert(_ context.Context, invoice domain.Invoice) error {
	const op = "invoices.insert"
	err := r.db.Update(func(tx *bolt.Tx) error {
		invoices := tx.Bucket(invoicesBucket)
		byPayment := tx.Bucket(invoiceByPaymentBucket)
		byNumber := tx.Bucket(invoiceByNumberBucket)
		if byPayment.Get([]byte(invoice.PaymentID)) != nil {
			return repositories.NewStoreError(op, repositories.ErrorKindConflict, fmt.Errorf("invoice for payment %s already exists", invoice.PaymentID))
		}
		if invoices.Get([]byte(invoice.ID)) != nil {
			return repositories.NewStoreError(op, repositories.ErrorKindConflict, fmt.Errorf("invoice %s already exists", invoice.ID))
		}
		if err := putInvoice(invoices, invoice); err != nil {
			return err
		}
		if err := byPayment.Put([]byte(invoice.PaymentID), []byte(invoice.ID)); err != nil {
			return err
		}
		return byNumber.Put([]byte(invoice.InvoiceNumber), []byte(invoice.ID))
	})
	return wrap(op, err)
}

// FindByPaymentID implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByPaymentID(_ context.Context, paymentID string) (domain.Invoice, error) {
	return r.findVia(invoiceByPaymentBucket, "invoices.find_by_payment", paymentID, "invoice for payment "+paymentID)
}

// FindByNumber implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByNumber(_ context.Context, invoiceNumber string) (domain.Invoice, error) {
	return r.findVia(invoiceByNumberBucket, "invoices.find_by_number", invoiceNumber, "invoice "+invoiceNumber)
}

// UpdateDelivery implements repositories.InvoiceRepository.
func (r *InvoiceRepository) UpdateDelivery(_ context.Context, invoiceID string, delivery domain.InvoiceDelivery, updatedAt time.Time) error {
	const op = "invoices.update_delivery"
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(invoicesBucket)
		invoice, err := getInvoice(b, op, invoiceID)
		if err != nil {
			return err
		}
		invoice.Delivery = delivery
		invoice.UpdatedAt = updatedAt
		return putInvoice(b, invoice)
	})
	return wrap(op, err)
}

func (r *InvoiceRepository) findVia(index []byte, op, key, what string) (domain.Invoice, error) {
	var invoice domain.Invoice
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(index).Get([]byte(key))
		if id == nil {
			return repositories.NotFound(op, what)
		}
		var err error
		invoice, err = getInvoice(tx.Bucket(invoicesBucket), op, string(id))
		return err
	})
	return invoice, wrap(op, err)
}

func getInvoice(b *bolt.Bucket, op, id string) (domain.Invoice, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return domain.Invoice{}, repositories.NotFound(op, "invoice "+id)
	}
	var doc records.Invoice
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode invoice %s: %w", id, err)
	}
	return doc.Domain(), nil
}

func putInvoice(b *bolt.Bucket, invoice domain.Invoice) error {
	data, err := json.Marshal(records.FromInvoice(invoice))
	if err != nil {
		return fmt.Errorf("encode invoice %s: %w", invoice.ID, err)
	}
	return b.Put([]byte(invoice.ID), data)
}
