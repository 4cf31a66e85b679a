package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

// InvoiceRepository keeps invoices in a map indexed by id, payment id and invoice number.
type InvoiceRepository struct {
	mu        sync.RWMutex
	invoices  map[string]domain.Invoice
	byPayment map[string]string
	byNumber  map[string]string
}

// NewInvoiceRepository constructs an empty repository.
func NewInvoiceRepository() *InvoiceRepository {
	return &InvoiceRepository{
		invoices:  make(map[string]domain.Invoice),
		byPayment: make(map[string]string),
		byNumber:  make(map[string]string),
	}
}

// Insert implements repositories.InvoiceRepository.
func (r *InvoiceRepository) Insert(_ context.Context, invoice domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPayment[invoice.PaymentID]; exists {
		return repositories.NewStoreError("invoices.insert", repositories.ErrorKindConflict, fmt.Errorf("invoice for payment %s already exists", invoice.PaymentID))
	}
	if _, exists := r.invoices[invoice.ID]; exists {
		return repositories.NewStoreError("invoices.insert", repositories.ErrorKindConflict, fmt.Errorf("invoice %s already exists", invoice.ID))
	}
	r.invoices[invoice.ID] = invoice.Clone()
	r.byPayment[invoice.PaymentID] = invoice.ID
	r.byNumber[invoice.InvoiceNumber] = invoice.ID
	return nil
}

// FindByPaymentID implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByPaymentID(_ context.Context, paymentID string) (domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPayment[paymentID]
	if !ok {
		return domain.Invoice{}, repositories.NotFound("invoices.find_by_payment", "invoice for payment "+paymentID)
	}
	return r.invoices[id].Clone(), nil
}

// FindByNumber implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByNumber(_ context.Context, invoiceNumber string) (domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNumber[invoiceNumber]
	if !ok {
		return domain.Invoice{}, repositories.NotFound("invoices.find_by_number", "invoice "+invoiceNumber)
	}
	return r.invoices[id].Clone(), nil
}

// UpdateDelivery implements repositories.InvoiceRepository.
func (r *InvoiceRepository) UpdateDelivery(_ context.Context, invoiceID string, delivery domain.InvoiceDelivery, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invoice, ok := r.invoices[invoiceID]
	if !ok {
		return repositories.NotFound("invoices.update_delivery", "invoice "+invoiceID)
	}
	invoice.Delivery = delivery
	invoice.UpdatedAt = updatedAt
	r.invoices[invoiceID] = invoice.Clone()
	return nil
}
