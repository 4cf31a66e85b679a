// Package records defines the JSON documents used by the stores that persist whole records as JSON.
package records

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// Payment is the stored form of domain.Payment.
type Payment struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Method         string            `json:"method"`
	Status         string            `json:"status"`
	Description    string            `json:"description"`
	InvoiceNumber  string            `json:"invoiceNumber"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Refunds        []Refund          `json:"refunds,omitempty"`
	RefundedAmount decimal.Decimal   `json:"refundedAmount"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	ProcessedAt    *time.Time        `json:"processedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	FailedAt       *time.Time        `json:"failedAt,omitempty"`
	RefundedAt     *time.Time        `json:"refundedAt,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
}

// Refund is an embedded refund entry.
type Refund struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	Note       string          `json:"note,omitempty"`
	Status     string          `json:"status"`
	GatewayRef string          `json:"gatewayRef,omitempty"`
	ActorID    string          `json:"actorId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// FromPayment converts a payment into its stored form.
func FromPayment(p domain.Payment) Payment {
	doc := Payment{
		ID:             p.ID,
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         string(p.Method),
		Status:         string(p.Status),
		Description:    p.Description,
		InvoiceNumber:  p.InvoiceNumber,
		Metadata:       p.Metadata,
		RefundedAmount: p.RefundedAmount,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
		ProcessedAt:    p.ProcessedAt,
		CompletedAt:    p.CompletedAt,
		FailedAt:       p.FailedAt,
		RefundedAt:     p.RefundedAt,
		CancelledAt:    p.CancelledAt,
	}
	for _, r := range p.Refunds {
		doc.Refunds = append(doc.Refunds, Refund{
			ID:         r.ID,
			Amount:     r.Amount,
			Reason:     string(r.Reason),
			Note:       r.Note,
			Status:     string(r.Status),
			GatewayRef: r.GatewayRef,
			ActorID:    r.ActorID,
			CreatedAt:  r.CreatedAt.UTC(),
		})
	}
	return doc
}

// Domain converts the document back into a payment.
func (d Payment) Domain() domain.Payment {
	p := domain.Payment{
		ID:             d.ID,
		UserID:         d.UserID,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Method:         domain.PaymentMethod(d.Method),
		Status:         domain.PaymentStatus(d.Status),
		Description:    d.Description,
		InvoiceNumber:  d.InvoiceNumber,
		Metadata:       d.Metadata,
		RefundedAmount: d.RefundedAmount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		ProcessedAt:    d.ProcessedAt,
		CompletedAt:    d.CompletedAt,
		FailedAt:       d.FailedAt,
		RefundedAt:     d.RefundedAt,
		CancelledAt:    d.CancelledAt,
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for _, r := range d.Refunds {
		p.Refunds = append(p.Refunds, domain.Refund{
			ID:         r.ID,
			PaymentID:  d.ID,
			Amount:     r.Amount,
			Reason:     domain.RefundReason(r.Reason),
			Note:       r.Note,
			Status:     domain.RefundStatus(r.Status),
			GatewayRef: r.GatewayRef,
			ActorID:    r.ActorID,
			CreatedAt:  r.CreatedAt,
		})
	}
	return p
}

// Invoice is the stored form of domain.Invoice.
type Invoice struct {
	ID            string                 `json:"id"`
	InvoiceNumber string                 `json:"invoiceNumber"`
	PaymentID     string                 `json:"paymentId"`
	UserID        string                 `json:"userId"`
	Currency      string                 `json:"currency"`
	Status        string                 `json:"status"`
	LineItems     []LineItem             `json:"lineItems"`
	Total         decimal.Decimal        `json:"total"`
	IssueDate     time.Time              `json:"issueDate"`
	DueDate       time.Time              `json:"dueDate"`
	Delivery      domain.InvoiceDelivery `json:"delivery"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// LineItem is an invoice line.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unitAmount"`
	Amount      decimal.Decimal `json:"amount"`
}

// FromInvoice converts an invoice into its stored form.
func FromInvoice(inv domain.Invoice) Invoice {
	doc := Invoice{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		PaymentID:     inv.PaymentID,
		UserID:        inv.UserID,
		Currency:      inv.Currency,
		Status:        string(inv.Status),
		Total:         inv.Total,
		IssueDate:     inv.IssueDate.UTC(),
		DueDate:       inv.DueDate.UTC(),
		Delivery:      inv.Delivery,
		CreatedAt:     inv.CreatedAt.UTC(),
		UpdatedAt:     inv.UpdatedAt.UTC(),
	}
	for _, item := range inv.LineItems {
		doc.LineItems = append(doc.LineItems, LineItem(item))
	}
	return doc
}

// Domain converts the document back into an invoice.
func (d Invoice) Domain() domain.Invoice {
	inv := domain.Invoice{
		ID:            d.ID,
		InvoiceNumber: d.InvoiceNumber,
		PaymentID:     d.PaymentID,
		UserID:        d.UserID,
		Currency:      d.Currency,
		Status:        domain.InvoiceStatus(d.Status),
		Total:         d.Total,
		IssueDate:     d.IssueDate,
		DueDate:       d.DueDate,
		Delivery:      d.Delivery,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, item := range d.LineItems {
		inv.LineItems = append(inv.LineItems, domain.InvoiceLineItem(item))
	}
	return inv
}
