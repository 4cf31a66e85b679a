package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// Amounts are stored as decimal strings so Firestore never rounds them through float64.

type paymentDocument struct {
	UserID         string            `firestore:"userId"`
	Amount         string            `firestore:"amount"`
	Currency       string            `firestore:"currency"`
	Method         string            `firestore:"method"`
	Status         string            `firestore:"status"`
	Description    string            `firestore:"description"`
	InvoiceNumber  string            `firestore:"invoiceNumber"`
	Metadata       map[string]string `firestore:"metadata,omitempty"`
	Refunds        []refundDocument  `firestore:"refunds,omitempty"`
	RefundedAmount string            `firestore:"refundedAmount"`
	CreatedAt      time.Time         `firestore:"createdAt"`
	UpdatedAt      time.Time         `firestore:"updatedAt"`
	ProcessedAt    *time.Time        `firestore:"processedAt,omitempty"`
	CompletedAt    *time.Time        `firestore:"completedAt,omitempty"`
	FailedAt       *time.Time        `firestore:"failedAt,omitempty"`
	RefundedAt     *time.Time        `firestore:"refundedAt,omitempty"`
	CancelledAt    *time.Time        `firestore:"cancelledAt,omitempty"`
}

type refundDocument struct {
	ID         string    `firestore:"id"`
	Amount     string    `firestore:"amount"`
	Reason     string    `firestore:"reason"`
	Note       string    `firestore:"note,omitempty"`
	Status     string    `firestore:"status"`
	GatewayRef string    `firestore:"gatewayRef,omitempty"`
	ActorID    string    `firestore:"actorId,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func encodePayment(p domain.Payment) paymentDocument {
	doc := paymentDocument{
		UserID:         p.UserID,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
		Method:         string(p.Method),
		Status:         string(p.Status),
		Description:    p.Description,
		InvoiceNumber:  p.InvoiceNumber,
		Metadata:       p.Metadata,
		RefundedAmount: p.RefundedAmount.String(),
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
		ProcessedAt:    p.ProcessedAt,
		CompletedAt:    p.CompletedAt,
		FailedAt:       p.FailedAt,
		RefundedAt:     p.RefundedAt,
		CancelledAt:    p.CancelledAt,
	}
	for _, r := range p.Refunds {
		doc.Refunds = append(doc.Refunds, refundDocument{
			ID:         r.ID,
			Amount:     r.Amount.String(),
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

func decodePayment(id string, doc paymentDocument) (domain.Payment, error) {
	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("payment %s amount: %w", id, err)
	}
	refunded := decimal.Zero
	if doc.RefundedAmount != "" {
		if refunded, err = decimal.NewFromString(doc.RefundedAmount); err != nil {
			return domain.Payment{}, fmt.Errorf("payment %s refunded amount: %w", id, err)
		}
	}
	p := domain.Payment{
		ID:             id,
		UserID:         doc.UserID,
		Amount:         amount,
		Currency:       doc.Currency,
		Method:         domain.PaymentMethod(doc.Method),
		Status:         domain.PaymentStatus(doc.Status),
		Description:    doc.Description,
		InvoiceNumber:  doc.InvoiceNumber,
		Metadata:       doc.Metadata,
		RefundedAmount: refunded,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		ProcessedAt:    doc.ProcessedAt,
		CompletedAt:    doc.CompletedAt,
		FailedAt:       doc.FailedAt,
		RefundedAt:     doc.RefundedAt,
		CancelledAt:    doc.CancelledAt,
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for _, r := range doc.Refunds {
		value, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return domain.Payment{}, fmt.Errorf("refund %s amount: %w", r.ID, err)
		}
		p.Refunds = append(p.Refunds, domain.Refund{
			ID:         r.ID,
			PaymentID:  id,
			Amount:     value,
			Reason:     domain.RefundReason(r.Reason),
			Note:       r.Note,
			Status:     domain.RefundStatus(r.Status),
			GatewayRef: r.GatewayRef,
			ActorID:    r.ActorID,
			CreatedAt:  r.CreatedAt,
		})
	}
	return p, nil
}

type invoiceDocument struct {
	ID            string             `firestore:"id"`
	InvoiceNumber string             `firestore:"invoiceNumber"`
	UserID        string             `firestore:"userId"`
	Currency      string             `firestore:"currency"`
	Status        string             `firestore:"status"`
	LineItems     []lineItemDocument `firestore:"lineItems"`
	Total         string             `firestore:"total"`
	IssueDate     time.Time          `firestore:"issueDate"`
	DueDate       time.Time          `firestore:"dueDate"`
	Delivery      deliveryDocument   `firestore:"delivery"`
	CreatedAt     time.Time          `firestore:"createdAt"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
}

type lineItemDocument struct {
	Description string `firestore:"description"`
	Quantity    int64  `firestore:"quantity"`
	UnitAmount  string `firestore:"unitAmount"`
	Amount      string `firestore:"amount"`
}

type deliveryDocument struct {
	HostedInvoiceID  string     `firestore:"hostedInvoiceId,omitempty"`
	HostedInvoiceURL string     `firestore:"hostedInvoiceUrl,omitempty"`
	PDFObject        string     `firestore:"pdfObject,omitempty"`
	PDFURL           string     `firestore:"pdfUrl,omitempty"`
	EmailMessageID   string     `firestore:"emailMessageId,omitempty"`
	EmailedTo        string     `firestore:"emailedTo,omitempty"`
	LastError        string     `firestore:"lastError,omitempty"`
	Attempts         int        `firestore:"attempts"`
	DeliveredAt      *time.Time `firestore:"deliveredAt,omitempty"`
}

func encodeInvoice(inv domain.Invoice) invoiceDocument {
	doc := invoiceDocument{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		UserID:        inv.UserID,
		Currency:      inv.Currency,
		Status:        string(inv.Status),
		Total:         inv.Total.String(),
		IssueDate:     inv.IssueDate.UTC(),
		DueDate:       inv.DueDate.UTC(),
		Delivery:      deliveryDocument(inv.Delivery),
		CreatedAt:     inv.CreatedAt.UTC(),
		UpdatedAt:     inv.UpdatedAt.UTC(),
	}
	for _, item := range inv.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount.String(),
			Amount:      item.Amount.String(),
		})
	}
	return doc
}

func decodeInvoice(paymentID string, doc invoiceDocument) (domain.Invoice, error) {
	total, err := decimal.NewFromString(doc.Total)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("invoice %s total: %w", doc.ID, err)
	}
	inv := domain.Invoice{
		ID:            doc.ID,
		InvoiceNumber: doc.InvoiceNumber,
		PaymentID:     paymentID,
		UserID:        doc.UserID,
		Currency:      doc.Currency,
		Status:        domain.InvoiceStatus(doc.Status),
		Total:         total,
		IssueDate:     doc.IssueDate,
		DueDate:       doc.DueDate,
		Delivery:      domain.InvoiceDelivery(doc.Delivery),
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	for _, item := range doc.LineItems {
		unit, err := decimal.NewFromString(item.UnitAmount)
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("invoice %s unit amount: %w", doc.ID, err)
		}
		amount, err := decimal.NewFromString(item.Amount)
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("invoice %s line amount: %w", doc.ID, err)
		}
		inv.LineItems = append(inv.LineItems, domain.InvoiceLineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  unit,
			Amount:      amount,
		})
	}
	return inv, nil
}
