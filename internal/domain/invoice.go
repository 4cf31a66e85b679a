package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice document states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is the billing document derived from a completed payment.
type Invoice struct {
	ID            string
	InvoiceNumber string
	PaymentID     string
	UserID        string
	Currency      string
	Status        InvoiceStatus
	LineItems     []InvoiceLineItem
	Total         decimal.Decimal
	IssueDate     time.Time
	DueDate       time.Time
	Delivery      InvoiceDelivery
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InvoiceLineItem is a single billed entry.
type InvoiceLineItem struct {
	Description string
	Quantity    int64
	UnitAmount  decimal.Decimal
	Amount      decimal.Decimal
}

// InvoiceDelivery captures the outcome of the side channels an invoice is pushed through.
type InvoiceDelivery struct {
	HostedInvoiceID  string
	HostedInvoiceURL string
	PDFObject        string
	PDFURL           string
	EmailMessageID   string
	EmailedTo        string
	LastError        string
	Attempts         int
	DeliveredAt      *time.Time
}

// Clone returns a deep copy of the invoice.
func (i Invoice) Clone() Invoice {
	out := i
	out.LineItems = append([]InvoiceLineItem(nil), i.LineItems...)
	out.Delivery.DeliveredAt = cloneTime(i.Delivery.DeliveredAt)
	return out
}

// InvoiceDocument locates an archived rendering of an invoice.
type InvoiceDocument struct {
	Object string
	URL    string
}
