package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus is the gateway-reported state of a charge, normalised across providers.
type ChargeStatus string

const (
	// ChargePending means the payer has not finished or the gateway has not settled yet.
	ChargePending ChargeStatus = "pending"
	// ChargeSucceeded means funds were captured.
	ChargeSucceeded ChargeStatus = "succeeded"
	// ChargeFailed means the gateway explicitly reported failure or expiry.
	ChargeFailed ChargeStatus = "failed"
	// ChargeRefunded means the captured amount was fully returned.
	ChargeRefunded ChargeStatus = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider    = errors.New("payments: unsupported provider")
	// ErrUnsupportedCurrency is returned for currency codes the gateway cannot express in minor units.
	ErrUnsupportedCurrency    = errors.New("payments: unsupported currency")
	// ErrAmountNotRepresentable is returned for amounts that do not map exactly onto integer minor units.
	ErrAmountNotRepresentable = errors.New("payments: amount not representable in minor units")
)

// CheckoutRequest initiates a charge for one payment.
type CheckoutRequest struct {
	PaymentID      string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	CustomerID     string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// Checkout is the gateway reference plus the URL the payer must visit.
type Checkout struct {
	Provider    string
	Reference   string
	RedirectURL string
	ExpiresAt   time.Time
}

// Charge is the result of a status query.
type Charge struct {
	Provider      string
	Reference     string
	IntentID      string
	Status        ChargeStatus
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

// RefundRequest reverses all or part of a charge.
type RefundRequest struct {
	Reference      string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult identifies the refund at the gateway.
type RefundResult struct {
	Provider string
	RefundID string
	Status   string
}

// HostedInvoiceLine is one line on a gateway-hosted invoice.
type HostedInvoiceLine struct {
	Description string
	Amount      decimal.Decimal
}

// HostedInvoiceRequest creates and sends an invoice through the gateway.
type HostedInvoiceRequest struct {
	CustomerID     string
	Currency       string
	InvoiceNumber  string
	Description    string
	Lines          []HostedInvoiceLine
	DaysUntilDue   int
	IdempotencyKey string
	Metadata       map[string]string
}

// HostedInvoice is the gateway's invoice document.
type HostedInvoice struct {
	Provider string
	ID       string
	URL      string
	Status   string
}

// Provider is implemented by each payment gateway adapter. These four capabilities are all the core
// consumes from a gateway.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	LookupCharge(ctx context.Context, reference string) (Charge, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	SendInvoice(ctx context.Context, req HostedInvoiceRequest) (HostedInvoice, error)
}
