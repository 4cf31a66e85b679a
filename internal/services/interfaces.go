package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Payment        = domain.Payment
	PaymentStatus  = domain.PaymentStatus
	PaymentMethod  = domain.PaymentMethod
	PaymentStats   = domain.PaymentStats
	Refund         = domain.Refund
	RefundReason   = domain.RefundReason
	Invoice        = domain.Invoice
	CostInputs     = domain.CostInputs
	CostRates      = domain.CostRates
	CostBreakdown  = domain.CostBreakdown
	VarianceRecord = domain.VarianceRecord
)

// Actor identifies the caller of a payment operation.
type Actor struct {
	ID    string
	Staff bool
	// System marks internal callers such as webhooks and reconciliation.
	System bool
}

// SystemActor is used by gateway webhooks and the reconciliation sweep.
var SystemActor = Actor{ID: "system", System: true}

// Privileged reports whether the actor may act on payments it does not own.
func (a Actor) Privileged() bool {
	return a.Staff || a.System
}

// PaymentService owns the payment state machine.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (Payment, error)
	ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Payment, error)
	FailPayment(ctx context.Context, cmd FailPaymentCommand) (Payment, error)
	RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
	CancelPayment(ctx context.Context, cmd CancelPaymentCommand) (Payment, error)
	GetPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error)
	ListUserPayments(ctx context.Context, actor Actor, userID string, limit int) ([]Payment, error)
	GetStats(ctx context.Context, actor Actor, userID string) (PaymentStats, error)
	ListRefunds(ctx context.Context, actor Actor, paymentID string) ([]Refund, error)
	ApplyGatewayEvent(ctx context.Context, event GatewayEvent) (Payment, error)
	ResolveProcessing(ctx context.Context, paymentID string) (ResolutionOutcome, error)
}

// InvoiceService derives and delivers invoices for completed payments.
type InvoiceService interface {
	FromPayment(payment Payment) (Invoice, error)
	IssueForPayment(ctx context.Context, payment Payment) (Invoice, error)
	GetInvoice(ctx context.Context, actor Actor, paymentID string) (Invoice, error)
	RetryDelivery(ctx context.Context, actor Actor, paymentID string) (Invoice, error)
	// Wait blocks until background deliveries have finished.
	Wait()
}

// CostService exposes the customs calculator, variance analyzer and amount helpers.
type CostService interface {
	CalculateBreakdown(ctx context.Context, cmd CostBreakdownCommand) (CostBreakdown, error)
	AnalyzeVariance(ctx context.Context, cmd VarianceCommand) ([]VarianceRecord, error)
	CalculateFinalAmount(ctx context.Context, cmd FinalAmountCommand) (decimal.Decimal, error)
	ConvertAmount(ctx context.Context, cmd ConvertAmountCommand) (ConvertedAmount, error)
}

// ReconciliationService resolves payments left in processing by interrupted gateway calls.
type ReconciliationService interface {
	Reconcile(ctx context.Context) (ReconciliationReport, error)
}

// CreatePaymentCommand carries the fields of a new payment. Amount is the raw JSON value so malformed numbers
// surface as validation errors.
type CreatePaymentCommand struct {
	Actor       Actor
	UserID      string
	Amount      json.RawMessage
	Currency    string
	Method      string
	Description string
	Metadata    map[string]string
	PayerEmail  string
}

// ProcessPaymentCommand moves a pending payment to processing. Without a GatewayRef a checkout is opened.
type ProcessPaymentCommand struct {
	Actor      Actor
	PaymentID  string
	GatewayRef string
	Provider   string
	SuccessURL string
	CancelURL  string
}

// ConfirmPaymentCommand completes a payment.
type ConfirmPaymentCommand struct {
	Actor     Actor
	PaymentID string
}

// FailPaymentCommand marks a payment failed with a reason.
type FailPaymentCommand struct {
	Actor     Actor
	PaymentID string
	Reason    string
}

// RefundPaymentCommand reverses all or part of a completed payment. A nil or empty Amount refunds the
// remaining balance.
type RefundPaymentCommand struct {
	Actor     Actor
	PaymentID string
	Reason    string
	Note      string
	Amount    json.RawMessage
}

// CancelPaymentCommand cancels a pending payment.
type CancelPaymentCommand struct {
	Actor     Actor
	PaymentID string
	Reason    string
}

// GatewayEvent is a verified gateway notification about a payment.
type GatewayEvent struct {
	ID        string
	Type      string
	PaymentID string
	Reference string
	Succeeded bool
	Failed    bool
	Reason    string
}

// CostBreakdownCommand computes a breakdown. Rates left nil are resolved from rate configuration, using
// TariffCode for per-chapter duty overrides.
type CostBreakdownCommand struct {
	FOBValue       json.RawMessage
	FreightCost    json.RawMessage
	InsuranceCost  json.RawMessage
	DutyRate       json.RawMessage
	TaxRate        json.RawMessage
	AdditionalFees json.RawMessage
	TariffCode     string
	Currency       string
}

// VarianceCommand compares an actual declaration against an estimate. Both are computed with the same rate
// resolution rules as CostBreakdownCommand.
type VarianceCommand struct {
	Actual   CostBreakdownCommand
	Estimate CostBreakdownCommand
}

// FinalAmountCommand applies tax and discount percentages to an amount.
type FinalAmountCommand struct {
	Amount          json.RawMessage
	TaxRate         json.RawMessage
	DiscountPercent json.RawMessage
	Currency        string
}

// ConvertAmountCommand converts between configured currencies.
type ConvertAmountCommand struct {
	Amount json.RawMessage
	From   string
	To     string
}

// ConvertedAmount is the result of a currency conversion.
type ConvertedAmount struct {
	Amount   decimal.Decimal
	Currency string
	Rate     decimal.Decimal
}

// ReconciliationReport summarises one sweep.
type ReconciliationReport struct {
	Examined  int
	Confirmed int
	Failed    int
	Attached  int
	Pending   int
	Errors    int
}

// Lifecycle event names.
const (
	EventPaymentCreated    = "payment.created"
	EventPaymentProcessing = "payment.processing"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
	EventPaymentCancelled  = "payment.cancelled"
	EventInvoiceIssued     = "invoice.issued"
)

// PaymentEventMessage is the payload published for every lifecycle event.
type PaymentEventMessage struct {
	EventID       string    `json:"eventId"`
	Event         string    `json:"event"`
	PaymentID     string    `json:"paymentId"`
	UserID        string    `json:"userId,omitempty"`
	Status        string    `json:"status,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	RefundID      string    `json:"refundId,omitempty"`
	RefundAmount  string    `json:"refundAmount,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PaymentEventPublisher delivers lifecycle events to subscribers.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, message PaymentEventMessage) (string, error)
}

// PaymentMetrics receives counters for transitions and gateway calls.
type PaymentMetrics interface {
	RecordTransition(ctx context.Context, operation, status, outcome string)
	RecordGatewayCall(ctx context.Context, capability string, elapsed time.Duration, err error)
	RecordDeliveryFailure(ctx context.Context, step string)
}
