package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates the lifecycle states of a payment record.
type PaymentStatus string

const (
	// PaymentStatusPending is the initial state after creation.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing indicates the gateway has been engaged.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusCompleted indicates the funds were captured.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed is terminal.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded is terminal for status transitions; remaining balance may still be refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusCancelled is terminal.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PaymentStatuses lists every known status in lifecycle order.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCancelled,
}

// PaymentMethod enumerates accepted settlement instruments.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodWallet       PaymentMethod = "wallet"
	PaymentMethodCash         PaymentMethod = "cash"
)

// PaymentMethods lists the accepted payment methods.
var PaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodBankTransfer,
	PaymentMethodWallet,
	PaymentMethodCash,
}

// Metadata keys written by the lifecycle manager.
const (
	PaymentMetaGatewayRef      = "gatewayRef"
	PaymentMetaGatewayProvider = "gatewayProvider"
	PaymentMetaRedirectURL     = "redirectUrl"
	PaymentMetaFailureReason   = "failureReason"
	PaymentMetaCancelReason    = "cancelReason"
	PaymentMetaGatewayCustomer = "gatewayCustomerId"
	PaymentMetaPayerEmail      = "payerEmail"
)

// Payment is the single unit of consistency for settlement. Refunds are embedded so that a refund and the
// status change it causes commit together.
type Payment struct {
	ID             string
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	Method         PaymentMethod
	Status         PaymentStatus
	Description    string
	InvoiceNumber  string
	Metadata       map[string]string
	Refunds        []Refund
	RefundedAmount decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
	RefundedAt     *time.Time
	CancelledAt    *time.Time
}

// RefundableAmount reports the balance still available for refunds.
func (p Payment) RefundableAmount() decimal.Decimal {
	remaining := p.Amount.Sub(p.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// RefundReason enumerates the accepted refund reasons.
type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonOther               RefundReason = "other"
)

// RefundReasons lists the accepted refund reasons.
var RefundReasons = []RefundReason{
	RefundReasonRequestedByCustomer,
	RefundReasonDuplicate,
	RefundReasonFraudulent,
	RefundReasonOther,
}

// RefundStatus tracks the gateway outcome of a refund.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund records a single (possibly partial) reversal against a payment.
type Refund struct {
	ID         string
	PaymentID  string
	Amount     decimal.Decimal
	Reason     RefundReason
	Note       string
	Status     RefundStatus
	GatewayRef string
	ActorID    string
	CreatedAt  time.Time
}

// PaymentStats aggregates a user's payments.
type PaymentStats struct {
	UserID                string
	Total                 int
	CountByStatus         map[PaymentStatus]int
	AmountByStatus        map[PaymentStatus]decimal.Decimal
	AverageCompletedValue decimal.Decimal
	RefundedTotal         decimal.Decimal
	Currencies            []string
}

// Clone returns a deep copy so callers never share metadata maps or refund slices.
func (p Payment) Clone() Payment {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	if p.Refunds != nil {
		out.Refunds = append([]Refund(nil), p.Refunds...)
	}
	out.ProcessedAt = cloneTime(p.ProcessedAt)
	out.CompletedAt = cloneTime(p.CompletedAt)
	out.FailedAt = cloneTime(p.FailedAt)
	out.RefundedAt = cloneTime(p.RefundedAt)
	out.CancelledAt = cloneTime(p.CancelledAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
