package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/customs"
	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/textutil"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

const (
	paymentIDPrefix       = "pay_"
	refundIDPrefix        = "rf_"
	invoiceNumberPrefix   = "INV-"
	invoiceSuffixLength   = 5
	defaultListLimit      = 20
	maxListLimit          = 100
	defaultGatewayTimeout = 10 * time.Second
	defaultFailureReason  = "gateway reported failure"
)

var (
	confirmableStatuses = []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusProcessing}
	failableStatuses    = []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusProcessing}
	refundableStatuses  = []domain.PaymentStatus{domain.PaymentStatusCompleted, domain.PaymentStatusRefunded}
	deadStatuses        = []domain.PaymentStatus{domain.PaymentStatusFailed, domain.PaymentStatusCancelled}
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateCheckout(ctx context.Context, route payments.Route, req payments.CheckoutRequest) (payments.Checkout, error)
	LookupCharge(ctx context.Context, route payments.Route, reference string) (payments.Charge, error)
	Refund(ctx context.Context, route payments.Route, req payments.RefundRequest) (payments.RefundResult, error)
}

// invoiceIssuer is the part of InvoiceService the lifecycle needs on confirmation.
type invoiceIssuer interface {
	IssueForPayment(ctx context.Context, payment Payment) (Invoice, error)
}

// ResolutionOutcome is what reconciliation did with one processing payment.
type ResolutionOutcome string

const (
	ResolutionSkipped   ResolutionOutcome = "skipped"
	ResolutionConfirmed ResolutionOutcome = "confirmed"
	ResolutionFailed    ResolutionOutcome = "failed"
	ResolutionAttached  ResolutionOutcome = "attached"
	ResolutionPending   ResolutionOutcome = "pending"
)

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Payments       repositories.PaymentRepository
	Gateway        paymentGateway
	Invoices       invoiceIssuer
	Events         PaymentEventPublisher
	Metrics        PaymentMetrics
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
	GatewayTimeout time.Duration
	SuccessURL     string
	CancelURL      string
}

type paymentService struct {
	repo           repositories.PaymentRepository
	gateway        paymentGateway
	invoices       invoiceIssuer
	events         PaymentEventPublisher
	metrics        PaymentMetrics
	now            func() time.Time
	newID          func() string
	logger         func(ctx context.Context, event string, fields map[string]any)
	gatewayTimeout time.Duration
	successURL     string
	cancelURL      string
}

// NewPaymentService constructs the payment lifecycle manager. Gateway, Invoices, Events and Metrics are
// optional; without a gateway, processing only records caller-supplied references.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	return &paymentService{
		repo:     deps.Payments,
		gateway:  deps.Gateway,
		invoices: deps.Invoices,
		events:   deps.Events,
		metrics:  metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		logger:         logger,
		gatewayTimeout: timeout,
		successURL:     strings.TrimSpace(deps.SuccessURL),
		cancelURL:      strings.TrimSpace(deps.CancelURL),
	}, nil
}

// CreatePayment validates the request and stores a pending payment with a fresh id and invoice number.
func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (Payment, error) {
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return Payment{}, ErrPaymentForbidden
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		userID = cmd.Actor.ID
	}
	if userID != cmd.Actor.ID && !cmd.Actor.Privileged() {
		return Payment{}, ErrPaymentForbidden
	}

	verr := &domain.ValidationError{}
	req, err := ParsePaymentRequest(cmd.Amount, cmd.Currency, cmd.Method, cmd.Description)
	if err != nil {
		var fieldErr *domain.ValidationError
		if !errors.As(err, &fieldErr) {
			return Payment{}, err
		}
		verr.Violations = append(verr.Violations, fieldErr.Violations...)
	}
	metadata := validateMetadata(cmd.Metadata, verr)
	if email := strings.TrimSpace(cmd.PayerEmail); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			verr.Add("payerEmail", "email", "must be a valid email address")
		} else {
			if metadata == nil {
				metadata = make(map[string]string, 1)
			}
			metadata[domain.PaymentMetaPayerEmail] = addr.Address
		}
	}
	if !verr.Empty() {
		return Payment{}, invalidInput(verr)
	}

	now := s.now()
	payment := Payment{
		ID:             paymentIDPrefix + s.newID(),
		UserID:         userID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		Status:         domain.PaymentStatusPending,
		Description:    req.Description,
		InvoiceNumber:  newInvoiceNumber(now, s.newID()),
		Metadata:       metadata,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, payment); err != nil {
		err = translatePaymentRepoError("create", err)
		s.metrics.RecordTransition(ctx, "create", "", outcomeOf(err))
		return Payment{}, err
	}
	s.metrics.RecordTransition(ctx, "create", string(payment.Status), "ok")
	s.logger(ctx, "payment.created", map[string]any{
		"paymentID": payment.ID,
		"userID":    payment.UserID,
		"currency":  payment.Currency,
		"method":    string(payment.Method),
	})
	s.publish(ctx, EventPaymentCreated, payment, nil)
	return payment, nil
}

// ProcessPayment moves a pending payment to processing. When the caller supplies no gateway reference and a
// gateway is configured, a checkout is opened after the transition commits so a gateway timeout leaves the
// payment in processing for reconciliation.
func (s *paymentService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if _, err := s.loadAuthorized(ctx, "process", cmd.Actor, paymentID); err != nil {
		return Payment{}, err
	}

	ref := strings.TrimSpace(cmd.GatewayRef)
	now := s.now()
	updated, err := s.transition(ctx, "process", paymentID, []domain.PaymentStatus{domain.PaymentStatusPending}, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusProcessing
		p.ProcessedAt = &now
		p.UpdatedAt = now
		if ref != "" {
			setMeta(p, domain.PaymentMetaGatewayRef, ref)
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger(ctx, "payment.processing", map[string]any{
		"paymentID":  updated.ID,
		"gatewayRef": ref,
	})
	s.publish(ctx, EventPaymentProcessing, updated, nil)

	if ref != "" || s.gateway == nil {
		return updated, nil
	}
	return s.openCheckout(ctx, updated, checkoutOptions{
		provider:   strings.TrimSpace(cmd.Provider),
		successURL: firstNonEmpty(cmd.SuccessURL, s.successURL),
		cancelURL:  firstNonEmpty(cmd.CancelURL, s.cancelURL),
	})
}

// ConfirmPayment completes a pending or processing payment and issues its invoice.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Payment, error) {
	if !cmd.Actor.Privileged() {
		return Payment{}, ErrPaymentForbidden
	}
	return s.confirm(ctx, strings.TrimSpace(cmd.PaymentID), "")
}

func (s *paymentService) confirm(ctx context.Context, paymentID, reference string) (Payment, error) {
	if paymentID == "" {
		return Payment{}, invalidInput(domain.NewValidationError("paymentId", "required", "is required"))
	}
	now := s.now()
	updated, err := s.transition(ctx, "confirm", paymentID, confirmableStatuses, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusCompleted
		p.CompletedAt = &now
		p.UpdatedAt = now
		if reference != "" && p.Metadata[domain.PaymentMetaGatewayRef] == "" {
			setMeta(p, domain.PaymentMetaGatewayRef, reference)
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger(ctx, "payment.completed", map[string]any{
		"paymentID": updated.ID,
		"amount":    updated.Amount.String(),
		"currency":  updated.Currency,
	})
	s.publish(ctx, EventPaymentCompleted, updated, nil)

	if s.invoices != nil {
		if _, err := s.invoices.IssueForPayment(ctx, updated); err != nil {
			s.logger(ctx, "invoice.issue_failed", map[string]any{
				"paymentID": updated.ID,
				"error":     err.Error(),
			})
		}
	}
	return updated, nil
}

// FailPayment marks a pending or processing payment failed and records the reason.
func (s *paymentService) FailPayment(ctx context.Context, cmd FailPaymentCommand) (Payment, error) {
	if !cmd.Actor.Privileged() {
		return Payment{}, ErrPaymentForbidden
	}
	verr := &domain.ValidationError{}
	reason := validateReason("reason", cmd.Reason, true, verr)
	if !verr.Empty() {
		return Payment{}, invalidInput(verr)
	}
	return s.fail(ctx, strings.TrimSpace(cmd.PaymentID), reason)
}

func (s *paymentService) fail(ctx context.Context, paymentID, reason string) (Payment, error) {
	now := s.now()
	updated, err := s.transition(ctx, "fail", paymentID, failableStatuses, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusFailed
		p.FailedAt = &now
		p.UpdatedAt = now
		setMeta(p, domain.PaymentMetaFailureReason, textutil.Truncate(reason, maxReasonLength))
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger(ctx, "payment.failed", map[string]any{
		"paymentID": updated.ID,
		"reason":    reason,
	})
	s.publish(ctx, EventPaymentFailed, updated, func(m *PaymentEventMessage) { m.Reason = reason })
	return updated, nil
}

// CancelPayment cancels a payment that has not been processed yet.
func (s *paymentService) CancelPayment(ctx context.Context, cmd CancelPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	verr := &domain.ValidationError{}
	reason := validateReason("reason", cmd.Reason, false, verr)
	if !verr.Empty() {
		return Payment{}, invalidInput(verr)
	}
	if _, err := s.loadAuthorized(ctx, "cancel", cmd.Actor, paymentID); err != nil {
		return Payment{}, err
	}

	now := s.now()
	updated, err := s.transition(ctx, "cancel", paymentID, []domain.PaymentStatus{domain.PaymentStatusPending}, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusCancelled
		p.CancelledAt = &now
		p.UpdatedAt = now
		if reason != "" {
			setMeta(p, domain.PaymentMetaCancelReason, reason)
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger(ctx, "payment.cancelled", map[string]any{"paymentID": updated.ID})
	s.publish(ctx, EventPaymentCancelled, updated, func(m *PaymentEventMessage) { m.Reason = reason })
	return updated, nil
}

// RefundPayment reverses all or part of the refundable balance. The amount is reserved on the payment in one
// atomic transition before the gateway is called, so concurrent refunds can never exceed the original amount.
// A gateway failure releases the reservation and leaves the status untouched.
func (s *paymentService) RefundPayment(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
	if !cmd.Actor.Privileged() {
		return Payment{}, ErrPaymentForbidden
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	verr := &domain.ValidationError{}
	if paymentID == "" {
		verr.Add("paymentId", "required", "is required")
	}
	reason := domain.RefundReason(strings.ToLower(strings.TrimSpace(cmd.Reason)))
	if !slices.Contains(domain.RefundReasons, reason) {
		verr.Add("reason", "enum", "must be one of requested_by_customer, duplicate, fraudulent, other")
	}
	note := validateReason("note", cmd.Note, false, verr)
	before := len(verr.Violations)
	requested := customs.DecimalField{Name: "amount"}.Parse(cmd.Amount, verr)
	if len(verr.Violations) == before && rawProvided(cmd.Amount) && !requested.IsPositive() {
		verr.Add("amount", "positive", "must be greater than zero")
	}
	if !verr.Empty() {
		return Payment{}, invalidInput(verr)
	}

	refundID := refundIDPrefix + s.newID()
	now := s.now()
	reserved, err := s.transition(ctx, "refund", paymentID, refundableStatuses, func(p *domain.Payment) error {
		remaining := p.RefundableAmount()
		if !remaining.IsPositive() {
			return invalidState("refund", p.Status, []domain.PaymentStatus{domain.PaymentStatusCompleted})
		}
		amount := requested
		if amount.IsZero() {
			amount = remaining
		}
		if amount.GreaterThan(remaining) {
			return invalidInput(domain.NewValidationError("amount", "max",
				fmt.Sprintf("must not exceed the refundable balance of %s %s", remaining.String(), p.Currency)))
		}
		amountErr := &domain.ValidationError{}
		validateAmount("amount", amount, p.Currency, amountErr)
		if !amountErr.Empty() {
			return invalidInput(amountErr)
		}
		p.Refunds = append(p.Refunds, domain.Refund{
			ID:        refundID,
			PaymentID: p.ID,
			Amount:    amount,
			Reason:    reason,
			Note:      note,
			Status:    domain.RefundStatusPending,
			ActorID:   cmd.Actor.ID,
			CreatedAt: now,
		})
		p.RefundedAmount = p.RefundedAmount.Add(amount)
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	refund, _ := findRefund(reserved, refundID)

	gatewayRefundID, err := s.issueGatewayRefund(ctx, reserved, refund)
	if err != nil {
		s.releaseRefund(ctx, reserved.ID, refund)
		return Payment{}, err
	}

	settledAt := s.now()
	updated, err := s.transition(ctx, "refund", paymentID, refundableStatuses, func(p *domain.Payment) error {
		for i := range p.Refunds {
			if p.Refunds[i].ID == refundID {
				p.Refunds[i].Status = domain.RefundStatusSucceeded
				p.Refunds[i].GatewayRef = gatewayRefundID
			}
		}
		p.Status = domain.PaymentStatusRefunded
		p.RefundedAt = &settledAt
		p.UpdatedAt = settledAt
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.refund_settle_failed", map[string]any{
			"paymentID": paymentID,
			"refundID":  refundID,
			"error":     err.Error(),
		})
		return Payment{}, err
	}
	s.logger(ctx, "payment.refunded", map[string]any{
		"paymentID": updated.ID,
		"refundID":  refundID,
		"amount":    refund.Amount.String(),
		"remaining": updated.RefundableAmount().String(),
	})
	s.publish(ctx, EventPaymentRefunded, updated, func(m *PaymentEventMessage) {
		m.RefundID = refundID
		m.RefundAmount = refund.Amount.String()
		m.Reason = string(reason)
	})
	return updated, nil
}

func (s *paymentService) issueGatewayRefund(ctx context.Context, payment Payment, refund domain.Refund) (string, error) {
	provider := payment.Metadata[domain.PaymentMetaGatewayProvider]
	reference := payment.Metadata[domain.PaymentMetaGatewayRef]
	if s.gateway == nil || provider == "" || reference == "" {
		return "", nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	started := time.Now()
	result, err := s.gateway.Refund(callCtx, payments.Route{Provider: provider, Currency: payment.Currency}, payments.RefundRequest{
		Reference:      reference,
		Amount:         refund.Amount,
		Currency:       payment.Currency,
		Reason:         string(refund.Reason),
		IdempotencyKey: payments.IdempotencyKey("refund", payment.ID, refund.ID),
		Metadata: map[string]string{
			payments.MetadataPaymentID: payment.ID,
			"refundId":                 refund.ID,
		},
	})
	s.metrics.RecordGatewayCall(ctx, "refund", time.Since(started), err)
	if err != nil {
		s.logger(ctx, "payment.gateway_refund_failed", map[string]any{
			"paymentID": payment.ID,
			"refundID":  refund.ID,
			"provider":  provider,
			"error":     err.Error(),
		})
		return "", &GatewayError{Capability: "refund", PaymentID: payment.ID, Err: err}
	}
	return result.RefundID, nil
}

// releaseRefund marks a reserved refund failed and returns its amount to the refundable balance.
func (s *paymentService) releaseRefund(ctx context.Context, paymentID string, refund domain.Refund) {
	now := s.now()
	_, err := s.transition(ctx, "refund_release", paymentID, refundableStatuses, func(p *domain.Payment) error {
		for i := range p.Refunds {
			if p.Refunds[i].ID == refund.ID && p.Refunds[i].Status == domain.RefundStatusPending {
				p.Refunds[i].Status = domain.RefundStatusFailed
				p.RefundedAmount = p.RefundedAmount.Sub(refund.Amount)
			}
		}
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.refund_release_failed", map[string]any{
			"paymentID": paymentID,
			"refundID":  refund.ID,
			"error":     err.Error(),
		})
	}
}

// GetPayment returns a payment visible to the actor.
func (s *paymentService) GetPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error) {
	return s.loadAuthorized(ctx, "get", actor, strings.TrimSpace(paymentID))
}

// ListUserPayments returns the user's payments newest first. Limit defaults to 20 and is capped at 100.
func (s *paymentService) ListUserPayments(ctx context.Context, actor Actor, userID string, limit int) ([]Payment, error) {
	userID, err := s.resolveUser(actor, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	list, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, translatePaymentRepoError("list", err)
	}
	return list, nil
}

// GetStats aggregates every payment of the user.
func (s *paymentService) GetStats(ctx context.Context, actor Actor, userID string) (PaymentStats, error) {
	userID, err := s.resolveUser(actor, userID)
	if err != nil {
		return PaymentStats{}, err
	}
	list, err := s.repo.ListByUser(ctx, userID, 0)
	if err != nil {
		return PaymentStats{}, translatePaymentRepoError("stats", err)
	}
	return computeStats(userID, list), nil
}

// ListRefunds returns the refunds recorded against a payment, oldest first.
func (s *paymentService) ListRefunds(ctx context.Context, actor Actor, paymentID string) ([]Refund, error) {
	payment, err := s.loadAuthorized(ctx, "refunds", actor, strings.TrimSpace(paymentID))
	if err != nil {
		return nil, err
	}
	return append([]Refund(nil), payment.Refunds...), nil
}

// ApplyGatewayEvent drives confirm or fail from a verified gateway notification. Replayed notifications for a
// payment that already left the relevant states are acknowledged without change.
func (s *paymentService) ApplyGatewayEvent(ctx context.Context, event GatewayEvent) (Payment, error) {
	paymentID := strings.TrimSpace(event.PaymentID)
	if paymentID == "" {
		return Payment{}, invalidInput(domain.NewValidationError("paymentId", "required", "gateway event carries no payment id"))
	}
	current, err := s.find(ctx, "webhook", paymentID)
	if err != nil {
		return Payment{}, err
	}
	s.logger(ctx, "payment.gateway_event", map[string]any{
		"paymentID": paymentID,
		"eventID":   event.ID,
		"type":      event.Type,
		"status":    string(current.Status),
	})

	switch {
	case event.Succeeded:
		if !slices.Contains(confirmableStatuses, current.Status) {
			if slices.Contains(deadStatuses, current.Status) {
				// Funds may have been captured for a payment we already gave up on.
				s.logger(ctx, "payment.gateway_event_conflict", map[string]any{
					"paymentID": paymentID,
					"eventID":   event.ID,
					"status":    string(current.Status),
					"reference": strings.TrimSpace(event.Reference),
				})
			}
			return current, nil
		}
		return s.confirm(ctx, paymentID, strings.TrimSpace(event.Reference))
	case event.Failed:
		if !slices.Contains(failableStatuses, current.Status) {
			return current, nil
		}
		return s.fail(ctx, paymentID, firstNonEmpty(event.Reason, defaultFailureReason))
	default:
		return current, nil
	}
}

// ResolveProcessing settles one payment left in processing. Without a gateway reference the checkout is
// re-opened under the same idempotency key; with one, the charge status decides between confirm and fail.
func (s *paymentService) ResolveProcessing(ctx context.Context, paymentID string) (ResolutionOutcome, error) {
	payment, err := s.find(ctx, "reconcile", paymentID)
	if err != nil {
		return ResolutionSkipped, err
	}
	if payment.Status != domain.PaymentStatusProcessing || s.gateway == nil {
		return ResolutionSkipped, nil
	}

	reference := payment.Metadata[domain.PaymentMetaGatewayRef]
	if reference == "" {
		if _, err := s.openCheckout(ctx, payment, checkoutOptions{successURL: s.successURL, cancelURL: s.cancelURL}); err != nil {
			return ResolutionPending, err
		}
		return ResolutionAttached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	started := time.Now()
	route := payments.Route{Provider: payment.Metadata[domain.PaymentMetaGatewayProvider], Currency: payment.Currency}
	charge, err := s.gateway.LookupCharge(callCtx, route, reference)
	s.metrics.RecordGatewayCall(ctx, "lookup", time.Since(started), err)
	if err != nil {
		return ResolutionPending, &GatewayError{Capability: "lookup", PaymentID: payment.ID, Err: err}
	}

	switch charge.Status {
	case payments.ChargeSucceeded, payments.ChargeRefunded:
		if _, err := s.confirm(ctx, payment.ID, ""); err != nil {
			return ResolutionPending, err
		}
		return ResolutionConfirmed, nil
	case payments.ChargeFailed:
		if _, err := s.fail(ctx, payment.ID, firstNonEmpty(charge.FailureReason, defaultFailureReason)); err != nil {
			return ResolutionPending, err
		}
		return ResolutionFailed, nil
	default:
		return ResolutionPending, nil
	}
}

type checkoutOptions struct {
	provider   string
	successURL string
	cancelURL  string
}

func (s *paymentService) openCheckout(ctx context.Context, payment Payment, opts checkoutOptions) (Payment, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	started := time.Now()
	checkout, err := s.gateway.CreateCheckout(callCtx, payments.Route{Provider: opts.provider, Currency: payment.Currency}, payments.CheckoutRequest{
		PaymentID:      payment.ID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Description:    payment.Description,
		CustomerID:     payment.Metadata[domain.PaymentMetaGatewayCustomer],
		CustomerEmail:  payment.Metadata[domain.PaymentMetaPayerEmail],
		SuccessURL:     opts.successURL,
		CancelURL:      opts.cancelURL,
		IdempotencyKey: payments.IdempotencyKey("checkout", payment.ID),
		Metadata:       map[string]string{"invoiceNumber": payment.InvoiceNumber},
	})
	s.metrics.RecordGatewayCall(ctx, "checkout", time.Since(started), err)
	if err != nil {
		s.logger(ctx, "payment.gateway_checkout_failed", map[string]any{
			"paymentID": payment.ID,
			"error":     err.Error(),
		})
		return Payment{}, &GatewayError{Capability: "checkout", PaymentID: payment.ID, Err: err}
	}

	now := s.now()
	updated, err := s.transition(ctx, "attach_checkout", payment.ID, []domain.PaymentStatus{domain.PaymentStatusProcessing}, func(p *domain.Payment) error {
		setMeta(p, domain.PaymentMetaGatewayRef, checkout.Reference)
		setMeta(p, domain.PaymentMetaGatewayProvider, checkout.Provider)
		setMeta(p, domain.PaymentMetaRedirectURL, checkout.RedirectURL)
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentInvalidState) {
			// A webhook settled the payment first.
			return s.find(ctx, "process", payment.ID)
		}
		return Payment{}, err
	}
	s.logger(ctx, "payment.checkout_opened", map[string]any{
		"paymentID":  updated.ID,
		"provider":   checkout.Provider,
		"gatewayRef": checkout.Reference,
	})
	return updated, nil
}

func (s *paymentService) transition(ctx context.Context, operation, paymentID string, allowed []domain.PaymentStatus, mutate repositories.PaymentMutation) (Payment, error) {
	if paymentID == "" {
		return Payment{}, invalidInput(domain.NewValidationError("paymentId", "required", "is required"))
	}
	updated, err := s.repo.Transition(ctx, paymentID, allowed, mutate)
	if err != nil {
		err = translatePaymentRepoError(operation, err)
		s.metrics.RecordTransition(ctx, operation, "", outcomeOf(err))
		return Payment{}, err
	}
	s.metrics.RecordTransition(ctx, operation, string(updated.Status), "ok")
	return updated, nil
}

func (s *paymentService) find(ctx context.Context, operation, paymentID string) (Payment, error) {
	if paymentID == "" {
		return Payment{}, invalidInput(domain.NewValidationError("paymentId", "required", "is required"))
	}
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, translatePaymentRepoError(operation, err)
	}
	return payment, nil
}

func (s *paymentService) loadAuthorized(ctx context.Context, operation string, actor Actor, paymentID string) (Payment, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return Payment{}, ErrPaymentForbidden
	}
	payment, err := s.find(ctx, operation, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if payment.UserID != actor.ID && !actor.Privileged() {
		return Payment{}, ErrPaymentForbidden
	}
	return payment, nil
}

func (s *paymentService) resolveUser(actor Actor, userID string) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", ErrPaymentForbidden
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = actor.ID
	}
	if userID != actor.ID && !actor.Privileged() {
		return "", ErrPaymentForbidden
	}
	return userID, nil
}

func (s *paymentService) publish(ctx context.Context, event string, payment Payment, decorate func(*PaymentEventMessage)) {
	if s.events == nil {
		return
	}
	msg := PaymentEventMessage{
		Event:         event,
		PaymentID:     payment.ID,
		UserID:        payment.UserID,
		Status:        string(payment.Status),
		Amount:        payment.Amount.String(),
		Currency:      payment.Currency,
		InvoiceNumber: payment.InvoiceNumber,
		OccurredAt:    payment.UpdatedAt,
	}
	if decorate != nil {
		decorate(&msg)
	}
	msg.EventID = payments.IdempotencyKey(event, payment.ID, msg.RefundID, payment.UpdatedAt.Format(time.RFC3339Nano))
	if _, err := s.events.PublishPaymentEvent(ctx, msg); err != nil {
		s.logger(ctx, "payment.event_publish_failed", map[string]any{
			"paymentID": payment.ID,
			"event":     event,
			"error":     err.Error(),
		})
	}
}

// newInvoiceNumber formats INV-YYYYMM-XXXXX using the tail of a ULID, which is uppercase Crockford base32.
func newInvoiceNumber(now time.Time, id string) string {
	suffix := strings.ToUpper(id)
	if len(suffix) > invoiceSuffixLength {
		suffix = suffix[len(suffix)-invoiceSuffixLength:]
	}
	for len(suffix) < invoiceSuffixLength {
		suffix = "0" + suffix
	}
	return invoiceNumberPrefix + now.Format("200601") + "-" + suffix
}

func computeStats(userID string, list []Payment) PaymentStats {
	stats := PaymentStats{
		UserID:                userID,
		Total:                 len(list),
		CountByStatus:         make(map[domain.PaymentStatus]int),
		AmountByStatus:        make(map[domain.PaymentStatus]decimal.Decimal),
		AverageCompletedValue: decimal.Zero,
		RefundedTotal:         decimal.Zero,
	}
	completedSum := decimal.Zero
	completed := 0
	for _, p := range list {
		stats.CountByStatus[p.Status]++
		stats.AmountByStatus[p.Status] = stats.AmountByStatus[p.Status].Add(p.Amount)
		stats.RefundedTotal = stats.RefundedTotal.Add(p.RefundedAmount)
		if p.Status == domain.PaymentStatusCompleted {
			completedSum = completedSum.Add(p.Amount)
			completed++
		}
		if !slices.Contains(stats.Currencies, p.Currency) {
			stats.Currencies = append(stats.Currencies, p.Currency)
		}
	}
	if completed > 0 {
		stats.AverageCompletedValue = completedSum.DivRound(decimal.NewFromInt(int64(completed)), customs.DefaultPrecision)
	}
	slices.Sort(stats.Currencies)
	return stats
}

func findRefund(payment Payment, refundID string) (domain.Refund, bool) {
	for _, r := range payment.Refunds {
		if r.ID == refundID {
			return r, true
		}
	}
	return domain.Refund{}, false
}

func setMeta(p *domain.Payment, key, value string) {
	if value == "" {
		return
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPaymentInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrPaymentInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrPaymentNotFound):
		return "not_found"
	case errors.Is(err, ErrPaymentConflict):
		return "conflict"
	default:
		return "error"
	}
}

// rawProvided reports whether a JSON field carried a value other than null or an empty string.
func rawProvided(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte(`""`))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(context.Context, string, string, string) {}
func (noopMetrics) RecordGatewayCall(context.Context, string, time.Duration, error) {}
func (noopMetrics) RecordDeliveryFailure(context.Context, string) {}
