package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// ProviderStripe is the registration key of the Stripe adapter.
const ProviderStripe = "stripe"

// MetadataPaymentID is the metadata key carrying our payment id on Stripe objects.
const MetadataPaymentID = "paymentId"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeInvoiceAPI interface {
	New(params *stripe.InvoiceParams) (*stripe.Invoice, error)
	FinalizeInvoice(id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error)
	SendInvoice(id string, params *stripe.InvoiceSendInvoiceParams) (*stripe.Invoice, error)
}

type stripeInvoiceItemAPI interface {
	New(params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error)
}

type stripeClients struct {
	sessions     stripeSessionAPI
	refunds      stripeRefundAPI
	invoices     stripeInvoiceAPI
	invoiceItems stripeInvoiceItemAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements Provider with Checkout Sessions, Refunds and hosted Invoices. The charge
// reference handed back to callers is the Checkout Session id.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions:     sc.CheckoutSessions,
			refunds:      sc.Refunds,
			invoices:     sc.Invoices,
			invoiceItems: sc.InvoiceItems,
		}
	}
	if clients.sessions == nil || clients.refunds == nil || clients.invoices == nil || clients.invoiceItems == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// CreateCheckout creates a Checkout Session with a single line for the payment amount.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	amount, err := MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Checkout{}, err
	}

	metadata := copyMetadata(req.Metadata)
	metadata[MetadataPaymentID] = req.PaymentID

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.PaymentID),
		Metadata:          metadata,
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: copyMetadata(metadata),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	p.prepare(ctx, &params.Params, req.IdempotencyKey)

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session_created", map[string]any{
		"sessionId": session.ID,
		"paymentId": req.PaymentID,
		"currency":  req.Currency,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Checkout{
		Provider:    ProviderStripe,
		Reference:   session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// LookupCharge reads the Checkout Session and its Payment Intent.
func (p *StripeProvider) LookupCharge(ctx context.Context, reference string) (Charge, error) {
	session, err := p.session(ctx, reference)
	if err != nil {
		return Charge{}, err
	}
	return stripeCharge(session), nil
}

// Refund issues a refund against the Payment Intent behind the Checkout Session.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	session, err := p.session(ctx, req.Reference)
	if err != nil {
		return RefundResult{}, err
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return RefundResult{}, fmt.Errorf("stripe: checkout session %s has no payment intent", req.Reference)
	}
	amount, err := MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return RefundResult{}, err
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(session.PaymentIntent.ID),
		Amount:        stripe.Int64(amount),
		Metadata:      copyMetadata(req.Metadata),
	}
	if reason := stripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	p.prepare(ctx, &params.Params, req.IdempotencyKey)

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.refund_created", map[string]any{
		"paymentIntent": session.PaymentIntent.ID,
		"refundId":      refund.ID,
		"status":        refund.Status,
	})
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return RefundResult{}, fmt.Errorf("stripe: refund %s ended %s", refund.ID, refund.Status)
	}
	return RefundResult{Provider: ProviderStripe, RefundID: refund.ID, Status: string(refund.Status)}, nil
}

// SendInvoice creates a draft invoice for the customer, attaches the lines, finalises it and asks Stripe
// to email it.
func (p *StripeProvider) SendInvoice(ctx context.Context, req HostedInvoiceRequest) (HostedInvoice, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return HostedInvoice{}, errors.New("stripe: hosted invoice requires a customer")
	}
	daysUntilDue := int64(req.DaysUntilDue)
	if daysUntilDue <= 0 {
		daysUntilDue = 30
	}
	metadata := copyMetadata(req.Metadata)
	metadata["invoiceNumber"] = req.InvoiceNumber

	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(req.CustomerID),
		Currency:                    stripe.String(strings.ToLower(req.Currency)),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(daysUntilDue),
		Description:                 stripe.String(req.Description),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
		Metadata:                    metadata,
	}
	p.prepare(ctx, &params.Params, suffixKey(req.IdempotencyKey, "invoice"))
	draft, err := p.api.invoices.New(params)
	if err != nil {
		return HostedInvoice{}, fmt.Errorf("stripe: create invoice: %w", err)
	}

	for i, line := range req.Lines {
		amount, err := MinorUnits(line.Amount, req.Currency)
		if err != nil {
			return HostedInvoice{}, err
		}
		item := &stripe.InvoiceItemParams{
			Customer:    stripe.String(req.CustomerID),
			Invoice:     stripe.String(draft.ID),
			Currency:    stripe.String(strings.ToLower(req.Currency)),
			Amount:      stripe.Int64(amount),
			Description: stripe.String(line.Description),
		}
		p.prepare(ctx, &item.Params, suffixKey(req.IdempotencyKey, fmt.Sprintf("line-%d", i)))
		if _, err := p.api.invoiceItems.New(item); err != nil {
			return HostedInvoice{}, fmt.Errorf("stripe: add invoice item: %w", err)
		}
	}

	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	p.prepare(ctx, &finalizeParams.Params, "")
	if _, err := p.api.invoices.FinalizeInvoice(draft.ID, finalizeParams); err != nil {
		return HostedInvoice{}, fmt.Errorf("stripe: finalize invoice: %w", err)
	}
	sendParams := &stripe.InvoiceSendInvoiceParams{}
	p.prepare(ctx, &sendParams.Params, "")
	sent, err := p.api.invoices.SendInvoice(draft.ID, sendParams)
	if err != nil {
		return HostedInvoice{}, fmt.Errorf("stripe: send invoice: %w", err)
	}

	p.logger(ctx, "payments.stripe.invoice_sent", map[string]any{
		"invoiceId":     sent.ID,
		"invoiceNumber": req.InvoiceNumber,
	})
	return HostedInvoice{
		Provider: ProviderStripe,
		ID:       sent.ID,
		URL:      sent.HostedInvoiceURL,
		Status:   string(sent.Status),
	}, nil
}

func (p *StripeProvider) session(ctx context.Context, reference string) (*stripe.CheckoutSession, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("stripe: checkout session reference is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent")
	p.prepare(ctx, &params.Params, "")
	session, err := p.api.sessions.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return session, nil
}

func (p *StripeProvider) prepare(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

func stripeCharge(session *stripe.CheckoutSession) Charge {
	currency := strings.ToUpper(string(session.Currency))
	charge := Charge{
		Provider:  ProviderStripe,
		Reference: session.ID,
		Status:    ChargePending,
		Amount:    FromMinorUnits(session.AmountTotal, currency),
		Currency:  currency,
	}

	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		charge.Status = ChargeSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		charge.Status = ChargeFailed
		charge.FailureReason = "checkout session expired"
	}

	if intent := session.PaymentIntent; intent != nil {
		charge.IntentID = intent.ID
		switch intent.Status {
		case stripe.PaymentIntentStatusSucceeded:
			charge.Status = ChargeSucceeded
		case stripe.PaymentIntentStatusCanceled:
			charge.Status = ChargeFailed
			charge.FailureReason = "payment intent canceled"
		}
		if intent.LastPaymentError != nil && charge.Status == ChargeFailed && intent.LastPaymentError.Msg != "" {
			charge.FailureReason = intent.LastPaymentError.Msg
		}
		if latest := intent.LatestCharge; latest != nil && latest.Amount > 0 && latest.AmountRefunded >= latest.Amount {
			charge.Status = ChargeRefunded
		}
	}
	return charge
}

func stripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func suffixKey(key, suffix string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return key + "-" + suffix
}
