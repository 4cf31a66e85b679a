package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails signature verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// EventOutcome is what a gateway notification means for the payment it refers to.
type EventOutcome string

const (
	// OutcomeIgnored marks events that carry no lifecycle change.
	OutcomeIgnored EventOutcome = "ignored"
	// OutcomeSucceeded means the charge was captured; the payment should be confirmed.
	OutcomeSucceeded EventOutcome = "succeeded"
	// OutcomeFailed means the gateway reported failure or expiry; the payment should fail.
	OutcomeFailed EventOutcome = "failed"
)

// WebhookEvent is a verified gateway notification reduced to what the lifecycle needs.
type WebhookEvent struct {
	ID        string
	Type      string
	PaymentID string
	Reference string
	Outcome   EventOutcome
	Reason    string
}

// StripeWebhookDecoder verifies Stripe-Signature headers and decodes events.
type StripeWebhookDecoder struct {
	secret string
}

// NewStripeWebhookDecoder returns a decoder for the endpoint signing secret.
func NewStripeWebhookDecoder(secret string) (*StripeWebhookDecoder, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookDecoder{secret: secret}, nil
}

// Decode verifies payload against the signature header and maps the event.
func (d *StripeWebhookDecoder) Decode(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, d.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{ID: event.ID, Type: string(event.Type), Outcome: OutcomeIgnored}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.expired", "checkout.session.async_payment_failed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		out.Reference = session.ID
		out.PaymentID = firstNonEmpty(session.ClientReferenceID, session.Metadata[MetadataPaymentID])
		switch event.Type {
		case "checkout.session.completed":
			// Delayed methods complete the session before funds arrive.
			if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				out.Outcome = OutcomeSucceeded
			}
		case "checkout.session.async_payment_succeeded":
			out.Outcome = OutcomeSucceeded
		case "checkout.session.expired":
			out.Outcome = OutcomeFailed
			out.Reason = "checkout session expired"
		default:
			out.Outcome = OutcomeFailed
			out.Reason = "asynchronous payment failed"
		}
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.PaymentID = intent.Metadata[MetadataPaymentID]
		if event.Type == "payment_intent.succeeded" {
			out.Outcome = OutcomeSucceeded
		} else {
			out.Outcome = OutcomeFailed
			out.Reason = "payment failed"
			if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
				out.Reason = intent.LastPaymentError.Msg
			}
		}
	}
	if out.PaymentID == "" {
		out.Outcome = OutcomeIgnored
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
