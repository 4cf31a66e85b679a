package payments

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test"

func signedPayload(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func eventJSON(eventType, object string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, eventType, object)
}

func TestWebhookDecodeCheckoutCompleted(t *testing.T) {
	decoder, err := NewStripeWebhookDecoder(testWebhookSecret)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	payload, header := signedPayload(t, eventJSON("checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"pay_1","payment_status":"paid"}`))

	event, err := decoder.Decode(payload, header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Outcome != OutcomeSucceeded || event.PaymentID != "pay_1" || event.Reference != "cs_1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestWebhookDecodeUnpaidCompletionIsIgnored(t *testing.T) {
	decoder, _ := NewStripeWebhookDecoder(testWebhookSecret)
	payload, header := signedPayload(t, eventJSON("checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"pay_1","payment_status":"unpaid"}`))

	event, err := decoder.Decode(payload, header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", event.Outcome)
	}
}

func TestWebhookDecodePaymentFailed(t *testing.T) {
	decoder, _ := NewStripeWebhookDecoder(testWebhookSecret)
	payload, header := signedPayload(t, eventJSON("payment_intent.payment_failed",
		`{"id":"pi_1","object":"payment_intent","metadata":{"paymentId":"pay_2"},"last_payment_error":{"message":"card declined"}}`))

	event, err := decoder.Decode(payload, header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Outcome != OutcomeFailed || event.PaymentID != "pay_2" || event.Reason != "card declined" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestWebhookDecodeRejectsBadSignature(t *testing.T) {
	decoder, _ := NewStripeWebhookDecoder(testWebhookSecret)
	payload, _ := signedPayload(t, eventJSON("checkout.session.expired", `{"id":"cs_1","object":"checkout.session"}`))

	if _, err := decoder.Decode(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestWebhookDecodeUnrelatedEvent(t *testing.T) {
	decoder, _ := NewStripeWebhookDecoder(testWebhookSecret)
	payload, header := signedPayload(t, eventJSON("customer.created", `{"id":"cus_1","object":"customer"}`))

	event, err := decoder.Decode(payload, header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", event.Outcome)
	}
}

func TestNewStripeWebhookDecoderRequiresSecret(t *testing.T) {
	if _, err := NewStripeWebhookDecoder(" "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
