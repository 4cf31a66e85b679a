package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

func newTestTopic(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "payment-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	defer publisher.Stop()

	msg := services.PaymentEventMessage{
		EventID:       "evt_1",
		Event:         services.EventPaymentCompleted,
		PaymentID:     "pay_1",
		UserID:        "user-1",
		Status:        "completed",
		Amount:        "116.00",
		Currency:      "JOD",
		InvoiceNumber: "INV-202510-AB12C",
		OccurredAt:    time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishPaymentEvent(ctx, msg); err != nil {
		t.Fatalf("PublishPaymentEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.PaymentEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.PaymentID != msg.PaymentID || payload.Amount != "116.00" || payload.InvoiceNumber != msg.InvoiceNumber {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["event"] != services.EventPaymentCompleted || attrs["paymentId"] != "pay_1" || attrs["userId"] != "user-1" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
}

func TestPubSubEventPublisherSkipsBlankAttributes(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	defer publisher.Stop()

	if _, err := publisher.PublishPaymentEvent(ctx, services.PaymentEventMessage{Event: services.EventInvoiceIssued, PaymentID: "pay_2"}); err != nil {
		t.Fatalf("PublishPaymentEvent: %v", err)
	}
	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["userId"]; ok {
		t.Fatalf("blank userId attribute should be omitted")
	}
}

func TestNewPubSubEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
