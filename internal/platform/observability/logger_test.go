package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/requestctx"
)

func TestEventLoggerUsesRequestScopedLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	scopedCore, scopedLogs := observer.New(zapcore.DebugLevel)

	logEvent := NewEventLogger(zap.New(baseCore), "payments")

	logEvent(context.Background(), "payment.created", map[string]any{"paymentId": "pay_1"})
	if baseLogs.Len() != 1 {
		t.Fatalf("expected base logger to receive entry, got %d", baseLogs.Len())
	}
	entry := baseLogs.All()[0]
	if entry.LoggerName != "payments" {
		t.Fatalf("expected named logger, got %q", entry.LoggerName)
	}
	if entry.ContextMap()["paymentId"] != "pay_1" || entry.ContextMap()["event"] != "payment.created" {
		t.Fatalf("unexpected fields %v", entry.ContextMap())
	}

	ctx := requestctx.WithLogger(context.Background(), zap.New(scopedCore))
	logEvent(ctx, "invoice.email_failed", map[string]any{"error": "boom"})
	if scopedLogs.Len() != 1 {
		t.Fatalf("expected scoped logger to receive entry, got %d", scopedLogs.Len())
	}
	if scopedLogs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for failure events, got %s", scopedLogs.All()[0].Level)
	}
	if baseLogs.Len() != 1 {
		t.Fatalf("expected base logger untouched")
	}
}

func TestEventLoggerSanitisesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := NewEventLogger(zap.New(core), "")

	logEvent(context.Background(), "payment.gateway_event_conflict", map[string]any{
		"paymentID": "pay_1\nforged",
		"reason":    "declined\r\n",
		"amount":    12,
	})
	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for conflicts, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["paymentID"] != "pay_1?forged" || fields["reason"] != "declined" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["amount"] != int64(12) {
		t.Fatalf("non-string fields must pass through, got %#v", fields["amount"])
	}
}
