package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const paymentMetricsNamespace = "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/payments"

// PaymentMetrics records payment state machine and gateway activity through OpenTelemetry instruments.
type PaymentMetrics struct {
	transitions     metric.Int64Counter
	gatewayLatency  metric.Float64Histogram
	deliveryFailure metric.Int64Counter
}

// NewPaymentMetrics registers the payment instruments on meter, or on the global provider when meter is nil.
// Instruments that fail to register are skipped.
func NewPaymentMetrics(meter metric.Meter, logger *zap.Logger) *PaymentMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(paymentMetricsNamespace)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &PaymentMetrics{}
	var err error
	m.transitions, err = meter.Int64Counter(
		"payments.transitions",
		metric.WithDescription("Count of payment status transitions by operation and outcome"),
	)
	if err != nil {
		logger.Warn("observability: unable to register transition metric", zap.Error(err))
	}
	m.gatewayLatency, err = meter.Float64Histogram(
		"payments.gateway.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of payment gateway calls"),
	)
	if err != nil {
		logger.Warn("observability: unable to register gateway latency metric", zap.Error(err))
	}
	m.deliveryFailure, err = meter.Int64Counter(
		"invoices.delivery.failures",
		metric.WithDescription("Count of failed invoice delivery steps"),
	)
	if err != nil {
		logger.Warn("observability: unable to register delivery failure metric", zap.Error(err))
	}
	return m
}

// RecordTransition counts one attempted transition. outcome is "ok" or an error class.
func (m *PaymentMetrics) RecordTransition(ctx context.Context, operation, status, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
		attribute.String("outcome", outcome),
	))
}

// RecordGatewayCall observes the duration of a gateway capability call.
func (m *PaymentMetrics) RecordGatewayCall(ctx context.Context, capability string, elapsed time.Duration, err error) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("outcome", outcome),
	))
}

// RecordDeliveryFailure counts a failed invoice delivery step (hosted, pdf, email, event).
func (m *PaymentMetrics) RecordDeliveryFailure(ctx context.Context, step string) {
	if m == nil || m.deliveryFailure == nil {
		return
	}
	m.deliveryFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}
