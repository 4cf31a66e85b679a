package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/auth"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

type stubPaymentService struct {
	createFunc  func(ctx context.Context, cmd services.CreatePaymentCommand) (services.Payment, error)
	processFunc func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error)
	confirmFunc func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error)
	failFunc    func(ctx context.Context, cmd services.FailPaymentCommand) (services.Payment, error)
	refundFunc  func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error)
	cancelFunc  func(ctx context.Context, cmd services.CancelPaymentCommand) (services.Payment, error)
	getFunc     func(ctx context.Context, actor services.Actor, paymentID string) (services.Payment, error)
	listFunc    func(ctx context.Context, actor services.Actor, userID string, limit int) ([]services.Payment, error)
	statsFunc   func(ctx context.Context, actor services.Actor, userID string) (services.PaymentStats, error)
	refundsFunc func(ctx context.Context, actor services.Actor, paymentID string) ([]services.Refund, error)
	eventFunc   func(ctx context.Context, event services.GatewayEvent) (services.Payment, error)
}

func (s *stubPaymentService) CreatePayment(ctx context.Context, cmd services.CreatePaymentCommand) (services.Payment, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubPaymentService) ProcessPayment(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error) {
	return s.processFunc(ctx, cmd)
}

func (s *stubPaymentService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error) {
	return s.confirmFunc(ctx, cmd)
}

func (s *stubPaymentService) FailPayment(ctx context.Context, cmd services.FailPaymentCommand) (services.Payment, error) {
	return s.failFunc(ctx, cmd)
}

func (s *stubPaymentService) RefundPayment(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
	return s.refundFunc(ctx, cmd)
}

func (s *stubPaymentService) CancelPayment(ctx context.Context, cmd services.CancelPaymentCommand) (services.Payment, error) {
	return s.cancelFunc(ctx, cmd)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, actor services.Actor, paymentID string) (services.Payment, error) {
	return s.getFunc(ctx, actor, paymentID)
}

func (s *stubPaymentService) ListUserPayments(ctx context.Context, actor services.Actor, userID string, limit int) ([]services.Payment, error) {
	return s.listFunc(ctx, actor, userID, limit)
}

func (s *stubPaymentService) GetStats(ctx context.Context, actor services.Actor, userID string) (services.PaymentStats, error) {
	return s.statsFunc(ctx, actor, userID)
}

func (s *stubPaymentService) ListRefunds(ctx context.Context, actor services.Actor, paymentID string) ([]services.Refund, error) {
	return s.refundsFunc(ctx, actor, paymentID)
}

func (s *stubPaymentService) ApplyGatewayEvent(ctx context.Context, event services.GatewayEvent) (services.Payment, error) {
	return s.eventFunc(ctx, event)
}

func (s *stubPaymentService) ResolveProcessing(context.Context, string) (services.ResolutionOutcome, error) {
	return services.ResolutionSkipped, nil
}

type stubCostService struct {
	breakdownFunc func(ctx context.Context, cmd services.CostBreakdownCommand) (services.CostBreakdown, error)
	varianceFunc  func(ctx context.Context, cmd services.VarianceCommand) ([]services.VarianceRecord, error)
	finalFunc     func(ctx context.Context, cmd services.FinalAmountCommand) (decimal.Decimal, error)
	convertFunc   func(ctx context.Context, cmd services.ConvertAmountCommand) (services.ConvertedAmount, error)
}

func (s *stubCostService) CalculateBreakdown(ctx context.Context, cmd services.CostBreakdownCommand) (services.CostBreakdown, error) {
	return s.breakdownFunc(ctx, cmd)
}

func (s *stubCostService) AnalyzeVariance(ctx context.Context, cmd services.VarianceCommand) ([]services.VarianceRecord, error) {
	return s.varianceFunc(ctx, cmd)
}

func (s *stubCostService) CalculateFinalAmount(ctx context.Context, cmd services.FinalAmountCommand) (decimal.Decimal, error) {
	return s.finalFunc(ctx, cmd)
}

func (s *stubCostService) ConvertAmount(ctx context.Context, cmd services.ConvertAmountCommand) (services.ConvertedAmount, error) {
	return s.convertFunc(ctx, cmd)
}

type stubInvoiceService struct {
	getFunc   func(ctx context.Context, actor services.Actor, paymentID string) (services.Invoice, error)
	retryFunc func(ctx context.Context, actor services.Actor, paymentID string) (services.Invoice, error)
}

func (s *stubInvoiceService) FromPayment(services.Payment) (services.Invoice, error) {
	return services.Invoice{}, nil
}

func (s *stubInvoiceService) IssueForPayment(context.Context, services.Payment) (services.Invoice, error) {
	return services.Invoice{}, nil
}

func (s *stubInvoiceService) GetInvoice(ctx context.Context, actor services.Actor, paymentID string) (services.Invoice, error) {
	return s.getFunc(ctx, actor, paymentID)
}

func (s *stubInvoiceService) RetryDelivery(ctx context.Context, actor services.Actor, paymentID string) (services.Invoice, error) {
	return s.retryFunc(ctx, actor, paymentID)
}

func (s *stubInvoiceService) Wait() {}

// postRPC sends body to path, authenticated as identity when it is non-nil.
func postRPC(t *testing.T, handler http.Handler, path, body string, identity *auth.Identity, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}
