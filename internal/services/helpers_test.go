package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/memory"
)

var testNow = time.Date(2025, 10, 6, 9, 30, 0, 0, time.UTC)

var (
	owner = Actor{ID: "user-1"}
	staff = Actor{ID: "staff-1", Staff: true}
)

type stubGateway struct {
	checkoutFunc func(ctx context.Context, route payments.Route, req payments.CheckoutRequest) (payments.Checkout, error)
	lookupFunc   func(ctx context.Context, route payments.Route, reference string) (payments.Charge, error)
	refundFunc   func(ctx context.Context, route payments.Route, req payments.RefundRequest) (payments.RefundResult, error)
	invoiceFunc  func(ctx context.Context, route payments.Route, req payments.HostedInvoiceRequest) (payments.HostedInvoice, error)
}

func (s *stubGateway) CreateCheckout(ctx context.Context, route payments.Route, req payments.CheckoutRequest) (payments.Checkout, error) {
	if s.checkoutFunc == nil {
		return payments.Checkout{Provider: "stripe", Reference: "cs_test_" + req.PaymentID, RedirectURL: "https://pay.example/" + req.PaymentID}, nil
	}
	return s.checkoutFunc(ctx, route, req)
}

func (s *stubGateway) LookupCharge(ctx context.Context, route payments.Route, reference string) (payments.Charge, error) {
	if s.lookupFunc == nil {
		return payments.Charge{Reference: reference, Status: payments.ChargePending}, nil
	}
	return s.lookupFunc(ctx, route, reference)
}

func (s *stubGateway) Refund(ctx context.Context, route payments.Route, req payments.RefundRequest) (payments.RefundResult, error) {
	if s.refundFunc == nil {
		return payments.RefundResult{Provider: "stripe", RefundID: "re_" + req.IdempotencyKey[:8], Status: "succeeded"}, nil
	}
	return s.refundFunc(ctx, route, req)
}

func (s *stubGateway) SendInvoice(ctx context.Context, route payments.Route, req payments.HostedInvoiceRequest) (payments.HostedInvoice, error) {
	if s.invoiceFunc == nil {
		return payments.HostedInvoice{Provider: "stripe", ID: "in_1", URL: "https://invoice.example/in_1"}, nil
	}
	return s.invoiceFunc(ctx, route, req)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []PaymentEventMessage
	err      error
}

func (p *recordingPublisher) PublishPaymentEvent(_ context.Context, msg PaymentEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return msg.EventID, nil
}

func (p *recordingPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Event)
	}
	return out
}

type stubIssuer struct {
	mu     sync.Mutex
	issued []Payment
	err    error
}

func (s *stubIssuer) IssueForPayment(_ context.Context, payment Payment) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = append(s.issued, payment)
	if s.err != nil {
		return Invoice{}, s.err
	}
	return Invoice{PaymentID: payment.ID, InvoiceNumber: payment.InvoiceNumber}, nil
}

type paymentFixture struct {
	service   PaymentService
	repo      *memory.PaymentRepository
	gateway   *stubGateway
	publisher *recordingPublisher
	issuer    *stubIssuer

	logMu  sync.Mutex
	logged []string
}

func (f *paymentFixture) loggedEvent(name string) bool {
	f.logMu.Lock()
	defer f.logMu.Unlock()
	for _, e := range f.logged {
		if e == name {
			return true
		}
	}
	return false
}

func newPaymentFixture(t *testing.T, withGateway bool) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		repo:      memory.NewPaymentRepository(),
		gateway:   &stubGateway{},
		publisher: &recordingPublisher{},
		issuer:    &stubIssuer{},
	}
	deps := PaymentServiceDeps{
		Payments: f.repo,
		Invoices: f.issuer,
		Events:   f.publisher,
		Clock:    func() time.Time { return testNow },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			f.logMu.Lock()
			f.logged = append(f.logged, event)
			f.logMu.Unlock()
		},
		SuccessURL: "https://app.example/paid",
		CancelURL:  "https://app.example/cancelled",
	}
	if withGateway {
		deps.Gateway = f.gateway
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	f.service = svc
	return f
}

func (f *paymentFixture) create(t *testing.T, amount string) Payment {
	t.Helper()
	payment, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{
		Actor:       owner,
		Amount:      json.RawMessage(amount),
		Currency:    "jod",
		Method:      "card",
		Description: "Customs clearance for declaration 42",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	return payment
}

func (f *paymentFixture) completed(t *testing.T, amount string) Payment {
	t.Helper()
	payment := f.create(t, amount)
	confirmed, err := f.service.ConfirmPayment(context.Background(), ConfirmPaymentCommand{Actor: staff, PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", confirmed.Status)
	}
	return confirmed
}
