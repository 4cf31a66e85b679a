package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
)

var invoiceNumberPattern = regexp.MustCompile(`^INV-\d{6}-[A-Z0-9]{5}$`)

func TestCreatePaymentAssignsIdentity(t *testing.T) {
	f := newPaymentFixture(t, false)

	first := f.create(t, `"250.50"`)
	second := f.create(t, `"250.50"`)

	if first.ID == second.ID {
		t.Fatalf("expected unique ids, got %s twice", first.ID)
	}
	for _, p := range []Payment{first, second} {
		if !invoiceNumberPattern.MatchString(p.InvoiceNumber) {
			t.Fatalf("invoice number %q does not match pattern", p.InvoiceNumber)
		}
		if !strings.HasPrefix(p.InvoiceNumber, "INV-202510-") {
			t.Fatalf("expected invoice number for October 2025, got %s", p.InvoiceNumber)
		}
		if p.Status != domain.PaymentStatusPending {
			t.Fatalf("expected pending, got %s", p.Status)
		}
		if p.Currency != "JOD" || p.UserID != "user-1" {
			t.Fatalf("unexpected payment %#v", p)
		}
	}
	if got := f.publisher.events(); len(got) != 2 || got[0] != EventPaymentCreated {
		t.Fatalf("expected two created events, got %v", got)
	}
}

func TestCreatePaymentRejectsInvalidRequests(t *testing.T) {
	f := newPaymentFixture(t, false)
	valid := CreatePaymentCommand{
		Actor:       owner,
		Amount:      json.RawMessage(`100`),
		Currency:    "USD",
		Method:      "card",
		Description: "Duty payment",
	}

	cases := []struct {
		name   string
		mutate func(*CreatePaymentCommand)
		field  string
	}{
		{"zero amount", func(c *CreatePaymentCommand) { c.Amount = json.RawMessage(`0`) }, "amount"},
		{"negative amount", func(c *CreatePaymentCommand) { c.Amount = json.RawMessage(`-5`) }, "amount"},
		{"malformed amount", func(c *CreatePaymentCommand) { c.Amount = json.RawMessage(`"12abc"`) }, "amount"},
		{"long currency", func(c *CreatePaymentCommand) { c.Currency = "INVALID" }, "currency"},
		{"unknown currency", func(c *CreatePaymentCommand) { c.Currency = "QQQ" }, "currency"},
		{"unknown method", func(c *CreatePaymentCommand) { c.Method = "bitcoin" }, "method"},
		{"empty description", func(c *CreatePaymentCommand) { c.Description = "" }, "description"},
		{"markup only description", func(c *CreatePaymentCommand) { c.Description = "<b></b>" }, "description"},
		{"long description", func(c *CreatePaymentCommand) { c.Description = strings.Repeat("a", 501) }, "description"},
		{"reserved metadata", func(c *CreatePaymentCommand) { c.Metadata = map[string]string{"gatewayRef": "x"} }, "metadata.gatewayRef"},
		{"bad email", func(c *CreatePaymentCommand) { c.PayerEmail = "not-an-email" }, "payerEmail"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := valid
			tc.mutate(&cmd)
			_, err := f.service.CreatePayment(context.Background(), cmd)
			if !errors.Is(err, ErrPaymentInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %T", err)
			}
			found := false
			for _, v := range verr.Violations {
				if v.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected violation on %s, got %v", tc.field, verr.Violations)
			}
		})
	}
}

func TestCreatePaymentAcceptsBoundaryDescription(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment, err := f.service.CreatePayment(context.Background(), CreatePaymentCommand{
		Actor:       owner,
		Amount:      json.RawMessage(`"0.01"`),
		Currency:    "USD",
		Method:      "bank_transfer",
		Description: strings.Repeat("x", 500),
		PayerEmail:  "Payer <payer@example.com>",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if payment.Metadata[domain.PaymentMetaPayerEmail] != "payer@example.com" {
		t.Fatalf("expected payer email metadata, got %v", payment.Metadata)
	}
}

func TestCreatePaymentForOtherUserRequiresStaff(t *testing.T) {
	f := newPaymentFixture(t, false)
	cmd := CreatePaymentCommand{
		Actor:       owner,
		UserID:      "user-2",
		Amount:      json.RawMessage(`10`),
		Currency:    "USD",
		Method:      "cash",
		Description: "Storage fee",
	}
	if _, err := f.service.CreatePayment(context.Background(), cmd); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	cmd.Actor = staff
	payment, err := f.service.CreatePayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreatePayment as staff: %v", err)
	}
	if payment.UserID != "user-2" {
		t.Fatalf("expected payment for user-2, got %s", payment.UserID)
	}
}

func TestProcessPaymentWithReference(t *testing.T) {
	f := newPaymentFixture(t, true)
	payment := f.create(t, `100`)

	processed, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{
		Actor:      owner,
		PaymentID:  payment.ID,
		GatewayRef: "bank-ref-77",
	})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if processed.Status != domain.PaymentStatusProcessing || processed.ProcessedAt == nil {
		t.Fatalf("expected processing with timestamp, got %#v", processed)
	}
	if processed.Metadata[domain.PaymentMetaGatewayRef] != "bank-ref-77" {
		t.Fatalf("expected gateway ref metadata, got %v", processed.Metadata)
	}
	if _, ok := processed.Metadata[domain.PaymentMetaGatewayProvider]; ok {
		t.Fatalf("caller supplied reference must not record a provider")
	}
}

func TestProcessPaymentOpensCheckout(t *testing.T) {
	f := newPaymentFixture(t, true)
	payment := f.create(t, `100`)

	var captured payments.CheckoutRequest
	f.gateway.checkoutFunc = func(_ context.Context, route payments.Route, req payments.CheckoutRequest) (payments.Checkout, error) {
		captured = req
		if route.Currency != "JOD" {
			t.Fatalf("expected route currency JOD, got %s", route.Currency)
		}
		return payments.Checkout{Provider: "stripe", Reference: "cs_test_1", RedirectURL: "https://checkout.example/cs_test_1"}, nil
	}

	processed, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if captured.IdempotencyKey != payments.IdempotencyKey("checkout", payment.ID) {
		t.Fatalf("unexpected idempotency key %q", captured.IdempotencyKey)
	}
	if captured.SuccessURL != "https://app.example/paid" || !captured.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected checkout request %#v", captured)
	}
	if processed.Metadata[domain.PaymentMetaGatewayRef] != "cs_test_1" ||
		processed.Metadata[domain.PaymentMetaGatewayProvider] != "stripe" ||
		processed.Metadata[domain.PaymentMetaRedirectURL] != "https://checkout.example/cs_test_1" {
		t.Fatalf("unexpected metadata %v", processed.Metadata)
	}
}

func TestProcessPaymentGatewayFailureLeavesProcessing(t *testing.T) {
	f := newPaymentFixture(t, true)
	payment := f.create(t, `100`)
	f.gateway.checkoutFunc = func(context.Context, payments.Route, payments.CheckoutRequest) (payments.Checkout, error) {
		return payments.Checkout{}, context.DeadlineExceeded
	}

	_, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Capability != "checkout" {
		t.Fatalf("expected checkout GatewayError, got %v", err)
	}
	stored, err := f.repo.FindByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected payment to stay processing, got %s", stored.Status)
	}
}

func TestProcessPaymentRequiresPending(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `100`)

	_, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID, GatewayRef: "x"})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	var stateErr *domain.InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Current != domain.PaymentStatusCompleted {
		t.Fatalf("expected InvalidStateError from completed, got %v", err)
	}
}

func TestProcessPaymentOfOtherUserIsForbidden(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.create(t, `100`)
	_, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{Actor: Actor{ID: "intruder"}, PaymentID: payment.ID})
	if !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConfirmPaymentIssuesInvoice(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.create(t, `100`)
	if _, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID, GatewayRef: "ref"}); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}

	confirmed, err := f.service.ConfirmPayment(context.Background(), ConfirmPaymentCommand{Actor: staff, PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.Status != domain.PaymentStatusCompleted || confirmed.CompletedAt == nil {
		t.Fatalf("expected completed, got %#v", confirmed)
	}
	if len(f.issuer.issued) != 1 || f.issuer.issued[0].ID != payment.ID {
		t.Fatalf("expected invoice issued once, got %d", len(f.issuer.issued))
	}
}

func TestConfirmPaymentSurvivesInvoiceFailure(t *testing.T) {
	f := newPaymentFixture(t, false)
	f.issuer.err = errors.New("store down")
	payment := f.create(t, `100`)

	confirmed, err := f.service.ConfirmPayment(context.Background(), ConfirmPaymentCommand{Actor: staff, PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", confirmed.Status)
	}
	if !f.loggedEvent("invoice.issue_failed") {
		t.Fatalf("expected invoice failure to be logged")
	}
}

func TestConfirmPaymentRules(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `100`)

	if _, err := f.service.ConfirmPayment(context.Background(), ConfirmPaymentCommand{Actor: staff, PaymentID: payment.ID}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state on second confirm, got %v", err)
	}
	other := f.create(t, `100`)
	if _, err := f.service.ConfirmPayment(context.Background(), ConfirmPaymentCommand{Actor: owner, PaymentID: other.ID}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected owner confirm to be forbidden, got %v", err)
	}
	if _, err := f.service.ConfirmPayment(context.Background(), ConfirmPaymentCommand{Actor: staff, PaymentID: "pay_missing"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailPayment(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.create(t, `100`)

	if _, err := f.service.FailPayment(context.Background(), FailPaymentCommand{Actor: staff, PaymentID: payment.ID}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected reason to be required, got %v", err)
	}
	failed, err := f.service.FailPayment(context.Background(), FailPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "card declined"})
	if err != nil {
		t.Fatalf("FailPayment: %v", err)
	}
	if failed.Status != domain.PaymentStatusFailed || failed.Metadata[domain.PaymentMetaFailureReason] != "card declined" {
		t.Fatalf("unexpected failed payment %#v", failed)
	}
	if _, err := f.service.FailPayment(context.Background(), FailPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "again"}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected failed to be terminal, got %v", err)
	}
}

func TestCancelPaymentOnlyFromPending(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.create(t, `100`)

	cancelled, err := f.service.CancelPayment(context.Background(), CancelPaymentCommand{Actor: owner, PaymentID: payment.ID, Reason: "duplicate order"})
	if err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}
	if cancelled.Status != domain.PaymentStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled payment %#v", cancelled)
	}

	processing := f.create(t, `100`)
	if _, err := f.service.ProcessPayment(context.Background(), ProcessPaymentCommand{Actor: owner, PaymentID: processing.ID, GatewayRef: "r"}); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if _, err := f.service.CancelPayment(context.Background(), CancelPaymentCommand{Actor: owner, PaymentID: processing.ID}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected cancel of processing payment to fail, got %v", err)
	}
}

func TestRefundPendingPaymentIsInvalidState(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.create(t, `100`)

	_, err := f.service.RefundPayment(context.Background(), RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "requested_by_customer"})
	var stateErr *domain.InvalidStateError
	if !errors.As(err, &stateErr) || stateErr.Current != domain.PaymentStatusPending {
		t.Fatalf("expected InvalidStateError from pending, got %v", err)
	}
}

func TestRefundAboveOriginalIsValidationError(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `100`)

	_, err := f.service.RefundPayment(context.Background(), RefundPaymentCommand{
		Actor:     staff,
		PaymentID: payment.ID,
		Reason:    "other",
		Amount:    json.RawMessage(`"100.01"`),
	})
	var verr *domain.ValidationError
	if !errors.Is(err, ErrPaymentInvalidInput) || !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	stored, _ := f.repo.FindByID(context.Background(), payment.ID)
	if stored.Status != domain.PaymentStatusCompleted || !stored.RefundedAmount.IsZero() || len(stored.Refunds) != 0 {
		t.Fatalf("rejected refund must not change the payment: %#v", stored)
	}
}

func TestRefundRejectsBadInput(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `100`)

	cases := map[string]RefundPaymentCommand{
		"unknown reason": {Actor: staff, PaymentID: payment.ID, Reason: "because"},
		"zero amount":    {Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`0`)},
		"negative":       {Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`-1`)},
		"not a number":   {Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`"ten"`)},
		"sub-fils":       {Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`"10.0005"`)},
		"huge exponent":  {Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`"1e900000000"`)},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.service.RefundPayment(context.Background(), cmd); !errors.Is(err, ErrPaymentInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if _, err := f.service.RefundPayment(context.Background(), RefundPaymentCommand{Actor: owner, PaymentID: payment.ID, Reason: "other"}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected owner refund to be forbidden, got %v", err)
	}
}

func TestRefundFullAmountByDefault(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `"116.00"`)

	refunded, err := f.service.RefundPayment(context.Background(), RefundPaymentCommand{
		Actor:     staff,
		PaymentID: payment.ID,
		Reason:    "requested_by_customer",
		Note:      "<i>customer</i> changed broker",
	})
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if refunded.Status != domain.PaymentStatusRefunded || refunded.RefundedAt == nil {
		t.Fatalf("expected refunded, got %#v", refunded)
	}
	if !refunded.RefundedAmount.Equal(decimal.RequireFromString("116")) {
		t.Fatalf("expected full refund, got %s", refunded.RefundedAmount)
	}
	if len(refunded.Refunds) != 1 || refunded.Refunds[0].Status != domain.RefundStatusSucceeded || refunded.Refunds[0].Note != "customer changed broker" {
		t.Fatalf("unexpected refunds %#v", refunded.Refunds)
	}

	_, err = f.service.RefundPayment(context.Background(), RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "other"})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected fully refunded payment to reject more refunds, got %v", err)
	}
}

func TestPartialRefundsAreCapped(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `100`)
	ctx := context.Background()

	first, err := f.service.RefundPayment(ctx, RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`60`)})
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if first.Status != domain.PaymentStatusRefunded || !first.RefundableAmount().Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 40 remaining, got %s", first.RefundableAmount())
	}
	if _, err := f.service.RefundPayment(ctx, RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "other", Amount: json.RawMessage(`41`)}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected refund above remainder to fail, got %v", err)
	}
	second, err := f.service.RefundPayment(ctx, RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "other"})
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if !second.RefundedAmount.Equal(decimal.NewFromInt(100)) || len(second.Refunds) != 2 {
		t.Fatalf("expected two refunds summing to 100, got %s over %d", second.RefundedAmount, len(second.Refunds))
	}

	refunds, err := f.service.ListRefunds(ctx, owner, payment.ID)
	if err != nil {
		t.Fatalf("ListRefunds: %v", err)
	}
	if len(refunds) != 2 || !refunds[1].Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected refunds %#v", refunds)
	}
}

func TestRefundCallsGatewayForCheckoutPayments(t *testing.T) {
	f := newPaymentFixture(t, true)
	payment := f.create(t, `100`)
	ctx := context.Background()
	if _, err := f.service.ProcessPayment(ctx, ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID}); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if _, err := f.service.ConfirmPayment(ctx, ConfirmPaymentCommand{Actor: staff, PaymentID: payment.ID}); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	var captured payments.RefundRequest
	f.gateway.refundFunc = func(_ context.Context, route payments.Route, req payments.RefundRequest) (payments.RefundResult, error) {
		if route.Provider != "stripe" {
			t.Fatalf("expected stripe route, got %q", route.Provider)
		}
		captured = req
		return payments.RefundResult{Provider: "stripe", RefundID: "re_1", Status: "succeeded"}, nil
	}

	refunded, err := f.service.RefundPayment(ctx, RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "duplicate", Amount: json.RawMessage(`"25.50"`)})
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if captured.Reference != "cs_test_"+payment.ID || !captured.Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("unexpected refund request %#v", captured)
	}
	if refunded.Refunds[0].GatewayRef != "re_1" {
		t.Fatalf("expected gateway refund id, got %q", refunded.Refunds[0].GatewayRef)
	}
}

func TestRefundGatewayFailureReleasesReservation(t *testing.T) {
	f := newPaymentFixture(t, true)
	payment := f.create(t, `100`)
	ctx := context.Background()
	if _, err := f.service.ProcessPayment(ctx, ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID}); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if _, err := f.service.ConfirmPayment(ctx, ConfirmPaymentCommand{Actor: staff, PaymentID: payment.ID}); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	f.gateway.refundFunc = func(context.Context, payments.Route, payments.RefundRequest) (payments.RefundResult, error) {
		return payments.RefundResult{}, errors.New("gateway timeout")
	}

	_, err := f.service.RefundPayment(ctx, RefundPaymentCommand{Actor: staff, PaymentID: payment.ID, Reason: "other"})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, payment.ID)
	if stored.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed after failed refund, got %s", stored.Status)
	}
	if !stored.RefundedAmount.IsZero() {
		t.Fatalf("expected reservation released, got %s", stored.RefundedAmount)
	}
	if len(stored.Refunds) != 1 || stored.Refunds[0].Status != domain.RefundStatusFailed {
		t.Fatalf("expected one failed refund record, got %#v", stored.Refunds)
	}
}

func TestConcurrentRefundsNeverExceedAmount(t *testing.T) {
	f := newPaymentFixture(t, false)
	payment := f.completed(t, `100`)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.RefundPayment(context.Background(), RefundPaymentCommand{
				Actor:     staff,
				PaymentID: payment.ID,
				Reason:    "other",
				Amount:    json.RawMessage(`30`),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected exactly 3 refunds of 30 to fit in 100, got %d", succeeded)
	}
	stored, _ := f.repo.FindByID(context.Background(), payment.ID)
	if !stored.RefundedAmount.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected 90 refunded, got %s", stored.RefundedAmount)
	}
}

func TestListUserPaymentsAndStats(t *testing.T) {
	f := newPaymentFixture(t, false)
	ctx := context.Background()
	f.completed(t, `100`)
	f.completed(t, `50`)
	pending := f.create(t, `10`)
	if _, err := f.service.CancelPayment(ctx, CancelPaymentCommand{Actor: owner, PaymentID: pending.ID}); err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}

	list, err := f.service.ListUserPayments(ctx, owner, "", 0)
	if err != nil {
		t.Fatalf("ListUserPayments: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 payments, got %d", len(list))
	}
	if _, err := f.service.ListUserPayments(ctx, owner, "user-2", 10); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected listing another user to be forbidden, got %v", err)
	}

	stats, err := f.service.GetStats(ctx, owner, "")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 3 || stats.CountByStatus[domain.PaymentStatusCompleted] != 2 || stats.CountByStatus[domain.PaymentStatusCancelled] != 1 {
		t.Fatalf("unexpected counts %#v", stats.CountByStatus)
	}
	if !stats.AverageCompletedValue.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected average 75, got %s", stats.AverageCompletedValue)
	}
	if !stats.AmountByStatus[domain.PaymentStatusCompleted].Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected 150 completed, got %s", stats.AmountByStatus[domain.PaymentStatusCompleted])
	}
	if len(stats.Currencies) != 1 || stats.Currencies[0] != "JOD" {
		t.Fatalf("unexpected currencies %v", stats.Currencies)
	}
}

func TestApplyGatewayEvent(t *testing.T) {
	f := newPaymentFixture(t, false)
	ctx := context.Background()
	payment := f.create(t, `100`)

	confirmed, err := f.service.ApplyGatewayEvent(ctx, GatewayEvent{ID: "evt_1", PaymentID: payment.ID, Reference: "cs_1", Succeeded: true})
	if err != nil {
		t.Fatalf("ApplyGatewayEvent: %v", err)
	}
	if confirmed.Status != domain.PaymentStatusCompleted || confirmed.Metadata[domain.PaymentMetaGatewayRef] != "cs_1" {
		t.Fatalf("unexpected payment %#v", confirmed)
	}

	replayed, err := f.service.ApplyGatewayEvent(ctx, GatewayEvent{ID: "evt_1", PaymentID: payment.ID, Succeeded: true})
	if err != nil {
		t.Fatalf("replayed event: %v", err)
	}
	if replayed.Status != domain.PaymentStatusCompleted || len(f.issuer.issued) != 1 {
		t.Fatalf("replay must not confirm twice")
	}

	late, err := f.service.ApplyGatewayEvent(ctx, GatewayEvent{ID: "evt_2", PaymentID: payment.ID, Failed: true})
	if err != nil || late.Status != domain.PaymentStatusCompleted {
		t.Fatalf("failure after completion must be ignored, got %v %v", late.Status, err)
	}

	other := f.create(t, `10`)
	failed, err := f.service.ApplyGatewayEvent(ctx, GatewayEvent{ID: "evt_3", PaymentID: other.ID, Failed: true})
	if err != nil {
		t.Fatalf("failure event: %v", err)
	}
	if failed.Status != domain.PaymentStatusFailed || failed.Metadata[domain.PaymentMetaFailureReason] != defaultFailureReason {
		t.Fatalf("unexpected failed payment %#v", failed)
	}
}

func TestApplyGatewayEventFlagsSuccessOnFailedPayment(t *testing.T) {
	f := newPaymentFixture(t, false)
	ctx := context.Background()
	payment := f.create(t, `25`)

	if _, err := f.service.ApplyGatewayEvent(ctx, GatewayEvent{ID: "evt_1", PaymentID: payment.ID, Failed: true}); err != nil {
		t.Fatalf("failure event: %v", err)
	}
	if f.loggedEvent("payment.gateway_event_conflict") {
		t.Fatalf("failure event must not be reported as a conflict")
	}

	got, err := f.service.ApplyGatewayEvent(ctx, GatewayEvent{ID: "evt_2", PaymentID: payment.ID, Reference: "cs_late", Succeeded: true})
	if err != nil {
		t.Fatalf("late success event: %v", err)
	}
	if got.Status != domain.PaymentStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if len(f.issuer.issued) != 0 {
		t.Fatalf("no invoice expected for a failed payment")
	}
	if !f.loggedEvent("payment.gateway_event_conflict") {
		t.Fatalf("expected payment.gateway_event_conflict to be logged")
	}
}

func TestResolveProcessing(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms succeeded charge", func(t *testing.T) {
		f := newPaymentFixture(t, true)
		payment := f.create(t, `100`)
		if _, err := f.service.ProcessPayment(ctx, ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID}); err != nil {
			t.Fatalf("ProcessPayment: %v", err)
		}
		f.gateway.lookupFunc = func(_ context.Context, _ payments.Route, reference string) (payments.Charge, error) {
			return payments.Charge{Reference: reference, Status: payments.ChargeSucceeded}, nil
		}
		outcome, err := f.service.ResolveProcessing(ctx, payment.ID)
		if err != nil || outcome != ResolutionConfirmed {
			t.Fatalf("expected confirmed, got %s %v", outcome, err)
		}
	})

	t.Run("fails failed charge", func(t *testing.T) {
		f := newPaymentFixture(t, true)
		payment := f.create(t, `100`)
		if _, err := f.service.ProcessPayment(ctx, ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID}); err != nil {
			t.Fatalf("ProcessPayment: %v", err)
		}
		f.gateway.lookupFunc = func(context.Context, payments.Route, string) (payments.Charge, error) {
			return payments.Charge{Status: payments.ChargeFailed, FailureReason: "expired"}, nil
		}
		outcome, err := f.service.ResolveProcessing(ctx, payment.ID)
		if err != nil || outcome != ResolutionFailed {
			t.Fatalf("expected failed, got %s %v", outcome, err)
		}
		stored, _ := f.repo.FindByID(ctx, payment.ID)
		if stored.Metadata[domain.PaymentMetaFailureReason] != "expired" {
			t.Fatalf("expected gateway reason, got %v", stored.Metadata)
		}
	})

	t.Run("reopens checkout without reference", func(t *testing.T) {
		f := newPaymentFixture(t, true)
		payment := f.create(t, `100`)
		f.gateway.checkoutFunc = func(context.Context, payments.Route, payments.CheckoutRequest) (payments.Checkout, error) {
			return payments.Checkout{}, errors.New("timeout")
		}
		if _, err := f.service.ProcessPayment(ctx, ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID}); err == nil {
			t.Fatalf("expected checkout failure")
		}
		var keys []string
		f.gateway.checkoutFunc = func(_ context.Context, _ payments.Route, req payments.CheckoutRequest) (payments.Checkout, error) {
			keys = append(keys, req.IdempotencyKey)
			return payments.Checkout{Provider: "stripe", Reference: "cs_retry"}, nil
		}
		outcome, err := f.service.ResolveProcessing(ctx, payment.ID)
		if err != nil || outcome != ResolutionAttached {
			t.Fatalf("expected attached, got %s %v", outcome, err)
		}
		if len(keys) != 1 || keys[0] != payments.IdempotencyKey("checkout", payment.ID) {
			t.Fatalf("expected the original idempotency key, got %v", keys)
		}
	})

	t.Run("leaves pending charge alone", func(t *testing.T) {
		f := newPaymentFixture(t, true)
		payment := f.create(t, `100`)
		if _, err := f.service.ProcessPayment(ctx, ProcessPaymentCommand{Actor: owner, PaymentID: payment.ID}); err != nil {
			t.Fatalf("ProcessPayment: %v", err)
		}
		outcome, err := f.service.ResolveProcessing(ctx, payment.ID)
		if err != nil || outcome != ResolutionPending {
			t.Fatalf("expected pending, got %s %v", outcome, err)
		}
		stored, _ := f.repo.FindByID(ctx, payment.ID)
		if stored.Status != domain.PaymentStatusProcessing {
			t.Fatalf("expected processing, got %s", stored.Status)
		}
	})
}

func TestInvoiceNumberFormat(t *testing.T) {
	got := newInvoiceNumber(testNow, "01J9ZQ3XK4ABCDEFGH7Q2M")
	if got != "INV-202510-H7Q2M" {
		t.Fatalf("unexpected invoice number %s", got)
	}
	if short := newInvoiceNumber(testNow, "ab"); short != "INV-202510-000AB" {
		t.Fatalf("expected padded suffix, got %s", short)
	}
}
