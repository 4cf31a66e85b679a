package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/auth"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/idempotency"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

var (
	owner    = &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}
	operator = &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
)

func samplePayment(status domain.PaymentStatus) services.Payment {
	created := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return services.Payment{
		ID:             "pay_01",
		UserID:         "user-1",
		Amount:         decimal.RequireFromString("1334.5"),
		Currency:       "JOD",
		Method:         domain.PaymentMethodCard,
		Status:         status,
		Description:    "Customs clearance D-100",
		InvoiceNumber:  "INV-202503-0001A",
		RefundedAmount: decimal.Zero,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func paymentRouter(svc services.PaymentService, opts ...PaymentHandlersOption) chi.Router {
	router := chi.NewRouter()
	NewPaymentHandlers(svc, opts...).Routes(router)
	return router
}

func TestPaymentHandlersCreate(t *testing.T) {
	var captured services.CreatePaymentCommand
	router := paymentRouter(&stubPaymentService{
		createFunc: func(_ context.Context, cmd services.CreatePaymentCommand) (services.Payment, error) {
			captured = cmd
			return samplePayment(domain.PaymentStatusPending), nil
		},
	})

	body := `{"amount":"1334.500","currency":"JOD","method":"card","description":"Customs clearance D-100","metadata":{"declaration":"D-100"}}`
	rr := postRPC(t, router, "/payments.create", body, owner)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "user-1" || captured.Actor.Staff {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if string(captured.Amount) != `"1334.500"` {
		t.Fatalf("expected raw amount passed through, got %s", captured.Amount)
	}
	if captured.Metadata["declaration"] != "D-100" {
		t.Fatalf("expected metadata, got %v", captured.Metadata)
	}
	resp := decodeBody(t, rr)
	if resp["status"] != "pending" || resp["amount"] != "1334.5" || resp["refundableAmount"] != "1334.5" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestPaymentHandlersRequireIdentity(t *testing.T) {
	router := paymentRouter(&stubPaymentService{})
	rr := postRPC(t, router, "/payments.create", `{}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestPaymentHandlersRejectUnknownFields(t *testing.T) {
	router := paymentRouter(&stubPaymentService{})
	rr := postRPC(t, router, "/payments.get", `{"paymentId":"pay_01","extra":true}`, owner)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersStaffActor(t *testing.T) {
	var captured services.Actor
	router := paymentRouter(&stubPaymentService{
		confirmFunc: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Payment, error) {
			captured = cmd.Actor
			return samplePayment(domain.PaymentStatusCompleted), nil
		},
	})
	rr := postRPC(t, router, "/payments.confirm", `{"paymentId":"pay_01"}`, operator)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !captured.Staff || captured.ID != "staff-1" {
		t.Fatalf("expected staff actor, got %+v", captured)
	}
}

func TestPaymentHandlersErrorMapping(t *testing.T) {
	verr := domain.NewValidationError("amount", "positive", "must be greater than zero")
	stateErr := &domain.InvalidStateError{
		Operation: "refund",
		Current:   domain.PaymentStatusPending,
		Allowed:   []domain.PaymentStatus{domain.PaymentStatusCompleted, domain.PaymentStatusRefunded},
	}
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: %w", services.ErrPaymentInvalidInput, verr), http.StatusBadRequest, "invalid_input"},
		{"state", fmt.Errorf("%w: %w", services.ErrPaymentInvalidState, stateErr), http.StatusConflict, "invalid_state"},
		{"not found", services.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
		{"forbidden", services.ErrPaymentForbidden, http.StatusForbidden, "forbidden"},
		{"gateway", &services.GatewayError{Capability: "refund", PaymentID: "pay_01", Err: context.DeadlineExceeded}, http.StatusBadGateway, "gateway_error"},
		{"conflict", services.ErrPaymentConflict, http.StatusConflict, "conflict"},
		{"unavailable", services.ErrPaymentUnavailable, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := paymentRouter(&stubPaymentService{
				refundFunc: func(context.Context, services.RefundPaymentCommand) (services.Payment, error) {
					return services.Payment{}, tc.err
				},
			})
			rr := postRPC(t, router, "/payments.refund", `{"paymentId":"pay_01","reason":"duplicate","amount":"10"}`, owner)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestPaymentHandlersValidationDetails(t *testing.T) {
	verr := domain.NewValidationError("currency", "iso4217", "must be a known ISO 4217 code")
	verr.Add("method", "enum", "must be one of card, bank_transfer, wallet, cash")
	router := paymentRouter(&stubPaymentService{
		createFunc: func(context.Context, services.CreatePaymentCommand) (services.Payment, error) {
			return services.Payment{}, fmt.Errorf("%w: %w", services.ErrPaymentInvalidInput, verr)
		},
	})
	rr := postRPC(t, router, "/payments.create", `{"amount":"1","currency":"XXX","method":"cheque"}`, owner)
	details, ok := decodeBody(t, rr)["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected details in %s", rr.Body.String())
	}
	violations, _ := details["violations"].([]any)
	if len(violations) != 2 {
		t.Fatalf("expected two violations, got %v", details["violations"])
	}
}

func TestPaymentHandlersRateLimit(t *testing.T) {
	router := paymentRouter(&stubPaymentService{
		cancelFunc: func(context.Context, services.CancelPaymentCommand) (services.Payment, error) {
			return samplePayment(domain.PaymentStatusCancelled), nil
		},
		getFunc: func(context.Context, services.Actor, string) (services.Payment, error) {
			return samplePayment(domain.PaymentStatusCancelled), nil
		},
	}, WithPaymentRateLimit(1, 2))

	for i := 0; i < 2; i++ {
		if rr := postRPC(t, router, "/payments.cancel", `{"paymentId":"pay_01"}`, owner); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := postRPC(t, router, "/payments.cancel", `{"paymentId":"pay_01"}`, owner)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := postRPC(t, router, "/payments.cancel", `{"paymentId":"pay_01"}`, operator); rr.Code != http.StatusOK {
		t.Fatalf("expected other caller unaffected, got %d", rr.Code)
	}
	if rr := postRPC(t, router, "/payments.get", `{"paymentId":"pay_01"}`, owner); rr.Code != http.StatusOK {
		t.Fatalf("expected reads unaffected, got %d", rr.Code)
	}
}

func TestPaymentHandlersIdempotentCreate(t *testing.T) {
	var calls int32
	store := idempotency.NewMemoryStore(time.Hour)
	router := paymentRouter(&stubPaymentService{
		createFunc: func(context.Context, services.CreatePaymentCommand) (services.Payment, error) {
			atomic.AddInt32(&calls, 1)
			return samplePayment(domain.PaymentStatusPending), nil
		},
	}, WithIdempotency(idempotency.Middleware(store, idempotency.Config{Requester: IdempotencyRequester})))

	body := `{"amount":"1334.5","currency":"JOD","method":"card"}`
	first := postRPC(t, router, "/payments.create", body, owner, idempotency.HeaderName, "create-1")
	second := postRPC(t, router, "/payments.create", body, owner, idempotency.HeaderName, "create-1")

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one create call, got %d", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed body")
	}

	other := postRPC(t, router, "/payments.create", body, operator, idempotency.HeaderName, "create-1")
	if other.Code != http.StatusCreated || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected keys scoped per caller")
	}
}

func TestPaymentHandlersListAndStats(t *testing.T) {
	router := paymentRouter(&stubPaymentService{
		listFunc: func(_ context.Context, actor services.Actor, userID string, limit int) ([]services.Payment, error) {
			if userID != "" || limit != 5 {
				t.Fatalf("unexpected list args %q %d", userID, limit)
			}
			return []services.Payment{samplePayment(domain.PaymentStatusCompleted)}, nil
		},
		statsFunc: func(context.Context, services.Actor, string) (services.PaymentStats, error) {
			return services.PaymentStats{
				UserID:                "user-1",
				Total:                 1,
				CountByStatus:         map[domain.PaymentStatus]int{domain.PaymentStatusCompleted: 1},
				AmountByStatus:        map[domain.PaymentStatus]decimal.Decimal{domain.PaymentStatusCompleted: decimal.RequireFromString("1334.5")},
				AverageCompletedValue: decimal.RequireFromString("1334.5"),
				RefundedTotal:         decimal.Zero,
				Currencies:            []string{"JOD"},
			}, nil
		},
	})

	rr := postRPC(t, router, "/payments.list", `{"limit":5}`, owner)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if items, _ := decodeBody(t, rr)["payments"].([]any); len(items) != 1 {
		t.Fatalf("expected one payment, got %s", rr.Body.String())
	}

	rr = postRPC(t, router, "/payments.stats", ``, owner)
	stats := decodeBody(t, rr)
	if amounts, _ := stats["amountByStatus"].(map[string]any); amounts["completed"] != "1334.5" {
		t.Fatalf("unexpected stats %v", stats)
	}
}
