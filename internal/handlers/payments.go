package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

// PaymentHandlers exposes the payment lifecycle procedures.
type PaymentHandlers struct {
	payments    services.PaymentService
	limiter     rateLimiter
	idempotency func(http.Handler) http.Handler
}

// PaymentHandlersOption customises PaymentHandlers.
type PaymentHandlersOption func(*PaymentHandlers)

// WithPaymentRateLimit limits mutating procedures per caller.
func WithPaymentRateLimit(perMinute, burst int) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.limiter = newCallerRateLimiter(perMinute, burst, nil)
	}
}

// WithIdempotency wraps payments.create and payments.refund with Idempotency-Key replay.
func WithIdempotency(mw func(http.Handler) http.Handler) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.idempotency = mw
	}
}

// NewPaymentHandlers constructs the payment procedures.
func NewPaymentHandlers(payments services.PaymentService, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the procedures on r.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	mutating := r.With(limitByCaller(h.limiter))
	replayable := mutating
	if h.idempotency != nil {
		replayable = mutating.With(h.idempotency)
	}

	replayable.Post("/payments.create", h.create)
	replayable.Post("/payments.refund", h.refund)
	mutating.Post("/payments.process", h.process)
	mutating.Post("/payments.confirm", h.confirm)
	mutating.Post("/payments.fail", h.fail)
	mutating.Post("/payments.cancel", h.cancel)

	r.Post("/payments.get", h.get)
	r.Post("/payments.list", h.list)
	r.Post("/payments.stats", h.stats)
	r.Post("/payments.refunds", h.refunds)
}

type createPaymentRequest struct {
	UserID      string            `json:"userId"`
	Amount      json.RawMessage   `json:"amount"`
	Currency    string            `json:"currency"`
	Method      string            `json:"method"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	PayerEmail  string            `json:"payerEmail"`
}

type processPaymentRequest struct {
	PaymentID  string `json:"paymentId"`
	GatewayRef string `json:"gatewayRef"`
	Provider   string `json:"provider"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type paymentIDRequest struct {
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

type refundPaymentRequest struct {
	PaymentID string          `json:"paymentId"`
	Reason    string          `json:"reason"`
	Note      string          `json:"note"`
	Amount    json.RawMessage `json:"amount"`
}

type listPaymentsRequest struct {
	UserID string `json:"userId"`
	Limit  int    `json:"limit"`
}

func (h *PaymentHandlers) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createPaymentRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.CreatePayment(r.Context(), services.CreatePaymentCommand{
		Actor:       actor,
		UserID:      req.UserID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Description: req.Description,
		Metadata:    req.Metadata,
		PayerEmail:  req.PayerEmail,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newPaymentResponse(payment))
}

func (h *PaymentHandlers) process(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req processPaymentRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.ProcessPayment(r.Context(), services.ProcessPaymentCommand{
		Actor:      actor,
		PaymentID:  req.PaymentID,
		GatewayRef: req.GatewayRef,
		Provider:   req.Provider,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.ConfirmPayment(r.Context(), services.ConfirmPaymentCommand{Actor: actor, PaymentID: req.PaymentID})
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) fail(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.FailPayment(r.Context(), services.FailPaymentCommand{Actor: actor, PaymentID: req.PaymentID, Reason: req.Reason})
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.CancelPayment(r.Context(), services.CancelPaymentCommand{Actor: actor, PaymentID: req.PaymentID, Reason: req.Reason})
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) refund(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req refundPaymentRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.RefundPayment(r.Context(), services.RefundPaymentCommand{
		Actor:     actor,
		PaymentID: req.PaymentID,
		Reason:    req.Reason,
		Note:      req.Note,
		Amount:    req.Amount,
	})
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	payment, err := h.payments.GetPayment(r.Context(), actor, req.PaymentID)
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req listPaymentsRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	list, err := h.payments.ListUserPayments(r.Context(), actor, req.UserID, req.Limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]paymentResponse, 0, len(list))
	for _, payment := range list {
		items = append(items, newPaymentResponse(payment))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payments": items})
}

func (h *PaymentHandlers) stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req listPaymentsRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	stats, err := h.payments.GetStats(r.Context(), actor, req.UserID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newStatsResponse(stats))
}

func (h *PaymentHandlers) refunds(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	list, err := h.payments.ListRefunds(r.Context(), actor, req.PaymentID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]refundResponse, 0, len(list))
	for _, refund := range list {
		items = append(items, newRefundResponse(refund))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"refunds": items})
}

func (h *PaymentHandlers) respond(w http.ResponseWriter, r *http.Request, payment services.Payment, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPaymentResponse(payment))
}
