package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/observability"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

const (
	maxWebhookBody        = 256 << 10
	stripeSignatureHeader = "Stripe-Signature"
)

type webhookDecoder interface {
	Decode(payload []byte, signature string) (payments.WebhookEvent, error)
}

// WebhookHandlers receives gateway notifications and feeds them into the payment lifecycle.
type WebhookHandlers struct {
	stripe   webhookDecoder
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook endpoints. A nil decoder leaves the Stripe endpoint unmounted.
func NewWebhookHandlers(stripe webhookDecoder, payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{stripe: stripe, payments: payments}
}

// Routes registers the webhook endpoints on r.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil || h.stripe == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx).Named("webhook.stripe")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body too large", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.stripe.Decode(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			logger.Warn("webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	logger = logger.With(
		zap.String("event_id", observability.SanitizeResourceID(event.ID)),
		zap.String("event_type", observability.SanitizeResourceID(event.Type)),
		zap.String("payment_id", observability.SanitizeResourceID(event.PaymentID)),
	)
	if event.Outcome == payments.OutcomeIgnored {
		logger.Debug("webhook ignored")
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	_, err = h.payments.ApplyGatewayEvent(ctx, services.GatewayEvent{
		ID:        event.ID,
		Type:      event.Type,
		PaymentID: event.PaymentID,
		Reference: event.Reference,
		Succeeded: event.Outcome == payments.OutcomeSucceeded,
		Failed:    event.Outcome == payments.OutcomeFailed,
		Reason:    event.Reason,
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrPaymentUnavailable), errors.Is(err, services.ErrPaymentConflict):
		// Non-2xx makes Stripe redeliver.
		logger.Warn("webhook apply failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "payment store unavailable", http.StatusServiceUnavailable))
		return
	default:
		logger.Info("webhook not applied", zap.Error(err))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}
