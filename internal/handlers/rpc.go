package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/auth"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

const maxRPCBody = 32 << 10

// actorFromRequest maps the Firebase identity onto the service actor. Staff and admin roles may act on
// payments of other users.
func actorFromRequest(r *http.Request) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return services.Actor{}, false
	}
	return services.Actor{ID: identity.UID, Staff: identity.IsStaff()}, true
}

// IdempotencyRequester scopes Idempotency-Key records to the authenticated caller.
func IdempotencyRequester(r *http.Request) string {
	actor, _ := actorFromRequest(r)
	return actor.ID
}

// requireActor writes 401 and reports false when the request carries no identity.
func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	}
	return actor, ok
}

// decodeRPC reads the procedure arguments. It writes the error response itself and reports false on failure.
func decodeRPC(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, maxRPCBody, dst); err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be a valid JSON object", http.StatusBadRequest))
		return false
	}
	return true
}

// writeServiceError maps service sentinels onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		verr  *domain.ValidationError
		state *domain.InvalidStateError
	)
	switch {
	case errors.As(err, &verr):
		violations := make([]map[string]string, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			violations = append(violations, map[string]string{"field": v.Field, "rule": v.Rule, "message": v.Message})
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", verr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"violations": violations}))
	case errors.As(err, &state):
		allowed := make([]string, 0, len(state.Allowed))
		for _, s := range state.Allowed {
			allowed = append(allowed, string(s))
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", state.Error(), http.StatusConflict).
			WithDetails(map[string]any{"operation": state.Operation, "current": string(state.Current), "allowed": allowed}))
	case errors.Is(err, services.ErrPaymentInvalidInput), errors.Is(err, services.ErrCostInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvoiceInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", "payment has not completed", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "payment belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway request failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "payment was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable), errors.Is(err, services.ErrInvoiceUnavailable), errors.Is(err, services.ErrCostUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request failed", http.StatusInternalServerError))
	}
}
