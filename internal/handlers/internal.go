package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

// InternalHandlers serves scheduler-triggered maintenance endpoints.
type InternalHandlers struct {
	reconciler services.ReconciliationService
}

// NewInternalHandlers constructs internal endpoints.
func NewInternalHandlers(reconciler services.ReconciliationService) *InternalHandlers {
	return &InternalHandlers{reconciler: reconciler}
}

// Routes registers the endpoints on r.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reconcile", h.reconcile)
}

type reconcileResponse struct {
	Examined  int `json:"examined"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Attached  int `json:"attached"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

func (h *InternalHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "reconciliation not configured", http.StatusServiceUnavailable))
		return
	}
	report, err := h.reconciler.Reconcile(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcileResponse(report))
}
