package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

// InvoiceHandlers exposes invoice lookup and delivery retry.
type InvoiceHandlers struct {
	invoices services.InvoiceService
}

// NewInvoiceHandlers constructs the invoice procedures.
func NewInvoiceHandlers(invoices services.InvoiceService) *InvoiceHandlers {
	return &InvoiceHandlers{invoices: invoices}
}

// Routes registers the procedures on r.
func (h *InvoiceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/invoices.get", h.get)
	r.Post("/invoices.retryDelivery", h.retry)
}

func (h *InvoiceHandlers) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	invoice, err := h.invoices.GetInvoice(r.Context(), actor, req.PaymentID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newInvoiceResponse(invoice))
}

func (h *InvoiceHandlers) retry(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentIDRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	invoice, err := h.invoices.RetryDelivery(r.Context(), actor, req.PaymentID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newInvoiceResponse(invoice))
}
