package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

// CostHandlers exposes the customs cost calculator. The procedures are pure and keep no state.
type CostHandlers struct {
	costs services.CostService
}

// NewCostHandlers constructs the cost procedures.
func NewCostHandlers(costs services.CostService) *CostHandlers {
	return &CostHandlers{costs: costs}
}

// Routes registers the procedures on r.
func (h *CostHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/costs.breakdown", h.breakdown)
	r.Post("/costs.variance", h.variance)
	r.Post("/costs.finalAmount", h.finalAmount)
	r.Post("/costs.convert", h.convert)
}

type breakdownRequest struct {
	FOBValue       json.RawMessage `json:"fobValue"`
	FreightCost    json.RawMessage `json:"freightCost"`
	InsuranceCost  json.RawMessage `json:"insuranceCost"`
	DutyRate       json.RawMessage `json:"dutyRate"`
	TaxRate        json.RawMessage `json:"taxRate"`
	AdditionalFees json.RawMessage `json:"additionalFees"`
	TariffCode     string          `json:"tariffCode"`
	Currency       string          `json:"currency"`
}

func (b breakdownRequest) command() services.CostBreakdownCommand {
	return services.CostBreakdownCommand{
		FOBValue:       b.FOBValue,
		FreightCost:    b.FreightCost,
		InsuranceCost:  b.InsuranceCost,
		DutyRate:       b.DutyRate,
		TaxRate:        b.TaxRate,
		AdditionalFees: b.AdditionalFees,
		TariffCode:     b.TariffCode,
		Currency:       b.Currency,
	}
}

type varianceRequest struct {
	Actual   breakdownRequest `json:"actual"`
	Estimate breakdownRequest `json:"estimate"`
}

type finalAmountRequest struct {
	Amount          json.RawMessage `json:"amount"`
	TaxRate         json.RawMessage `json:"taxRate"`
	DiscountPercent json.RawMessage `json:"discountPercent"`
	Currency        string          `json:"currency"`
}

type convertRequest struct {
	Amount json.RawMessage `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

func (h *CostHandlers) breakdown(w http.ResponseWriter, r *http.Request) {
	var req breakdownRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	breakdown, err := h.costs.CalculateBreakdown(r.Context(), req.command())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newBreakdownResponse(breakdown))
}

func (h *CostHandlers) variance(w http.ResponseWriter, r *http.Request) {
	var req varianceRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	records, err := h.costs.AnalyzeVariance(r.Context(), services.VarianceCommand{
		Actual:   req.Actual.command(),
		Estimate: req.Estimate.command(),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"records": newVarianceResponse(records)})
}

func (h *CostHandlers) finalAmount(w http.ResponseWriter, r *http.Request) {
	var req finalAmountRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	amount, err := h.costs.CalculateFinalAmount(r.Context(), services.FinalAmountCommand{
		Amount:          req.Amount,
		TaxRate:         req.TaxRate,
		DiscountPercent: req.DiscountPercent,
		Currency:        req.Currency,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"finalAmount": formatAmount(amount)})
}

func (h *CostHandlers) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decodeRPC(w, r, &req) {
		return
	}
	converted, err := h.costs.ConvertAmount(r.Context(), services.ConvertAmountCommand{Amount: req.Amount, From: req.From, To: req.To})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"amount":   formatAmount(converted.Amount),
		"currency": converted.Currency,
		"rate":     formatAmount(converted.Rate),
	})
}
