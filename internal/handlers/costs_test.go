package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

func costRouter(svc services.CostService) chi.Router {
	router := chi.NewRouter()
	NewCostHandlers(svc).Routes(router)
	return router
}

func TestCostHandlersBreakdown(t *testing.T) {
	var captured services.CostBreakdownCommand
	router := costRouter(&stubCostService{
		breakdownFunc: func(_ context.Context, cmd services.CostBreakdownCommand) (services.CostBreakdown, error) {
			captured = cmd
			d := decimal.RequireFromString
			return services.CostBreakdown{
				CostInputs:  domain.CostInputs{FOBValue: d("1000"), FreightCost: d("100"), InsuranceCost: d("50")},
				Rates:       domain.CostRates{DutyRate: d("0.05"), TaxRate: d("0.16"), AdditionalFees: decimal.Zero, Precision: 3},
				CIF:         d("1150"),
				CustomsDuty: d("57.5"),
				Subtotal:    d("1207.5"),
				SalesTax:    d("193.2"),
				TotalCost:   d("1400.7"),
			}, nil
		},
	})

	rr := postRPC(t, router, "/costs.breakdown", `{"fobValue":1000,"freightCost":"100","insuranceCost":50,"tariffCode":"8471.30"}`, owner)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(captured.FOBValue) != "1000" || string(captured.FreightCost) != `"100"` || captured.TariffCode != "8471.30" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.DutyRate != nil {
		t.Fatalf("expected omitted duty rate to stay nil")
	}
	body := decodeBody(t, rr)
	if body["cifValue"] != "1150" || body["totalCost"] != "1400.7" {
		t.Fatalf("unexpected breakdown %v", body)
	}
}

func TestCostHandlersVarianceNullPercent(t *testing.T) {
	pct := decimal.RequireFromString("10")
	router := costRouter(&stubCostService{
		varianceFunc: func(context.Context, services.VarianceCommand) ([]services.VarianceRecord, error) {
			return []services.VarianceRecord{
				{Component: domain.CostComponentFOB, Actual: decimal.RequireFromString("1100"), Estimated: decimal.RequireFromString("1000"), Variance: decimal.RequireFromString("100"), VariancePercent: &pct},
				{Component: domain.CostComponentInsurance, Actual: decimal.RequireFromString("5"), Estimated: decimal.Zero, Variance: decimal.RequireFromString("5")},
			}, nil
		},
	})

	rr := postRPC(t, router, "/costs.variance", `{"actual":{"fobValue":"1100"},"estimate":{"fobValue":"1000"}}`, owner)
	records, _ := decodeBody(t, rr)["records"].([]any)
	if len(records) != 2 {
		t.Fatalf("expected two records, got %s", rr.Body.String())
	}
	first := records[0].(map[string]any)
	second := records[1].(map[string]any)
	if first["variancePercent"] != "10" {
		t.Fatalf("unexpected percent %v", first["variancePercent"])
	}
	if v, present := second["variancePercent"]; !present || v != nil {
		t.Fatalf("expected explicit null percent, got %v (present=%v)", v, present)
	}
}

func TestCostHandlersFinalAmountAndConvert(t *testing.T) {
	router := costRouter(&stubCostService{
		finalFunc: func(_ context.Context, cmd services.FinalAmountCommand) (decimal.Decimal, error) {
			if string(cmd.DiscountPercent) != "10" {
				t.Fatalf("unexpected discount %s", cmd.DiscountPercent)
			}
			return decimal.RequireFromString("106"), nil
		},
		convertFunc: func(_ context.Context, cmd services.ConvertAmountCommand) (services.ConvertedAmount, error) {
			return services.ConvertedAmount{}, fmt.Errorf("%w: %w", services.ErrCostInvalidInput, domain.NewValidationError("to", "supported", "no exchange rate for XYZ"))
		},
	})

	rr := postRPC(t, router, "/costs.finalAmount", `{"amount":"100","taxRate":"16","discountPercent":10}`, owner)
	if body := decodeBody(t, rr); body["finalAmount"] != "106" {
		t.Fatalf("unexpected final amount %v", body)
	}

	rr = postRPC(t, router, "/costs.convert", `{"amount":"100","from":"JOD","to":"XYZ"}`, owner)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
