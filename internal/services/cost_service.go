package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/customs"
	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/rates"
)

// rateSource abstracts rates.Provider for easier testing.
type rateSource interface {
	Current(ctx context.Context) rates.Table
}

// CostServiceDeps wires the dependencies required by the cost service.
type CostServiceDeps struct {
	Rates  rateSource
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type costService struct {
	rates  rateSource
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewCostService constructs the customs cost service.
func NewCostService(deps CostServiceDeps) (CostService, error) {
	if deps.Rates == nil {
		return nil, errors.New("cost service: rate source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &costService{rates: deps.Rates, logger: logger}, nil
}

// CalculateBreakdown parses the declared values, fills rates the caller left out from configuration and
// derives the breakdown.
func (s *costService) CalculateBreakdown(ctx context.Context, cmd CostBreakdownCommand) (CostBreakdown, error) {
	breakdown, err := s.breakdown(ctx, cmd, "")
	if err != nil {
		return CostBreakdown{}, err
	}
	return breakdown, nil
}

// AnalyzeVariance computes the actual and estimated breakdowns and compares them line by line.
func (s *costService) AnalyzeVariance(ctx context.Context, cmd VarianceCommand) ([]VarianceRecord, error) {
	verr := &domain.ValidationError{}
	actual, err := s.breakdown(ctx, cmd.Actual, "actual.")
	if err != nil && !collect(err, verr) {
		return nil, err
	}
	estimate, err := s.breakdown(ctx, cmd.Estimate, "estimate.")
	if err != nil && !collect(err, verr) {
		return nil, err
	}
	if !verr.Empty() {
		return nil, fmt.Errorf("%w: %w", ErrCostInvalidInput, verr)
	}
	return customs.Analyze(actual, estimate), nil
}

// CalculateFinalAmount applies percentage tax and discount to an amount, rounded to the currency precision.
func (s *costService) CalculateFinalAmount(ctx context.Context, cmd FinalAmountCommand) (decimal.Decimal, error) {
	verr := &domain.ValidationError{}
	amount := customs.DecimalField{Name: "amount", Required: true}.Parse(cmd.Amount, verr)
	tax := customs.DecimalField{Name: "taxRate"}.Parse(cmd.TaxRate, verr)
	discount := customs.DecimalField{Name: "discountPercent"}.Parse(cmd.DiscountPercent, verr)
	if !verr.Empty() {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrCostInvalidInput, verr)
	}
	table := s.rates.Current(ctx)
	currency := firstNonEmpty(cmd.Currency, table.BaseCurrency)
	result, err := customs.FinalAmount(amount, tax, discount, table.PrecisionFor(currency))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrCostInvalidInput, err)
	}
	return result, nil
}

// ConvertAmount converts between two configured currencies.
func (s *costService) ConvertAmount(ctx context.Context, cmd ConvertAmountCommand) (ConvertedAmount, error) {
	verr := &domain.ValidationError{}
	amount := customs.DecimalField{Name: "amount", Required: true}.Parse(cmd.Amount, verr)
	from := strings.ToUpper(strings.TrimSpace(cmd.From))
	to := strings.ToUpper(strings.TrimSpace(cmd.To))
	if from == "" {
		verr.Add("from", "required", "is required")
	}
	if to == "" {
		verr.Add("to", "required", "is required")
	}
	if !verr.Empty() {
		return ConvertedAmount{}, fmt.Errorf("%w: %w", ErrCostInvalidInput, verr)
	}

	table := s.rates.Current(ctx)
	rate, err := table.ExchangeRate(from, to)
	if err != nil {
		return ConvertedAmount{}, fmt.Errorf("%w: %w", ErrCostInvalidInput, err)
	}
	converted, err := table.Convert(amount, from, to)
	if err != nil {
		return ConvertedAmount{}, fmt.Errorf("%w: %w", ErrCostInvalidInput, err)
	}
	return ConvertedAmount{Amount: converted, Currency: to, Rate: rate}, nil
}

func (s *costService) breakdown(ctx context.Context, cmd CostBreakdownCommand, prefix string) (CostBreakdown, error) {
	table := s.rates.Current(ctx)
	base := table.CostRates(cmd.TariffCode)
	if currency := strings.TrimSpace(cmd.Currency); currency != "" {
		base.Precision = table.PrecisionFor(currency)
	}

	verr := &domain.ValidationError{}
	inputs := domain.CostInputs{
		FOBValue:      customs.DecimalField{Name: prefix + "fobValue", Required: true}.Parse(cmd.FOBValue, verr),
		FreightCost:   customs.DecimalField{Name: prefix + "freightCost"}.Parse(cmd.FreightCost, verr),
		InsuranceCost: customs.DecimalField{Name: prefix + "insuranceCost"}.Parse(cmd.InsuranceCost, verr),
	}
	applied := domain.CostRates{
		DutyRate:       customs.DecimalField{Name: prefix + "dutyRate", Default: base.DutyRate}.Parse(cmd.DutyRate, verr),
		TaxRate:        customs.DecimalField{Name: prefix + "taxRate", Default: base.TaxRate}.Parse(cmd.TaxRate, verr),
		AdditionalFees: customs.DecimalField{Name: prefix + "additionalFees", Default: base.AdditionalFees}.Parse(cmd.AdditionalFees, verr),
		Precision:      base.Precision,
	}
	if !verr.Empty() {
		return CostBreakdown{}, fmt.Errorf("%w: %w", ErrCostInvalidInput, verr)
	}

	breakdown, err := customs.Compute(inputs, applied)
	if err != nil {
		var fieldErr *domain.ValidationError
		if errors.As(err, &fieldErr) && prefix != "" {
			prefixed := &domain.ValidationError{}
			for _, v := range fieldErr.Violations {
				prefixed.Add(prefix+v.Field, v.Rule, v.Message)
			}
			return CostBreakdown{}, fmt.Errorf("%w: %w", ErrCostInvalidInput, prefixed)
		}
		return CostBreakdown{}, fmt.Errorf("%w: %w", ErrCostInvalidInput, err)
	}
	s.logger(ctx, "cost.breakdown_computed", map[string]any{
		"tariffCode": cmd.TariffCode,
		"dutyRate":   applied.DutyRate.String(),
		"taxRate":    applied.TaxRate.String(),
		"total":      breakdown.TotalCost.String(),
	})
	return breakdown, nil
}

// collect appends the violations carried by err to verr and reports whether err was a validation failure.
func collect(err error, verr *domain.ValidationError) bool {
	var fieldErr *domain.ValidationError
	if !errors.As(err, &fieldErr) {
		return false
	}
	verr.Violations = append(verr.Violations, fieldErr.Violations...)
	return true
}
