// Package customs derives customs cost breakdowns and compares them against earlier estimates.
package customs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// DefaultPrecision is the number of decimal places used for two-digit minor unit currencies.
const DefaultPrecision int32 = 2

const maxPrecision int32 = 4

// ErrInvalidInput is wrapped by every validation failure returned from this package.
var ErrInvalidInput = errors.New("customs: invalid input")

// Rates is a convenience constructor for CostRates at the default precision.
func Rates(dutyRate, taxRate, additionalFees decimal.Decimal) domain.CostRates {
	return domain.CostRates{
		DutyRate:       dutyRate,
		TaxRate:        taxRate,
		AdditionalFees: additionalFees,
		Precision:      DefaultPrecision,
	}
}

// Compute derives a breakdown from declared values and rates. Each derived amount is rounded half away
// from zero exactly once and later amounts build on the rounded earlier ones, so the printed lines always
// add up to the printed total.
func Compute(inputs domain.CostInputs, rates domain.CostRates) (domain.CostBreakdown, error) {
	if err := validate(inputs, rates); err != nil {
		return domain.CostBreakdown{}, err
	}

	places := rates.Precision
	cif := inputs.FOBValue.Add(inputs.FreightCost).Add(inputs.InsuranceCost).Round(places)
	duty := cif.Mul(rates.DutyRate).Round(places)
	subtotal := cif.Add(duty).Round(places)
	salesTax := subtotal.Mul(rates.TaxRate).Round(places)
	total := subtotal.Add(salesTax).Add(rates.AdditionalFees).Round(places)

	return domain.CostBreakdown{
		CostInputs:  inputs,
		Rates:       rates,
		CIF:         cif,
		CustomsDuty: duty,
		Subtotal:    subtotal,
		SalesTax:    salesTax,
		TotalCost:   total,
	}, nil
}

func validate(inputs domain.CostInputs, rates domain.CostRates) error {
	verr := &domain.ValidationError{}
	if !inputs.FOBValue.IsPositive() {
		verr.Add("fobValue", "positive", "must be greater than zero")
	}
	if inputs.FreightCost.IsNegative() {
		verr.Add("freightCost", "non_negative", "must not be negative")
	}
	if inputs.InsuranceCost.IsNegative() {
		verr.Add("insuranceCost", "non_negative", "must not be negative")
	}
	if rates.DutyRate.IsNegative() {
		verr.Add("dutyRate", "non_negative", "must not be negative")
	}
	if rates.TaxRate.IsNegative() {
		verr.Add("taxRate", "non_negative", "must not be negative")
	}
	if rates.AdditionalFees.IsNegative() {
		verr.Add("additionalFees", "non_negative", "must not be negative")
	}
	if rates.Precision < 0 || rates.Precision > maxPrecision {
		verr.Add("precision", "range", fmt.Sprintf("must be between 0 and %d", maxPrecision))
	}
	if verr.Empty() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, verr)
}
