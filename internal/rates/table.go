// Package rates holds the externally supplied duty, tax, precision and exchange rate configuration.
package rates

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/customs"
	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

var (
	// ErrUnknownCurrency is returned when no exchange rate is configured for a currency.
	ErrUnknownCurrency = errors.New("rates: unknown currency")
	// ErrInvalidTable is returned when a rate table fails validation.
	ErrInvalidTable = errors.New("rates: invalid table")
)

// Table is an immutable snapshot of rate configuration.
type Table struct {
	BaseCurrency   string
	DutyRate       decimal.Decimal
	TaxRate        decimal.Decimal
	AdditionalFees decimal.Decimal
	// Precision maps ISO currency codes to minor-unit digits. Missing currencies use customs.DefaultPrecision.
	Precision map[string]int32
	// ExchangeRates maps ISO currency codes to units of that currency per one unit of BaseCurrency.
	ExchangeRates map[string]decimal.Decimal
	// TariffDutyRates overrides DutyRate per tariff chapter (first two digits of the HS code).
	TariffDutyRates map[string]decimal.Decimal
}

// CostRates resolves the rates applied to a declaration under the given tariff code.
func (t Table) CostRates(tariffCode string) domain.CostRates {
	duty := t.DutyRate
	if chapter := tariffChapter(tariffCode); chapter != "" {
		if override, ok := t.TariffDutyRates[chapter]; ok {
			duty = override
		}
	}
	return domain.CostRates{
		DutyRate:       duty,
		TaxRate:        t.TaxRate,
		AdditionalFees: t.AdditionalFees,
		Precision:      t.PrecisionFor(t.BaseCurrency),
	}
}

// PrecisionFor returns the minor-unit digits of currency.
func (t Table) PrecisionFor(currency string) int32 {
	if places, ok := t.Precision[normaliseCurrency(currency)]; ok {
		return places
	}
	return customs.DefaultPrecision
}

// ExchangeRate returns units of to per unit of from, routed through the base currency.
func (t Table) ExchangeRate(from, to string) (decimal.Decimal, error) {
	from = normaliseCurrency(from)
	to = normaliseCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	fromRate, err := t.baseRate(from)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := t.baseRate(to)
	if err != nil {
		return decimal.Zero, err
	}
	return toRate.DivRound(fromRate, 16), nil
}

// Convert converts amount between currencies and rounds to the target currency precision.
func (t Table) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := t.ExchangeRate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return customs.Convert(amount, rate, t.PrecisionFor(to))
}

func (t Table) baseRate(currency string) (decimal.Decimal, error) {
	if currency == normaliseCurrency(t.BaseCurrency) {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := t.ExchangeRates[currency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	return rate, nil
}

// Validate checks the table for values the calculator would reject.
func (t Table) Validate() error {
	var problems []string
	if len(normaliseCurrency(t.BaseCurrency)) != 3 {
		problems = append(problems, "baseCurrency must be a 3 letter code")
	}
	if t.DutyRate.IsNegative() {
		problems = append(problems, "dutyRate must not be negative")
	}
	if t.TaxRate.IsNegative() {
		problems = append(problems, "taxRate must not be negative")
	}
	if t.AdditionalFees.IsNegative() {
		problems = append(problems, "additionalFees must not be negative")
	}
	for code, places := range t.Precision {
		if places < 0 || places > 4 {
			problems = append(problems, fmt.Sprintf("precision.%s must be between 0 and 4", code))
		}
	}
	for code, rate := range t.ExchangeRates {
		if !rate.IsPositive() {
			problems = append(problems, fmt.Sprintf("exchangeRates.%s must be positive", code))
		}
	}
	for chapter, rate := range t.TariffDutyRates {
		if rate.IsNegative() {
			problems = append(problems, fmt.Sprintf("tariffDutyRates.%s must not be negative", chapter))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidTable, strings.Join(problems, "; "))
}

func (t Table) clone() Table {
	out := t
	out.Precision = make(map[string]int32, len(t.Precision))
	for k, v := range t.Precision {
		out.Precision[k] = v
	}
	out.ExchangeRates = make(map[string]decimal.Decimal, len(t.ExchangeRates))
	for k, v := range t.ExchangeRates {
		out.ExchangeRates[k] = v
	}
	out.TariffDutyRates = make(map[string]decimal.Decimal, len(t.TariffDutyRates))
	for k, v := range t.TariffDutyRates {
		out.TariffDutyRates[k] = v
	}
	return out
}

func tariffChapter(code string) string {
	var digits strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			if digits.Len() == 2 {
				return digits.String()
			}
		}
	}
	return ""
}

func normaliseCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
