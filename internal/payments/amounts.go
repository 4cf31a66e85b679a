package payments

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// Scale returns the ISO 4217 minor-unit digits of code (2 for USD, 3 for JOD, 0 for JPY).
func Scale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// MinorUnits converts amount to the integer minor-unit count gateways expect. Amounts finer than the
// currency's minor unit or beyond int64 are rejected rather than rounded.
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale, err := Scale(code)
	if err != nil {
		return 0, err
	}
	shifted := amount.Shift(scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrAmountNotRepresentable, amount.String(), scale)
	}
	if shifted.Abs().GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%w: %s %s overflows minor units", ErrAmountNotRepresentable, amount.String(), code)
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(value int64, code string) decimal.Decimal {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return decimal.NewFromInt(value)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return decimal.New(value, -int32(scale))
}
