package customs

import (
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// FinalAmount applies a tax percentage and a discount percentage, both measured against the original
// amount, and rounds the result once. FinalAmount(100, 16, 10) is 106.
func FinalAmount(amount, taxPercent, discountPercent decimal.Decimal, places int32) (decimal.Decimal, error) {
	verr := &domain.ValidationError{}
	if amount.IsNegative() {
		verr.Add("amount", "non_negative", "must not be negative")
	}
	if taxPercent.IsNegative() {
		verr.Add("taxRate", "non_negative", "must not be negative")
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		verr.Add("discountPercent", "range", "must be between 0 and 100")
	}
	if places < 0 || places > maxPrecision {
		verr.Add("precision", "range", fmt.Sprintf("must be between 0 and %d", maxPrecision))
	}
	if !verr.Empty() {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrInvalidInput, verr)
	}

	tax := amount.Mul(taxPercent).Div(hundred)
	discount := amount.Mul(discountPercent).Div(hundred)
	return amount.Add(tax).Sub(discount).Round(places), nil
}

// Convert moves an amount between currencies using rate = units of target per unit of source.
func Convert(amount, rate decimal.Decimal, places int32) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrInvalidInput, domain.NewValidationError("rate", "positive", "exchange rate must be greater than zero"))
	}
	return amount.Mul(rate).Round(places), nil
}
