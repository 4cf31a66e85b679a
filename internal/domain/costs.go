package domain

import "github.com/shopspring/decimal"

// CostInputs are the declared goods and shipping values of a customs declaration, in the base currency.
type CostInputs struct {
	FOBValue      decimal.Decimal
	FreightCost   decimal.Decimal
	InsuranceCost decimal.Decimal
}

// CostRates carries externally configured rates. DutyRate and TaxRate are fractions (0.15 = 15%).
type CostRates struct {
	DutyRate       decimal.Decimal
	TaxRate        decimal.Decimal
	AdditionalFees decimal.Decimal
	// Precision is the number of minor-unit digits used when rounding derived amounts.
	Precision int32
}

// CostBreakdown holds the inputs, the rates applied and every derived amount.
type CostBreakdown struct {
	CostInputs
	Rates       CostRates
	CIF         decimal.Decimal
	CustomsDuty decimal.Decimal
	Subtotal    decimal.Decimal
	SalesTax    decimal.Decimal
	TotalCost   decimal.Decimal
}

// CostComponent names a tracked line of a breakdown.
type CostComponent string

const (
	CostComponentFOB         CostComponent = "fob"
	CostComponentFreight     CostComponent = "freight"
	CostComponentInsurance   CostComponent = "insurance"
	CostComponentCustomsDuty CostComponent = "customsDuty"
	CostComponentSalesTax    CostComponent = "salesTax"
	CostComponentTotal       CostComponent = "total"
)

// VarianceRecord compares the actual value of a component against its estimate. VariancePercent is nil
// when the estimate is zero.
type VarianceRecord struct {
	Component       CostComponent
	Actual          decimal.Decimal
	Estimated       decimal.Decimal
	Variance        decimal.Decimal
	VariancePercent *decimal.Decimal
}

// Direction reports whether actual exceeded (+1), matched (0) or fell below (-1) the estimate.
func (v VarianceRecord) Direction() int {
	return v.Variance.Sign()
}
