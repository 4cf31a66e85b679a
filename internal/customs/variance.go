package customs

import (
	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

// PercentPrecision is the number of decimal places kept on variance percentages.
const PercentPrecision int32 = 2

const divisionPrecision int32 = 16

var hundred = decimal.NewFromInt(100)

// Analyze compares an actual breakdown against an estimate, one record per tracked component followed by
// the aggregate total. A positive variance means the actual amount exceeded the estimate.
func Analyze(actual, estimate domain.CostBreakdown) []domain.VarianceRecord {
	pairs := []struct {
		component domain.CostComponent
		actual    decimal.Decimal
		estimated decimal.Decimal
	}{
		{domain.CostComponentFOB, actual.FOBValue, estimate.FOBValue},
		{domain.CostComponentFreight, actual.FreightCost, estimate.FreightCost},
		{domain.CostComponentInsurance, actual.InsuranceCost, estimate.InsuranceCost},
		{domain.CostComponentCustomsDuty, actual.CustomsDuty, estimate.CustomsDuty},
		{domain.CostComponentSalesTax, actual.SalesTax, estimate.SalesTax},
		{domain.CostComponentTotal, actual.TotalCost, estimate.TotalCost},
	}

	records := make([]domain.VarianceRecord, 0, len(pairs))
	for _, p := range pairs {
		records = append(records, Variance(p.component, p.actual, p.estimated))
	}
	return records
}

// Variance builds a single record. The percentage is left nil when the estimate is zero.
func Variance(component domain.CostComponent, actual, estimated decimal.Decimal) domain.VarianceRecord {
	record := domain.VarianceRecord{
		Component: component,
		Actual:    actual,
		Estimated: estimated,
		Variance:  actual.Sub(estimated),
	}
	if estimated.IsZero() {
		return record
	}
	pct := record.Variance.DivRound(estimated, divisionPrecision).Mul(hundred).Round(PercentPrecision)
	record.VariancePercent = &pct
	return record
}
