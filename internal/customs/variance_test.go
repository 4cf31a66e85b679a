package customs

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

func TestAnalyzeReportsEveryComponent(t *testing.T) {
	rates := Rates(dec(t, "0.1"), dec(t, "0.16"), decimal.Zero)
	actual, err := Compute(domain.CostInputs{FOBValue: dec(t, "120"), FreightCost: dec(t, "10")}, rates)
	require.NoError(t, err)
	estimate, err := Compute(domain.CostInputs{FOBValue: dec(t, "100"), FreightCost: dec(t, "10")}, rates)
	require.NoError(t, err)

	records := Analyze(actual, estimate)
	require.Len(t, records, 6)

	components := make([]domain.CostComponent, 0, len(records))
	for _, r := range records {
		components = append(components, r.Component)
	}
	assert.Equal(t, []domain.CostComponent{
		domain.CostComponentFOB,
		domain.CostComponentFreight,
		domain.CostComponentInsurance,
		domain.CostComponentCustomsDuty,
		domain.CostComponentSalesTax,
		domain.CostComponentTotal,
	}, components)

	fob := records[0]
	assertDecimal(t, "20", fob.Variance, "fob variance")
	require.NotNil(t, fob.VariancePercent)
	assertDecimal(t, "20", *fob.VariancePercent, "fob percent")
	assert.Equal(t, 1, fob.Direction())

	freight := records[1]
	assert.True(t, freight.Variance.IsZero())
	assert.Equal(t, 0, freight.Direction())
}

func TestVarianceBelowEstimateIsNegative(t *testing.T) {
	record := Variance(domain.CostComponentSalesTax, dec(t, "75"), dec(t, "100"))
	assertDecimal(t, "-25", record.Variance, "variance")
	require.NotNil(t, record.VariancePercent)
	assertDecimal(t, "-25", *record.VariancePercent, "percent")
	assert.Equal(t, -1, record.Direction())
}

func TestVarianceZeroEstimateLeavesPercentUnset(t *testing.T) {
	record := Variance(domain.CostComponentInsurance, dec(t, "15"), decimal.Zero)
	assertDecimal(t, "15", record.Variance, "variance")
	assert.Nil(t, record.VariancePercent)
}

func TestVariancePercentRounding(t *testing.T) {
	record := Variance(domain.CostComponentFOB, dec(t, "100"), dec(t, "3"))
	require.NotNil(t, record.VariancePercent)
	assertDecimal(t, "3233.33", *record.VariancePercent, "percent")
}

func TestDecimalFieldParse(t *testing.T) {
	field := DecimalField{Name: "fobValue", Required: true}

	verr := &domain.ValidationError{}
	assertDecimal(t, "12.5", field.Parse(json.RawMessage(`12.5`), verr), "number")
	assertDecimal(t, "12.50", field.Parse(json.RawMessage(`"12.50"`), verr), "string")
	assert.True(t, verr.Empty())

	field.Parse(json.RawMessage(`"12,5"`), verr)
	field.Parse(json.RawMessage(`true`), verr)
	field.Parse(nil, verr)
	require.Len(t, verr.Violations, 3)
	assert.Equal(t, "number", verr.Violations[0].Rule)
	assert.Equal(t, "number", verr.Violations[1].Rule)
	assert.Equal(t, "required", verr.Violations[2].Rule)

	optional := DecimalField{Name: "freightCost", Default: decimal.Zero}
	verr = &domain.ValidationError{}
	assert.True(t, optional.Parse(json.RawMessage(`null`), verr).IsZero())
	assert.True(t, verr.Empty())
}

func TestDecimalFieldRejectsUnboundedValues(t *testing.T) {
	field := DecimalField{Name: "amount", Required: true}

	for _, raw := range []string{`"1e900000000"`, `1e-900000000`, `"1234567890123456"`, `"0.123456789"`, `1e16`} {
		verr := &domain.ValidationError{}
		got := field.Parse(json.RawMessage(raw), verr)
		require.Len(t, verr.Violations, 1, raw)
		assert.Equal(t, "range", verr.Violations[0].Rule, raw)
		assert.True(t, got.IsZero(), raw)
	}

	verr := &domain.ValidationError{}
	assertDecimal(t, "999999999999999.99", field.Parse(json.RawMessage(`"999999999999999.99"`), verr), "largest amount")
	assertDecimal(t, "1.5", field.Parse(json.RawMessage(`"1.5000000000000"`), verr), "trailing zeros")
	assertDecimal(t, "0.00000001", field.Parse(json.RawMessage(`"1e-8"`), verr), "smallest fraction")
	assert.True(t, verr.Empty())
}

func TestDecimalFieldEchoesRuneSafePrefix(t *testing.T) {
	verr := &domain.ValidationError{}
	DecimalField{Name: "amount"}.Parse(json.RawMessage(`"`+strings.Repeat("د", 40)+`"`), verr)
	require.Len(t, verr.Violations, 1)
	assert.True(t, utf8.ValidString(verr.Violations[0].Message))
	assert.Contains(t, verr.Violations[0].Message, strings.Repeat("د", 32))
}
