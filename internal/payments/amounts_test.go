package payments

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnitsFollowsCurrencyScale(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"100.00", "USD", 10000},
		{"12.345", "JOD", 12345},
		{"1500", "jpy", 1500},
		{"0.01", "USD", 1},
	}
	for _, tc := range cases {
		got, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
		require.NoError(t, err, tc.currency)
		assert.Equal(t, tc.want, got, "%s %s", tc.amount, tc.currency)
	}
}

func TestMinorUnitsRejectsUnknownCurrency(t *testing.T) {
	_, err := MinorUnits(decimal.NewFromInt(1), "ZZZ1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedCurrency))
}

func TestMinorUnitsRejectsLossyAmounts(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
	}{
		{"10.005", "USD"},
		{"1.5", "JPY"},
		{"12.3456", "JOD"},
		{"1e20", "USD"},
		{"-1e20", "USD"},
	}
	for _, tc := range cases {
		got, err := MinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
		require.Error(t, err, "%s %s", tc.amount, tc.currency)
		assert.True(t, errors.Is(err, ErrAmountNotRepresentable))
		assert.Zero(t, got)
	}

	got, err := MinorUnits(decimal.RequireFromString("92233720368547758.07"), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)
}

func TestScale(t *testing.T) {
	for code, want := range map[string]int32{"USD": 2, "jod": 3, "JPY": 0} {
		got, err := Scale(code)
		require.NoError(t, err)
		assert.Equal(t, want, got, code)
	}
	_, err := Scale("??")
	assert.True(t, errors.Is(err, ErrUnsupportedCurrency))
}

func TestFromMinorUnitsRoundTrips(t *testing.T) {
	assert.True(t, FromMinorUnits(12345, "JOD").Equal(decimal.RequireFromString("12.345")))
	assert.True(t, FromMinorUnits(10000, "USD").Equal(decimal.RequireFromString("100")))
	assert.True(t, FromMinorUnits(1500, "JPY").Equal(decimal.NewFromInt(1500)))
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey("checkout", "pay_1")
	b := IdempotencyKey("checkout", "pay_1")
	c := IdempotencyKey("refund", "pay_1", "ref_1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}
