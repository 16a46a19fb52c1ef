package pricing

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func ppn(timing TaxTiming) TaxPolicy {
	return TaxPolicy{Enabled: true, Rate: decimal.NewFromInt(10), Timing: timing}
}

func TestComputeTotalsScenario(t *testing.T) {
	lines := []Line{{UnitPrice: 25000, Quantity: 2}}
	totals := ComputeTotals(lines, PercentOff(10), ppn(TaxAfterDiscount))
	require.Equal(t, Totals{Subtotal: 50000, DiscountAmount: 5000, TaxAmount: 4500, Total: 49500}, totals)

	require.Equal(t, totals, ComputeTotals(lines, PercentOff(10), ppn(TaxAfterDiscount)))
}

func TestComputeTotalsTaxTimings(t *testing.T) {
	lines := []Line{{UnitPrice: 25000, Quantity: 2}}

	before := ComputeTotals(lines, PercentOff(10), ppn(TaxBeforeDiscount))
	require.EqualValues(t, 5000, before.TaxAmount)
	require.EqualValues(t, 50000, before.Total)

	included := ComputeTotals(lines, PercentOff(10), ppn(TaxIncluded))
	require.Zero(t, included.TaxAmount)
	require.EqualValues(t, 45000, included.Total)
	require.EqualValues(t, 4091, included.IncludedTax)

	disabled := ComputeTotals(lines, PercentOff(10), TaxPolicy{Rate: decimal.NewFromInt(10), Timing: TaxAfterDiscount})
	require.Zero(t, disabled.TaxAmount)
	require.EqualValues(t, 45000, disabled.Total)
}

func TestComputeTotalsDiscounts(t *testing.T) {
	lines := []Line{{UnitPrice: 1000, Quantity: 3}, {UnitPrice: 500, Quantity: 1}}
	noTax := TaxPolicy{Timing: TaxAfterDiscount}

	require.EqualValues(t, 0, ComputeTotals(lines, NoDiscount(), noTax).DiscountAmount)
	require.EqualValues(t, 1000, ComputeTotals(lines, AmountOff(1000), noTax).DiscountAmount)

	over := ComputeTotals(lines, AmountOff(10000), noTax)
	require.EqualValues(t, 3500, over.DiscountAmount)
	require.Zero(t, over.Total)

	overPercent := ComputeTotals(lines, Discount{Kind: DiscountPercent, Value: decimal.NewFromInt(150)}, noTax)
	require.EqualValues(t, 3500, overPercent.DiscountAmount)

	negative := ComputeTotals(lines, AmountOff(-5), noTax)
	require.Zero(t, negative.DiscountAmount)
}

func TestComputeTotalsRoundsHalfUp(t *testing.T) {
	lines := []Line{{UnitPrice: 333, Quantity: 1}}
	noTax := TaxPolicy{Timing: TaxAfterDiscount}

	// 333 * 15% = 49.95
	require.EqualValues(t, 50, ComputeTotals(lines, PercentOff(15), noTax).DiscountAmount)

	// 50 * 11% = 5.5
	half := ComputeTotals([]Line{{UnitPrice: 50, Quantity: 1}}, NoDiscount(), TaxPolicy{Enabled: true, Rate: decimal.NewFromInt(11), Timing: TaxAfterDiscount})
	require.EqualValues(t, 6, half.TaxAmount)
	require.EqualValues(t, 56, half.Total)

	fractional := Discount{Kind: DiscountPercent, Value: decimal.RequireFromString("12.5")}
	require.EqualValues(t, 42, ComputeTotals(lines, fractional, noTax).DiscountAmount)
}

func TestComputeTotalsInvariants(t *testing.T) {
	discounts := []Discount{NoDiscount(), PercentOff(0), PercentOff(33), PercentOff(100), AmountOff(1), AmountOff(99999)}
	timings := []TaxTiming{TaxBeforeDiscount, TaxAfterDiscount, TaxIncluded}
	carts := [][]Line{nil, {{UnitPrice: 1, Quantity: 1}}, {{UnitPrice: 12345, Quantity: 7}, {UnitPrice: 0, Quantity: 2}}}

	for _, lines := range carts {
		for _, d := range discounts {
			for _, timing := range timings {
				got := ComputeTotals(lines, d, ppn(timing))
				require.GreaterOrEqual(t, got.Total, int64(0))
				require.LessOrEqual(t, got.DiscountAmount, got.Subtotal)
				require.Equal(t, got, ComputeTotals(lines, d, ppn(timing)))
			}
		}
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, PercentOff(100).Validate())
	require.NoError(t, AmountOff(0).Validate())
	require.ErrorIs(t, PercentOff(101).Validate(), shared.ErrInvalidOperation)
	require.ErrorIs(t, AmountOff(-1).Validate(), ErrInvalidDiscount)
	require.ErrorIs(t, Discount{Kind: "bogo"}.Validate(), ErrInvalidDiscount)

	require.NoError(t, ppn(TaxIncluded).Validate())
	require.ErrorIs(t, TaxPolicy{Timing: "later"}.Validate(), ErrInvalidTaxPolicy)
	require.ErrorIs(t, TaxPolicy{Rate: decimal.NewFromInt(-1), Timing: TaxIncluded}.Validate(), ErrInvalidTaxPolicy)
}

func TestFormatAmount(t *testing.T) {
	require.True(t, strings.HasPrefix(FormatAmount(49500), "Rp "))
	require.True(t, strings.HasPrefix(FormatAmount(-5000), "-Rp "))
}

func TestComputeTotalsSaturatesLargeAmounts(t *testing.T) {
	lines := []Line{
		{UnitPrice: math.MaxInt64 / 2, Quantity: 3},
		{UnitPrice: 1_000_000, Quantity: 5},
	}
	for _, timing := range []TaxTiming{TaxBeforeDiscount, TaxAfterDiscount, TaxIncluded} {
		got := ComputeTotals(lines, PercentOff(10), ppn(timing))
		require.EqualValues(t, int64(math.MaxInt64), got.Subtotal)
		require.Positive(t, got.Total)
		require.LessOrEqual(t, got.DiscountAmount, got.Subtotal)
	}

	got := ComputeTotals([]Line{{UnitPrice: math.MaxInt64, Quantity: 1}}, NoDiscount(), ppn(TaxBeforeDiscount))
	require.EqualValues(t, 922337203685477581, got.TaxAmount)
	require.EqualValues(t, int64(math.MaxInt64), got.Total)
}
