// Package pricing computes cart totals. All amounts are integers in the
// smallest currency unit; percentages are applied with decimal arithmetic
// and rounded half-up once per derived value.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// DiscountKind selects how Discount.Value is interpreted.
type DiscountKind string

const (
	DiscountNone    DiscountKind = "none"
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

// TaxTiming selects the base the tax rate applies to.
type TaxTiming string

const (
	TaxBeforeDiscount TaxTiming = "before_discount"
	TaxAfterDiscount  TaxTiming = "after_discount"
	TaxIncluded       TaxTiming = "included"
)

// ErrInvalidDiscount indicates an out-of-range discount.
var ErrInvalidDiscount = fmt.Errorf("pricing: invalid discount: %w", shared.ErrInvalidOperation)

// ErrInvalidTaxPolicy indicates an unusable tax configuration.
var ErrInvalidTaxPolicy = errors.New("pricing: invalid tax policy")

var hundred = decimal.NewFromInt(100)

// Discount applied to the whole cart.
type Discount struct {
	Kind  DiscountKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// NoDiscount returns the zero discount.
func NoDiscount() Discount {
	return Discount{Kind: DiscountNone}
}

// PercentOff builds a percent discount.
func PercentOff(percent int64) Discount {
	return Discount{Kind: DiscountPercent, Value: decimal.NewFromInt(percent)}
}

// AmountOff builds a fixed discount in the smallest currency unit.
func AmountOff(amount int64) Discount {
	return Discount{Kind: DiscountFixed, Value: decimal.NewFromInt(amount)}
}

// Validate checks kind and range of the discount.
func (d Discount) Validate() error {
	switch d.Kind {
	case DiscountNone, "":
		return nil
	case DiscountPercent:
		if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percent must be within 0-100", ErrInvalidDiscount)
		}
	case DiscountFixed:
		if d.Value.IsNegative() {
			return fmt.Errorf("%w: amount must be non-negative", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDiscount, d.Kind)
	}
	return nil
}

// TaxPolicy configures tax computation.
type TaxPolicy struct {
	Enabled bool            `json:"enabled"`
	Rate    decimal.Decimal `json:"rate"`
	Timing  TaxTiming       `json:"timing"`
}

// Validate checks rate and timing.
func (p TaxPolicy) Validate() error {
	if p.Rate.IsNegative() {
		return fmt.Errorf("%w: rate must be non-negative", ErrInvalidTaxPolicy)
	}
	switch p.Timing {
	case TaxBeforeDiscount, TaxAfterDiscount, TaxIncluded:
		return nil
	default:
		return fmt.Errorf("%w: unknown timing %q", ErrInvalidTaxPolicy, p.Timing)
	}
}

// Line is the priced view of a cart line.
type Line struct {
	UnitPrice int64
	Quantity  int64
}

// Totals holds the monetary summary of a cart or order. IncludedTax is the
// tax portion already contained in Total when the timing is included.
type Totals struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountAmount int64 `json:"discountAmount"`
	TaxAmount      int64 `json:"taxAmount"`
	IncludedTax    int64 `json:"includedTax"`
	Total          int64 `json:"total"`
}

// ComputeTotals derives subtotal, discount, tax and total. It is pure and
// never fails; out-of-range inputs are clamped and amounts saturate at
// math.MaxInt64 instead of overflowing.
func ComputeTotals(lines []Line, discount Discount, tax TaxPolicy) Totals {
	var subtotal int64
	for _, line := range lines {
		if line.Quantity <= 0 || line.UnitPrice < 0 {
			continue
		}
		subtotal = addSat(subtotal, mulSat(line.UnitPrice, line.Quantity))
	}

	discountAmount := clamp(discountFor(subtotal, discount), 0, subtotal)
	net := subtotal - discountAmount

	totals := Totals{Subtotal: subtotal, DiscountAmount: discountAmount}
	rate := tax.Rate
	if !tax.Enabled || rate.IsNegative() {
		rate = decimal.Zero
	}
	switch tax.Timing {
	case TaxBeforeDiscount:
		totals.TaxAmount = percentOf(subtotal, rate)
	case TaxIncluded:
		if rate.IsPositive() {
			totals.IncludedTax = roundHalfUp(decimal.NewFromInt(net).Mul(rate).Div(hundred.Add(rate)))
		}
	default:
		totals.TaxAmount = percentOf(net, rate)
	}
	totals.Total = addSat(net, totals.TaxAmount)
	return totals
}

func discountFor(subtotal int64, d Discount) int64 {
	switch d.Kind {
	case DiscountPercent:
		return percentOf(subtotal, d.Value)
	case DiscountFixed:
		return roundHalfUp(d.Value)
	default:
		return 0
	}
}

func percentOf(base int64, percent decimal.Decimal) int64 {
	if base <= 0 || !percent.IsPositive() {
		return 0
	}
	return roundHalfUp(decimal.NewFromInt(base).Mul(percent).Div(hundred))
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// roundHalfUp rounds non-negative values half-up; negatives read as zero.
func roundHalfUp(v decimal.Decimal) int64 {
	if v.IsNegative() {
		return 0
	}
	v = v.Round(0)
	if v.GreaterThan(maxAmount) {
		return math.MaxInt64
	}
	return v.IntPart()
}

// mulSat and addSat operate on non-negative amounts.
func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func addSat(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}
