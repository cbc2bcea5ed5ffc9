package extract

import (
	"github.com/shopspring/decimal"

	"docmatch/pkg/models"
)

// Subtotal derives the document subtotal from its line items: the sum of
// line totals, using quantity x unit price for lines without an extracted
// total, rounded to 2 decimal places with round-half-up (not banker's
// rounding, which would bias long runs of .5 cents). Returns zero for an
// empty list and never fails.
//
// This is the only fully deterministic source of truth in the pipeline;
// every extracted monetary field is validated against expectations derived
// from it.
func Subtotal(items []models.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.EffectiveTotal())
	}
	return RoundMoney(sum)
}

// RoundMoney rounds to 2 decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Tolerance returns the allowed deviation for validating a value against a
// ground-truth baseline: the relative tolerance of the baseline, floored at
// the absolute minimum.
func Tolerance(baseline, relative, floor decimal.Decimal) decimal.Decimal {
	tol := baseline.Abs().Mul(relative)
	if tol.LessThan(floor) {
		return floor
	}
	return tol
}

// WithinTolerance reports whether value is within tolerance of expected.
func WithinTolerance(value, expected, tolerance decimal.Decimal) bool {
	return value.Sub(expected).Abs().LessThanOrEqual(tolerance)
}
