package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"docmatch/pkg/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSubtotal(t *testing.T) {
	tests := []struct {
		name  string
		items []models.LineItem
		want  string
	}{
		{
			name: "sums line totals",
			items: []models.LineItem{
				{LineTotal: decPtr("5000.00")},
				{LineTotal: decPtr("160.50")},
			},
			want: "5160.50",
		},
		{
			name: "falls back to quantity times unit price",
			items: []models.LineItem{
				{Quantity: decPtr("2"), UnitPrice: decPtr("2500.00")},
				{Quantity: decPtr("3"), UnitPrice: decPtr("10.10")},
			},
			want: "5030.30",
		},
		{
			name: "item with neither contributes zero",
			items: []models.LineItem{
				{Description: "freight"},
				{LineTotal: decPtr("99.99")},
			},
			want: "99.99",
		},
		{
			name:  "empty list is zero",
			items: nil,
			want:  "0.00",
		},
		{
			name: "half cent rounds up",
			items: []models.LineItem{
				{Quantity: decPtr("3"), UnitPrice: decPtr("0.335")},
			},
			want: "1.01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subtotal(tt.items)
			assert.Equal(t, tt.want, got.StringFixed(2))
			assert.True(t, got.Equal(Subtotal(tt.items)), "must be stable across invocations")
		})
	}
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, "2.35", RoundMoney(dec("2.345")).StringFixed(2))
	assert.Equal(t, "2.34", RoundMoney(dec("2.344")).StringFixed(2))
	assert.Equal(t, "0.01", RoundMoney(dec("0.005")).StringFixed(2))
}

func TestTolerance(t *testing.T) {
	relative := dec("0.01")
	floor := dec("0.01")

	// 1% of 2000 dominates the floor.
	assert.True(t, Tolerance(dec("2000"), relative, floor).Equal(dec("20")))
	// Tiny baselines fall back to the absolute floor.
	assert.True(t, Tolerance(dec("0.50"), relative, floor).Equal(dec("0.01")))
	// Negative baselines use their magnitude.
	assert.True(t, Tolerance(dec("-2000"), relative, floor).Equal(dec("20")))
}

func TestWithinTolerance(t *testing.T) {
	tol := dec("20")
	assert.True(t, WithinTolerance(dec("2010"), dec("2000"), tol))
	assert.True(t, WithinTolerance(dec("1980"), dec("2000"), tol))
	assert.False(t, WithinTolerance(dec("2021"), dec("2000"), tol))
}
