package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemNumber(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "leading zeros dropped", raw: "013", want: "13"},
		{name: "plain integer unchanged", raw: "13", want: "13"},
		{name: "all zeros collapse to zero", raw: "000", want: "0"},
		{name: "whitespace trimmed", raw: "  42 ", want: "42"},
		{name: "alphanumeric kept verbatim", raw: "A-013", want: "A-013"},
		{name: "empty stays empty", raw: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ItemNumber(tt.raw))
		})
	}
}

func TestCurrency(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantCode   string
		wantMethod CurrencyProvenance
	}{
		{name: "iso code", text: "Amount due: 120.00 USD", wantCode: "USD", wantMethod: CurrencyFromISOCode},
		{name: "lowercase iso code", text: "total in eur", wantCode: "EUR", wantMethod: CurrencyFromISOCode},
		{name: "dollar symbol", text: "Total: $2,160.00", wantCode: "USD", wantMethod: CurrencyFromSymbol},
		{name: "euro symbol", text: "Gesamt: €99,00", wantCode: "EUR", wantMethod: CurrencyFromSymbol},
		{name: "canadian dollar before plain dollar", text: "Total C$500.00", wantCode: "CAD", wantMethod: CurrencyFromSymbol},
		{name: "iso code wins over symbol", text: "$ amounts quoted in EUR", wantCode: "EUR", wantMethod: CurrencyFromISOCode},
		{name: "nothing found", text: "no money here", wantCode: "", wantMethod: CurrencyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Currency(tt.text)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantMethod, got.Method)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: "160.00", want: "160"},
		{name: "thousands separators", raw: "2,160.00", want: "2160"},
		{name: "dollar prefix", raw: "$2,650.00", want: "2650"},
		{name: "iso suffix", raw: "120.50 USD", want: "120.5"},
		{name: "negative", raw: "-45.10", want: "-45.1"},
		{name: "garbage", raw: "n/a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestAmountNear(t *testing.T) {
	// A merged totals row: the value after the tax label must win over the
	// larger number later in the same line.
	text := "Subtotal: $2,000.00 Tax (8%): $160.00 Total: $2,160.00"

	tax, ok := AmountNear("tax", text)
	require.True(t, ok)
	assert.True(t, tax.Equal(decimal.RequireFromString("160")), "got %s", tax)

	total, ok := AmountNear("total", text)
	require.True(t, ok)
	assert.True(t, total.Equal(decimal.RequireFromString("2160")), "total label must not match inside Subtotal, got %s", total)

	subtotal, ok := AmountNear("subtotal", text)
	require.True(t, ok)
	assert.True(t, subtotal.Equal(decimal.RequireFromString("2000")), "got %s", subtotal)
}

func TestAmountNearSkipsPercentages(t *testing.T) {
	amount, ok := AmountNear("tax", "Tax 8 % 160.00")
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("160")), "got %s", amount)
}

func TestAmountNearMissingLabel(t *testing.T) {
	_, ok := AmountNear("tax", "Total: 500.00")
	assert.False(t, ok)
}

func TestPercentNear(t *testing.T) {
	rate, ok := PercentNear("tax", "Tax (8.25%): $165.00")
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("8.25")), "got %s", rate)

	_, ok = PercentNear("tax", "Tax: $165.00")
	assert.False(t, ok)
}
