package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeLine(t *testing.T) {
	tests := []struct {
		name      string
		price     string
		discount  string
		qty       int
		wantUnit  string
		wantTotal string
	}{
		{name: "ten percent off", price: "100", discount: "10", qty: 2, wantUnit: "90", wantTotal: "180"},
		{name: "no discount", price: "42.50", discount: "0", qty: 3, wantUnit: "42.5", wantTotal: "127.5"},
		{name: "full discount", price: "19.99", discount: "100", qty: 4, wantUnit: "0", wantTotal: "0"},
		{name: "fractional discount keeps precision", price: "33.33", discount: "12.5", qty: 3, wantUnit: "29.163750", wantTotal: "87.49125"},
		{name: "free product", price: "0", discount: "50", qty: 1, wantUnit: "0", wantTotal: "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			unit, total, err := ComputeLine(d(tc.price), d(tc.discount), tc.qty)
			require.NoError(t, err)
			assert.True(t, d(tc.wantUnit).Equal(unit), "unit: got %s want %s", unit, tc.wantUnit)
			assert.True(t, d(tc.wantTotal).Equal(total), "total: got %s want %s", total, tc.wantTotal)
		})
	}
}

func TestComputeLine_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		qty      int
	}{
		{name: "negative price", price: "-1", discount: "0", qty: 1},
		{name: "negative discount", price: "10", discount: "-5", qty: 1},
		{name: "discount above hundred", price: "10", discount: "100.01", qty: 1},
		{name: "zero quantity", price: "10", discount: "0", qty: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ComputeLine(d(tc.price), d(tc.discount), tc.qty)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSum_IsExactSumOfLines(t *testing.T) {
	_, a, err := ComputeLine(d("0.10"), d("0"), 1)
	require.NoError(t, err)
	_, b, err := ComputeLine(d("0.20"), d("0"), 1)
	require.NoError(t, err)

	assert.True(t, d("0.30").Equal(Sum(a, b)))
	assert.True(t, decimal.Zero.Equal(Sum()))
}
