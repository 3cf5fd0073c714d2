// Package pricing computes order line prices. Every function here is pure.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid pricing input")

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ComputeLine returns the discounted unit price and the line total.
// Arithmetic is exact; callers must not round before summing line totals.
func ComputeLine(price, discountPercent decimal.Decimal, quantity int) (unit, total decimal.Decimal, err error) {
	switch {
	case price.IsNegative():
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: negative price %s", ErrInvalidInput, price)
	case discountPercent.IsNegative() || discountPercent.GreaterThan(hundred):
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: discount %s outside [0,100]", ErrInvalidInput, discountPercent)
	case quantity < 1:
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: quantity %d", ErrInvalidInput, quantity)
	}

	unit = price
	if discountPercent.IsPositive() {
		unit = price.Mul(one.Sub(discountPercent.Div(hundred)))
	}
	return unit, unit.Mul(decimal.NewFromInt(int64(quantity))), nil
}

func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
