// Package money centralizes monetary rounding. Every amount that
// leaves a computation is quantized to two decimal places with
// round-half-up semantics, so repeated calculations never drift.
package money

import "github.com/shopspring/decimal"

// MinOrderTotal is the smallest chargeable order total: one cent.
var MinOrderTotal = decimal.New(1, -2)

// Quantize rounds d to two decimal places, half away from zero.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FromString parses a decimal amount from its string form.
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// Line computes a line total: unit price times quantity, quantized.
func Line(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return Quantize(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
}
