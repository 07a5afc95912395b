// Package discount implements tiered subtotal discounts: the highest
// tier whose threshold the subtotal meets determines the rate.
package discount

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xenking/legacyshop/internal/domain/money"
)

// Tier grants Rate off the subtotal once it reaches Threshold.
// Thresholds are inclusive.
type Tier struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

// Engine evaluates tiers against order subtotals.
type Engine struct {
	tiers []Tier // sorted by threshold, descending
}

// NewEngine creates an Engine from tiers in any order.
func NewEngine(tiers []Tier) *Engine {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold.GreaterThan(sorted[j].Threshold)
	})
	return &Engine{tiers: sorted}
}

// DefaultTiers returns the standard tier table: 5% at 50, 10% at 100,
// 15% at 200.
func DefaultTiers() []Tier {
	return []Tier{
		{Threshold: decimal.NewFromInt(50), Rate: decimal.RequireFromString("0.05")},
		{Threshold: decimal.NewFromInt(100), Rate: decimal.RequireFromString("0.10")},
		{Threshold: decimal.NewFromInt(200), Rate: decimal.RequireFromString("0.15")},
	}
}

// Rate returns the discount rate for subtotal, zero when no tier
// applies.
func (e *Engine) Rate(subtotal decimal.Decimal) decimal.Decimal {
	for _, t := range e.tiers {
		if subtotal.GreaterThanOrEqual(t.Threshold) {
			return t.Rate
		}
	}
	return decimal.Zero
}

// Calculate returns the quantized discount amount for subtotal.
func (e *Engine) Calculate(subtotal decimal.Decimal) decimal.Decimal {
	return money.Quantize(subtotal.Mul(e.Rate(subtotal)))
}
