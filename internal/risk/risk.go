// Package risk sizes positions against account equity.
package risk

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/shopspring/decimal"
)

// FeeBuffer is the share of equity usable for a single order.
var FeeBuffer = decimal.RequireFromString("0.995")

// Tier is one equity band. Equity below Below (exclusive) and at or above the
// previous tier's bound uses Fraction. A zero Below marks the open-ended top tier.
type Tier struct {
	Below    decimal.Decimal
	Fraction decimal.Decimal
}

// Tiers is an ascending list of contiguous equity bands
type Tiers []Tier

// DefaultTiers returns the six standard bands
func DefaultTiers() Tiers {
	return Tiers{
		{Below: decimal.NewFromInt(150), Fraction: decimal.RequireFromString("0.20")},
		{Below: decimal.NewFromInt(350), Fraction: decimal.RequireFromString("0.15")},
		{Below: decimal.NewFromInt(500), Fraction: decimal.RequireFromString("0.10")},
		{Below: decimal.NewFromInt(800), Fraction: decimal.RequireFromString("0.05")},
		{Below: decimal.NewFromInt(1500), Fraction: decimal.RequireFromString("0.03")},
		{Below: decimal.Zero, Fraction: decimal.RequireFromString("0.02")},
	}
}

// FractionFor returns the risk fraction of the band containing equity.
// The lookup is total: equity past every bound falls into the last tier.
func (t Tiers) FractionFor(equity decimal.Decimal) decimal.Decimal {
	if len(t) == 0 {
		return decimal.Zero
	}
	for _, tier := range t {
		if tier.Below.IsZero() || equity.LessThan(tier.Below) {
			return tier.Fraction
		}
	}
	return t[len(t)-1].Fraction
}

// Validate checks that bounds ascend, only the last tier is open-ended and
// every fraction lies in [0,1].
func (t Tiers) Validate() error {
	if len(t) == 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("risk: no tiers configured"))
	}

	prev := decimal.Zero
	for i, tier := range t {
		if tier.Fraction.IsNegative() || tier.Fraction.GreaterThan(decimal.NewFromInt(1)) {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("risk: tier %d fraction %s outside [0,1]", i+1, tier.Fraction))
		}
		last := i == len(t)-1
		if tier.Below.IsZero() {
			if !last {
				return core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("risk: only the last tier may be open-ended, tier %d is", i+1))
			}
			continue
		}
		if !tier.Below.GreaterThan(prev) {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("risk: tier %d bound %s does not ascend", i+1, tier.Below))
		}
		prev = tier.Below
	}
	return nil
}

// PositionSize returns the quantity that loses riskFraction of equity when the
// stop at stopLossFraction below price is hit. A zero denominator yields zero.
func PositionSize(equity, price, riskFraction, stopLossFraction decimal.Decimal) decimal.Decimal {
	denominator := price.Mul(stopLossFraction)
	if denominator.IsZero() {
		return decimal.Zero
	}
	return equity.Mul(riskFraction).Div(denominator)
}

// MaxPositionSize returns the largest quantity equity can buy after the fee buffer
func MaxPositionSize(equity, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return equity.Mul(FeeBuffer).Div(price)
}
