// Package strategy turns a window of bars into trading decisions.
//
// The same Evaluator serves the live trader and the backtest engine.
package strategy

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/indicator"
	"github.com/shopspring/decimal"
)

// Parameters is the immutable configuration of the evaluator
type Parameters struct {
	TradingPair string
	KlineCount  int

	RsiPeriod         int
	DefaultOversold   decimal.Decimal
	DowntrendOversold decimal.Decimal
	Overbought        decimal.Decimal

	SmaPeriod int
	StopLoss  decimal.Decimal

	VolumeAvgPeriod     int
	MinVolumeMultiplier decimal.Decimal

	AtrPeriod         int
	MaxVolatilityRisk decimal.Decimal

	FirstProfitTarget  decimal.Decimal
	SecondProfitTarget decimal.Decimal
	FinalProfitTarget  decimal.Decimal
	FirstSellFraction  decimal.Decimal
	SecondSellFraction decimal.Decimal

	TrailingActivation decimal.Decimal
	TrailingFraction   decimal.Decimal

	MinOrderQuantity decimal.Decimal
	MACD             indicator.MACDParams
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultParameters returns the standard ETH/EUR configuration
func DefaultParameters() Parameters {
	return Parameters{
		TradingPair:         "ETH/EUR",
		KlineCount:          50,
		RsiPeriod:           14,
		DefaultOversold:     decimal.NewFromInt(50),
		DowntrendOversold:   decimal.NewFromInt(40),
		Overbought:          decimal.NewFromInt(70),
		SmaPeriod:           50,
		StopLoss:            dec("0.05"),
		VolumeAvgPeriod:     20,
		MinVolumeMultiplier: dec("1.2"),
		AtrPeriod:           14,
		MaxVolatilityRisk:   dec("0.15"),
		FirstProfitTarget:   dec("0.05"),
		SecondProfitTarget:  dec("0.10"),
		FinalProfitTarget:   dec("0.15"),
		FirstSellFraction:   dec("0.3"),
		SecondSellFraction:  dec("0.4"),
		TrailingActivation:  dec("0.05"),
		TrailingFraction:    dec("0.03"),
		MinOrderQuantity:    dec("0.002"),
		MACD:                indicator.DefaultMACD,
	}
}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy: "+format, args...))
}

func inUnitInterval(d decimal.Decimal) bool {
	return d.IsPositive() && d.LessThan(decimal.NewFromInt(1))
}

// Validate rejects bundles the evaluator cannot run with
func (p Parameters) Validate() error {
	if p.TradingPair == "" {
		return invalid("trading pair is required")
	}

	periods := []struct {
		name  string
		value int
	}{
		{"kline_count", p.KlineCount},
		{"rsi_period", p.RsiPeriod},
		{"sma_period", p.SmaPeriod},
		{"volume_avg_period", p.VolumeAvgPeriod},
		{"atr_period", p.AtrPeriod},
		{"macd_short", p.MACD.Short},
		{"macd_long", p.MACD.Long},
		{"macd_signal", p.MACD.Signal},
	}
	for _, period := range periods {
		if period.value <= 0 {
			return invalid("%s must be positive, got %d", period.name, period.value)
		}
	}
	if p.MACD.Short >= p.MACD.Long {
		return invalid("macd short period %d must be below long period %d", p.MACD.Short, p.MACD.Long)
	}

	fractions := []struct {
		name  string
		value decimal.Decimal
	}{
		{"stop_loss", p.StopLoss},
		{"max_volatility_risk", p.MaxVolatilityRisk},
		{"first_sell_fraction", p.FirstSellFraction},
		{"second_sell_fraction", p.SecondSellFraction},
		{"trailing_activation", p.TrailingActivation},
		{"trailing_fraction", p.TrailingFraction},
	}
	for _, f := range fractions {
		if !inUnitInterval(f.value) {
			return invalid("%s must be in (0,1), got %s", f.name, f.value)
		}
	}

	if !p.FirstProfitTarget.IsPositive() ||
		!p.FirstProfitTarget.LessThan(p.SecondProfitTarget) ||
		!p.SecondProfitTarget.LessThan(p.FinalProfitTarget) {
		return invalid("profit targets must be positive and strictly ascending, got %s/%s/%s",
			p.FirstProfitTarget, p.SecondProfitTarget, p.FinalProfitTarget)
	}

	for _, threshold := range []decimal.Decimal{p.DefaultOversold, p.DowntrendOversold, p.Overbought} {
		if threshold.IsNegative() || threshold.GreaterThan(decimal.NewFromInt(100)) {
			return invalid("rsi thresholds must be in [0,100], got %s", threshold)
		}
	}
	if p.MinVolumeMultiplier.IsNegative() {
		return invalid("min_volume_multiplier must not be negative")
	}
	if p.MinOrderQuantity.IsNegative() {
		return invalid("min_order_quantity must not be negative")
	}
	return nil
}
