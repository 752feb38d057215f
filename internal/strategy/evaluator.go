package strategy

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	unknownEntryDiscount = dec("0.9")
	macdExitProfit       = dec("0.05")
	trendExitProfit      = dec("0.08")
)

// Checker produces decisions from a window of bars
type Checker interface {
	Params() Parameters
	CheckBuy(window []core.Bar, equity decimal.Decimal) Decision
	CheckSell(window []core.Bar, balance decimal.Decimal, pos ledger.Position) Decision
}

// Evaluator applies the entry and exit rules
type Evaluator struct {
	params Parameters
	tiers  risk.Tiers
	logger *zap.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator creates an evaluator. Nil tiers use risk.DefaultTiers.
func NewEvaluator(params Parameters, tiers risk.Tiers, opts ...Option) *Evaluator {
	if len(tiers) == 0 {
		tiers = risk.DefaultTiers()
	}
	e := &Evaluator{
		params: params,
		tiers:  tiers,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the evaluator's parameters
func (e *Evaluator) Params() Parameters {
	return e.params
}

// Evaluate runs the buy check when flat and the sell check otherwise
func (e *Evaluator) Evaluate(window []core.Bar, equity, balance decimal.Decimal, pos ledger.Position) Decision {
	if balance.LessThanOrEqual(e.params.MinOrderQuantity) {
		return e.CheckBuy(window, equity)
	}
	return e.CheckSell(window, balance, pos)
}

// CheckBuy decides whether to open a position with equity of quote currency
func (e *Evaluator) CheckBuy(window []core.Bar, equity decimal.Decimal) Decision {
	s, err := e.Snapshot(window)
	if err != nil {
		e.logger.Debug("buy check skipped", zap.Error(err))
		return hold(fmt.Sprintf("Not enough data: %v", err), s)
	}
	d := e.decideBuy(s, equity)
	e.logger.Debug("buy check",
		zap.Stringer("action", d.Action),
		zap.Stringer("rsi", s.RSI),
		zap.Stringer("histogram", s.Histogram),
		zap.Stringer("price", s.Price),
	)
	return d
}

// CheckSell decides whether to scale out of or close a position of balance
func (e *Evaluator) CheckSell(window []core.Bar, balance decimal.Decimal, pos ledger.Position) Decision {
	if balance.LessThanOrEqual(e.params.MinOrderQuantity) {
		return hold("No position to sell", Snapshot{})
	}
	s, err := e.Snapshot(window)
	if err != nil {
		e.logger.Debug("sell check skipped", zap.Error(err))
		return hold(fmt.Sprintf("Not enough data for sell signals: %v", err), s)
	}
	d := e.decideSell(s, balance, pos)
	e.logger.Debug("sell check",
		zap.Stringer("action", d.Action),
		zap.String("type", string(d.Type)),
		zap.Stringer("quantity", d.Quantity),
	)
	return d
}

func (e *Evaluator) decideBuy(s Snapshot, equity decimal.Decimal) Decision {
	p := e.params

	threshold := p.DefaultOversold
	if s.Price.LessThan(s.SMA) {
		threshold = p.DowntrendOversold
	}

	volumeConfirmed := s.AvgVolume.Valid &&
		s.Volume.GreaterThanOrEqual(s.AvgVolume.Decimal.Mul(p.MinVolumeMultiplier))

	if !(s.RSI.LessThan(threshold) && s.Histogram.IsPositive() && volumeConfirmed) {
		confirmation := "No"
		if volumeConfirmed {
			confirmation = "Yes"
		}
		return hold(fmt.Sprintf("No trade: Latest RSI is %s (adaptive threshold: %s), MACD histogram is %s, Volume confirmation: %s",
			s.RSI.StringFixed(2), threshold, s.Histogram.StringFixed(2), confirmation), s)
	}

	if !equity.IsPositive() {
		return hold("Insufficient quote balance to open a position", s)
	}

	riskFraction := e.tiers.FractionFor(equity)
	adjustedRisk := riskFraction
	ratio := s.ATR.Div(s.Price)
	if ratio.GreaterThan(p.MaxVolatilityRisk) {
		adjustedRisk = riskFraction.Mul(p.MaxVolatilityRisk).Div(ratio)
	}

	qty := risk.PositionSize(equity, s.Price, adjustedRisk, p.StopLoss)
	notional := qty.Mul(s.Price)
	if notional.GreaterThan(equity) {
		qty = risk.MaxPositionSize(equity, s.Price)
		notional = qty.Mul(s.Price)
	}

	if qty.LessThan(p.MinOrderQuantity) {
		return hold(fmt.Sprintf("Calculated position size (%s) is below minimum order size. No order placed.",
			qty.StringFixed(6)), s)
	}

	return Decision{
		Action:    Buy,
		Type:      ledger.Entry,
		Quantity:  qty,
		Price:     s.Price,
		StopPrice: s.Price.Mul(decimal.NewFromInt(1).Sub(p.StopLoss)),
		Reason: fmt.Sprintf("Conditions met: RSI %s (< %s), MACD histogram %s, volume %s (vs avg %s). Equity %s, risk %s, volatility %s, total %s",
			s.RSI.StringFixed(2), threshold, s.Histogram.StringFixed(2),
			s.Volume.StringFixed(2), s.AvgVolume.Decimal.StringFixed(2),
			equity.StringFixed(2), percent(adjustedRisk), percent(ratio), notional.StringFixed(2)),
		Snapshot: s,
	}
}

func (e *Evaluator) decideSell(s Snapshot, balance decimal.Decimal, pos ledger.Position) Decision {
	p := e.params

	entry := pos.EntryPrice.Decimal
	estimated := !pos.EntryPrice.Valid || !entry.IsPositive()
	if estimated {
		entry = s.Price.Mul(unknownEntryDiscount)
	}
	profit := s.Price.Sub(entry).Div(entry)

	var (
		sell     bool
		qty      decimal.Decimal
		exitType ledger.TradeType
		reason   string
	)

	// First match wins; a profit band claims its branch even when its guard fails
	switch {
	case profit.GreaterThanOrEqual(p.FirstProfitTarget) && profit.LessThan(p.SecondProfitTarget):
		if pos.PartialExits == 0 {
			sell, exitType = true, ledger.PartialExit
			qty = balance.Mul(p.FirstSellFraction)
			reason = "First profit target reached: " + percent(profit)
		}
	case profit.GreaterThanOrEqual(p.SecondProfitTarget) && profit.LessThan(p.FinalProfitTarget):
		if e.secondExitPending(pos) {
			base := pos.EntryQuantity
			if !base.IsPositive() {
				base = balance
			}
			sell, exitType = true, ledger.PartialExit
			qty = base.Mul(p.SecondSellFraction)
			reason = "Second profit target reached: " + percent(profit)
		}
	case profit.GreaterThanOrEqual(p.FinalProfitTarget):
		sell, exitType, qty = true, ledger.FinalExit, balance
		reason = "Final profit target reached: " + percent(profit)
	case s.RSI.GreaterThan(p.Overbought):
		sell, exitType, qty = true, ledger.FinalExit, balance
		reason = "RSI overbought at " + s.RSI.StringFixed(2)
	case s.Histogram.IsNegative() && s.PrevHistogram.Valid && s.PrevHistogram.Decimal.IsPositive() &&
		profit.GreaterThan(macdExitProfit):
		sell, exitType, qty = true, ledger.FinalExit, balance
		reason = "MACD bearish crossover while in profit: " + percent(profit)
	case s.Price.LessThan(s.SMA) && profit.GreaterThan(trendExitProfit):
		sell, exitType, qty = true, ledger.FinalExit, balance
		reason = "Trend reversal while in profit: " + percent(profit)
	}

	if estimated {
		reason += " (entry price estimated)"
	}

	if sell {
		qty = decimal.Min(qty, balance)
		if qty.LessThan(p.MinOrderQuantity) || balance.Sub(qty).LessThan(p.MinOrderQuantity) {
			qty, exitType = balance, ledger.FinalExit
		}
		return Decision{
			Action:   Sell,
			Type:     exitType,
			Quantity: qty,
			Price:    s.Price,
			Profit:   decimal.NewNullDecimal(profit),
			Reason: fmt.Sprintf("%s. Entry price %s, selling %s",
				reason, entry.StringFixed(2), qty.StringFixed(6)),
			Snapshot: s,
		}
	}

	if profit.GreaterThanOrEqual(p.TrailingActivation) {
		return Decision{
			Action:    ArmTrailingStop,
			Quantity:  balance,
			Price:     s.Price,
			StopPrice: s.Price.Mul(decimal.NewFromInt(1).Sub(p.TrailingFraction)),
			Profit:    decimal.NewNullDecimal(profit),
			Reason: fmt.Sprintf("Current profit %s exceeds trailing activation %s",
				percent(profit), percent(p.TrailingActivation)),
			Snapshot: s,
		}
	}

	d := hold(fmt.Sprintf("Holding position: profit %s, %s", percent(profit), s), s)
	d.Profit = decimal.NewNullDecimal(profit)
	return d
}

// secondExitPending reports whether the second scale-out is still due: at most
// one partial exit so far, and that one was not already taken at the second target.
func (e *Evaluator) secondExitPending(pos ledger.Position) bool {
	switch pos.PartialExits {
	case 0:
		return true
	case 1:
		return !pos.LastExitProfit.Valid ||
			pos.LastExitProfit.Decimal.LessThan(e.params.SecondProfitTarget)
	default:
		return false
	}
}
