package backtest

import (
	"context"
	"fmt"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/risk"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine replays the evaluator over historical bars
type Engine struct {
	checker strategy.Checker
	capital decimal.Decimal
	logger  *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithChecker replaces the evaluator, mainly for scripted tests
func WithChecker(c strategy.Checker) Option {
	return func(e *Engine) {
		if c != nil {
			e.checker = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine starting from capital of quote currency
func New(params strategy.Parameters, tiers risk.Tiers, capital decimal.Decimal, opts ...Option) *Engine {
	e := &Engine{
		capital: capital,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.checker == nil {
		e.checker = strategy.NewEvaluator(params, tiers)
	}
	return e
}

// simulation is the mutable state of one run
type simulation struct {
	symbol   string
	capital  decimal.Decimal
	position ledger.Position
	stop     decimal.Decimal
	trades   []ledger.TradeRecord
}

func (s *simulation) record(bar core.Bar, index int, side ledger.Side, typ ledger.TradeType, qty decimal.Decimal, profit decimal.NullDecimal) {
	s.trades = append(s.trades, ledger.TradeRecord{
		OrderIDs:          []string{fmt.Sprintf("BT-%d", index)},
		Timestamp:         bar.Time,
		Symbol:            s.symbol,
		Quantity:          qty,
		Price:             bar.Close,
		Side:              side,
		Type:              typ,
		RemainingPosition: ledger.Known(s.position.Quantity),
		ProfitPercentage:  profit,
	})
}

func (s *simulation) buy(bar core.Bar, index int, d strategy.Decision) {
	s.capital = s.capital.Sub(d.Quantity.Mul(bar.Close))
	s.position = ledger.Position{
		Symbol:        s.symbol,
		Quantity:      d.Quantity,
		EntryPrice:    ledger.Known(bar.Close),
		EntryQuantity: d.Quantity,
	}
	s.stop = d.StopPrice
	s.record(bar, index, ledger.Buy, ledger.Entry, d.Quantity, decimal.NullDecimal{})
}

func (s *simulation) sell(bar core.Bar, index int, typ ledger.TradeType, qty decimal.Decimal) {
	qty = decimal.Min(qty, s.position.Quantity)
	entry := s.position.EntryPrice.Decimal
	profit := decimal.NullDecimal{}
	if entry.IsPositive() {
		profit = ledger.Known(bar.Close.Sub(entry).Div(entry))
	}

	s.capital = s.capital.Add(qty.Mul(bar.Close))
	s.position.Quantity = s.position.Quantity.Sub(qty)
	closed := typ.Closes() || !s.position.Quantity.IsPositive()
	if closed {
		s.position.Quantity = decimal.Zero
	}
	s.record(bar, index, ledger.Sell, typ, qty, profit)

	if closed {
		s.position = ledger.Position{Symbol: s.symbol}
		s.stop = decimal.Zero
		return
	}
	s.position.PartialExits++
	s.position.LastExitProfit = profit
}

// Run replays bars. Step i evaluates the KlineCount bars before it; a run
// shorter than one window yields a result without trades.
func (e *Engine) Run(ctx context.Context, bars []core.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("backtest: no bars"))
	}

	params := e.checker.Params()
	k := params.KlineCount
	if k <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("backtest: kline count %d", k))
	}

	sim := &simulation{
		symbol:   params.TradingPair,
		capital:  e.capital,
		position: ledger.Position{Symbol: params.TradingPair},
	}
	dd := newDrawdown(e.capital)

	for i := k; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		window := bars[i-k : i]
		bar := window[len(window)-1]

		if !sim.position.IsOpen() {
			d := e.checker.CheckBuy(window, sim.capital)
			if d.Action == strategy.Buy && d.Quantity.IsPositive() {
				sim.buy(bar, i, d)
				e.logger.Debug("backtest entry",
					zap.Time("time", bar.Time),
					zap.Stringer("quantity", d.Quantity),
					zap.Stringer("price", bar.Close),
				)
			}
		} else {
			d := e.checker.CheckSell(window, sim.position.Quantity, sim.position)
			switch d.Action {
			case strategy.Sell:
				sim.sell(bar, i, d.Type, d.Quantity)
				e.logger.Debug("backtest exit",
					zap.Time("time", bar.Time),
					zap.String("type", string(d.Type)),
					zap.Stringer("quantity", d.Quantity),
				)
			case strategy.ArmTrailingStop:
				sim.stop = decimal.Max(sim.stop, d.StopPrice)
			}

			if sim.position.IsOpen() && bar.Close.LessThanOrEqual(sim.stop) {
				sim.sell(bar, i, ledger.StopLoss, sim.position.Quantity)
				e.logger.Debug("backtest stop loss",
					zap.Time("time", bar.Time),
					zap.Stringer("price", bar.Close),
				)
			}
		}

		dd.update(sim.capital.Add(sim.position.Quantity.Mul(bar.Close)))
	}

	if sim.position.IsOpen() {
		last := len(bars) - 1
		sim.sell(bars[last], last, ledger.FinalExit, sim.position.Quantity)
	}

	total, winning, losing := countTrades(sim.trades)
	result := &Result{
		InitialCapital: e.capital,
		FinalCapital:   sim.capital,
		TotalTrades:    total,
		WinningTrades:  winning,
		LosingTrades:   losing,
		MaxDrawdown:    dd.max,
		Trades:         sim.trades,
	}
	if e.capital.IsPositive() {
		result.TotalReturn = sim.capital.Div(e.capital).Sub(decimal.NewFromInt(1))
	}
	if total > 0 {
		result.WinRate = decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(total)))
	}

	e.logger.Info("backtest finished",
		zap.Int("bars", len(bars)),
		zap.Int("trades", total),
		zap.Stringer("final_capital", result.FinalCapital),
		zap.Stringer("max_drawdown", result.MaxDrawdown),
	)
	return result, nil
}
