// Package app runs the live trading cycle on a schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/metrics"
	"github.com/newthinker/krakenbot/internal/notifier"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Decider turns the current market and position into a decision
type Decider interface {
	Params() strategy.Parameters
	Evaluate(window []core.Bar, equity, balance decimal.Decimal, pos ledger.Position) strategy.Decision
}

// Settings names what the trader trades and how often
type Settings struct {
	BaseAsset     string
	QuoteAsset    string
	BarInterval   time.Duration
	CycleInterval time.Duration
	// SummaryHour is the hour of day the performance summary is sent; negative disables it
	SummaryHour int
}

// Trader is the live trading orchestrator
type Trader struct {
	exchange broker.Exchange
	orders   broker.OrderExecutor
	ledger   *ledger.Ledger
	decider  Decider
	notifier notifier.Notifier
	metrics  *metrics.Registry
	logger   *zap.Logger
	now      func() time.Time
	settings Settings

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	cycles      int
	lastSummary string
	lastErr     error
}

// Option configures a Trader
type Option func(*Trader)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(t *Trader) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithNotifier sets where decision messages go
func WithNotifier(n notifier.Notifier) Option {
	return func(t *Trader) {
		t.notifier = n
	}
}

// WithMetrics records cycle and order metrics on reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(t *Trader) {
		t.metrics = reg
	}
}

// WithOrderExecutor places orders through exec instead of the exchange,
// typically a broker.RetryingExecutor wrapping it.
func WithOrderExecutor(exec broker.OrderExecutor) Option {
	return func(t *Trader) {
		if exec != nil {
			t.orders = exec
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Trader) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a trader
func New(ex broker.Exchange, l *ledger.Ledger, d Decider, settings Settings, opts ...Option) *Trader {
	if settings.CycleInterval <= 0 {
		settings.CycleInterval = time.Hour
	}
	if settings.BarInterval <= 0 {
		settings.BarInterval = time.Hour
	}
	t := &Trader{
		exchange: ex,
		orders:   ex,
		ledger:   l,
		decider:  d,
		logger:   zap.NewNop(),
		now:      time.Now,
		settings: settings,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run runs a cycle immediately and then on every tick until ctx ends.
// Cycle errors are logged and do not stop the loop.
func (t *Trader) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("trader already running")
	}
	t.running = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	symbol := t.decider.Params().TradingPair
	t.logger.Info("trader starting",
		zap.String("symbol", symbol),
		zap.Duration("interval", t.settings.CycleInterval),
	)

	t.runCycle(ctx)

	ticker := time.NewTicker(t.settings.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trader shutting down")
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			t.runCycle(ctx)
		}
	}
}

// Stop stops the loop
func (t *Trader) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Trader) runCycle(ctx context.Context) {
	if _, err := t.RunCycle(ctx); err != nil && ctx.Err() == nil {
		t.logger.Error("trading cycle failed", zap.Error(err))
	}
}

// RunCycle performs one complete evaluation and executes its decision. The
// returned decision is the zero Hold when the cycle failed before evaluating.
func (t *Trader) RunCycle(ctx context.Context) (decision strategy.Decision, err error) {
	start := t.now()
	defer func() {
		t.mu.Lock()
		t.cycles++
		t.lastErr = err
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.RecordCycle(err, time.Since(start).Seconds())
		}
	}()

	params := t.decider.Params()
	symbol := params.TradingPair

	open, openErr := t.orders.ListOpenOrders(ctx, symbol)
	if openErr != nil {
		t.logger.Warn("listing open orders failed", zap.String("symbol", symbol), zap.Error(openErr))
	} else if len(open) > 0 {
		for _, o := range open {
			t.logger.Info("open order",
				zap.String("id", o.ID),
				zap.String("type", string(o.Type)),
				zap.String("side", string(o.Side)),
				zap.Stringer("quantity", o.Quantity),
				zap.Stringer("price", o.Price),
			)
		}
	}

	balances, err := t.exchange.GetBalances(ctx)
	if err != nil {
		t.notify(ctx, "Error fetching balances: "+err.Error())
		return decision, fmt.Errorf("fetching balances: %w", err)
	}
	for asset, amount := range balances {
		if !amount.IsZero() {
			t.logger.Info("balance", zap.String("asset", asset), zap.Stringer("amount", amount))
		}
	}
	base := balances[t.settings.BaseAsset]
	quote := balances[t.settings.QuoteAsset]

	bars, err := t.exchange.GetBars(ctx, symbol, t.settings.BarInterval, broker.BarQuery{Limit: params.KlineCount})
	if err != nil {
		t.notify(ctx, "Error fetching bars: "+err.Error())
		return decision, fmt.Errorf("fetching bars: %w", err)
	}
	last := bars[len(bars)-1].Close
	if t.metrics != nil {
		t.metrics.SetAccount(base.InexactFloat64(), quote.InexactFloat64())
		t.metrics.SetLastPrice(last.InexactFloat64())
	}

	pos, err := t.ledger.Position(ctx, symbol)
	if err != nil {
		return decision, fmt.Errorf("reading position: %w", err)
	}

	decision = t.decider.Evaluate(bars, quote, base, pos)
	if t.metrics != nil {
		t.metrics.RecordDecision(decision.Action.String())
	}
	t.logger.Info("decision",
		zap.String("symbol", symbol),
		zap.Stringer("action", decision.Action),
		zap.String("reason", decision.Reason),
	)

	switch decision.Action {
	case strategy.Buy:
		err = t.buy(ctx, symbol, decision, base)
	case strategy.Sell:
		err = t.sell(ctx, symbol, decision, base, stopsOf(open))
	case strategy.ArmTrailingStop:
		if openErr != nil {
			err = fmt.Errorf("open orders unknown, not arming trailing stop: %w", openErr)
			t.notify(ctx, "Error checking open orders: "+openErr.Error())
		} else {
			err = t.armTrailingStop(ctx, symbol, decision, stopsOf(open))
		}
	default:
		t.notify(ctx, decision.String())
	}

	t.maybeSummarize(ctx)
	return decision, err
}

func (t *Trader) buy(ctx context.Context, symbol string, d strategy.Decision, held decimal.Decimal) error {
	t.notify(ctx, "Buy signal: "+d.String())

	placed, err := t.orders.PlaceMarketBuy(ctx, symbol, d.Quantity)
	t.recordOrder(broker.OrderSideBuy, broker.OrderTypeMarket, err)
	if err != nil {
		t.notify(ctx, "Error executing buy order: "+err.Error())
		return fmt.Errorf("placing buy: %w", err)
	}
	t.notify(ctx, "Buy order executed successfully. Order IDs: "+strings.Join(placed.IDs, ", "))

	appendErr := t.append(ctx, ledger.TradeRecord{
		OrderIDs:          placed.IDs,
		Timestamp:         t.now().UTC(),
		Symbol:            symbol,
		Quantity:          placed.Quantity,
		Price:             d.Price,
		Side:              ledger.Buy,
		Type:              ledger.Entry,
		RemainingPosition: ledger.Known(held.Add(placed.Quantity)),
	})

	stop, err := t.orders.PlaceStopOrder(ctx, symbol, placed.Quantity, d.StopPrice)
	t.recordOrder(broker.OrderSideSell, broker.OrderTypeStopLoss, err)
	if err != nil {
		t.logger.Error("protective stop failed",
			zap.String("symbol", symbol),
			zap.Stringer("trigger", d.StopPrice),
			zap.Error(err),
		)
		t.notify(ctx, "Error setting stop loss: "+err.Error())
		return errors.Join(appendErr, fmt.Errorf("placing stop: %w", err))
	}
	t.notify(ctx, fmt.Sprintf("Stop loss set at %s. Order IDs: %s",
		d.StopPrice.StringFixed(2), strings.Join(stop.IDs, ", ")))
	return appendErr
}

func (t *Trader) sell(ctx context.Context, symbol string, d strategy.Decision, held decimal.Decimal, stops []broker.OpenOrder) error {
	t.notify(ctx, "Sell signal: "+d.String())

	// Resting stops hold the base asset; release them before selling
	trigger := t.cancelStops(ctx, stops)

	placed, err := t.orders.PlaceMarketSell(ctx, symbol, d.Quantity)
	t.recordOrder(broker.OrderSideSell, broker.OrderTypeMarket, err)
	if err != nil {
		t.notify(ctx, "Error executing sell order: "+err.Error())
		return errors.Join(fmt.Errorf("placing sell: %w", err), t.restoreStop(ctx, symbol, held, trigger))
	}
	t.notify(ctx, "Sell order executed successfully. Order IDs: "+strings.Join(placed.IDs, ", "))

	remaining := held.Sub(placed.Quantity)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	appendErr := t.append(ctx, ledger.TradeRecord{
		OrderIDs:          placed.IDs,
		Timestamp:         t.now().UTC(),
		Symbol:            symbol,
		Quantity:          placed.Quantity,
		Price:             d.Price,
		Side:              ledger.Sell,
		Type:              d.Type,
		RemainingPosition: ledger.Known(remaining),
		ProfitPercentage:  d.Profit,
	})

	// Put the protection back on what is left after a scale-out
	if !d.Type.Closes() {
		return errors.Join(appendErr, t.restoreStop(ctx, symbol, remaining, trigger))
	}
	return appendErr
}

// armTrailingStop keeps an existing stop at or above the new trigger and
// otherwise replaces every stop for the pair with one at the new trigger.
func (t *Trader) armTrailingStop(ctx context.Context, symbol string, d strategy.Decision, stops []broker.OpenOrder) error {
	trigger := d.StopPrice.Round(2)

	for _, o := range stops {
		if o.Price.GreaterThanOrEqual(trigger) {
			t.notify(ctx, fmt.Sprintf("Trailing stop already exists at %s, keeping it. %s",
				o.Price.StringFixed(2), d.Reason))
			return nil
		}
	}

	t.notify(ctx, fmt.Sprintf("Setting trailing stop: %s", d.String()))
	previous := t.cancelStops(ctx, stops)

	placed, err := t.orders.PlaceStopOrder(ctx, symbol, d.Quantity, trigger)
	t.recordOrder(broker.OrderSideSell, broker.OrderTypeStopLoss, err)
	if err != nil {
		t.notify(ctx, "Error setting trailing stop: "+err.Error())
		return errors.Join(fmt.Errorf("placing trailing stop: %w", err), t.restoreStop(ctx, symbol, d.Quantity, previous))
	}
	t.notify(ctx, "Trailing stop set successfully. Order IDs: "+strings.Join(placed.IDs, ", "))
	return nil
}

// cancelStops cancels stops and returns the highest trigger among the ones it
// actually removed, zero when none was.
func (t *Trader) cancelStops(ctx context.Context, stops []broker.OpenOrder) decimal.Decimal {
	var highest decimal.Decimal
	for _, o := range stops {
		err := t.orders.CancelOrder(ctx, o.ID)
		switch {
		case err == nil:
			t.logger.Info("stop cancelled", zap.String("id", o.ID), zap.Stringer("trigger", o.Price))
			highest = decimal.Max(highest, o.Price)
		case errors.Is(err, broker.ErrOrderNotFound):
			t.logger.Debug("stop already gone", zap.String("id", o.ID))
		default:
			t.logger.Warn("cancelling stop failed", zap.String("id", o.ID), zap.Error(err))
		}
	}
	return highest
}

// restoreStop re-arms a cancelled stop at trigger for qty. It does nothing
// when no stop was cancelled or qty is below the order minimum.
func (t *Trader) restoreStop(ctx context.Context, symbol string, qty, trigger decimal.Decimal) error {
	if !trigger.IsPositive() || qty.LessThan(t.decider.Params().MinOrderQuantity) {
		return nil
	}

	placed, err := t.orders.PlaceStopOrder(ctx, symbol, qty, trigger)
	t.recordOrder(broker.OrderSideSell, broker.OrderTypeStopLoss, err)
	if err != nil {
		t.logger.Error("restoring stop failed",
			zap.String("symbol", symbol),
			zap.Stringer("trigger", trigger),
			zap.Error(err),
		)
		t.notify(ctx, "Error restoring stop loss: "+err.Error())
		return fmt.Errorf("restoring stop: %w", err)
	}
	t.notify(ctx, fmt.Sprintf("Stop loss restored at %s. Order IDs: %s",
		trigger.StringFixed(2), strings.Join(placed.IDs, ", ")))
	return nil
}

// append records an executed trade; a failure is reported but the order stands
func (t *Trader) append(ctx context.Context, record ledger.TradeRecord) error {
	err := t.ledger.Append(ctx, record)
	if t.metrics != nil {
		t.metrics.RecordLedgerAppend(err)
	}
	if err != nil {
		t.logger.Error("failed to record trade",
			zap.String("symbol", record.Symbol),
			zap.String("type", string(record.Type)),
			zap.Strings("order_ids", record.OrderIDs),
			zap.Error(err),
		)
		t.notify(ctx, "Error recording trade "+strings.Join(record.OrderIDs, ", ")+": "+err.Error())
		return fmt.Errorf("recording trade: %w", err)
	}
	return nil
}

// maybeSummarize sends the performance summary once per day at the summary hour
func (t *Trader) maybeSummarize(ctx context.Context) {
	if t.settings.SummaryHour < 0 {
		return
	}
	now := t.now()
	if now.Hour() != t.settings.SummaryHour {
		return
	}
	day := now.Format("2006-01-02")

	t.mu.Lock()
	done := t.lastSummary == day
	t.lastSummary = day
	t.mu.Unlock()
	if done {
		return
	}

	perf, err := t.ledger.Performance(ctx)
	if err != nil {
		t.logger.Warn("performance summary failed", zap.Error(err))
		return
	}
	t.notify(ctx, perf.String())
}

func (t *Trader) notify(ctx context.Context, text string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, text); err != nil {
		t.logger.Warn("notification failed", zap.String("notifier", t.notifier.Name()), zap.Error(err))
	}
}

func (t *Trader) recordOrder(side broker.OrderSide, typ broker.OrderType, err error) {
	if t.metrics != nil {
		t.metrics.RecordOrder(string(side), string(typ), err)
	}
}

func stopsOf(orders []broker.OpenOrder) []broker.OpenOrder {
	var stops []broker.OpenOrder
	for _, o := range orders {
		if o.IsStop() {
			stops = append(stops, o)
		}
	}
	return stops
}

// Stats returns trader statistics
func (t *Trader) Stats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := map[string]any{
		"running": t.running,
		"cycles":  t.cycles,
		"symbol":  t.decider.Params().TradingPair,
	}
	if t.lastErr != nil {
		stats["last_error"] = t.lastErr.Error()
	}
	return stats
}
