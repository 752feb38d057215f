// Package mocks provides an in-memory exchange for tests and dry runs.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/shopspring/decimal"
)

// Fill records an order the mock accepted
type Fill struct {
	ID       string
	Symbol   string
	Side     broker.OrderSide
	Type     broker.OrderType
	Quantity decimal.Decimal
	// Price is the fill price of market orders and the trigger of stops
	Price decimal.Decimal
	Time  time.Time
}

// Exchange implements broker.Exchange in memory. Market orders fill at the
// current price and move balances; stop orders rest until cancelled.
type Exchange struct {
	mu sync.RWMutex

	base  string
	quote string

	bars       []core.Bar
	marketData broker.MarketData
	price      decimal.Decimal

	balances map[string]decimal.Decimal
	open     map[string]broker.OpenOrder
	fills    []Fill

	failures []error
	dataErr  error
	now      func() time.Time
}

// Option configures an Exchange
type Option func(*Exchange)

// WithMarketData serves bars from another source, such as the public
// endpoints of a real exchange during a dry run.
func WithMarketData(md broker.MarketData) Option {
	return func(e *Exchange) {
		e.marketData = md
	}
}

// WithBalances seeds the account
func WithBalances(balances map[string]decimal.Decimal) Option {
	return func(e *Exchange) {
		for asset, amount := range balances {
			e.balances[asset] = amount
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an exchange trading base against quote, where both are the
// balance keys market orders move.
func New(base, quote string, opts ...Option) *Exchange {
	e := &Exchange{
		base:     base,
		quote:    quote,
		balances: make(map[string]decimal.Decimal),
		open:     make(map[string]broker.OpenOrder),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetBars returns the stored or delegated bars filtered by q
func (e *Exchange) GetBars(ctx context.Context, symbol string, interval time.Duration, q broker.BarQuery) ([]core.Bar, error) {
	e.mu.RLock()
	md := e.marketData
	dataErr := e.dataErr
	e.mu.RUnlock()

	if dataErr != nil {
		return nil, dataErr
	}

	var bars []core.Bar
	if md != nil {
		var err error
		bars, err = md.GetBars(ctx, symbol, interval, q)
		if err != nil {
			return nil, err
		}
	} else {
		e.mu.RLock()
		bars = append([]core.Bar(nil), broker.ApplyQuery(e.bars, q)...)
		e.mu.RUnlock()
	}

	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("mock: no bars for %s", symbol))
	}

	e.mu.Lock()
	e.price = bars[len(bars)-1].Close
	e.mu.Unlock()
	return bars, nil
}

func (e *Exchange) PlaceMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (*broker.PlacedOrder, error) {
	return e.market(symbol, broker.OrderSideBuy, qty)
}

func (e *Exchange) PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*broker.PlacedOrder, error) {
	return e.market(symbol, broker.OrderSideSell, qty)
}

func (e *Exchange) market(symbol string, side broker.OrderSide, qty decimal.Decimal) (*broker.PlacedOrder, error) {
	if err := broker.ValidateOrder(symbol, qty); err != nil {
		return nil, core.WrapError(core.ErrOrderFailed, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.popFailure(); err != nil {
		return nil, err
	}
	if !e.price.IsPositive() {
		return nil, core.WrapError(core.ErrOrderFailed, fmt.Errorf("mock: no market price for %s", symbol))
	}

	cost := qty.Mul(e.price)
	switch side {
	case broker.OrderSideBuy:
		if cost.GreaterThan(e.balances[e.quote]) {
			return nil, core.WrapError(core.ErrOrderFailed, broker.ErrInsufficientFunds)
		}
		e.balances[e.quote] = e.balances[e.quote].Sub(cost)
		e.balances[e.base] = e.balances[e.base].Add(qty)
	case broker.OrderSideSell:
		if qty.GreaterThan(e.balances[e.base]) {
			return nil, core.WrapError(core.ErrOrderFailed, broker.ErrInsufficientFunds)
		}
		e.balances[e.base] = e.balances[e.base].Sub(qty)
		e.balances[e.quote] = e.balances[e.quote].Add(cost)
	}

	fill := e.record(symbol, side, broker.OrderTypeMarket, qty, e.price)
	return &broker.PlacedOrder{IDs: []string{fill.ID}, Quantity: qty}, nil
}

func (e *Exchange) PlaceStopOrder(ctx context.Context, symbol string, qty, trigger decimal.Decimal) (*broker.PlacedOrder, error) {
	if err := broker.ValidateOrder(symbol, qty); err != nil {
		return nil, core.WrapError(core.ErrOrderFailed, err)
	}
	if !trigger.IsPositive() {
		return nil, core.WrapError(core.ErrOrderFailed, broker.ErrInvalidStopPrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.popFailure(); err != nil {
		return nil, err
	}

	fill := e.record(symbol, broker.OrderSideSell, broker.OrderTypeStopLoss, qty, trigger)
	e.open[fill.ID] = broker.OpenOrder{
		ID:       fill.ID,
		Symbol:   symbol,
		Side:     broker.OrderSideSell,
		Type:     broker.OrderTypeStopLoss,
		Quantity: qty,
		Price:    trigger,
		OpenedAt: fill.Time,
	}
	return &broker.PlacedOrder{IDs: []string{fill.ID}, Quantity: qty}, nil
}

// ListOpenOrders returns resting orders for symbol, oldest first. An empty
// symbol lists all.
func (e *Exchange) ListOpenOrders(ctx context.Context, symbol string) ([]broker.OpenOrder, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	orders := make([]broker.OpenOrder, 0, len(e.open))
	for _, o := range e.open {
		if symbol == "" || o.Symbol == symbol {
			orders = append(orders, o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].OpenedAt.Equal(orders[j].OpenedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].OpenedAt.Before(orders[j].OpenedAt)
	})
	return orders, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.open[id]; !ok {
		return core.WrapError(core.ErrOrderFailed, broker.ErrOrderNotFound)
	}
	delete(e.open, id)
	return nil
}

// GetBalances returns a copy of the account
func (e *Exchange) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.dataErr != nil {
		return nil, e.dataErr
	}
	out := make(map[string]decimal.Decimal, len(e.balances))
	for asset, amount := range e.balances {
		out[asset] = amount
	}
	return out, nil
}

func (e *Exchange) record(symbol string, side broker.OrderSide, typ broker.OrderType, qty, price decimal.Decimal) Fill {
	fill := Fill{
		ID:       "MOCK-" + uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Type:     typ,
		Quantity: qty,
		Price:    price,
		Time:     e.now(),
	}
	e.fills = append(e.fills, fill)
	return fill
}

func (e *Exchange) popFailure() error {
	if len(e.failures) == 0 {
		return nil
	}
	err := e.failures[0]
	e.failures = e.failures[1:]
	return err
}

// Helper methods for testing

// SetBars replaces the stored bars and the market price
func (e *Exchange) SetBars(bars []core.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bars = append([]core.Bar(nil), bars...)
	if len(bars) > 0 {
		e.price = bars[len(bars)-1].Close
	}
}

// SetPrice sets the market fill price
func (e *Exchange) SetPrice(price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.price = price
}

// SetBalance sets one asset balance
func (e *Exchange) SetBalance(asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = amount
}

// FailNextOrders makes the next placements fail with errs, in order
func (e *Exchange) FailNextOrders(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, errs...)
}

// SetDataError makes bar and balance requests fail until cleared with nil
func (e *Exchange) SetDataError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dataErr = err
}

// Fills returns every accepted order
func (e *Exchange) Fills() []Fill {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Fill(nil), e.fills...)
}

// Ensure Exchange implements broker.Exchange interface.
var _ broker.Exchange = (*Exchange)(nil)
