// Package broker defines the exchange-facing contracts of the trader.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/shopspring/decimal"
)

// Broker-specific errors. Adapters wrap them so errors.Is works across the
// core error codes.
var (
	// ErrInsufficientFunds indicates the account cannot cover the order.
	ErrInsufficientFunds = errors.New("broker: insufficient funds")
	// ErrTransient indicates a failure worth retrying (rate limit, outage, network).
	ErrTransient = errors.New("broker: transient failure")
	// ErrUnconfirmed indicates an order request got no definitive answer, so
	// the exchange may or may not have accepted it. It is never retried.
	ErrUnconfirmed = errors.New("broker: order outcome unknown")
	// ErrOrderNotFound indicates the order id is unknown.
	ErrOrderNotFound = errors.New("broker: order not found")
	// ErrInvalidSymbol indicates an invalid or empty symbol.
	ErrInvalidSymbol = errors.New("broker: invalid symbol")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("broker: invalid quantity")
	// ErrInvalidStopPrice indicates a non-positive stop trigger.
	ErrInvalidStopPrice = errors.New("broker: invalid stop price")
)

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

type clientOrderIDKey struct{}

// WithClientOrderID attaches the client id an adapter should send with the
// order placed under ctx. Resubmissions that share it are one logical order.
func WithClientOrderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientOrderIDKey{}, id)
}

// ClientOrderID returns the id set by WithClientOrderID
func ClientOrderID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientOrderIDKey{}).(string)
	return id, ok && id != ""
}

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "buy"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order execution.
type OrderType string

const (
	// OrderTypeMarket executes at current market price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeStopLoss sells at market once the trigger price is reached.
	OrderTypeStopLoss OrderType = "stop-loss"
)

// BarQuery narrows a bar request.
type BarQuery struct {
	// Since drops bars opened before it when set.
	Since time.Time
	// Limit keeps only the most recent Limit bars when positive.
	Limit int
}

// PlacedOrder is the exchange acknowledgement of an order.
type PlacedOrder struct {
	// IDs are the exchange transaction ids.
	IDs []string `json:"ids"`
	// Quantity is the size actually submitted, which a retry may have reduced.
	Quantity decimal.Decimal `json:"quantity"`
}

// OpenOrder is a resting order on the exchange.
type OpenOrder struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Type     OrderType       `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	// Price is the trigger for stop orders and zero for market orders.
	Price    decimal.Decimal `json:"price"`
	OpenedAt time.Time       `json:"opened_at"`
}

// IsStop returns true for a resting stop-loss sell.
func (o OpenOrder) IsStop() bool {
	return o.Type == OrderTypeStopLoss && o.Side == OrderSideSell
}

// MarketData serves historical bars.
type MarketData interface {
	// GetBars returns bars oldest first. A failure returns no bars.
	GetBars(ctx context.Context, symbol string, interval time.Duration, q BarQuery) ([]core.Bar, error)
}

// OrderExecutor places and manages orders.
type OrderExecutor interface {
	PlaceMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (*PlacedOrder, error)
	PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*PlacedOrder, error)
	PlaceStopOrder(ctx context.Context, symbol string, qty, trigger decimal.Decimal) (*PlacedOrder, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, id string) error
}

// Account reports balances keyed by asset code.
type Account interface {
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Exchange is a full venue: data, orders and balances.
type Exchange interface {
	MarketData
	OrderExecutor
	Account
}

// ApplyQuery filters bars by q. Input must be oldest first.
func ApplyQuery(bars []core.Bar, q BarQuery) []core.Bar {
	if !q.Since.IsZero() {
		start := len(bars)
		for i, b := range bars {
			if !b.Time.Before(q.Since) {
				start = i
				break
			}
		}
		bars = bars[start:]
	}
	if q.Limit > 0 && len(bars) > q.Limit {
		bars = bars[len(bars)-q.Limit:]
	}
	return bars
}

// ValidateOrder checks the arguments shared by every placement
func ValidateOrder(symbol string, qty decimal.Decimal) error {
	if symbol == "" {
		return ErrInvalidSymbol
	}
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}
