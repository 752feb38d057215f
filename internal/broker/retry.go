package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// MaxReductions bounds how often an order is shrunk after insufficient funds
	MaxReductions   int
	ReductionFactor decimal.Decimal
	// MinQuantity stops reductions that would go below the exchange minimum
	MinQuantity decimal.Decimal
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		MaxReductions:   3,
		ReductionFactor: decimal.RequireFromString("0.98"),
		MinQuantity:     decimal.RequireFromString("0.002"),
	}
}

// delay returns the backoff before retry attempt n (1-based)
func (c RetryConfig) delay(n int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 1; i < n; i++ {
		d *= c.Multiplier
	}
	if time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// RetryingExecutor retries transient failures with exponential backoff and
// shrinks orders rejected for insufficient funds.
type RetryingExecutor struct {
	next   OrderExecutor
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// RetryOption configures a RetryingExecutor
type RetryOption func(*RetryingExecutor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) RetryOption {
	return func(r *RetryingExecutor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryingExecutor) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewRetryingExecutor wraps next
func NewRetryingExecutor(next OrderExecutor, config RetryConfig, opts ...RetryOption) *RetryingExecutor {
	r := &RetryingExecutor{
		next:   next,
		config: config,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// do runs fn until it succeeds, fails permanently or retries run out
func (r *RetryingExecutor) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			d := r.config.delay(attempt)
			r.logger.Warn("retrying exchange call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", d),
				zap.Error(lastErr),
			)
			if err := r.sleep(ctx, d); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// place submits an order, shrinking it after insufficient funds. Retries of
// one submission carry the same client order id; a reduced order is a new one.
func (r *RetryingExecutor) place(ctx context.Context, op string, qty decimal.Decimal,
	submit func(ctx context.Context, qty decimal.Decimal) (*PlacedOrder, error)) (*PlacedOrder, error) {
	_, preset := ClientOrderID(ctx)

	for reductions := 0; ; reductions++ {
		orderCtx := ctx
		if !preset {
			orderCtx = WithClientOrderID(ctx, uuid.NewString())
		}

		var order *PlacedOrder
		err := r.do(orderCtx, op, func() error {
			var err error
			order, err = submit(orderCtx, qty)
			return err
		})
		if err == nil {
			if order == nil {
				order = &PlacedOrder{}
			}
			if order.Quantity.IsZero() {
				order.Quantity = qty
			}
			return order, nil
		}
		if !errors.Is(err, ErrInsufficientFunds) || reductions >= r.config.MaxReductions {
			return nil, err
		}

		reduced := qty.Mul(r.config.ReductionFactor).Truncate(8)
		if reduced.LessThan(r.config.MinQuantity) {
			return nil, err
		}
		r.logger.Warn("insufficient funds, reducing order",
			zap.String("op", op),
			zap.Stringer("from", qty),
			zap.Stringer("to", reduced),
		)
		qty = reduced
	}
}

func (r *RetryingExecutor) PlaceMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (*PlacedOrder, error) {
	return r.place(ctx, "market_buy", qty, func(ctx context.Context, q decimal.Decimal) (*PlacedOrder, error) {
		return r.next.PlaceMarketBuy(ctx, symbol, q)
	})
}

func (r *RetryingExecutor) PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*PlacedOrder, error) {
	return r.place(ctx, "market_sell", qty, func(ctx context.Context, q decimal.Decimal) (*PlacedOrder, error) {
		return r.next.PlaceMarketSell(ctx, symbol, q)
	})
}

func (r *RetryingExecutor) PlaceStopOrder(ctx context.Context, symbol string, qty, trigger decimal.Decimal) (*PlacedOrder, error) {
	return r.place(ctx, "stop_order", qty, func(ctx context.Context, q decimal.Decimal) (*PlacedOrder, error) {
		return r.next.PlaceStopOrder(ctx, symbol, q, trigger)
	})
}

func (r *RetryingExecutor) ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	var orders []OpenOrder
	err := r.do(ctx, "open_orders", func() error {
		var err error
		orders, err = r.next.ListOpenOrders(ctx, symbol)
		return err
	})
	return orders, err
}

func (r *RetryingExecutor) CancelOrder(ctx context.Context, id string) error {
	return r.do(ctx, "cancel_order", func() error {
		return r.next.CancelOrder(ctx, id)
	})
}

var _ OrderExecutor = (*RetryingExecutor)(nil)
