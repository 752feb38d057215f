package kraken

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kraken accepts 8 volume decimals and 2 price decimals for EUR pairs
const (
	volumeDecimals = 8
	priceDecimals  = 2
)

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

func (c *Client) addOrder(ctx context.Context, symbol string, side broker.OrderSide, typ broker.OrderType,
	qty decimal.Decimal, trigger decimal.Decimal) (*broker.PlacedOrder, error) {
	if err := broker.ValidateOrder(symbol, qty); err != nil {
		return nil, core.WrapError(core.ErrOrderFailed, err)
	}

	volume := qty.Truncate(volumeDecimals)
	if !volume.IsPositive() {
		return nil, core.WrapError(core.ErrOrderFailed, broker.ErrInvalidQuantity)
	}

	params := url.Values{}
	params.Set("pair", Pair(symbol))
	params.Set("type", string(side))
	params.Set("ordertype", string(typ))
	params.Set("volume", volume.String())
	clientID, ok := broker.ClientOrderID(ctx)
	if !ok {
		clientID = uuid.NewString()
	}
	params.Set("cl_ord_id", clientID)
	if typ == broker.OrderTypeStopLoss {
		price := trigger.Round(priceDecimals)
		if !price.IsPositive() {
			return nil, core.WrapError(core.ErrOrderFailed, broker.ErrInvalidStopPrice)
		}
		params.Set("price", price.StringFixed(priceDecimals))
	}

	var result addOrderResult
	if err := c.private(ctx, core.ErrOrderFailed, "AddOrder", params, &result); err != nil {
		// Without a verdict the order may be live; resending could fill twice
		if errors.Is(err, errNoAnswer) {
			c.logger.Error("order outcome unknown",
				zap.String("symbol", symbol),
				zap.String("side", string(side)),
				zap.String("cl_ord_id", clientID),
				zap.Error(err),
			)
			return nil, core.WrapError(core.ErrOrderFailed,
				fmt.Errorf("kraken: %w: cl_ord_id %s: %s", broker.ErrUnconfirmed, clientID, err.Error()))
		}
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, core.WrapError(core.ErrOrderFailed, fmt.Errorf("kraken: order accepted without txid"))
	}

	c.logger.Info("order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("type", string(typ)),
		zap.Stringer("volume", volume),
		zap.Strings("txid", result.TxID),
		zap.String("descr", result.Descr.Order),
	)
	return &broker.PlacedOrder{IDs: result.TxID, Quantity: volume}, nil
}

func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (*broker.PlacedOrder, error) {
	return c.addOrder(ctx, symbol, broker.OrderSideBuy, broker.OrderTypeMarket, qty, decimal.Zero)
}

func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*broker.PlacedOrder, error) {
	return c.addOrder(ctx, symbol, broker.OrderSideSell, broker.OrderTypeMarket, qty, decimal.Zero)
}

// PlaceStopOrder places a stop-loss sell triggered at trigger
func (c *Client) PlaceStopOrder(ctx context.Context, symbol string, qty, trigger decimal.Decimal) (*broker.PlacedOrder, error) {
	return c.addOrder(ctx, symbol, broker.OrderSideSell, broker.OrderTypeStopLoss, qty, trigger)
}

type openOrder struct {
	Descr struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
	Vol    string  `json:"vol"`
	OpenTm float64 `json:"opentm"`
}

type openOrdersResult struct {
	Open map[string]openOrder `json:"open"`
}

// ListOpenOrders returns resting orders for symbol, oldest first. An empty
// symbol lists all.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]broker.OpenOrder, error) {
	var result openOrdersResult
	if err := c.private(ctx, core.ErrExchangeFailed, "OpenOrders", nil, &result); err != nil {
		return nil, err
	}

	pair := Pair(symbol)
	orders := make([]broker.OpenOrder, 0, len(result.Open))
	for id, o := range result.Open {
		if symbol != "" && o.Descr.Pair != pair {
			continue
		}
		qty, _ := decimal.NewFromString(o.Vol)
		price, _ := decimal.NewFromString(o.Descr.Price)

		orderSymbol := symbol
		if orderSymbol == "" {
			orderSymbol = o.Descr.Pair
		}
		orders = append(orders, broker.OpenOrder{
			ID:       id,
			Symbol:   orderSymbol,
			Side:     broker.OrderSide(o.Descr.Type),
			Type:     broker.OrderType(o.Descr.OrderType),
			Quantity: qty,
			Price:    price,
			OpenedAt: time.Unix(0, int64(o.OpenTm*float64(time.Second))).UTC(),
		})
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OpenedAt.Equal(orders[j].OpenedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].OpenedAt.Before(orders[j].OpenedAt)
	})
	return orders, nil
}

type cancelResult struct {
	Count int `json:"count"`
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	params := url.Values{}
	params.Set("txid", id)

	var result cancelResult
	if err := c.private(ctx, core.ErrOrderFailed, "CancelOrder", params, &result); err != nil {
		return err
	}
	if result.Count == 0 {
		return core.WrapError(core.ErrOrderFailed, fmt.Errorf("kraken: %w: %s", broker.ErrOrderNotFound, id))
	}
	c.logger.Info("order cancelled", zap.String("txid", id))
	return nil
}
