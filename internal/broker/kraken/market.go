package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// intervals Kraken accepts, in minutes
var intervals = map[time.Duration]int{
	time.Minute:        1,
	5 * time.Minute:    5,
	15 * time.Minute:   15,
	30 * time.Minute:   30,
	time.Hour:          60,
	4 * time.Hour:      240,
	24 * time.Hour:     1440,
	7 * 24 * time.Hour: 10080,
}

func toInterval(d time.Duration) (int, error) {
	if m, ok := intervals[d]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("kraken: unsupported interval %s", d)
}

// GetBars fetches OHLC bars. Kraken returns at most 720 of them per call.
func (c *Client) GetBars(ctx context.Context, symbol string, interval time.Duration, q broker.BarQuery) ([]core.Bar, error) {
	minutes, err := toInterval(interval)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}

	params := map[string]string{
		"pair":     Pair(symbol),
		"interval": strconv.Itoa(minutes),
	}
	if !q.Since.IsZero() {
		params["since"] = strconv.FormatInt(q.Since.Unix(), 10)
	}

	var result map[string]json.RawMessage
	if err := c.public(ctx, core.ErrExchangeFailed, "OHLC", params, &result); err != nil {
		return nil, err
	}

	var rows [][]any
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, core.WrapError(core.ErrExchangeFailed, fmt.Errorf("kraken: decoding ohlc: %w", err))
		}
		break
	}

	bars := make([]core.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseBar(row)
		if err != nil {
			return nil, core.WrapError(core.ErrExchangeFailed, err)
		}
		if !bar.IsValid() {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("kraken: corrupt bar at %s: close %s, high %s, low %s",
				bar.Time.Format(time.RFC3339), bar.Close, bar.High, bar.Low))
		}
		bars = append(bars, bar)
	}

	bars = broker.ApplyQuery(bars, q)
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("kraken: no bars for %s", symbol))
	}

	c.logger.Debug("fetched bars",
		zap.String("symbol", symbol),
		zap.Int("count", len(bars)),
		zap.Time("last", bars[len(bars)-1].Time),
	)
	return bars, nil
}

// parseBar reads [time, open, high, low, close, vwap, volume, count]
func parseBar(row []any) (core.Bar, error) {
	if len(row) < 7 {
		return core.Bar{}, fmt.Errorf("kraken: ohlc row has %d fields", len(row))
	}

	ts, ok := row[0].(float64)
	if !ok {
		return core.Bar{}, fmt.Errorf("kraken: ohlc time %v", row[0])
	}

	var fields [5]decimal.Decimal
	for i, idx := range []int{1, 2, 3, 4, 6} {
		s, ok := row[idx].(string)
		if !ok {
			return core.Bar{}, fmt.Errorf("kraken: ohlc field %d is not a string", idx)
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return core.Bar{}, fmt.Errorf("kraken: ohlc field %d: %w", idx, err)
		}
		fields[i] = v
	}

	return core.Bar{
		Time:   time.Unix(int64(ts), 0).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// GetBalances returns every asset balance keyed by Kraken asset code
func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var result map[string]string
	if err := c.private(ctx, core.ErrExchangeFailed, "Balance", nil, &result); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal, len(result))
	for asset, s := range result {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, core.WrapError(core.ErrExchangeFailed, fmt.Errorf("kraken: balance %s: %w", asset, err))
		}
		balances[asset] = v
	}
	return balances, nil
}
