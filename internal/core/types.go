package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents one OHLCV candle (kline) for a fixed interval
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// IsValid checks if the bar has a usable close and a sane range
func (b Bar) IsValid() bool {
	return b.Close.IsPositive() && b.High.GreaterThanOrEqual(b.Low)
}

// Closes returns the close prices of bars in order
func Closes(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs returns the high prices of bars in order
func Highs(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows returns the low prices of bars in order
func Lows(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// Volumes returns the traded volumes of bars in order
func Volumes(bars []Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Between returns the bars whose open time lies in [start, end].
// A zero end means no upper bound.
func Between(bars []Bar, start, end time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
