package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MACDParams holds the three EMA periods of a MACD
type MACDParams struct {
	Short  int
	Long   int
	Signal int
}

// DefaultMACD is the conventional 12/26/9 configuration
var DefaultMACD = MACDParams{Short: 12, Long: 26, Signal: 9}

// MinBars returns the input length needed for a first histogram value
func (p MACDParams) MinBars() int {
	return p.Long + p.Signal - 1
}

// MACDResult holds the MACD line, its signal line and the histogram.
// Line[i+Signal-1] and Signal[i] refer to the same bar as Histogram[i].
type MACDResult struct {
	Line      Series
	Signal    Series
	Histogram Series
}

// MACD calculates Moving Average Convergence Divergence.
// The short and long EMAs start at different offsets; the line aligns them with
// offset long-short and the histogram realigns the line by signal-1.
func MACD(prices []decimal.Decimal, p MACDParams) (MACDResult, error) {
	if p.Short <= 0 || p.Short >= p.Long {
		return MACDResult{}, fmt.Errorf("macd: short period %d must be positive and below long period %d", p.Short, p.Long)
	}

	shortEMA, err := EMA(prices, p.Short)
	if err != nil {
		return MACDResult{}, err
	}
	longEMA, err := EMA(prices, p.Long)
	if err != nil {
		return MACDResult{}, err
	}

	offset := p.Long - p.Short
	line := make(Series, len(longEMA))
	for i := range longEMA {
		line[i] = shortEMA[i+offset].Sub(longEMA[i])
	}

	signal, err := EMA(line, p.Signal)
	if err != nil {
		return MACDResult{}, insufficient("macd", p.MinBars(), len(prices))
	}

	signalOffset := p.Signal - 1
	histogram := make(Series, len(signal))
	for i := range signal {
		histogram[i] = line[i+signalOffset].Sub(signal[i])
	}

	return MACDResult{Line: line, Signal: signal, Histogram: histogram}, nil
}
