package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA calculates the arithmetic mean of the last period prices
func SMA(prices []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 || len(prices) < period {
		return decimal.Zero, insufficient("sma", period, len(prices))
	}
	return mean(prices[len(prices)-period:]), nil
}

// EMA calculates Exponential Moving Average
// Returns slice of length: len(prices) - period + 1
func EMA(prices []decimal.Decimal, period int) (Series, error) {
	if period <= 0 || len(prices) < period {
		return Series{}, insufficient("ema", period, len(prices))
	}

	result := make(Series, 0, len(prices)-period+1)
	multiplier := two.Div(decimal.NewFromInt(int64(period + 1)))

	// Start with SMA as first EMA value
	ema := mean(prices[:period])
	result = append(result, ema)

	for i := period; i < len(prices); i++ {
		ema = prices[i].Sub(ema).Mul(multiplier).Add(ema).Round(precision)
		result = append(result, ema)
	}

	return result, nil
}

// VolumeMA calculates a trailing simple moving average of volumes,
// one value per full window of period volumes
func VolumeMA(volumes []decimal.Decimal, period int) (Series, error) {
	if period <= 0 || len(volumes) < period {
		return Series{}, insufficient("volume ma", period, len(volumes))
	}

	p := decimal.NewFromInt(int64(period))
	result := make(Series, 0, len(volumes)-period+1)

	sum := decimal.Zero
	for i := 0; i < period; i++ {
		sum = sum.Add(volumes[i])
	}
	result = append(result, sum.Div(p))

	// Rolling calculation
	for i := period; i < len(volumes); i++ {
		sum = sum.Sub(volumes[i-period]).Add(volumes[i])
		result = append(result, sum.Div(p))
	}

	return result, nil
}
