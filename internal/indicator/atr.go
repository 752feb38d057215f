package indicator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ATR calculates Average True Range with Wilder smoothing.
// Returns slice of length: len(closes) - period
func ATR(highs, lows, closes []decimal.Decimal, period int) (Series, error) {
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return Series{}, fmt.Errorf("atr: mismatched input lengths %d/%d/%d", len(highs), len(lows), len(closes))
	}
	if period <= 0 || len(closes) < period+1 {
		return Series{}, insufficient("atr", period+1, len(closes))
	}

	trueRanges := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		trueRanges = append(trueRanges, trueRange(highs[i], lows[i], closes[i-1]))
	}

	p := decimal.NewFromInt(int64(period))
	pMinus1 := decimal.NewFromInt(int64(period - 1))

	atr := mean(trueRanges[:period])
	result := make(Series, 0, len(trueRanges)-period+1)
	result = append(result, atr)

	for i := period; i < len(trueRanges); i++ {
		atr = atr.Mul(pMinus1).Add(trueRanges[i]).Div(p)
		result = append(result, atr)
	}

	return result, nil
}

func trueRange(high, low, prevClose decimal.Decimal) decimal.Decimal {
	return decimal.Max(
		high.Sub(low),
		high.Sub(prevClose).Abs(),
		low.Sub(prevClose).Abs(),
	)
}
