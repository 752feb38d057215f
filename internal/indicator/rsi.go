package indicator

import (
	"github.com/shopspring/decimal"
)

// RSI calculates Wilder's Relative Strength Index.
// Returns slice of length: len(closes) - period
//
// The first value averages the first period gains and losses; later values use
// Wilder smoothing. A zero average loss gives a relative strength of 0, so a
// flat series yields 0 rather than 100.
func RSI(closes []decimal.Decimal, period int) (Series, error) {
	if period <= 0 || len(closes) <= period {
		return Series{}, insufficient("rsi", period+1, len(closes))
	}

	p := decimal.NewFromInt(int64(period))
	pMinus1 := decimal.NewFromInt(int64(period - 1))

	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		change := closes[i].Sub(closes[i-1])
		if change.IsPositive() {
			gain = gain.Add(change)
		} else {
			loss = loss.Sub(change)
		}
	}

	avgGain := gain.Div(p)
	avgLoss := loss.Div(p)

	result := make(Series, 0, len(closes)-period)
	result = append(result, rsiFrom(avgGain, avgLoss))

	for i := period + 1; i < len(closes); i++ {
		change := closes[i].Sub(closes[i-1])
		currentGain, currentLoss := decimal.Zero, decimal.Zero
		if change.IsPositive() {
			currentGain = change
		} else if change.IsNegative() {
			currentLoss = change.Neg()
		}

		avgGain = avgGain.Mul(pMinus1).Add(currentGain).Div(p)
		avgLoss = avgLoss.Mul(pMinus1).Add(currentLoss).Div(p)
		result = append(result, rsiFrom(avgGain, avgLoss))
	}

	return result, nil
}

func rsiFrom(avgGain, avgLoss decimal.Decimal) decimal.Decimal {
	rs := decimal.Zero
	if !avgLoss.IsZero() {
		rs = avgGain.Div(avgLoss)
	}
	return hundred.Sub(hundred.Div(one.Add(rs)))
}
