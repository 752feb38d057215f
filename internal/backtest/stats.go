package backtest

import (
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/shopspring/decimal"
)

// drawdown tracks the largest peak-to-trough decline of an equity curve
type drawdown struct {
	peak decimal.Decimal
	max  decimal.Decimal
}

func newDrawdown(initial decimal.Decimal) *drawdown {
	return &drawdown{peak: initial}
}

func (d *drawdown) update(equity decimal.Decimal) {
	if equity.GreaterThan(d.peak) {
		d.peak = equity
	}
	if !d.peak.IsPositive() {
		return
	}
	dd := decimal.NewFromInt(1).Sub(equity.Div(d.peak))
	if dd.GreaterThan(d.max) {
		d.max = dd
	}
}

// countTrades classifies the trade list. Entries are trades; closing exits with
// a positive profit win; the rest of the closing exits and every stop loss lose.
func countTrades(trades []ledger.TradeRecord) (total, winning, losing int) {
	for _, t := range trades {
		switch t.Type {
		case ledger.Entry:
			total++
		case ledger.FinalExit:
			if t.ProfitPercentage.Decimal.IsPositive() {
				winning++
			} else {
				losing++
			}
		case ledger.StopLoss:
			losing++
		}
	}
	return total, winning, losing
}
