package optimizer

import (
	"fmt"
	"strings"

	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
)

// Result is the best combination found and its backtest metrics
type Result struct {
	Found       bool
	Combination Combination
	Parameters  strategy.Parameters

	TotalReturn decimal.Decimal
	MaxDrawdown decimal.Decimal
	TotalTrades int
	WinRate     decimal.Decimal
	Score       decimal.Decimal

	// Tested counts the combinations that completed
	Tested int
}

var hundred = decimal.NewFromInt(100)

func pct(d decimal.Decimal) string {
	return d.Mul(hundred).StringFixed(2) + "%"
}

func (r Result) String() string {
	if !r.Found {
		return fmt.Sprintf("Optimization Results:\nNo combination qualified (%d tested)", r.Tested)
	}

	c := r.Combination
	var b strings.Builder
	b.WriteString("Optimization Results:\n")
	fmt.Fprintf(&b, "RSI Period: %d\n", c.RsiPeriod)
	fmt.Fprintf(&b, "RSI Oversold: %s\n", c.Oversold)
	fmt.Fprintf(&b, "RSI Overbought: %s\n", c.Overbought)
	fmt.Fprintf(&b, "SMA Period: %d\n", c.SmaPeriod)
	fmt.Fprintf(&b, "Stop Loss: %s\n", pct(c.StopLoss))
	fmt.Fprintf(&b, "Profit Target: %s\n", pct(c.ProfitTarget))
	fmt.Fprintf(&b, "Total Return: %s\n", pct(r.TotalReturn))
	fmt.Fprintf(&b, "Win Rate: %s\n", pct(r.WinRate))
	fmt.Fprintf(&b, "Total Trades: %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "Max Drawdown: %s\n", pct(r.MaxDrawdown))
	fmt.Fprintf(&b, "Score: %s\n", r.Score.StringFixed(4))
	fmt.Fprintf(&b, "Combinations Tested: %d", r.Tested)
	return b.String()
}
