package backtest

import (
	"fmt"
	"strings"

	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/shopspring/decimal"
)

// Result holds the complete backtest output
type Result struct {
	InitialCapital decimal.Decimal
	FinalCapital   decimal.Decimal
	TotalReturn    decimal.Decimal // final/initial - 1
	TotalTrades    int             // number of entries
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal // winning trades over entries
	MaxDrawdown    decimal.Decimal // largest peak-to-trough equity decline
	Trades         []ledger.TradeRecord
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func (r *Result) String() string {
	var sb strings.Builder
	sb.WriteString("Backtest Results:\n")
	fmt.Fprintf(&sb, "Initial Capital: %s EUR\n", r.InitialCapital.StringFixed(2))
	fmt.Fprintf(&sb, "Final Capital: %s EUR\n", r.FinalCapital.StringFixed(2))
	fmt.Fprintf(&sb, "Total Return: %s\n", percent(r.TotalReturn))
	fmt.Fprintf(&sb, "Total Trades: %d\n", r.TotalTrades)
	fmt.Fprintf(&sb, "Win Rate: %s\n", percent(r.WinRate))
	fmt.Fprintf(&sb, "Max Drawdown: %s", percent(r.MaxDrawdown))
	return sb.String()
}
