package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Performance summarizes realized results across the history
type Performance struct {
	TotalTrades   int
	ClosedTrades  int
	WinningTrades int
	WinRate       decimal.Decimal
	AverageProfit decimal.Decimal
	MaxProfit     decimal.Decimal
	MaxLoss       decimal.Decimal
	OpenPositions []Position
}

// Performance computes the summary from the cached history.
//
// TotalTrades counts entries. WinRate is the share of closing exits with a
// positive profit. The profit statistics cover every sell that recorded a profit
// fraction, partial exits included.
func (l *Ledger) Performance(ctx context.Context) (Performance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return Performance{}, err
	}
	return summarize(l.sorted, l.positions), nil
}

func summarize(sorted []TradeRecord, positions map[string]Position) Performance {
	var perf Performance
	var profits []decimal.Decimal

	for _, r := range sorted {
		if r.Side == Buy && r.Type == Entry {
			perf.TotalTrades++
		}
		if r.Side != Sell || !r.ProfitPercentage.Valid {
			continue
		}
		profit := r.ProfitPercentage.Decimal
		profits = append(profits, profit)
		if r.Type.Closes() {
			perf.ClosedTrades++
			if profit.IsPositive() {
				perf.WinningTrades++
			}
		}
	}

	if perf.ClosedTrades > 0 {
		perf.WinRate = decimal.NewFromInt(int64(perf.WinningTrades)).
			Div(decimal.NewFromInt(int64(perf.ClosedTrades)))
	}
	if len(profits) > 0 {
		perf.AverageProfit = decimal.Avg(profits[0], profits[1:]...)
		perf.MaxProfit = decimal.Max(profits[0], profits[1:]...)
		perf.MaxLoss = decimal.Min(profits[0], profits[1:]...)
	}

	for _, p := range positions {
		if p.IsOpen() {
			perf.OpenPositions = append(perf.OpenPositions, p)
		}
	}
	sort.Slice(perf.OpenPositions, func(i, j int) bool {
		return perf.OpenPositions[i].Symbol < perf.OpenPositions[j].Symbol
	})

	return perf
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func (p Performance) String() string {
	var sb strings.Builder
	sb.WriteString("Performance Summary:\n")
	fmt.Fprintf(&sb, "Total Trades: %d\n", p.TotalTrades)
	fmt.Fprintf(&sb, "Win Rate: %s\n", percent(p.WinRate))
	fmt.Fprintf(&sb, "Average Profit: %s\n", percent(p.AverageProfit))
	fmt.Fprintf(&sb, "Max Profit: %s\n", percent(p.MaxProfit))
	fmt.Fprintf(&sb, "Max Loss: %s\n", percent(p.MaxLoss))
	fmt.Fprintf(&sb, "Open Positions: %d", len(p.OpenPositions))
	return sb.String()
}
