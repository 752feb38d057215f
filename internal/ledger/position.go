package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Position is the state of one symbol derived from its trade history
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	EntryPrice    decimal.NullDecimal
	EntryQuantity decimal.Decimal
	PartialExits  int

	// LastExitProfit is the profit fraction of the latest partial exit since entry
	LastExitProfit decimal.NullDecimal
}

// IsOpen reports whether any quantity is held
func (p Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}

// sortRecords orders records by timestamp, keeping insertion order for ties
func sortRecords(records []TradeRecord) []TradeRecord {
	sorted := make([]TradeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// fold derives every symbol's position from time-ordered records
func fold(sorted []TradeRecord) map[string]Position {
	positions := make(map[string]Position)
	for _, r := range sorted {
		p := positions[r.Symbol]
		p.Symbol = r.Symbol

		if r.Side == Buy && r.Type == Entry {
			p.EntryPrice = Known(r.Price)
			p.EntryQuantity = r.Quantity
			p.PartialExits = 0
			p.LastExitProfit = decimal.NullDecimal{}
		}
		if r.Type == PartialExit && p.EntryPrice.Valid {
			p.PartialExits++
			p.LastExitProfit = r.ProfitPercentage
		}
		if r.RemainingPosition.Valid {
			p.Quantity = r.RemainingPosition.Decimal
		}

		positions[r.Symbol] = p
	}
	return positions
}
