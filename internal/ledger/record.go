// Package ledger keeps the append-only trade history and the positions folded
// from it.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// TradeType is the role a trade plays in a position's lifecycle
type TradeType string

const (
	Entry       TradeType = "Entry"
	PartialExit TradeType = "PartialExit"
	StopLoss    TradeType = "StopLoss"
	FinalExit   TradeType = "FinalExit"
)

// Closes reports whether the trade type ends a position
func (t TradeType) Closes() bool {
	return t == FinalExit || t == StopLoss
}

// TradeRecord is one executed trade
type TradeRecord struct {
	OrderIDs          []string            `json:"order_ids"`
	Timestamp         time.Time           `json:"timestamp"`
	Symbol            string              `json:"symbol"`
	Quantity          decimal.Decimal     `json:"quantity"`
	Price             decimal.Decimal     `json:"price"`
	Side              Side                `json:"side"`
	Type              TradeType           `json:"type"`
	RemainingPosition decimal.NullDecimal `json:"remaining_position"`
	ProfitPercentage  decimal.NullDecimal `json:"profit_percentage"`
}

// Notional returns quantity times price
func (r TradeRecord) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price)
}

func (r TradeRecord) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s %s @ %s",
		r.Timestamp.UTC().Format(time.RFC3339), r.Type, r.Side, r.Quantity.String(), r.Price.StringFixed(2))
	if r.ProfitPercentage.Valid {
		fmt.Fprintf(&sb, " profit %s%%", r.ProfitPercentage.Decimal.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}
	if r.RemainingPosition.Valid {
		fmt.Fprintf(&sb, " remaining %s", r.RemainingPosition.Decimal.String())
	}
	return sb.String()
}

// Known wraps a value as a present optional decimal
func Known(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(v)
}
