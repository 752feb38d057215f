package strategy

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/shopspring/decimal"
)

// Action is what the caller should do with a decision
type Action int

const (
	Hold Action = iota
	Buy
	Sell
	ArmTrailingStop
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	case ArmTrailingStop:
		return "arm_trailing_stop"
	default:
		return "hold"
	}
}

// Decision is the outcome of one evaluation
type Decision struct {
	Action Action
	// Type is the ledger role of the trade; empty for holds and trailing stops
	Type      ledger.TradeType
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
	// Profit is the unrealized profit fraction at evaluation, for sells
	Profit   decimal.NullDecimal
	Reason   string
	Snapshot Snapshot
}

// IsTrade reports whether the decision places a market order
func (d Decision) IsTrade() bool {
	return d.Action == Buy || d.Action == Sell
}

func (d Decision) String() string {
	switch d.Action {
	case Buy:
		return fmt.Sprintf("BUY %s @ %s (stop %s): %s",
			d.Quantity.StringFixed(6), d.Price.StringFixed(2), d.StopPrice.StringFixed(2), d.Reason)
	case Sell:
		return fmt.Sprintf("SELL %s %s @ %s: %s",
			d.Type, d.Quantity.StringFixed(6), d.Price.StringFixed(2), d.Reason)
	case ArmTrailingStop:
		return fmt.Sprintf("TRAILING STOP %s @ %s: %s",
			d.Quantity.StringFixed(6), d.StopPrice.StringFixed(2), d.Reason)
	default:
		return "HOLD: " + d.Reason
	}
}

func hold(reason string, s Snapshot) Decision {
	return Decision{Action: Hold, Reason: reason, Snapshot: s}
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
