// Package indicator implements technical indicators over decimal series.
//
// Every function returns a Series whose index 0 is the first fully determined
// value, so outputs are shorter than their inputs by the warm-up length. When the
// input is too short the returned error matches core.ErrInsufficientData.
package indicator

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// precision bounds the digits carried by recursive averages
var precision = int32(decimal.DivisionPrecision)

// Series is an ordered sequence of indicator values
type Series []decimal.Decimal

// Len returns the number of values
func (s Series) Len() int {
	return len(s)
}

// Last returns the most recent value, or zero for an empty series
func (s Series) Last() decimal.Decimal {
	if len(s) == 0 {
		return decimal.Zero
	}
	return s[len(s)-1]
}

func insufficient(name string, need, have int) error {
	return core.WrapError(core.ErrInsufficientData,
		fmt.Errorf("%s needs at least %d values, got %d", name, need, have))
}

func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
