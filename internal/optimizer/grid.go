// Package optimizer grid-searches strategy parameters with the backtest engine.
package optimizer

import (
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
)

// Grid enumerates the Cartesian product of dimension sizes as an odometer.
// The last dimension turns fastest, matching nested loops in declaration order.
type Grid struct {
	dims    []int
	counter []int
	index   int
	total   int
}

// NewGrid creates a grid over the given dimension sizes. Any empty dimension
// makes the product empty.
func NewGrid(dims ...int) *Grid {
	total := 1
	for _, d := range dims {
		if d <= 0 {
			total = 0
			break
		}
		total *= d
	}
	if len(dims) == 0 {
		total = 0
	}
	return &Grid{
		dims:    dims,
		counter: make([]int, len(dims)),
		total:   total,
	}
}

// Len returns the number of combinations
func (g *Grid) Len() int {
	return g.total
}

// Next returns the sequence number and digit indices of the next combination.
// The returned slice is a copy.
func (g *Grid) Next() (int, []int, bool) {
	if g.index >= g.total {
		return 0, nil, false
	}

	current := make([]int, len(g.counter))
	copy(current, g.counter)
	n := g.index
	g.index++

	for i := len(g.counter) - 1; i >= 0; i-- {
		g.counter[i]++
		if g.counter[i] < g.dims[i] {
			break
		}
		g.counter[i] = 0
	}
	return n, current, true
}

// Space lists the values searched per dimension
type Space struct {
	RsiPeriods    []int
	Oversold      []decimal.Decimal
	Overbought    []decimal.Decimal
	SmaPeriods    []int
	StopLosses    []decimal.Decimal
	ProfitTargets []decimal.Decimal
}

func decimals(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

// DefaultSpace returns the standard 4x5x4x4x4x4 search space
func DefaultSpace() Space {
	return Space{
		RsiPeriods:    []int{7, 9, 14, 21},
		Oversold:      decimals("30", "35", "40", "45", "50"),
		Overbought:    decimals("65", "70", "75", "80"),
		SmaPeriods:    []int{20, 50, 100, 200},
		StopLosses:    decimals("0.03", "0.05", "0.07", "0.10"),
		ProfitTargets: decimals("0.05", "0.10", "0.15", "0.20"),
	}
}

// Grid returns the odometer over the space's dimensions
func (s Space) Grid() *Grid {
	return NewGrid(len(s.RsiPeriods), len(s.Oversold), len(s.Overbought),
		len(s.SmaPeriods), len(s.StopLosses), len(s.ProfitTargets))
}

// At returns the combination addressed by grid digits
func (s Space) At(digits []int) Combination {
	return Combination{
		RsiPeriod:    s.RsiPeriods[digits[0]],
		Oversold:     s.Oversold[digits[1]],
		Overbought:   s.Overbought[digits[2]],
		SmaPeriod:    s.SmaPeriods[digits[3]],
		StopLoss:     s.StopLosses[digits[4]],
		ProfitTarget: s.ProfitTargets[digits[5]],
	}
}

// Combination is one point of the search space
type Combination struct {
	RsiPeriod    int
	Oversold     decimal.Decimal
	Overbought   decimal.Decimal
	SmaPeriod    int
	StopLoss     decimal.Decimal
	ProfitTarget decimal.Decimal
}

var (
	downtrendOffset   = decimal.NewFromInt(5)
	firstTargetRatio  = decimal.RequireFromString("0.33")
	secondTargetRatio = decimal.RequireFromString("0.66")
	activationRatio   = decimal.RequireFromString("0.5")
)

// Parameters derives the full evaluator configuration of the combination.
// Everything outside the searched dimensions keeps the defaults.
func (c Combination) Parameters() strategy.Parameters {
	p := strategy.DefaultParameters()
	p.RsiPeriod = c.RsiPeriod
	p.DefaultOversold = c.Oversold
	p.DowntrendOversold = c.Oversold.Add(downtrendOffset)
	p.Overbought = c.Overbought
	p.SmaPeriod = c.SmaPeriod
	p.StopLoss = c.StopLoss
	p.FinalProfitTarget = c.ProfitTarget
	p.FirstProfitTarget = c.ProfitTarget.Mul(firstTargetRatio)
	p.SecondProfitTarget = c.ProfitTarget.Mul(secondTargetRatio)
	p.TrailingActivation = c.ProfitTarget.Mul(activationRatio)
	p.TrailingFraction = c.StopLoss
	return p
}
