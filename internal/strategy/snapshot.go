package strategy

import (
	"fmt"
	"time"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/indicator"
	"github.com/shopspring/decimal"
)

var atrFallback = dec("0.02")

// Snapshot holds the indicator values a decision was made from
type Snapshot struct {
	Time          time.Time
	Price         decimal.Decimal
	RSI           decimal.Decimal
	SMA           decimal.Decimal
	Histogram     decimal.Decimal
	PrevHistogram decimal.NullDecimal
	Volume        decimal.Decimal
	AvgVolume     decimal.NullDecimal
	ATR           decimal.Decimal
	// ATREstimated is set when ATR fell back to a share of the price
	ATREstimated bool
}

func (s Snapshot) String() string {
	return fmt.Sprintf("RSI %s | SMA %s | MACD hist %s | price %s",
		s.RSI.StringFixed(2), s.SMA.StringFixed(2), s.Histogram.StringFixed(2), s.Price.StringFixed(2))
}

// Snapshot computes the indicators over window. The error matches
// core.ErrInsufficientData when the window is too short for RSI, SMA or MACD.
func (e *Evaluator) Snapshot(window []core.Bar) (Snapshot, error) {
	if len(window) == 0 {
		return Snapshot{}, core.WrapError(core.ErrInsufficientData, fmt.Errorf("empty window"))
	}

	p := e.params
	closes := core.Closes(window)
	last := window[len(window)-1]

	s := Snapshot{
		Time:   last.Time,
		Price:  last.Close,
		Volume: last.Volume,
	}
	if !s.Price.IsPositive() {
		return s, core.WrapError(core.ErrNoData, fmt.Errorf("latest close %s is not a price", s.Price))
	}

	rsi, err := indicator.RSI(closes, p.RsiPeriod)
	if err != nil {
		return s, err
	}
	s.RSI = rsi.Last()

	s.SMA, err = indicator.SMA(closes, p.SmaPeriod)
	if err != nil {
		return s, err
	}

	macd, err := indicator.MACD(closes, p.MACD)
	if err != nil {
		return s, err
	}
	hist := macd.Histogram
	s.Histogram = hist.Last()
	if len(hist) >= 2 {
		s.PrevHistogram = decimal.NewNullDecimal(hist[len(hist)-2])
	}

	// Volume and ATR only qualify a signal, so a short window degrades them
	if volumeMA, err := indicator.VolumeMA(core.Volumes(window), p.VolumeAvgPeriod); err == nil {
		s.AvgVolume = decimal.NewNullDecimal(volumeMA.Last())
	}

	atr, err := indicator.ATR(core.Highs(window), core.Lows(window), closes, p.AtrPeriod)
	if err == nil && atr.Len() > 0 {
		s.ATR = atr.Last()
	} else {
		s.ATR = s.Price.Mul(atrFallback)
		s.ATREstimated = true
	}

	return s, nil
}
