package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func barsFrom(closes ...string) []core.Bar {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, len(closes))
	for i, c := range closes {
		p := d(c)
		bars[i] = core.Bar{
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(100),
		}
	}
	return bars
}

// mockChecker scripts decisions for the engine
type mockChecker struct {
	params    strategy.Parameters
	bought    bool
	buyCalls  int
	sellCalls int
	sell      func(price decimal.Decimal, pos ledger.Position) strategy.Decision
}

func newMockChecker(sell func(price decimal.Decimal, pos ledger.Position) strategy.Decision) *mockChecker {
	p := strategy.DefaultParameters()
	p.KlineCount = 3
	return &mockChecker{params: p, sell: sell}
}

func (m *mockChecker) Params() strategy.Parameters {
	return m.params
}

// CheckBuy buys one unit once, with a 5% stop
func (m *mockChecker) CheckBuy(window []core.Bar, equity decimal.Decimal) strategy.Decision {
	m.buyCalls++
	if m.bought {
		return strategy.Decision{Action: strategy.Hold}
	}
	m.bought = true
	price := window[len(window)-1].Close
	return strategy.Decision{
		Action:    strategy.Buy,
		Type:      ledger.Entry,
		Quantity:  decimal.NewFromInt(1),
		Price:     price,
		StopPrice: price.Mul(d("0.95")),
	}
}

func (m *mockChecker) CheckSell(window []core.Bar, balance decimal.Decimal, pos ledger.Position) strategy.Decision {
	m.sellCalls++
	if m.sell == nil {
		return strategy.Decision{Action: strategy.Hold}
	}
	return m.sell(window[len(window)-1].Close, pos)
}

func runScripted(t *testing.T, checker *mockChecker, closes ...string) *Result {
	t.Helper()
	engine := New(strategy.Parameters{}, nil, d("1000"), WithChecker(checker))
	result, err := engine.Run(context.Background(), barsFrom(closes...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return result
}

func TestEngine_PartialAndFinalExit(t *testing.T) {
	checker := newMockChecker(func(price decimal.Decimal, pos ledger.Position) strategy.Decision {
		switch {
		case price.GreaterThanOrEqual(d("120")):
			return strategy.Decision{Action: strategy.Sell, Type: ledger.FinalExit, Quantity: pos.Quantity}
		case price.GreaterThanOrEqual(d("110")) && pos.PartialExits == 0:
			return strategy.Decision{Action: strategy.Sell, Type: ledger.PartialExit, Quantity: d("0.5")}
		}
		return strategy.Decision{Action: strategy.Hold}
	})

	result := runScripted(t, checker, "100", "100", "100", "105", "110", "115", "120", "125")

	if len(result.Trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(result.Trades))
	}
	types := []ledger.TradeType{ledger.Entry, ledger.PartialExit, ledger.FinalExit}
	for i, typ := range types {
		if result.Trades[i].Type != typ {
			t.Errorf("trade %d type = %s, want %s", i, result.Trades[i].Type, typ)
		}
	}

	partial := result.Trades[1]
	if !partial.RemainingPosition.Decimal.Equal(d("0.5")) {
		t.Errorf("remaining after partial = %s, want 0.5", partial.RemainingPosition.Decimal)
	}
	if !partial.ProfitPercentage.Decimal.Equal(d("0.1")) {
		t.Errorf("partial profit = %s, want 0.1", partial.ProfitPercentage.Decimal)
	}

	// 1000 - 100 + 0.5*110 + 0.5*120
	if !result.FinalCapital.Equal(d("1015")) {
		t.Errorf("final capital = %s, want 1015", result.FinalCapital)
	}
	if !result.TotalReturn.Equal(d("0.015")) {
		t.Errorf("total return = %s, want 0.015", result.TotalReturn)
	}
	if result.TotalTrades != 1 || result.WinningTrades != 1 || result.LosingTrades != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/1/0", result.TotalTrades, result.WinningTrades, result.LosingTrades)
	}
	if !result.WinRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("win rate = %s, want 1", result.WinRate)
	}
	if !result.MaxDrawdown.IsZero() {
		t.Errorf("max drawdown = %s, want 0 on a rising curve", result.MaxDrawdown)
	}
}

func TestEngine_WindowExcludesCurrentBar(t *testing.T) {
	checker := newMockChecker(nil)
	result := runScripted(t, checker, "100", "101", "102", "103", "104")

	// steps 3 and 4 see windows ending at bars 2 and 3
	if checker.buyCalls != 1 || checker.sellCalls != 1 {
		t.Errorf("calls = %d buy / %d sell, want 1/1", checker.buyCalls, checker.sellCalls)
	}
	if !result.Trades[0].Price.Equal(d("102")) {
		t.Errorf("entry price = %s, want the close of bar 2", result.Trades[0].Price)
	}
}

func TestEngine_StopLoss(t *testing.T) {
	checker := newMockChecker(nil)
	result := runScripted(t, checker, "100", "100", "100", "100", "96", "94", "90", "90")

	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(result.Trades))
	}
	stop := result.Trades[1]
	if stop.Type != ledger.StopLoss || !stop.Price.Equal(d("94")) {
		t.Errorf("expected stop loss at 94, got %s at %s", stop.Type, stop.Price)
	}
	if !result.FinalCapital.Equal(d("994")) {
		t.Errorf("final capital = %s, want 994", result.FinalCapital)
	}
	if result.LosingTrades != 1 || result.WinningTrades != 0 {
		t.Errorf("counts = %d win / %d lose, want 0/1", result.WinningTrades, result.LosingTrades)
	}
	if !result.WinRate.IsZero() {
		t.Errorf("win rate = %s, want 0", result.WinRate)
	}
	if !result.MaxDrawdown.Equal(d("0.006")) {
		t.Errorf("max drawdown = %s, want 0.006", result.MaxDrawdown)
	}
}

func TestEngine_TrailingStopRaisesStopLevel(t *testing.T) {
	checker := newMockChecker(func(price decimal.Decimal, pos ledger.Position) strategy.Decision {
		if price.GreaterThanOrEqual(d("110")) {
			return strategy.Decision{Action: strategy.ArmTrailingStop, Quantity: pos.Quantity, StopPrice: price.Mul(d("0.97"))}
		}
		// a lower trailing level never lowers the stop
		return strategy.Decision{Action: strategy.ArmTrailingStop, Quantity: pos.Quantity, StopPrice: d("1")}
	})

	result := runScripted(t, checker, "100", "100", "100", "100", "110", "112", "106", "106")

	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(result.Trades))
	}
	stop := result.Trades[1]
	// stop raised to 112*0.97 = 108.64, hit at 106
	if stop.Type != ledger.StopLoss || !stop.Price.Equal(d("106")) {
		t.Errorf("expected stop loss at 106, got %s at %s", stop.Type, stop.Price)
	}
	if !result.FinalCapital.Equal(d("1006")) {
		t.Errorf("final capital = %s, want 1006", result.FinalCapital)
	}
	// stop losses count as losing even in profit
	if result.LosingTrades != 1 {
		t.Errorf("losing trades = %d, want 1", result.LosingTrades)
	}
}

func TestEngine_ForceSellsAtEnd(t *testing.T) {
	result := runScripted(t, newMockChecker(nil), "100", "100", "100", "102", "104")

	last := result.Trades[len(result.Trades)-1]
	if last.Type != ledger.FinalExit || !last.Price.Equal(d("104")) {
		t.Errorf("expected final exit at the last close, got %s at %s", last.Type, last.Price)
	}
	if !last.RemainingPosition.Decimal.IsZero() {
		t.Errorf("remaining = %s, want 0", last.RemainingPosition.Decimal)
	}
	if !result.FinalCapital.Equal(d("1004")) {
		t.Errorf("final capital = %s, want 1004", result.FinalCapital)
	}
	if result.WinningTrades != 1 {
		t.Errorf("winning trades = %d, want 1", result.WinningTrades)
	}
}

func TestEngine_ShortHistory(t *testing.T) {
	result := runScripted(t, newMockChecker(nil), "100", "101", "102")
	if len(result.Trades) != 0 || !result.FinalCapital.Equal(d("1000")) {
		t.Errorf("expected no trades and unchanged capital, got %d trades, %s", len(result.Trades), result.FinalCapital)
	}
}

func TestEngine_Errors(t *testing.T) {
	engine := New(strategy.Parameters{}, nil, d("1000"), WithChecker(newMockChecker(nil)))

	_, err := engine.Run(context.Background(), nil)
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected no data error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Run(ctx, barsFrom("1", "2", "3", "4", "5"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// reboundBars falls steadily, bounces on heavy volume and then rallies
// about 1% per bar. The evaluator buys the bounce and scales out on the way up.
func reboundBars() []core.Bar {
	var closes, volumes []float64
	for i := 0; i < 60; i++ {
		closes = append(closes, 120-0.6*float64(i))
		volumes = append(volumes, 100)
	}
	low := closes[len(closes)-1]
	for j := 1; j <= 5; j++ {
		closes = append(closes, low+0.3*float64(j))
		volumes = append(volumes, 400)
	}
	top := closes[len(closes)-1]
	for j := 1; j < 40; j++ {
		closes = append(closes, top*(1+0.01*float64(j)))
		volumes = append(volumes, 120)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, len(closes))
	for i, c := range closes {
		bars[i] = core.Bar{
			Time:   base.Add(time.Duration(i) * time.Hour),
			Open:   decimal.NewFromFloat(c),
			High:   decimal.NewFromFloat(c + 0.5),
			Low:    decimal.NewFromFloat(c - 0.5),
			Close:  decimal.NewFromFloat(c),
			Volume: decimal.NewFromFloat(volumes[i]),
		}
	}
	return bars
}

func TestEngine_EvaluatorInvariants(t *testing.T) {
	engine := New(strategy.DefaultParameters(), nil, d("1000"))
	result, err := engine.Run(context.Background(), reboundBars())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	kinds := map[ledger.TradeType]int{}
	for _, tr := range result.Trades {
		kinds[tr.Type]++
	}
	if result.TotalTrades == 0 || kinds[ledger.Entry] == 0 {
		t.Fatalf("expected the evaluator to enter on the bounce, got %v", kinds)
	}
	if kinds[ledger.PartialExit] == 0 || kinds[ledger.FinalExit] == 0 {
		t.Errorf("expected scale-outs and a final exit on the rally, got %v", kinds)
	}
	if result.WinningTrades == 0 {
		t.Errorf("the rally exit should be a winning trade")
	}

	// final capital = initial + realized P&L of every exit
	realized := decimal.Zero
	var entry decimal.Decimal
	open := decimal.Zero
	for _, tr := range result.Trades {
		if tr.Side == ledger.Buy {
			entry = tr.Price
			open = open.Add(tr.Quantity)
			continue
		}
		realized = realized.Add(tr.Quantity.Mul(tr.Price.Sub(entry)))
		open = open.Sub(tr.Quantity)
	}
	if !open.IsZero() {
		t.Errorf("position left open after the run: %s", open)
	}
	if !result.FinalCapital.Equal(result.InitialCapital.Add(realized)) {
		t.Errorf("final capital %s != initial + realized %s", result.FinalCapital, result.InitialCapital.Add(realized))
	}
	if !result.FinalCapital.GreaterThan(result.InitialCapital) {
		t.Errorf("final capital %s should exceed %s after a profitable round trip", result.FinalCapital, result.InitialCapital)
	}

	if result.MaxDrawdown.IsNegative() || result.MaxDrawdown.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		t.Errorf("max drawdown %s out of range", result.MaxDrawdown)
	}
	if result.WinningTrades > result.TotalTrades {
		t.Errorf("winning %d > total %d", result.WinningTrades, result.TotalTrades)
	}
	for i := 1; i < len(result.Trades); i++ {
		if result.Trades[i].Timestamp.Before(result.Trades[i-1].Timestamp) {
			t.Fatalf("trades out of order at %d", i)
		}
	}
}

func TestDrawdown_Monotone(t *testing.T) {
	dd := newDrawdown(d("100"))
	curve := []string{"100", "110", "99", "105", "120", "90", "130"}
	prev := decimal.Zero
	for _, v := range curve {
		dd.update(d(v))
		if dd.max.LessThan(prev) {
			t.Fatalf("max drawdown decreased from %s to %s", prev, dd.max)
		}
		prev = dd.max
	}
	// 120 -> 90
	if !dd.max.Equal(d("0.25")) {
		t.Errorf("max drawdown = %s, want 0.25", dd.max)
	}
}

func TestResult_String(t *testing.T) {
	r := &Result{
		InitialCapital: d("1000"),
		FinalCapital:   d("1015"),
		TotalReturn:    d("0.015"),
		TotalTrades:    1,
		WinRate:        d("1"),
		MaxDrawdown:    d("0.006"),
	}
	want := "Backtest Results:\n" +
		"Initial Capital: 1000.00 EUR\n" +
		"Final Capital: 1015.00 EUR\n" +
		"Total Return: 1.50%\n" +
		"Total Trades: 1\n" +
		"Win Rate: 100.00%\n" +
		"Max Drawdown: 0.60%"
	if got := r.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
	if !strings.HasPrefix(r.String(), "Backtest Results:") {
		t.Error("missing header")
	}
}
