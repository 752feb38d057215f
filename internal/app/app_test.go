package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/broker/mocks"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/metrics"
	"github.com/newthinker/krakenbot/internal/storage"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "ETH/EUR"

var cycleTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func (r *recorder) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

// scripted returns a fixed decision and remembers what it was asked
type scripted struct {
	decision strategy.Decision
	balance  decimal.Decimal
	equity   decimal.Decimal
	window   int
}

func (s *scripted) Params() strategy.Parameters { return strategy.DefaultParameters() }

func (s *scripted) Evaluate(window []core.Bar, equity, balance decimal.Decimal, pos ledger.Position) strategy.Decision {
	s.window, s.equity, s.balance = len(window), equity, balance
	return s.decision
}

type failingWrites struct {
	storage.Store
}

func (failingWrites) Write(ctx context.Context, name string, data []byte) error {
	return errors.New("disk full")
}

func flatBars(n int, close string) []core.Bar {
	c := d(close)
	start := cycleTime.Add(-time.Duration(n) * time.Hour)
	bars := make([]core.Bar, n)
	for i := range bars {
		bars[i] = core.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   c,
			High:   c.Add(decimal.NewFromInt(1)),
			Low:    c.Sub(decimal.NewFromInt(1)),
			Close:  c,
			Volume: decimal.NewFromInt(10),
		}
	}
	return bars
}

type harness struct {
	ex       *mocks.Exchange
	ledger   *ledger.Ledger
	notes    *recorder
	registry *metrics.Registry
}

func newHarness(t *testing.T, store storage.Store, balances map[string]decimal.Decimal, closePrice string) *harness {
	t.Helper()
	ex := mocks.New("XETH", "ZEUR", mocks.WithBalances(balances))
	ex.SetBars(flatBars(60, closePrice))
	return &harness{
		ex:       ex,
		ledger:   ledger.New(store),
		notes:    &recorder{},
		registry: metrics.NewRegistry(),
	}
}

func (h *harness) trader(dec Decider, summaryHour int, opts ...Option) *Trader {
	settings := Settings{
		BaseAsset:   "XETH",
		QuoteAsset:  "ZEUR",
		BarInterval: time.Hour,
		SummaryHour: summaryHour,
	}
	opts = append([]Option{
		WithNotifier(h.notes),
		WithMetrics(h.registry),
		WithClock(func() time.Time { return cycleTime }),
	}, opts...)
	return New(h.ex, h.ledger, dec, settings, opts...)
}

func counterValue(t *testing.T, reg *metrics.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrader_FirstTargetPartialExit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1.0")}, "107")
	require.NoError(t, h.ledger.Append(ctx, ledger.TradeRecord{
		OrderIDs:          []string{"ENTRY"},
		Timestamp:         cycleTime.Add(-24 * time.Hour),
		Symbol:            symbol,
		Quantity:          d("1.0"),
		Price:             d("100"),
		Side:              ledger.Buy,
		Type:              ledger.Entry,
		RemainingPosition: ledger.Known(d("1.0")),
	}))

	tr := h.trader(strategy.NewEvaluator(strategy.DefaultParameters(), nil), -1)
	decision, err := tr.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, strategy.Sell, decision.Action)
	assert.Equal(t, ledger.PartialExit, decision.Type)
	assert.True(t, decision.Quantity.Equal(d("0.3")), "sold %s", decision.Quantity)

	history, err := h.ledger.History(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, history, 2, "exactly one record appended")
	exit := history[1]
	assert.Equal(t, ledger.PartialExit, exit.Type)
	assert.Equal(t, ledger.Sell, exit.Side)
	assert.True(t, exit.Quantity.Equal(d("0.3")))
	assert.True(t, exit.RemainingPosition.Decimal.Equal(d("0.7")))
	assert.True(t, exit.ProfitPercentage.Decimal.Equal(d("0.07")))

	pos, err := h.ledger.Position(ctx, symbol)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("0.7")))
	assert.Equal(t, 1, pos.PartialExits)

	balances, err := h.ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.True(t, balances["XETH"].Equal(d("0.7")))
	assert.True(t, balances["ZEUR"].Equal(d("32.1")))

	assert.Equal(t, 1, h.notes.count("Sell signal"))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "krakenbot_cycles_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "krakenbot_ledger_appends_total", map[string]string{"status": "success"}))
}

func TestTrader_BuyPlacesProtectiveStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"ZEUR": d("1000")}, "100")
	dec := &scripted{decision: strategy.Decision{
		Action:    strategy.Buy,
		Type:      ledger.Entry,
		Quantity:  d("0.5"),
		Price:     d("100"),
		StopPrice: d("95"),
		Reason:    "scripted",
	}}

	_, err := h.trader(dec, -1).RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 50, dec.window, "window is the most recent kline_count bars")
	assert.True(t, dec.equity.Equal(d("1000")))
	assert.True(t, dec.balance.IsZero())

	fills := h.ex.Fills()
	require.Len(t, fills, 2)
	assert.Equal(t, broker.OrderTypeMarket, fills[0].Type)
	assert.Equal(t, broker.OrderSideBuy, fills[0].Side)
	assert.Equal(t, broker.OrderTypeStopLoss, fills[1].Type)
	assert.True(t, fills[1].Price.Equal(d("95")))
	assert.True(t, fills[1].Quantity.Equal(d("0.5")))

	history, err := h.ledger.History(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.Entry, history[0].Type)
	assert.Equal(t, fills[0].ID, history[0].OrderIDs[0])
	assert.True(t, history[0].RemainingPosition.Decimal.Equal(d("0.5")))
	assert.Equal(t, 1, h.notes.count("Stop loss set at 95.00"))
}

func TestTrader_BuyFailureIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"ZEUR": d("10")}, "100")
	dec := &scripted{decision: strategy.Decision{
		Action: strategy.Buy, Type: ledger.Entry, Quantity: d("0.5"), Price: d("100"), StopPrice: d("95"),
	}}

	_, err := h.trader(dec, -1).RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrInsufficientFunds)

	history, err := h.ledger.History(ctx, symbol)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.ex.Fills())
	assert.Equal(t, 1, h.notes.count("Error executing buy order"))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "krakenbot_cycles_total", map[string]string{"result": "error"}))
}

func TestTrader_LedgerFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, failingWrites{storage.NewMemory()}, map[string]decimal.Decimal{"ZEUR": d("1000")}, "100")
	dec := &scripted{decision: strategy.Decision{
		Action: strategy.Buy, Type: ledger.Entry, Quantity: d("0.5"), Price: d("100"), StopPrice: d("95"),
	}}

	_, err := h.trader(dec, -1).RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLedgerFailed)

	// The order and its stop stand even though the trade could not be recorded
	assert.Len(t, h.ex.Fills(), 2)
	assert.Equal(t, 1, h.notes.count("Error recording trade"))
	assert.Equal(t, 1.0, counterValue(t, h.registry, "krakenbot_ledger_appends_total", map[string]string{"status": "failed"}))
}

func TestTrader_TrailingStop(t *testing.T) {
	tests := []struct {
		name        string
		existing    string
		wantTrigger string
		wantPlaced  bool
	}{
		{"no stop yet", "", "97.00", true},
		{"lower stop is replaced", "90", "97.00", true},
		{"higher stop is kept", "99", "99", false},
		{"equal stop is kept", "97", "97", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1")}, "100")
			if tt.existing != "" {
				_, err := h.ex.PlaceStopOrder(ctx, symbol, d("1"), d(tt.existing))
				require.NoError(t, err)
			}
			before := len(h.ex.Fills())

			dec := &scripted{decision: strategy.Decision{
				Action:    strategy.ArmTrailingStop,
				Quantity:  d("1"),
				Price:     d("100"),
				StopPrice: d("96.999"),
			}}
			_, err := h.trader(dec, -1).RunCycle(ctx)
			require.NoError(t, err)

			open, err := h.ex.ListOpenOrders(ctx, symbol)
			require.NoError(t, err)
			require.Len(t, open, 1, "one stop rests for the pair")
			assert.True(t, open[0].Price.Equal(d(tt.wantTrigger)), "trigger %s", open[0].Price)
			assert.Equal(t, tt.wantPlaced, len(h.ex.Fills()) > before)
		})
	}
}

func TestTrader_PartialSellRestoresStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1")}, "107")
	_, err := h.ex.PlaceStopOrder(ctx, symbol, d("1"), d("95"))
	require.NoError(t, err)

	dec := &scripted{decision: strategy.Decision{
		Action:   strategy.Sell,
		Type:     ledger.PartialExit,
		Quantity: d("0.3"),
		Price:    d("107"),
		Profit:   decimal.NewNullDecimal(d("0.07")),
	}}
	_, err = h.trader(dec, -1).RunCycle(ctx)
	require.NoError(t, err)

	open, err := h.ex.ListOpenOrders(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Quantity.Equal(d("0.7")))
	assert.True(t, open[0].Price.Equal(d("95")))
}

func TestTrader_FinalSellCancelsStops(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1")}, "120")
	_, err := h.ex.PlaceStopOrder(ctx, symbol, d("1"), d("95"))
	require.NoError(t, err)

	dec := &scripted{decision: strategy.Decision{
		Action: strategy.Sell, Type: ledger.FinalExit, Quantity: d("1"), Price: d("120"),
	}}
	_, err = h.trader(dec, -1).RunCycle(ctx)
	require.NoError(t, err)

	open, err := h.ex.ListOpenOrders(ctx, symbol)
	require.NoError(t, err)
	assert.Empty(t, open)

	history, err := h.ledger.History(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].RemainingPosition.Decimal.IsZero())
}

func TestTrader_FailedSellKeepsStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1")}, "120")
	_, err := h.ex.PlaceStopOrder(ctx, symbol, d("1"), d("95"))
	require.NoError(t, err)
	h.ex.FailNextOrders(errors.New("exchange rejected sell"))

	dec := &scripted{decision: strategy.Decision{
		Action: strategy.Sell, Type: ledger.FinalExit, Quantity: d("1"), Price: d("120"),
	}}
	_, err = h.trader(dec, -1).RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange rejected sell")

	open, err := h.ex.ListOpenOrders(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, open, 1, "the position stays protected")
	assert.True(t, open[0].Quantity.Equal(d("1")))
	assert.True(t, open[0].Price.Equal(d("95")))

	history, err := h.ledger.History(ctx, symbol)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 1, h.notes.count("Stop loss restored at 95.00"))
}

func TestTrader_FailedTrailingStopKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1")}, "100")
	_, err := h.ex.PlaceStopOrder(ctx, symbol, d("1"), d("90"))
	require.NoError(t, err)
	h.ex.FailNextOrders(errors.New("exchange busy"))

	dec := &scripted{decision: strategy.Decision{
		Action: strategy.ArmTrailingStop, Quantity: d("1"), Price: d("100"), StopPrice: d("97"),
	}}
	_, err = h.trader(dec, -1).RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placing trailing stop")

	open, err := h.ex.ListOpenOrders(ctx, symbol)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Price.Equal(d("90")), "previous trigger is re-armed, got %s", open[0].Price)
}

func TestTrader_FailedRestoreIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), map[string]decimal.Decimal{"XETH": d("1")}, "120")
	_, err := h.ex.PlaceStopOrder(ctx, symbol, d("1"), d("95"))
	require.NoError(t, err)
	h.ex.FailNextOrders(errors.New("sell failed"), errors.New("stop failed"))

	dec := &scripted{decision: strategy.Decision{
		Action: strategy.Sell, Type: ledger.FinalExit, Quantity: d("1"), Price: d("120"),
	}}
	_, err = h.trader(dec, -1).RunCycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placing sell")
	assert.Contains(t, err.Error(), "restoring stop")
	assert.Equal(t, 1, h.notes.count("Error restoring stop loss"))
}

func TestTrader_HoldIsNotified(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), nil, "100")
	dec := &scripted{decision: strategy.Decision{Action: strategy.Hold, Reason: "nothing to do"}}

	decision, err := h.trader(dec, -1).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, strategy.Hold, decision.Action)
	assert.Equal(t, 1, h.notes.count("HOLD: nothing to do"))
	assert.Empty(t, h.ex.Fills())
}

func TestTrader_DataErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), nil, "100")
	h.ex.SetDataError(core.WrapError(core.ErrExchangeFailed, errors.New("down")))
	dec := &scripted{}

	_, err := h.trader(dec, -1).RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrExchangeFailed)
	assert.Zero(t, dec.window, "no evaluation without data")
	assert.Equal(t, 1, h.notes.count("Error fetching balances"))
}

func TestTrader_DailySummaryOncePerDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), nil, "100")
	dec := &scripted{decision: strategy.Decision{Action: strategy.Hold}}
	tr := h.trader(dec, cycleTime.Hour())

	for i := 0; i < 3; i++ {
		_, err := tr.RunCycle(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.notes.count("Performance Summary"))

	other := h.trader(dec, cycleTime.Hour()+1)
	_, err := other.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.notes.count("Performance Summary"), "outside the summary hour")
}

func TestTrader_RunLoop(t *testing.T) {
	h := newHarness(t, storage.NewMemory(), nil, "100")
	dec := &scripted{decision: strategy.Decision{Action: strategy.Hold}}
	tr := New(h.ex, h.ledger, dec, Settings{
		BaseAsset:     "XETH",
		QuoteAsset:    "ZEUR",
		CycleInterval: 10 * time.Millisecond,
		SummaryHour:   -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		return tr.Stats()["cycles"].(int) >= 2
	}, time.Second, 5*time.Millisecond)

	tr.Stop()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tr.Stats()["running"].(bool))
}

func TestTrader_RunTwiceFails(t *testing.T) {
	h := newHarness(t, storage.NewMemory(), nil, "100")
	tr := h.trader(&scripted{}, -1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		return tr.Stats()["running"].(bool)
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, tr.Run(ctx))

	cancel()
	<-done
}
