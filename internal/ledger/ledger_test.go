package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pair = "ETH/EUR"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func entry(at time.Time, qty, price string) TradeRecord {
	return TradeRecord{
		OrderIDs:          []string{"O-" + price},
		Timestamp:         at,
		Symbol:            pair,
		Quantity:          d(qty),
		Price:             d(price),
		Side:              Buy,
		Type:              Entry,
		RemainingPosition: Known(d(qty)),
	}
}

func exit(at time.Time, typ TradeType, qty, price, remaining, profit string) TradeRecord {
	return TradeRecord{
		Timestamp:         at,
		Symbol:            pair,
		Quantity:          d(qty),
		Price:             d(price),
		Side:              Sell,
		Type:              typ,
		RemainingPosition: Known(d(remaining)),
		ProfitPercentage:  Known(d(profit)),
	}
}

// failingStore fails writes while still serving reads
type failingStore struct {
	*storage.Memory
}

func (f failingStore) Write(ctx context.Context, name string, data []byte) error {
	return errors.New("disk full")
}

func TestLedger_EmptyWhenMissing(t *testing.T) {
	l := New(storage.NewMemory())
	ctx := context.Background()

	history, err := l.History(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, history)

	size, err := l.CurrentPositionSize(ctx, pair)
	require.NoError(t, err)
	assert.True(t, size.IsZero())

	_, ok, err := l.EstimatedEntryPrice(ctx, pair)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_AppendPersistsIndentedArray(t *testing.T) {
	store := storage.NewMemory()
	l := New(store)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry(t0, "1.0", "100")))
	require.NoError(t, l.Append(ctx, exit(t0.Add(time.Hour), PartialExit, "0.3", "107", "0.7", "0.07")))

	data, err := store.Read(ctx, DefaultFile)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "[\n  {"), "expected an indented JSON array, got %q", text[:10])
	assert.Contains(t, text, `"remaining_position": "0.7"`)
	assert.Contains(t, text, `"type": "PartialExit"`)

	// a fresh ledger over the same store sees the same history
	reopened := New(store)
	history, err := reopened.History(ctx, pair)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, Entry, history[0].Type)
	assert.True(t, history[1].RemainingPosition.Decimal.Equal(d("0.7")))
	assert.False(t, history[0].ProfitPercentage.Valid)
}

func TestLedger_HistoryOrdering(t *testing.T) {
	l := New(storage.NewMemory())
	ctx := context.Background()

	late := entry(t0.Add(2*time.Hour), "1", "300")
	first := entry(t0, "1", "100")
	tie := entry(t0, "1", "200")
	other := entry(t0.Add(time.Hour), "1", "50")
	other.Symbol = "BTC/EUR"

	for _, r := range []TradeRecord{late, first, tie, other} {
		require.NoError(t, l.Append(ctx, r))
	}

	history, err := l.History(ctx, pair)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// timestamp order, insertion order for equal timestamps
	assert.Equal(t, "100", history[0].Price.String())
	assert.Equal(t, "200", history[1].Price.String())
	assert.Equal(t, "300", history[2].Price.String())

	all, err := l.History(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLedger_PositionFold(t *testing.T) {
	l := New(storage.NewMemory())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry(t0, "1.0", "100")))
	require.NoError(t, l.Append(ctx, exit(t0.Add(time.Hour), PartialExit, "0.3", "107", "0.7", "0.07")))

	p, err := l.Position(ctx, pair)
	require.NoError(t, err)
	assert.True(t, p.Quantity.Equal(d("0.7")))
	assert.True(t, p.EntryPrice.Valid)
	assert.True(t, p.EntryPrice.Decimal.Equal(d("100")))
	assert.True(t, p.EntryQuantity.Equal(d("1.0")))
	assert.Equal(t, 1, p.PartialExits)
	assert.True(t, p.LastExitProfit.Decimal.Equal(d("0.07")))
	assert.True(t, p.IsOpen())

	require.NoError(t, l.Append(ctx, exit(t0.Add(2*time.Hour), FinalExit, "0.7", "116", "0", "0.16")))
	require.NoError(t, l.Append(ctx, entry(t0.Add(3*time.Hour), "2.0", "120")))

	// a new entry resets the entry price and the partial exit count
	p, err = l.Position(ctx, pair)
	require.NoError(t, err)
	assert.True(t, p.Quantity.Equal(d("2")))
	assert.True(t, p.EntryPrice.Decimal.Equal(d("120")))
	assert.Equal(t, 0, p.PartialExits)
	assert.False(t, p.LastExitProfit.Valid)

	price, ok, err := l.EstimatedEntryPrice(ctx, pair)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, price.Equal(d("120")))
}

func TestLedger_PositionSizeIgnoresRecordsWithoutRemaining(t *testing.T) {
	l := New(storage.NewMemory())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry(t0, "1.5", "100")))
	manual := exit(t0.Add(time.Hour), FinalExit, "1.5", "110", "0", "0.1")
	manual.RemainingPosition = decimal.NullDecimal{}
	require.NoError(t, l.Append(ctx, manual))

	size, err := l.CurrentPositionSize(ctx, pair)
	require.NoError(t, err)
	assert.True(t, size.Equal(d("1.5")))
}

func TestLedger_CorruptHistoryIsNotOverwritten(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, DefaultFile, []byte("{not json")))

	l := New(store)

	_, err := l.History(ctx, pair)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLedgerFailed))

	err = l.Append(ctx, entry(t0, "1", "100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLedgerFailed))

	data, err := store.Read(ctx, DefaultFile)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestLedger_FailedWriteKeepsCache(t *testing.T) {
	store := failingStore{storage.NewMemory()}
	l := New(store)
	ctx := context.Background()

	err := l.Append(ctx, entry(t0, "1", "100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrLedgerFailed))

	history, err := l.History(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLedger_LocalFSDocumentName(t *testing.T) {
	fs, err := storage.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	l := New(fs, WithName("bot.json"))
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, entry(t0, "1", "100")))

	_, err = fs.Read(ctx, "bot.json")
	require.NoError(t, err)
	_, err = fs.Read(ctx, DefaultFile)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, l.Load(ctx))
	history, err := l.History(ctx, pair)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
