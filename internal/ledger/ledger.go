package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultFile is the document name trades are stored under
const DefaultFile = "trade_history.json"

// Ledger is the append-only trade history of the bot.
// Reads are served from a cache that every successful Append refreshes.
type Ledger struct {
	store  storage.Store
	name   string
	logger *zap.Logger

	mu        sync.Mutex
	loaded    bool
	records   []TradeRecord
	sorted    []TradeRecord
	positions map[string]Position
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithName sets the document name, DefaultFile otherwise
func WithName(name string) Option {
	return func(l *Ledger) {
		if name != "" {
			l.name = name
		}
	}
}

// New creates a ledger over store
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		name:   DefaultFile,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// read loads the stored array. A missing document is an empty ledger; an
// unreadable one is an error so that it is never overwritten.
func (l *Ledger) read(ctx context.Context) ([]TradeRecord, error) {
	data, err := l.store.Read(ctx, l.name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrLedgerFailed, fmt.Errorf("reading %s: %w", l.name, err))
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []TradeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, core.WrapError(core.ErrLedgerFailed, fmt.Errorf("decoding %s: %w", l.name, err))
	}
	return records, nil
}

func (l *Ledger) refresh(records []TradeRecord) {
	l.records = records
	l.sorted = sortRecords(records)
	l.positions = fold(l.sorted)
	l.loaded = true
}

func (l *Ledger) ensureLoaded(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	records, err := l.read(ctx)
	if err != nil {
		return err
	}
	l.refresh(records)
	return nil
}

// Load rereads the stored history into the cache
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.read(ctx)
	if err != nil {
		return err
	}
	l.refresh(records)
	l.logger.Debug("ledger loaded",
		zap.String("location", l.store.Location()),
		zap.Int("records", len(records)),
	)
	return nil
}

// Append durably adds record to the end of the history and refreshes the cache.
// The cache is left untouched when the write fails.
func (l *Ledger) Append(ctx context.Context, record TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.read(ctx)
	if err != nil {
		return err
	}
	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return core.WrapError(core.ErrLedgerFailed, fmt.Errorf("encoding trades: %w", err))
	}
	if err := l.store.Write(ctx, l.name, data); err != nil {
		return core.WrapError(core.ErrLedgerFailed, fmt.Errorf("writing %s: %w", l.name, err))
	}

	l.refresh(records)
	l.logger.Info("trade recorded",
		zap.String("symbol", record.Symbol),
		zap.String("type", string(record.Type)),
		zap.String("side", string(record.Side)),
		zap.Stringer("quantity", record.Quantity),
		zap.Stringer("price", record.Price),
	)
	return nil
}

// History returns the trades of symbol ordered by timestamp.
// An empty symbol returns every trade.
func (l *Ledger) History(ctx context.Context, symbol string) ([]TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	out := make([]TradeRecord, 0, len(l.sorted))
	for _, r := range l.sorted {
		if symbol == "" || r.Symbol == symbol {
			out = append(out, r)
		}
	}
	return out, nil
}

// Position returns the folded position of symbol
func (l *Ledger) Position(ctx context.Context, symbol string) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureLoaded(ctx); err != nil {
		return Position{}, err
	}
	p, ok := l.positions[symbol]
	if !ok {
		return Position{Symbol: symbol}, nil
	}
	return p, nil
}

// CurrentPositionSize returns the remaining position recorded by the latest
// trade that carries one, or zero.
func (l *Ledger) CurrentPositionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, err := l.Position(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Quantity, nil
}

// EstimatedEntryPrice returns the price of the latest entry buy of symbol.
// ok is false when no entry was ever recorded.
func (l *Ledger) EstimatedEntryPrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error) {
	p, err := l.Position(ctx, symbol)
	if err != nil {
		return decimal.Zero, false, err
	}
	return p.EntryPrice.Decimal, p.EntryPrice.Valid, nil
}
