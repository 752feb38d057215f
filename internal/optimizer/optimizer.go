package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/newthinker/krakenbot/internal/backtest"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/risk"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// MinTrades is the number of entries a combination needs to qualify
	MinTrades     = 5
	progressEvery = 100
)

var (
	drawdownPenalty = decimal.RequireFromString("0.5")
	initialScore    = decimal.NewFromInt(-1)
)

// Score ranks a backtest result: return minus half the drawdown
func Score(r *backtest.Result) decimal.Decimal {
	return r.TotalReturn.Sub(r.MaxDrawdown.Mul(drawdownPenalty))
}

// Runner backtests one parameter set
type Runner func(ctx context.Context, params strategy.Parameters, bars []core.Bar) (*backtest.Result, error)

// Optimizer searches a Space for the best scoring parameters
type Optimizer struct {
	bars     []core.Bar
	space    Space
	workers  int
	runner   Runner
	progress func(tested, total int)
	logger   *zap.Logger
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithSpace replaces the default search space
func WithSpace(s Space) Option {
	return func(o *Optimizer) {
		o.space = s
	}
}

// WithWorkers sets the pool size; values below one are ignored
func WithWorkers(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRunner replaces the backtest run for each combination
func WithRunner(r Runner) Option {
	return func(o *Optimizer) {
		if r != nil {
			o.runner = r
		}
	}
}

// WithProgress registers a callback invoked after every tested combination.
// It is called under the optimizer lock.
func WithProgress(fn func(tested, total int)) Option {
	return func(o *Optimizer) {
		o.progress = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an optimizer that backtests bars starting from capital
func New(bars []core.Bar, capital decimal.Decimal, tiers risk.Tiers, opts ...Option) *Optimizer {
	o := &Optimizer{
		bars:    bars,
		space:   DefaultSpace(),
		workers: runtime.GOMAXPROCS(0),
		logger:  zap.NewNop(),
	}
	o.runner = func(ctx context.Context, params strategy.Parameters, bars []core.Bar) (*backtest.Result, error) {
		return backtest.New(params, tiers, capital).Run(ctx, bars)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type job struct {
	index int
	combo Combination
}

// search is the shared state of one optimization
type search struct {
	mu     sync.Mutex
	tested int
	found  bool
	index  int
	best   Result
}

// offer keeps the candidate if it beats the best so far. Equal scores go to
// the lower grid index so the outcome matches a sequential scan.
func (s *search) offer(j job, params strategy.Parameters, r *backtest.Result) {
	if r.TotalTrades < MinTrades {
		return
	}
	score := Score(r)

	bestScore := initialScore
	if s.found {
		bestScore = s.best.Score
	}
	better := score.GreaterThan(bestScore)
	if s.found && score.Equal(bestScore) && j.index < s.index {
		better = true
	}
	if !better {
		return
	}

	s.found = true
	s.index = j.index
	s.best = Result{
		Found:       true,
		Combination: j.combo,
		Parameters:  params,
		TotalReturn: r.TotalReturn,
		MaxDrawdown: r.MaxDrawdown,
		TotalTrades: r.TotalTrades,
		WinRate:     r.WinRate,
		Score:       score,
	}
}

// Optimize runs every combination of the space. When no combination qualifies
// the result has Found unset.
func (o *Optimizer) Optimize(ctx context.Context) (*Result, error) {
	if len(o.bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("optimizer: no bars"))
	}

	grid := o.space.Grid()
	total := grid.Len()
	if total == 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("optimizer: empty search space"))
	}

	o.logger.Info("optimization started",
		zap.Int("combinations", total),
		zap.Int("workers", o.workers),
		zap.Int("bars", len(o.bars)),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job)
	s := &search{}

	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				o.run(ctx, s, j, total)
			}
		}()
	}

produce:
	for {
		n, digits, ok := grid.Next()
		if !ok {
			break
		}
		select {
		case jobs <- job{index: n, combo: o.space.At(digits)}:
		case <-ctx.Done():
			break produce
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.best.Tested = s.tested
	if s.found {
		o.logger.Info("optimization finished",
			zap.Int("tested", s.tested),
			zap.Stringer("score", s.best.Score),
			zap.Int("rsi_period", s.best.Combination.RsiPeriod),
			zap.Int("sma_period", s.best.Combination.SmaPeriod),
		)
	} else {
		o.logger.Warn("no combination qualified", zap.Int("tested", s.tested))
	}
	result := s.best
	return &result, nil
}

func (o *Optimizer) run(ctx context.Context, s *search, j job, total int) {
	if ctx.Err() != nil {
		return
	}

	params := j.combo.Parameters()
	r, err := o.runner(ctx, params, o.bars)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	s.tested++
	if err != nil {
		o.logger.Warn("combination failed",
			zap.Int("index", j.index),
			zap.Error(err),
		)
	} else {
		s.offer(j, params, r)
	}

	if s.tested%progressEvery == 0 || s.tested == total {
		o.logger.Info("optimization progress",
			zap.Int("tested", s.tested),
			zap.Int("total", total),
		)
	}
	if o.progress != nil {
		o.progress(s.tested, total)
	}
}
