package main

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/krakenbot/internal/backtest"
	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/config"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

var (
	backtestStart   string
	backtestEnd     string
	backtestCapital float64
	backtestNotify  bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest the strategy on historical bars",
	Long:  "Replay the configured strategy over Kraken bars between two dates and show performance statistics",
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestStart, "start", "", "Start date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestEnd, "end", "", "End date YYYY-MM-DD (default today)")
	backtestCmd.Flags().Float64Var(&backtestCapital, "capital", 0, "Initial capital in quote currency (default from config)")
	backtestCmd.Flags().BoolVar(&backtestNotify, "notify", false, "Send the result to the configured notifiers")

	backtestCmd.MarkFlagRequired("start")

	rootCmd.AddCommand(backtestCmd)
}

// parseRange parses the start and optional end dates. The end date is inclusive.
func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date format (expected YYYY-MM-DD): %w", err)
	}

	to := time.Now().UTC()
	if end != "" {
		to, err = time.Parse(dateLayout, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date format (expected YYYY-MM-DD): %w", err)
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must be after start date")
	}
	return from, to, nil
}

// fetchHistory loads bars opened from start and drops those after end
func fetchHistory(ctx context.Context, md broker.MarketData, cfg *config.Config, start, end time.Time) ([]core.Bar, error) {
	bars, err := md.GetBars(ctx, cfg.Strategy.TradingPair, cfg.Exchange.Interval, broker.BarQuery{Since: start})
	if err != nil {
		return nil, fmt.Errorf("fetching bars: %w", err)
	}

	kept := core.Between(bars, start, end)
	if len(kept) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no bars between %s and %s",
			start.Format(dateLayout), end.Format(dateLayout)))
	}
	return kept, nil
}

// loadResearch prepares the config and historical bars shared by backtest and optimize
func loadResearch(ctx context.Context, log *zap.Logger, start, end string) (*config.Config, []core.Bar, error) {
	cfg, err := loadConfig(log)
	if err != nil {
		return nil, nil, err
	}
	if err := validateResearch(cfg); err != nil {
		return nil, nil, err
	}
	from, to, err := parseRange(start, end)
	if err != nil {
		return nil, nil, err
	}

	public, err := publicClient(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	bars, err := fetchHistory(ctx, public, cfg, from, to)
	if err != nil {
		return nil, nil, err
	}
	log.Info("historical bars loaded",
		zap.Int("count", len(bars)),
		zap.Time("first", bars[0].Time),
		zap.Time("last", bars[len(bars)-1].Time),
	)
	return cfg, bars, nil
}

func capitalOf(cfg *config.Config, flag float64) decimal.Decimal {
	if flag > 0 {
		return decimal.NewFromFloat(flag)
	}
	return decimal.NewFromFloat(cfg.Backtest.InitialCapital)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	cfg, bars, err := loadResearch(ctx, log, backtestStart, backtestEnd)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	serveMetrics(ctx, cfg, reg, log)

	engine := backtest.New(cfg.Parameters(), cfg.Tiers(), capitalOf(cfg, backtestCapital),
		backtest.WithLogger(log))

	started := time.Now()
	result, err := engine.Run(ctx, bars)
	if err != nil {
		reg.RecordBacktest("failed", time.Since(started).Seconds())
		return fmt.Errorf("running backtest: %w", err)
	}
	reg.RecordBacktest("success", time.Since(started).Seconds())

	fmt.Println(renderReport(fmt.Sprintf("Backtest %s  %s -> %s", cfg.Strategy.TradingPair,
		bars[0].Time.Format(dateLayout), bars[len(bars)-1].Time.Format(dateLayout)), result.String()))

	if backtestNotify {
		dispatcher, err := newDispatcher(cfg, log)
		if err != nil {
			return err
		}
		for name, err := range dispatcher.NotifyAll(ctx, result.String()) {
			log.Warn("backtest notification failed", zap.String("notifier", name), zap.Error(err))
		}
	}
	return nil
}
