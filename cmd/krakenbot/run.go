package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/newthinker/krakenbot/internal/app"
	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/metrics"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runOnce   bool
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start live trading",
	Long: `Run the trading cycle every schedule interval: check open orders and
balances, fetch recent bars, evaluate, and place the resulting orders.`,
	RunE: runTrader,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "trade against an in-memory account on live market data")
	rootCmd.AddCommand(runCmd)
}

func runTrader(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if runDryRun {
		cfg.Exchange.Provider = "mock"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := cfg.Parameters()
	ex, err := newExchange(cfg, log)
	if err != nil {
		return err
	}
	led, err := newLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	dispatcher, err := newDispatcher(cfg, log)
	if err != nil {
		return err
	}
	defer closeDispatcher(dispatcher, log)

	reg := metrics.NewRegistry()
	serveMetrics(ctx, cfg, reg, log)

	retry := broker.DefaultRetryConfig()
	retry.MinQuantity = params.MinOrderQuantity
	executor := broker.NewRetryingExecutor(ex, retry, broker.WithLogger(log))

	evaluator := strategy.NewEvaluator(params, cfg.Tiers(), strategy.WithLogger(log))
	trader := app.New(ex, led, evaluator, app.Settings{
		BaseAsset:     cfg.Exchange.BaseAsset,
		QuoteAsset:    cfg.Exchange.QuoteAsset,
		BarInterval:   cfg.Exchange.Interval,
		CycleInterval: cfg.Schedule.Interval,
		SummaryHour:   cfg.Schedule.SummaryHour,
	},
		app.WithLogger(log),
		app.WithNotifier(dispatcher),
		app.WithMetrics(reg),
		app.WithOrderExecutor(executor),
	)

	log.Info("starting trader",
		zap.String("pair", params.TradingPair),
		zap.String("provider", cfg.Exchange.Provider),
		zap.Bool("once", runOnce),
	)

	if runOnce {
		decision, err := trader.RunCycle(ctx)
		fmt.Println(renderDecision(decision))
		return err
	}

	err = trader.Run(ctx)
	log.Info("trader stopped", zap.Any("stats", trader.Stats()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
