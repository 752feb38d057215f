package main

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/metrics"
	"github.com/newthinker/krakenbot/internal/optimizer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	optimizeStart   string
	optimizeEnd     string
	optimizeCapital float64
	optimizeWorkers int
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Grid-search strategy parameters",
	Long:  "Backtest every combination of the parameter grid over historical bars and print the best one",
	RunE:  runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVar(&optimizeStart, "start", "", "Start date YYYY-MM-DD (required)")
	optimizeCmd.Flags().StringVar(&optimizeEnd, "end", "", "End date YYYY-MM-DD (default today)")
	optimizeCmd.Flags().Float64Var(&optimizeCapital, "capital", 0, "Initial capital in quote currency (default from config)")
	optimizeCmd.Flags().IntVar(&optimizeWorkers, "workers", 0, "Parallel backtests (default from config, 0 means all CPUs)")

	optimizeCmd.MarkFlagRequired("start")

	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	cfg, bars, err := loadResearch(ctx, log, optimizeStart, optimizeEnd)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	serveMetrics(ctx, cfg, reg, log)

	workers := cfg.Optimizer.Workers
	if optimizeWorkers > 0 {
		workers = optimizeWorkers
	}

	opt := optimizer.New(bars, capitalOf(cfg, optimizeCapital), cfg.Tiers(),
		optimizer.WithWorkers(workers),
		optimizer.WithProgress(reg.SetOptimizerProgress),
		optimizer.WithLogger(log),
	)

	log.Info("optimizing",
		zap.Int("combinations", optimizer.DefaultSpace().Grid().Len()),
		zap.Int("workers", workers),
	)

	result, err := opt.Optimize(ctx)
	if err != nil {
		return fmt.Errorf("optimizing: %w", err)
	}

	fmt.Println(renderReport("Best parameters for "+cfg.Strategy.TradingPair, result.String()))
	return nil
}
