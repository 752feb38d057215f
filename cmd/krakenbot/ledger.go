package main

import (
	"fmt"

	"github.com/newthinker/krakenbot/internal/config"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ledgerSymbol string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Trade ledger operations",
	Long:  `Commands for inspecting the recorded trade history.`,
}

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show trade history",
	RunE:  runLedgerHistory,
}

var ledgerPerformanceCmd = &cobra.Command{
	Use:   "performance",
	Short: "Show the performance summary",
	RunE:  runLedgerPerformance,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerHistoryCmd)
	ledgerCmd.AddCommand(ledgerPerformanceCmd)

	ledgerHistoryCmd.Flags().StringVar(&ledgerSymbol, "symbol", "", "Only show trades of this pair")
}

// withLedger handles common ledger setup
func withLedger(cmd *cobra.Command, fn func(cfg *config.Config, l *ledger.Ledger, log *zap.Logger) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	l, err := newLedger(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	return fn(cfg, l, log)
}

func runLedgerHistory(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(cfg *config.Config, l *ledger.Ledger, log *zap.Logger) error {
		records, err := l.History(cmd.Context(), ledgerSymbol)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("Trade history (%d trades)", len(records))))
		fmt.Println(renderHistory(records))
		return nil
	})
}

func runLedgerPerformance(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(cfg *config.Config, l *ledger.Ledger, log *zap.Logger) error {
		perf, err := l.Performance(cmd.Context())
		if err != nil {
			return fmt.Errorf("computing performance: %w", err)
		}
		fmt.Println(renderReport("Performance", perf.String()))
		for _, p := range perf.OpenPositions {
			entry := "unknown"
			if p.EntryPrice.Valid {
				entry = p.EntryPrice.Decimal.StringFixed(2)
			}
			fmt.Println(mutedStyle.Render(fmt.Sprintf("  %s: %s held, entry %s, %d partial exits",
				p.Symbol, p.Quantity, entry, p.PartialExits)))
		}
		return nil
	})
}
