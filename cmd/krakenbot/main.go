package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	debug    bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "krakenbot",
	Short: "krakenbot - ETH/EUR swing trading bot for Kraken",
	Long: `krakenbot trades a single pair on Kraken using RSI, MACD, SMA, volume and
ATR signals with tiered position sizing, scaled exits and trailing stops.
It can also backtest the strategy and grid-search its parameters.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
