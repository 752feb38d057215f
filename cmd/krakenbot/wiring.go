package main

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/krakenbot/internal/broker"
	"github.com/newthinker/krakenbot/internal/broker/kraken"
	"github.com/newthinker/krakenbot/internal/broker/mocks"
	"github.com/newthinker/krakenbot/internal/config"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/ledger"
	"github.com/newthinker/krakenbot/internal/logger"
	"github.com/newthinker/krakenbot/internal/metrics"
	"github.com/newthinker/krakenbot/internal/notifier"
	"github.com/newthinker/krakenbot/internal/notifier/telegram"
	"github.com/newthinker/krakenbot/internal/notifier/webhook"
	"github.com/newthinker/krakenbot/internal/storage"
	"go.uber.org/zap"
)

func newLogger() (*zap.Logger, error) {
	level := logLevel
	if level == "" && debug {
		level = "debug"
	}
	return logger.NewWithLevel(level, debug)
}

// loadConfig reads --config, or defaults plus the environment without one
func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults and environment")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// validateResearch checks only what backtests and optimization need
func validateResearch(cfg *config.Config) error {
	if err := cfg.Parameters().Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Tiers().Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("config validation failed: %w",
			core.WrapError(core.ErrConfigInvalid, fmt.Errorf("backtest initial_capital must be positive")))
	}
	return nil
}

// publicClient is an unauthenticated Kraken client for market data
func publicClient(cfg *config.Config, log *zap.Logger) (*kraken.Client, error) {
	return kraken.New(kraken.Config{
		BaseURL: cfg.Exchange.BaseURL,
		Timeout: cfg.Exchange.Timeout,
	}, kraken.WithLogger(log))
}

// newExchange returns the live Kraken client, or a mock account on real
// market data for dry runs and the mock provider.
func newExchange(cfg *config.Config, log *zap.Logger) (broker.Exchange, error) {
	switch cfg.Exchange.Provider {
	case "kraken":
		client, err := kraken.New(kraken.Config{
			BaseURL:   cfg.Exchange.BaseURL,
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Timeout:   cfg.Exchange.Timeout,
		}, kraken.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return client, nil
	case "mock":
		public, err := publicClient(cfg, log)
		if err != nil {
			return nil, err
		}
		return mocks.New(cfg.Exchange.BaseAsset, cfg.Exchange.QuoteAsset,
			mocks.WithMarketData(public),
			mocks.WithBalances(cfg.MockBalances()),
		), nil
	default:
		return nil, fmt.Errorf("unknown exchange provider: %s", cfg.Exchange.Provider)
	}
}

func newLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (*ledger.Ledger, error) {
	store, err := storage.New(cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("creating ledger storage: %w", err)
	}
	l := ledger.New(store, ledger.WithName(cfg.Ledger.File), ledger.WithLogger(log))
	if err := l.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading ledger from %s: %w", store.Location(), err)
	}
	return l, nil
}

// newDispatcher registers every enabled notifier
func newDispatcher(cfg *config.Config, log *zap.Logger) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcher(notifier.WithLogger(log))

	if t := cfg.Notifiers.Telegram; t.Enabled {
		n, err := telegram.New(t.BotToken, t.ChatID)
		if err != nil {
			return nil, fmt.Errorf("creating telegram notifier: %w", err)
		}
		if err := d.Register(n); err != nil {
			return nil, err
		}
	}
	if w := cfg.Notifiers.Webhook; w.Enabled {
		n, err := webhook.New(w.URL, w.Headers)
		if err != nil {
			return nil, fmt.Errorf("creating webhook notifier: %w", err)
		}
		if err := d.Register(n); err != nil {
			return nil, err
		}
	}

	log.Info("notifiers configured", zap.Strings("names", d.Names()))
	return d, nil
}

// closeDispatcher drains queued notifications before exit
func closeDispatcher(d *notifier.Dispatcher, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		log.Warn("notifications not fully delivered", zap.Error(err))
	}
}

// serveMetrics exposes reg in the background when metrics are enabled
func serveMetrics(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, log); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
}
