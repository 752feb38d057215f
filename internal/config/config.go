// Package config loads the bot configuration from YAML, .env and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/newthinker/krakenbot/internal/core"
	"github.com/newthinker/krakenbot/internal/indicator"
	"github.com/newthinker/krakenbot/internal/risk"
	"github.com/newthinker/krakenbot/internal/storage"
	"github.com/newthinker/krakenbot/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Notifiers NotifiersConfig `mapstructure:"notifiers"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
}

// StrategyConfig mirrors strategy.Parameters in plain YAML types
type StrategyConfig struct {
	TradingPair string `mapstructure:"trading_pair"`
	KlineCount  int    `mapstructure:"kline_count"`

	RsiPeriod         int     `mapstructure:"rsi_period"`
	DefaultOversold   float64 `mapstructure:"default_oversold"`
	DowntrendOversold float64 `mapstructure:"downtrend_oversold"`
	Overbought        float64 `mapstructure:"overbought"`

	SmaPeriod int     `mapstructure:"sma_period"`
	StopLoss  float64 `mapstructure:"stop_loss"`

	VolumeAvgPeriod     int     `mapstructure:"volume_avg_period"`
	MinVolumeMultiplier float64 `mapstructure:"min_volume_multiplier"`

	AtrPeriod         int     `mapstructure:"atr_period"`
	MaxVolatilityRisk float64 `mapstructure:"max_volatility_risk"`

	FirstProfitTarget  float64 `mapstructure:"first_profit_target"`
	SecondProfitTarget float64 `mapstructure:"second_profit_target"`
	FinalProfitTarget  float64 `mapstructure:"final_profit_target"`
	FirstSellFraction  float64 `mapstructure:"first_sell_fraction"`
	SecondSellFraction float64 `mapstructure:"second_sell_fraction"`

	TrailingActivation float64 `mapstructure:"trailing_activation"`
	TrailingFraction   float64 `mapstructure:"trailing_fraction"`

	MinOrderQuantity float64    `mapstructure:"min_order_quantity"`
	MACD             MACDConfig `mapstructure:"macd"`
}

type MACDConfig struct {
	Short  int `mapstructure:"short"`
	Long   int `mapstructure:"long"`
	Signal int `mapstructure:"signal"`
}

// RiskConfig lists equity tiers; an empty list means risk.DefaultTiers
type RiskConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

// TierConfig applies Fraction below the equity bound; Below 0 is open-ended
type TierConfig struct {
	Below    float64 `mapstructure:"below"`
	Fraction float64 `mapstructure:"fraction"`
}

type ExchangeConfig struct {
	Provider   string        `mapstructure:"provider"` // "kraken" or "mock"
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	BaseAsset  string        `mapstructure:"base_asset"`
	QuoteAsset string        `mapstructure:"quote_asset"`
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// MockBalances seeds the mock exchange of a dry run
	MockBalances map[string]float64 `mapstructure:"mock_balances"`
}

type LedgerConfig struct {
	Type string   `mapstructure:"type"` // "localfs", "s3" or "memory"
	Path string   `mapstructure:"path"` // For localfs
	File string   `mapstructure:"file"`
	S3   S3Config `mapstructure:"s3"` // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type NotifiersConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// ScheduleConfig drives the live loop
type ScheduleConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	SummaryHour int           `mapstructure:"summary_hour"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
}

type OptimizerConfig struct {
	// Workers 0 means GOMAXPROCS
	Workers int `mapstructure:"workers"`
}

// envAliases are the variable names the bot historically read
var envAliases = map[string][]string{
	"exchange.api_key":             {"EXCHANGE_API_KEY", "KRAKEN_API_KEY"},
	"exchange.api_secret":          {"EXCHANGE_API_SECRET", "KRAKEN_API_SECRET"},
	"notifiers.telegram.bot_token": {"NOTIFIERS_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
	"notifiers.telegram.chat_id":   {"NOTIFIERS_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"},
}

// Load reads configuration from file. An empty path uses defaults and the
// environment only. A .env file in the working directory is loaded first
// when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Defaults())

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	s := d.Strategy
	defaults := map[string]any{
		"strategy.trading_pair":          s.TradingPair,
		"strategy.kline_count":           s.KlineCount,
		"strategy.rsi_period":            s.RsiPeriod,
		"strategy.default_oversold":      s.DefaultOversold,
		"strategy.downtrend_oversold":    s.DowntrendOversold,
		"strategy.overbought":            s.Overbought,
		"strategy.sma_period":            s.SmaPeriod,
		"strategy.stop_loss":             s.StopLoss,
		"strategy.volume_avg_period":     s.VolumeAvgPeriod,
		"strategy.min_volume_multiplier": s.MinVolumeMultiplier,
		"strategy.atr_period":            s.AtrPeriod,
		"strategy.max_volatility_risk":   s.MaxVolatilityRisk,
		"strategy.first_profit_target":   s.FirstProfitTarget,
		"strategy.second_profit_target":  s.SecondProfitTarget,
		"strategy.final_profit_target":   s.FinalProfitTarget,
		"strategy.first_sell_fraction":   s.FirstSellFraction,
		"strategy.second_sell_fraction":  s.SecondSellFraction,
		"strategy.trailing_activation":   s.TrailingActivation,
		"strategy.trailing_fraction":     s.TrailingFraction,
		"strategy.min_order_quantity":    s.MinOrderQuantity,
		"strategy.macd.short":            s.MACD.Short,
		"strategy.macd.long":             s.MACD.Long,
		"strategy.macd.signal":           s.MACD.Signal,

		"exchange.provider":    d.Exchange.Provider,
		"exchange.api_key":     "",
		"exchange.api_secret":  "",
		"exchange.base_url":    d.Exchange.BaseURL,
		"exchange.base_asset":  d.Exchange.BaseAsset,
		"exchange.quote_asset": d.Exchange.QuoteAsset,
		"exchange.interval":    d.Exchange.Interval,
		"exchange.timeout":     d.Exchange.Timeout,

		"ledger.type": d.Ledger.Type,
		"ledger.path": d.Ledger.Path,
		"ledger.file": d.Ledger.File,

		"notifiers.telegram.enabled":   d.Notifiers.Telegram.Enabled,
		"notifiers.telegram.bot_token": "",
		"notifiers.telegram.chat_id":   "",
		"notifiers.webhook.enabled":    d.Notifiers.Webhook.Enabled,
		"notifiers.webhook.url":        "",

		"schedule.interval":     d.Schedule.Interval,
		"schedule.summary_hour": d.Schedule.SummaryHour,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.addr":    d.Metrics.Addr,
		"metrics.path":    d.Metrics.Path,

		"backtest.initial_capital": d.Backtest.InitialCapital,
		"optimizer.workers":        d.Optimizer.Workers,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func fromDecimal(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	p := strategy.DefaultParameters()
	return &Config{
		Strategy: StrategyConfig{
			TradingPair:         p.TradingPair,
			KlineCount:          p.KlineCount,
			RsiPeriod:           p.RsiPeriod,
			DefaultOversold:     fromDecimal(p.DefaultOversold),
			DowntrendOversold:   fromDecimal(p.DowntrendOversold),
			Overbought:          fromDecimal(p.Overbought),
			SmaPeriod:           p.SmaPeriod,
			StopLoss:            fromDecimal(p.StopLoss),
			VolumeAvgPeriod:     p.VolumeAvgPeriod,
			MinVolumeMultiplier: fromDecimal(p.MinVolumeMultiplier),
			AtrPeriod:           p.AtrPeriod,
			MaxVolatilityRisk:   fromDecimal(p.MaxVolatilityRisk),
			FirstProfitTarget:   fromDecimal(p.FirstProfitTarget),
			SecondProfitTarget:  fromDecimal(p.SecondProfitTarget),
			FinalProfitTarget:   fromDecimal(p.FinalProfitTarget),
			FirstSellFraction:   fromDecimal(p.FirstSellFraction),
			SecondSellFraction:  fromDecimal(p.SecondSellFraction),
			TrailingActivation:  fromDecimal(p.TrailingActivation),
			TrailingFraction:    fromDecimal(p.TrailingFraction),
			MinOrderQuantity:    fromDecimal(p.MinOrderQuantity),
			MACD: MACDConfig{
				Short:  p.MACD.Short,
				Long:   p.MACD.Long,
				Signal: p.MACD.Signal,
			},
		},
		Exchange: ExchangeConfig{
			Provider:   "kraken",
			BaseURL:    "https://api.kraken.com",
			BaseAsset:  "XETH",
			QuoteAsset: "ZEUR",
			Interval:   time.Hour,
			Timeout:    30 * time.Second,
		},
		Ledger: LedgerConfig{
			Type: "localfs",
			Path: ".",
			File: "trade_history.json",
		},
		Schedule: ScheduleConfig{
			Interval:    time.Hour,
			SummaryHour: 0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Backtest: BacktestConfig{
			InitialCapital: 1000,
		},
	}
}

// Parameters converts the strategy section to evaluator parameters
func (c *Config) Parameters() strategy.Parameters {
	s := c.Strategy
	return strategy.Parameters{
		TradingPair:         s.TradingPair,
		KlineCount:          s.KlineCount,
		RsiPeriod:           s.RsiPeriod,
		DefaultOversold:     decimal.NewFromFloat(s.DefaultOversold),
		DowntrendOversold:   decimal.NewFromFloat(s.DowntrendOversold),
		Overbought:          decimal.NewFromFloat(s.Overbought),
		SmaPeriod:           s.SmaPeriod,
		StopLoss:            decimal.NewFromFloat(s.StopLoss),
		VolumeAvgPeriod:     s.VolumeAvgPeriod,
		MinVolumeMultiplier: decimal.NewFromFloat(s.MinVolumeMultiplier),
		AtrPeriod:           s.AtrPeriod,
		MaxVolatilityRisk:   decimal.NewFromFloat(s.MaxVolatilityRisk),
		FirstProfitTarget:   decimal.NewFromFloat(s.FirstProfitTarget),
		SecondProfitTarget:  decimal.NewFromFloat(s.SecondProfitTarget),
		FinalProfitTarget:   decimal.NewFromFloat(s.FinalProfitTarget),
		FirstSellFraction:   decimal.NewFromFloat(s.FirstSellFraction),
		SecondSellFraction:  decimal.NewFromFloat(s.SecondSellFraction),
		TrailingActivation:  decimal.NewFromFloat(s.TrailingActivation),
		TrailingFraction:    decimal.NewFromFloat(s.TrailingFraction),
		MinOrderQuantity:    decimal.NewFromFloat(s.MinOrderQuantity),
		MACD: indicator.MACDParams{
			Short:  s.MACD.Short,
			Long:   s.MACD.Long,
			Signal: s.MACD.Signal,
		},
	}
}

// Tiers converts the risk section, falling back to the default table
func (c *Config) Tiers() risk.Tiers {
	if len(c.Risk.Tiers) == 0 {
		return risk.DefaultTiers()
	}
	tiers := make(risk.Tiers, len(c.Risk.Tiers))
	for i, t := range c.Risk.Tiers {
		tiers[i] = risk.Tier{
			Below:    decimal.NewFromFloat(t.Below),
			Fraction: decimal.NewFromFloat(t.Fraction),
		}
	}
	return tiers
}

// Storage converts the ledger section to a storage backend config
func (c *Config) Storage() storage.Config {
	s := c.Ledger.S3
	return storage.Config{
		Type: c.Ledger.Type,
		Path: c.Ledger.Path,
		S3: storage.S3Config{
			Bucket:    s.Bucket,
			Endpoint:  s.Endpoint,
			Region:    s.Region,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Prefix:    s.Prefix,
		},
	}
}

// MockBalances converts the dry-run seed balances
func (c *Config) MockBalances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Exchange.MockBalances))
	for asset, amount := range c.Exchange.MockBalances {
		out[strings.ToUpper(asset)] = decimal.NewFromFloat(amount)
	}
	return out
}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
}

func missing(format string, args ...any) error {
	return core.WrapError(core.ErrConfigMissing, fmt.Errorf(format, args...))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Parameters().Validate(); err != nil {
		return err
	}
	if err := c.Tiers().Validate(); err != nil {
		return err
	}

	// Exchange validation
	switch c.Exchange.Provider {
	case "kraken":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return missing("kraken api_key and api_secret required when provider is kraken")
		}
	case "mock":
	default:
		return invalid("unknown exchange provider %q", c.Exchange.Provider)
	}
	if c.Exchange.BaseAsset == "" || c.Exchange.QuoteAsset == "" {
		return missing("exchange base_asset and quote_asset are required")
	}
	if c.Exchange.Interval <= 0 {
		return invalid("exchange interval must be positive, got %s", c.Exchange.Interval)
	}

	// Ledger validation
	switch c.Ledger.Type {
	case "", "localfs", "memory":
	case "s3":
		if c.Ledger.S3.Bucket == "" {
			return missing("ledger s3 bucket required when type is s3")
		}
	default:
		return invalid("unknown ledger type %q", c.Ledger.Type)
	}
	if c.Ledger.File == "" {
		return missing("ledger file is required")
	}

	// Notifier validation
	if t := c.Notifiers.Telegram; t.Enabled && (t.BotToken == "" || t.ChatID == "") {
		return missing("telegram bot_token and chat_id required when telegram is enabled")
	}
	if w := c.Notifiers.Webhook; w.Enabled && w.URL == "" {
		return missing("webhook url required when webhook is enabled")
	}

	if c.Schedule.Interval <= 0 {
		return invalid("schedule interval must be positive, got %s", c.Schedule.Interval)
	}
	if c.Schedule.SummaryHour < 0 || c.Schedule.SummaryHour > 23 {
		return invalid("summary_hour must be between 0 and 23, got %d", c.Schedule.SummaryHour)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return missing("metrics addr required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics path must start with /, got %q", c.Metrics.Path)
		}
	}

	if c.Backtest.InitialCapital <= 0 {
		return invalid("backtest initial_capital must be positive, got %f", c.Backtest.InitialCapital)
	}
	if c.Optimizer.Workers < 0 {
		return invalid("optimizer workers cannot be negative, got %d", c.Optimizer.Workers)
	}

	return nil
}
