// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App        AppConfig                 `yaml:"app"`
	Exchanges  map[string]ExchangeConfig `yaml:"exchanges"`
	Risk       RiskConfig                `yaml:"risk"`
	Sync       SyncConfig                `yaml:"sync"`
	Executor   ExecutorConfig            `yaml:"executor"`
	Strategies []StrategyConfig          `yaml:"strategies"`
	Analytics  AnalyticsConfig           `yaml:"analytics"`
	Feed       FeedConfig                `yaml:"feed"`
	Alerting   AlertingConfig            `yaml:"alerting"`
	Archive    ArchiveConfig             `yaml:"archive"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	System     SystemConfig              `yaml:"system"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name            string `yaml:"name"`
	PrimaryExchange string `yaml:"primary_exchange"`
}

// ExchangeConfig contains exchange-specific configuration
type ExchangeConfig struct {
	APIKey    Secret  `yaml:"api_key"`
	SecretKey Secret  `yaml:"secret_key"`
	BaseURL   string  `yaml:"base_url"`
	WSBaseURL string  `yaml:"ws_base_url"`
	FeeRate   float64 `yaml:"fee_rate"`
}

// RiskConfig contains the risk gate limits
type RiskConfig struct {
	DailyLossLimitPct      float64            `yaml:"daily_loss_limit_pct"`
	PerSymbolCapPct        float64            `yaml:"per_symbol_cap_pct"`
	AggregateCapPct        float64            `yaml:"aggregate_cap_pct"`
	MaxOpenPositions       int                `yaml:"max_open_positions"`
	VolatilityThreshold    float64            `yaml:"volatility_threshold"`
	SymbolVolatility       map[string]float64 `yaml:"symbol_volatility"`
	MinOrderValue          float64            `yaml:"min_order_value"`
	DisabledSymbols        []string           `yaml:"disabled_symbols"`
	PausedStrategies       []string           `yaml:"paused_strategies"`
	MinSignalStrength      float64            `yaml:"min_signal_strength"`
	DefaultOrderEquityFrac float64            `yaml:"default_order_equity_frac"`
}

// SyncConfig controls the context synchronizer cycles
type SyncConfig struct {
	ExchangeInterval  time.Duration `yaml:"exchange_interval"`
	AnalyticsInterval time.Duration `yaml:"analytics_interval"`
}

// ExecutorConfig controls order execution behavior
type ExecutorConfig struct {
	RateLimit           float64       `yaml:"rate_limit"`
	RateBurst           int           `yaml:"rate_burst"`
	MaxRetries          int           `yaml:"max_retries"`
	BaseRetryDelay      time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay"`
	BreakerMaxFailures  int           `yaml:"breaker_max_failures"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout"`
	OrderHistoryLimit   int           `yaml:"order_history_limit"`
	ArchiveRetentionAge time.Duration `yaml:"archive_retention_age"`
}

// StrategyConfig declares a strategy instance
type StrategyConfig struct {
	ID         string                 `yaml:"id"`
	Type       string                 `yaml:"type"`
	Symbols    []string               `yaml:"symbols"`
	Params     map[string]interface{} `yaml:"params"`
	TickBudget time.Duration          `yaml:"tick_budget"`
	QueueSize  int                    `yaml:"queue_size"`
	Enabled    bool                   `yaml:"enabled"`
}

// AnalyticsConfig configures the analytics provider client
type AnalyticsConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// FeedConfig configures the market data feed
type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// AlertingConfig configures notification channels
type AlertingConfig struct {
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	TelegramToken    string `yaml:"telegram_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	MinLevelCritical bool   `yaml:"min_level_critical"`
}

// ArchiveConfig configures the terminal order archive
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// expandEnvVars expands ${VAR} and $VAR references in the raw YAML text
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// applyDefaults fills unset fields with working defaults
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tradebot"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Sync.ExchangeInterval == 0 {
		c.Sync.ExchangeInterval = 2 * time.Second
	}
	if c.Sync.AnalyticsInterval == 0 {
		c.Sync.AnalyticsInterval = 5 * time.Minute
	}
	if c.Risk.PerSymbolCapPct == 0 {
		c.Risk.PerSymbolCapPct = 10
	}
	if c.Risk.AggregateCapPct == 0 {
		c.Risk.AggregateCapPct = 50
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = 10
	}
	if c.Risk.DefaultOrderEquityFrac == 0 {
		c.Risk.DefaultOrderEquityFrac = 0.02
	}
	if c.Executor.RateLimit == 0 {
		c.Executor.RateLimit = 25
	}
	if c.Executor.RateBurst == 0 {
		c.Executor.RateBurst = 30
	}
	if c.Executor.MaxRetries == 0 {
		c.Executor.MaxRetries = 5
	}
	if c.Executor.BaseRetryDelay == 0 {
		c.Executor.BaseRetryDelay = 500 * time.Millisecond
	}
	if c.Executor.MaxRetryDelay == 0 {
		c.Executor.MaxRetryDelay = 10 * time.Second
	}
	if c.Executor.BreakerMaxFailures == 0 {
		c.Executor.BreakerMaxFailures = 5
	}
	if c.Executor.BreakerOpenTimeout == 0 {
		c.Executor.BreakerOpenTimeout = 30 * time.Second
	}
	if c.Executor.OrderHistoryLimit == 0 {
		c.Executor.OrderHistoryLimit = 10000
	}
	if c.Archive.Path == "" {
		c.Archive.Path = "tradebot.db"
	}
	for i := range c.Strategies {
		if c.Strategies[i].TickBudget == 0 {
			c.Strategies[i].TickBudget = 100 * time.Millisecond
		}
		if c.Strategies[i].QueueSize == 0 {
			c.Strategies[i].QueueSize = 256
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateApp(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSync(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExecutor(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategies(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.PrimaryExchange == "" {
		return ValidationError{Field: "app.primary_exchange", Value: "", Message: "primary exchange is required"}
	}
	if _, ok := c.Exchanges[c.App.PrimaryExchange]; !ok {
		return ValidationError{Field: "app.primary_exchange", Value: c.App.PrimaryExchange, Message: "no matching entry under exchanges"}
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := c.Risk
	if r.DailyLossLimitPct < 0 || r.DailyLossLimitPct > 100 {
		return ValidationError{Field: "risk.daily_loss_limit_pct", Value: r.DailyLossLimitPct, Message: "must be between 0 and 100"}
	}
	if r.PerSymbolCapPct <= 0 || r.PerSymbolCapPct > 100 {
		return ValidationError{Field: "risk.per_symbol_cap_pct", Value: r.PerSymbolCapPct, Message: "must be between 0 and 100"}
	}
	if r.AggregateCapPct <= 0 || r.AggregateCapPct > 100 {
		return ValidationError{Field: "risk.aggregate_cap_pct", Value: r.AggregateCapPct, Message: "must be between 0 and 100"}
	}
	if r.PerSymbolCapPct > r.AggregateCapPct {
		return ValidationError{Field: "risk.per_symbol_cap_pct", Value: r.PerSymbolCapPct, Message: "cannot exceed aggregate_cap_pct"}
	}
	if r.MaxOpenPositions < 1 {
		return ValidationError{Field: "risk.max_open_positions", Value: r.MaxOpenPositions, Message: "must be at least 1"}
	}
	if r.MinSignalStrength < 0 || r.MinSignalStrength > 1 {
		return ValidationError{Field: "risk.min_signal_strength", Value: r.MinSignalStrength, Message: "must be between 0 and 1"}
	}
	if r.DefaultOrderEquityFrac <= 0 || r.DefaultOrderEquityFrac > 1 {
		return ValidationError{Field: "risk.default_order_equity_frac", Value: r.DefaultOrderEquityFrac, Message: "must be between 0 and 1"}
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.ExchangeInterval < time.Second || c.Sync.ExchangeInterval > 5*time.Second {
		return ValidationError{Field: "sync.exchange_interval", Value: c.Sync.ExchangeInterval, Message: "must be between 1s and 5s"}
	}
	if c.Sync.AnalyticsInterval < time.Minute || c.Sync.AnalyticsInterval > 10*time.Minute {
		return ValidationError{Field: "sync.analytics_interval", Value: c.Sync.AnalyticsInterval, Message: "must be between 1m and 10m"}
	}
	return nil
}

func (c *Config) validateExecutor() error {
	e := c.Executor
	if e.RateLimit <= 0 {
		return ValidationError{Field: "executor.rate_limit", Value: e.RateLimit, Message: "must be positive"}
	}
	if e.MaxRetries < 0 || e.MaxRetries > 20 {
		return ValidationError{Field: "executor.max_retries", Value: e.MaxRetries, Message: "must be between 0 and 20"}
	}
	if e.BreakerMaxFailures < 1 {
		return ValidationError{Field: "executor.breaker_max_failures", Value: e.BreakerMaxFailures, Message: "must be at least 1"}
	}
	if e.BreakerOpenTimeout < time.Second {
		return ValidationError{Field: "executor.breaker_open_timeout", Value: e.BreakerOpenTimeout, Message: "must be at least 1s"}
	}
	return nil
}

func (c *Config) validateStrategies() error {
	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if s.ID == "" {
			return ValidationError{Field: "strategies.id", Value: "", Message: "strategy id is required"}
		}
		if seen[s.ID] {
			return ValidationError{Field: "strategies.id", Value: s.ID, Message: "duplicate strategy id"}
		}
		seen[s.ID] = true
		if s.Type == "" {
			return ValidationError{Field: "strategies.type", Value: s.ID, Message: "strategy type is required"}
		}
		if len(s.Symbols) == 0 {
			return ValidationError{Field: "strategies.symbols", Value: s.ID, Message: "at least one symbol is required"}
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
		return nil
	default:
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: "must be one of DEBUG, INFO, WARN, ERROR, FATAL"}
	}
}
