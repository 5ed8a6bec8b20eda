package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
app:
  name: tradebot
  primary_exchange: sim
exchanges:
  sim:
    api_key: key
    secret_key: secret
    fee_rate: 0.001
risk:
  daily_loss_limit_pct: 5
  per_symbol_cap_pct: 10
  aggregate_cap_pct: 50
  max_open_positions: 10
  volatility_threshold: 0.08
  min_order_value: 10
sync:
  exchange_interval: 2s
  analytics_interval: 5m
executor:
  rate_limit: 25
  rate_burst: 30
strategies:
  - id: sma-btc
    type: sma_cross
    symbols: [BTCUSDT]
    enabled: true
    params:
      fast_period: 10
      slow_period: 30
system:
  log_level: INFO
`

func TestLoadConfigValid(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.App.PrimaryExchange)
	assert.Equal(t, 2*time.Second, cfg.Sync.ExchangeInterval)
	assert.Equal(t, 5*time.Minute, cfg.Sync.AnalyticsInterval)
	assert.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "sma_cross", cfg.Strategies[0].Type)

	// Defaults applied
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Strategies[0].TickBudget)
	assert.Equal(t, 256, cfg.Strategies[0].QueueSize)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_API_KEY", "expanded-key")

	content := `
app:
  primary_exchange: sim
exchanges:
  sim:
    api_key: ${TEST_API_KEY}
    secret_key: secret
risk:
  per_symbol_cap_pct: 10
  aggregate_cap_pct: 50
sync:
  exchange_interval: 2s
  analytics_interval: 5m
system:
  log_level: INFO
`
	cfg, err := LoadConfig(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.Exchanges["sim"].APIKey.Reveal())
	assert.Equal(t, "[REDACTED]", cfg.Exchanges["sim"].APIKey.String())
}

func TestValidateRejectsBadSyncIntervals(t *testing.T) {
	tests := []struct {
		name     string
		exchange string
		wantErr  string
	}{
		{"too short", "100ms", "between 1s and 5s"},
		{"too long", "30s", "between 1s and 5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `
app:
  primary_exchange: sim
exchanges:
  sim:
    api_key: key
    secret_key: secret
sync:
  exchange_interval: ` + tt.exchange + `
  analytics_interval: 5m
system:
  log_level: INFO
`
			_, err := LoadConfig(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRejectsPerSymbolCapAboveAggregate(t *testing.T) {
	content := `
app:
  primary_exchange: sim
exchanges:
  sim:
    api_key: key
    secret_key: secret
risk:
  per_symbol_cap_pct: 60
  aggregate_cap_pct: 50
sync:
  exchange_interval: 2s
  analytics_interval: 5m
system:
  log_level: INFO
`
	_, err := LoadConfig(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot exceed aggregate_cap_pct")
}

func TestValidateRejectsDuplicateStrategyIDs(t *testing.T) {
	content := `
app:
  primary_exchange: sim
exchanges:
  sim:
    api_key: key
    secret_key: secret
sync:
  exchange_interval: 2s
  analytics_interval: 5m
strategies:
  - id: dup
    type: sma_cross
    symbols: [BTCUSDT]
  - id: dup
    type: sma_cross
    symbols: [ETHUSDT]
system:
  log_level: INFO
`
	_, err := LoadConfig(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate strategy id")
}

func TestValidateRejectsUnknownPrimaryExchange(t *testing.T) {
	content := `
app:
  primary_exchange: missing
exchanges:
  sim:
    api_key: key
    secret_key: secret
sync:
  exchange_interval: 2s
  analytics_interval: 5m
system:
  log_level: INFO
`
	_, err := LoadConfig(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching entry under exchanges")
}
