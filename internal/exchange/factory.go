// Package exchange selects the order routing venue from configuration
package exchange

import (
	"fmt"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/exchange/binance"
	"tradebot/internal/mock"
)

// New builds the exchange adapter named in config. The mock venue accepts
// orders without routing them anywhere and exists for dry runs.
func New(name string, cfg config.ExchangeConfig, logger core.ILogger) (core.IExchange, error) {
	switch name {
	case "binance":
		return binance.New(cfg, logger), nil
	case "mock", "paper":
		return mock.NewExchange(name), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %q", name)
	}
}
