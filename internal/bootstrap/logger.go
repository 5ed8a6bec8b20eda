package bootstrap

import (
	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/logging"
)

// InitLogger builds the zap logger at the configured level and installs it
// as the process-wide default
func InitLogger(cfg *config.Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger.WithField("app", cfg.App.Name), nil
}
