package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"tradebot/internal/config"
)

// LoadConfig loads and validates the configuration, then runs environment
// checks the schema validator cannot express
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

func checkPreFlight(cfg *config.Config) error {
	primary := cfg.App.PrimaryExchange
	if primary != "mock" && primary != "paper" {
		exch := cfg.Exchanges[primary]
		if exch.APIKey == "" || exch.SecretKey == "" {
			return fmt.Errorf("exchange %q requires api_key and secret_key", primary)
		}
	}

	if cfg.Archive.Path != ":memory:" {
		dir := filepath.Dir(cfg.Archive.Path)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("archive directory does not exist: %s", dir)
		}
	}
	return nil
}
