package strategy

import (
	"fmt"
	"sync"

	"tradebot/internal/config"
	"tradebot/internal/core"
)

// Factory builds a strategy instance. Parameters arrive already validated
// against the type's schema.
type Factory func(id string, symbols []string, logger core.ILogger) Strategy

type registration struct {
	schema  ConfigSchema
	factory Factory
}

// Registry maps strategy type names to factories with their config schemas.
// Strategy types are compiled in; there is no dynamic loading.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a strategy type. Duplicate names are an error.
func (r *Registry) Register(typeName string, schema ConfigSchema, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[typeName]; exists {
		return fmt.Errorf("strategy type %q already registered", typeName)
	}
	r.entries[typeName] = registration{schema: schema, factory: factory}
	return nil
}

// Types returns the registered type names
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Create validates the instance config and builds an initialized strategy.
// A schema violation means the instance never starts.
func (r *Registry) Create(cfg config.StrategyConfig, logger core.ILogger) (Strategy, error) {
	r.mu.RLock()
	entry, ok := r.entries[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("strategy %q declares no symbols", cfg.ID)
	}
	if err := entry.schema.Validate(cfg.Type, cfg.Params); err != nil {
		return nil, err
	}

	strat := entry.factory(cfg.ID, cfg.Symbols, logger)
	if err := strat.Init(cfg.Params); err != nil {
		return nil, fmt.Errorf("init strategy %q: %w", cfg.ID, err)
	}
	return strat, nil
}
