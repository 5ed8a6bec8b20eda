// Package risk implements the pre-trade validation gate: the single
// checkpoint every signal passes before an order request reaches the
// executor.
package risk

import (
	"sync/atomic"

	"tradebot/internal/config"

	"github.com/shopspring/decimal"
)

// Limits is the complete set of risk parameters. Instances are immutable;
// updates replace the whole set atomically so concurrent validations never
// see a partial configuration.
type Limits struct {
	// DailyLossLimitPct stops new entries once the day's realized plus
	// unrealized loss reaches this percentage of account equity. Zero
	// disables the check.
	DailyLossLimitPct decimal.Decimal

	// PerSymbolCapPct caps a single symbol's exposure as a percentage of
	// total capital
	PerSymbolCapPct decimal.Decimal

	// AggregateCapPct caps total exposure across all symbols
	AggregateCapPct decimal.Decimal

	// MaxOpenPositions bounds the number of simultaneously open positions
	MaxOpenPositions int

	// VolatilityThreshold rejects entries when a symbol's volatility metric
	// exceeds it. SymbolVolatility entries override per symbol.
	VolatilityThreshold decimal.Decimal
	SymbolVolatility    map[string]decimal.Decimal

	// MinOrderValue rejects orders whose notional is below the exchange
	// minimum
	MinOrderValue decimal.Decimal

	// DisabledSymbols and PausedStrategies block trading entirely
	DisabledSymbols  map[string]bool
	PausedStrategies map[string]bool

	// MinSignalStrength drops signals below this strength before any other
	// check
	MinSignalStrength float64

	// DefaultOrderEquityFrac sizes orders as a fraction of equity, scaled by
	// signal strength
	DefaultOrderEquityFrac decimal.Decimal
}

// VolatilityThresholdFor returns the effective threshold for a symbol
func (l *Limits) VolatilityThresholdFor(symbol string) decimal.Decimal {
	if override, ok := l.SymbolVolatility[symbol]; ok {
		return override
	}
	return l.VolatilityThreshold
}

// DefaultLimits returns limits matching the documented defaults
func DefaultLimits() *Limits {
	return &Limits{
		PerSymbolCapPct:        decimal.NewFromInt(10),
		AggregateCapPct:        decimal.NewFromInt(50),
		MaxOpenPositions:       10,
		DefaultOrderEquityFrac: decimal.NewFromFloat(0.02),
		SymbolVolatility:       make(map[string]decimal.Decimal),
		DisabledSymbols:        make(map[string]bool),
		PausedStrategies:       make(map[string]bool),
	}
}

// FromConfig builds a limit set from configuration, falling back to the
// defaults for unset fields
func FromConfig(cfg config.RiskConfig) *Limits {
	limits := DefaultLimits()

	if cfg.DailyLossLimitPct > 0 {
		limits.DailyLossLimitPct = decimal.NewFromFloat(cfg.DailyLossLimitPct)
	}
	if cfg.PerSymbolCapPct > 0 {
		limits.PerSymbolCapPct = decimal.NewFromFloat(cfg.PerSymbolCapPct)
	}
	if cfg.AggregateCapPct > 0 {
		limits.AggregateCapPct = decimal.NewFromFloat(cfg.AggregateCapPct)
	}
	if cfg.MaxOpenPositions > 0 {
		limits.MaxOpenPositions = cfg.MaxOpenPositions
	}
	if cfg.VolatilityThreshold > 0 {
		limits.VolatilityThreshold = decimal.NewFromFloat(cfg.VolatilityThreshold)
	}
	for symbol, threshold := range cfg.SymbolVolatility {
		limits.SymbolVolatility[symbol] = decimal.NewFromFloat(threshold)
	}
	if cfg.MinOrderValue > 0 {
		limits.MinOrderValue = decimal.NewFromFloat(cfg.MinOrderValue)
	}
	for _, symbol := range cfg.DisabledSymbols {
		limits.DisabledSymbols[symbol] = true
	}
	for _, id := range cfg.PausedStrategies {
		limits.PausedStrategies[id] = true
	}
	limits.MinSignalStrength = cfg.MinSignalStrength
	if cfg.DefaultOrderEquityFrac > 0 {
		limits.DefaultOrderEquityFrac = decimal.NewFromFloat(cfg.DefaultOrderEquityFrac)
	}
	return limits
}

// LimitsHolder publishes the active limits atomically. In-flight validations
// finish under the limits they started with; new validations see the
// replacement.
type LimitsHolder struct {
	current atomic.Pointer[Limits]
}

// NewLimitsHolder creates a holder seeded with limits
func NewLimitsHolder(limits *Limits) *LimitsHolder {
	h := &LimitsHolder{}
	h.current.Store(limits)
	return h
}

// Current returns the active limits
func (h *LimitsHolder) Current() *Limits {
	return h.current.Load()
}

// Replace atomically swaps in a new limit set
func (h *LimitsHolder) Replace(limits *Limits) {
	h.current.Store(limits)
}
