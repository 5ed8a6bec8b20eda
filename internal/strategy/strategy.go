// Package strategy hosts the strategy contract, the typed parameter schema,
// the factory registry, and the engine that runs strategy instances in
// isolated goroutines.
package strategy

import (
	"context"

	"tradebot/internal/core"
	"tradebot/internal/marketctx"
)

// Strategy is the contract every trading strategy implements. OnMarketData is
// called from the instance's own runner goroutine, so implementations can keep
// unguarded internal state. Returned signals are advisory: the risk gate
// decides what becomes an order.
type Strategy interface {
	// Name returns the instance name
	Name() string

	// Init applies validated parameters before the first tick
	Init(params map[string]interface{}) error

	// OnMarketData processes one tick against a point-in-time snapshot and
	// returns zero or more signals
	OnMarketData(ctx context.Context, snap *marketctx.Snapshot, tick core.Tick) ([]core.Signal, error)

	// OnOrderFilled informs the strategy one of its orders reached a fill
	OnOrderFilled(order core.Order)

	// OnPositionUpdate informs the strategy its position changed
	OnPositionUpdate(pos core.Position)

	// State exposes internal state for status queries and debugging
	State() map[string]interface{}

	// Shutdown releases resources; called once when the instance stops
	Shutdown() error
}
