// Package core defines the core interfaces for the trading system
package core

import (
	"context"
	"time"
)

// IExchange defines the interface for order routing venues. Live adapters and
// the backtest exchange both implement it; the pipeline never knows which one
// it is talking to.
type IExchange interface {
	// Identity
	GetName() string
	CheckHealth(ctx context.Context) error

	// Order operations
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, exchangeOrderID string) error
	GetOrder(ctx context.Context, symbol string, exchangeOrderID string) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, symbol string, key string) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	// Account operations
	GetAccount(ctx context.Context) (*AccountSnapshot, error)
	GetPositions(ctx context.Context) ([]*Position, error)
	GetSymbolConstraints(ctx context.Context, symbol string) (*SymbolConstraints, error)

	// Streams
	StartOrderStream(ctx context.Context, callback func(update *OrderUpdate)) error
	StopOrderStream() error
}

// IAnalyticsProvider serves slow-moving analytics consumed on the long sync cycle
type IAnalyticsProvider interface {
	Scores(ctx context.Context, symbols []string) (map[string]float64, error)
	States(ctx context.Context, symbols []string) (map[string]string, error)
}

// IHistoricalData serves candle history for backtests and indicator warmup
type IHistoricalData interface {
	Candles(ctx context.Context, symbol string, interval string, from, to time.Time) ([]*Candle, error)
}

// INotifier dispatches events to external channels. Implementations must never
// block the trading decision path.
type INotifier interface {
	Notify(event Event)
}

// IClock abstracts wall time so time-dependent components can be tested
// deterministically
type IClock interface {
	Now() time.Time
}

// RealClock is the production IClock backed by time.Now
type RealClock struct{}

// Now returns the current wall time
func (RealClock) Now() time.Time { return time.Now() }

// IArchive persists terminal orders and closed positions
type IArchive interface {
	SaveOrder(ctx context.Context, order *Order) error
	SavePosition(ctx context.Context, position *Position) error
	Close() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
