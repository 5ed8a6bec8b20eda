// Package core defines the shared domain types and interfaces for the trading pipeline
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the opposing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes market and limit orders
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// SignalKind classifies the intent of a strategy signal
type SignalKind string

const (
	SignalEntry    SignalKind = "ENTRY"
	SignalExit     SignalKind = "EXIT"
	SignalScaleIn  SignalKind = "SCALE_IN"
	SignalScaleOut SignalKind = "SCALE_OUT"
)

// Signal is a strategy's trade intent. Signals are transient: they are
// consumed by the risk gate and never persisted.
type Signal struct {
	ID             string
	StrategyID     string
	Symbol         string
	Side           Side
	Kind           SignalKind
	Strength       float64
	SuggestedPrice decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	Metadata       map[string]string
	Timestamp      time.Time
}

// ClampStrength bounds the signal strength to [0, 1]
func (s *Signal) ClampStrength() {
	if s.Strength < 0 {
		s.Strength = 0
	}
	if s.Strength > 1 {
		s.Strength = 1
	}
}

// IsEntry reports whether the signal increases exposure
func (s *Signal) IsEntry() bool {
	return s.Kind == SignalEntry || s.Kind == SignalScaleIn
}

// OrderRequest is a risk-approved instruction to place an order
type OrderRequest struct {
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	StrategyID     string
	SignalID       string
	IdempotencyKey string
}

// Order is the full lifecycle record of a placed order
type Order struct {
	ID              string
	ExchangeOrderID string
	IdempotencyKey  string
	Symbol          string
	Side            Side
	Type            OrderType
	Status          OrderStatus
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	Price           decimal.Decimal
	AvgFillPrice    decimal.Decimal
	StrategyID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RemainingQuantity returns the unfilled portion of the order
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill is a single execution against an order. CumulativeQty carries the
// exchange's running filled total so out-of-order delivery can be detected.
type Fill struct {
	OrderID       string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Commission    decimal.Decimal
	CumulativeQty decimal.Decimal
	Timestamp     time.Time
}

// Position is an open or historical holding for a symbol and strategy
type Position struct {
	ID            string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	StrategyID    string
	OpenedAt      time.Time
	UpdatedAt     time.Time
	ClosedAt      time.Time
}

// Notional returns the current market value of the position
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// AccountSnapshot is a point-in-time view of account balances
type AccountSnapshot struct {
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	MarginUsed       decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	FetchedAt        time.Time
}

// SymbolConstraints carries per-symbol exchange trading rules
type SymbolConstraints struct {
	MinOrderQuantity decimal.Decimal
	MinOrderValue    decimal.Decimal
	TickSize         decimal.Decimal
	StepSize         decimal.Decimal
	MakerFeeRate     decimal.Decimal
	TakerFeeRate     decimal.Decimal
}

// Tick is a single market data update delivered to strategies
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Candle is an OHLCV bar
type Candle struct {
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// OrderUpdate is an exchange-originated event about an order
type OrderUpdate struct {
	ExchangeOrderID string
	IdempotencyKey  string
	Symbol          string
	Status          OrderStatus
	Fill            *Fill
	Reason          string
	Timestamp       time.Time
}

// EventKind classifies notification events
type EventKind string

const (
	EventOrderFilled    EventKind = "ORDER_FILLED"
	EventOrderRejected  EventKind = "ORDER_REJECTED"
	EventRiskRejection  EventKind = "RISK_REJECTION"
	EventRiskWarning    EventKind = "RISK_WARNING"
	EventBreakerChanged EventKind = "BREAKER_CHANGED"
	EventStrategyError  EventKind = "STRATEGY_ERROR"
)

// Event is a notification dispatched outside the decision path
type Event struct {
	Kind      EventKind
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}
