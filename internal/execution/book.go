package execution

import (
	"fmt"
	"sync"
	"time"

	"tradebot/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderEventType classifies order history events
type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "CREATED"
	OrderEventSubmitted     OrderEventType = "SUBMITTED"
	OrderEventFill          OrderEventType = "FILL"
	OrderEventCancelled     OrderEventType = "CANCELLED"
	OrderEventRejected      OrderEventType = "REJECTED"
	OrderEventExpired       OrderEventType = "EXPIRED"
	OrderEventFillWinsOver  OrderEventType = "FILL_AFTER_CANCEL"
	OrderEventStaleDiscard  OrderEventType = "STALE_FILL_DISCARDED"
	OrderEventReconSnapshot OrderEventType = "STATUS_RECONCILED"
)

// OrderEvent is one entry in an order's audit trail
type OrderEvent struct {
	Type      OrderEventType
	OrderID   string
	Detail    string
	Timestamp time.Time
}

// validTransitions encodes the order lifecycle state machine
var validTransitions = map[core.OrderStatus][]core.OrderStatus{
	core.OrderStatusCreated: {
		core.OrderStatusSubmitted, core.OrderStatusRejected,
	},
	core.OrderStatusSubmitted: {
		core.OrderStatusPartiallyFilled, core.OrderStatusFilled,
		core.OrderStatusCancelled, core.OrderStatusRejected, core.OrderStatusExpired,
	},
	core.OrderStatusPartiallyFilled: {
		core.OrderStatusPartiallyFilled, core.OrderStatusFilled,
		core.OrderStatusCancelled, core.OrderStatusExpired,
	},
}

func transitionAllowed(from, to core.OrderStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Book tracks every order through its lifecycle. It is the single source of
// truth for order state: fills are folded in via the exchange's cumulative
// quantity so duplicated or reordered delivery cannot double-count, and a
// terminal transition is reported to the caller exactly once.
type Book struct {
	mu sync.RWMutex

	orders       map[string]*core.Order
	byExchangeID map[string]string
	byKey        map[string]string
	bySymbol     map[string]map[string]bool
	byStrategy   map[string]map[string]bool
	active       map[string]bool

	fills  []core.Fill
	events []OrderEvent

	historyLimit int
	logger       core.ILogger
	clock        core.IClock
}

// NewBook creates an empty order book
func NewBook(historyLimit int, clock core.IClock, logger core.ILogger) *Book {
	if historyLimit <= 0 {
		historyLimit = 10000
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Book{
		orders:       make(map[string]*core.Order),
		byExchangeID: make(map[string]string),
		byKey:        make(map[string]string),
		bySymbol:     make(map[string]map[string]bool),
		byStrategy:   make(map[string]map[string]bool),
		active:       make(map[string]bool),
		historyLimit: historyLimit,
		clock:        clock,
		logger:       logger.WithField("component", "order_book"),
	}
}

// Create registers a new order in Created state
func (b *Book) Create(req *core.OrderRequest) *core.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	order := &core.Order{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         core.OrderStatusCreated,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		Price:          req.Price,
		StrategyID:     req.StrategyID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	b.orders[order.ID] = order
	b.active[order.ID] = true
	if req.IdempotencyKey != "" {
		b.byKey[req.IdempotencyKey] = order.ID
	}
	b.index(b.bySymbol, order.Symbol, order.ID)
	b.index(b.byStrategy, order.StrategyID, order.ID)
	b.appendEvent(OrderEventCreated, order.ID, "")

	return b.snapshot(order)
}

// MarkSubmitted records exchange acknowledgment
func (b *Book) MarkSubmitted(orderID, exchangeOrderID string) (*core.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	// A stream fill can land before the placement ack returns; the ack then
	// only records the exchange id
	if order.Status == core.OrderStatusCreated {
		order.Status = core.OrderStatusSubmitted
	}
	order.ExchangeOrderID = exchangeOrderID
	order.UpdatedAt = b.clock.Now()
	if exchangeOrderID != "" {
		b.byExchangeID[exchangeOrderID] = orderID
	}
	b.appendEvent(OrderEventSubmitted, orderID, exchangeOrderID)
	return b.snapshot(order), nil
}

// transitionResult describes what a state change produced
type transitionResult struct {
	Order          *core.Order
	BecameTerminal bool
	Fill           *core.Fill
}

// ApplyFill folds a fill into the order. The exchange's cumulative quantity
// is authoritative: a fill whose cumulative total does not advance the local
// one is a duplicate or out-of-order delivery and is discarded. Filled
// quantity never decreases.
func (b *Book) ApplyFill(orderID string, fill *core.Fill) (*transitionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}

	cum := fill.CumulativeQty
	if cum.IsZero() {
		// Venues that do not report a running total get it reconstructed
		cum = order.FilledQuantity.Add(fill.Quantity)
	}

	if cum.LessThanOrEqual(order.FilledQuantity) {
		b.appendEvent(OrderEventStaleDiscard, orderID,
			fmt.Sprintf("cumulative %s <= recorded %s", cum.String(), order.FilledQuantity.String()))
		b.logger.Debug("Discarding stale or duplicate fill",
			"order_id", orderID,
			"cumulative", cum.String(),
			"recorded", order.FilledQuantity.String())
		return &transitionResult{Order: b.snapshot(order)}, nil
	}

	if cum.GreaterThan(order.Quantity) {
		return nil, fmt.Errorf("fill cumulative %s exceeds order quantity %s for %s",
			cum.String(), order.Quantity.String(), orderID)
	}

	reinstated := false
	switch {
	case order.Status == core.OrderStatusCancelled:
		reinstated = true
		// Local cancel raced a fill already executed at the venue. The fill
		// is a fact; the cancel outcome is corrected and the fill applied.
		b.appendEvent(OrderEventFillWinsOver, orderID, "reinstating fill over local cancel")
		b.logger.Warn("Fill arrived for cancelled order, fill wins",
			"order_id", orderID,
			"cumulative", cum.String())
	case order.Status.IsTerminal():
		return nil, fmt.Errorf("apply fill %s: %w", orderID, core.ErrOrderFinalized)
	}

	delta := cum.Sub(order.FilledQuantity)

	// Fill-weighted average price across the order's executions
	prevNotional := order.AvgFillPrice.Mul(order.FilledQuantity)
	order.AvgFillPrice = prevNotional.Add(fill.Price.Mul(delta)).Div(cum)
	order.FilledQuantity = cum
	order.UpdatedAt = b.clock.Now()

	wasTerminal := order.Status.IsTerminal() && !reinstated
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = core.OrderStatusFilled
	} else {
		order.Status = core.OrderStatusPartiallyFilled
	}

	becameTerminal := order.Status.IsTerminal() && !wasTerminal
	if order.Status.IsTerminal() {
		delete(b.active, orderID)
	} else {
		b.active[orderID] = true
	}

	applied := *fill
	applied.OrderID = orderID
	applied.Quantity = delta
	applied.CumulativeQty = cum
	b.fills = append(b.fills, applied)
	b.appendEvent(OrderEventFill, orderID,
		fmt.Sprintf("delta %s cumulative %s @ %s", delta.String(), cum.String(), fill.Price.String()))

	return &transitionResult{
		Order:          b.snapshot(order),
		BecameTerminal: becameTerminal,
		Fill:           &applied,
	}, nil
}

// MarkTerminal moves an order to a non-fill terminal state. The transition
// is reported once; repeat calls return ErrOrderFinalized.
func (b *Book) MarkTerminal(orderID string, status core.OrderStatus, reason string) (*transitionResult, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("status %s is not terminal", status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("mark %s %s: %w", status, orderID, core.ErrOrderFinalized)
	}
	if !transitionAllowed(order.Status, status) {
		return nil, fmt.Errorf("invalid transition %s -> %s for %s", order.Status, status, orderID)
	}

	order.Status = status
	order.UpdatedAt = b.clock.Now()
	delete(b.active, orderID)

	eventType := OrderEventCancelled
	switch status {
	case core.OrderStatusRejected:
		eventType = OrderEventRejected
	case core.OrderStatusExpired:
		eventType = OrderEventExpired
	}
	b.appendEvent(eventType, orderID, reason)

	return &transitionResult{Order: b.snapshot(order), BecameTerminal: true}, nil
}

// Resolve maps an exchange order id or idempotency key to the local order id
func (b *Book) Resolve(exchangeOrderID, idempotencyKey string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if exchangeOrderID != "" {
		if id, ok := b.byExchangeID[exchangeOrderID]; ok {
			return id, true
		}
	}
	if idempotencyKey != "" {
		if id, ok := b.byKey[idempotencyKey]; ok {
			return id, true
		}
	}
	return "", false
}

// Get returns a copy of the order
func (b *Book) Get(orderID string) (*core.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	return b.snapshot(order), nil
}

// ActiveOrders returns all non-terminal orders
func (b *Book) ActiveOrders() []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*core.Order, 0, len(b.active))
	for id := range b.active {
		out = append(out, b.snapshot(b.orders[id]))
	}
	return out
}

// ActiveBySymbol returns non-terminal orders for a symbol
func (b *Book) ActiveBySymbol(symbol string) []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*core.Order
	for id := range b.bySymbol[symbol] {
		if b.active[id] {
			out = append(out, b.snapshot(b.orders[id]))
		}
	}
	return out
}

// OrdersByStrategy returns all orders owned by a strategy
func (b *Book) OrdersByStrategy(strategyID string) []*core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*core.Order
	for id := range b.byStrategy[strategyID] {
		out = append(out, b.snapshot(b.orders[id]))
	}
	return out
}

// Fills returns the recorded fill history
func (b *Book) Fills() []core.Fill {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// Events returns the order event history
func (b *Book) Events() []OrderEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]OrderEvent, len(b.events))
	copy(out, b.events)
	return out
}

// CleanupTerminal removes terminal orders older than age, returning the
// removed orders so callers can archive them first
func (b *Book) CleanupTerminal(age time.Duration) []*core.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.clock.Now().Add(-age)
	var removed []*core.Order
	for id, order := range b.orders {
		if !order.Status.IsTerminal() || order.UpdatedAt.After(cutoff) {
			continue
		}
		removed = append(removed, b.snapshot(order))
		delete(b.orders, id)
		delete(b.active, id)
		if order.ExchangeOrderID != "" {
			delete(b.byExchangeID, order.ExchangeOrderID)
		}
		if order.IdempotencyKey != "" {
			delete(b.byKey, order.IdempotencyKey)
		}
		if set, ok := b.bySymbol[order.Symbol]; ok {
			delete(set, id)
		}
		if set, ok := b.byStrategy[order.StrategyID]; ok {
			delete(set, id)
		}
	}
	return removed
}

func (b *Book) index(m map[string]map[string]bool, key, orderID string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][orderID] = true
}

func (b *Book) appendEvent(t OrderEventType, orderID, detail string) {
	b.events = append(b.events, OrderEvent{
		Type:      t,
		OrderID:   orderID,
		Detail:    detail,
		Timestamp: b.clock.Now(),
	})
	if len(b.events) > b.historyLimit {
		b.events = b.events[len(b.events)-b.historyLimit:]
	}
	if len(b.fills) > b.historyLimit {
		b.fills = b.fills[len(b.fills)-b.historyLimit:]
	}
}

func (b *Book) snapshot(order *core.Order) *core.Order {
	cp := *order
	return &cp
}
