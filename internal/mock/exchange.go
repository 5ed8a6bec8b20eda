// Package mock provides an in-memory exchange for tests
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebot/internal/core"

	"github.com/shopspring/decimal"
)

// Exchange implements core.IExchange for testing. It fills market orders
// immediately, tracks idempotency keys, and supports failure injection so
// executor retry and ambiguity handling can be exercised.
type Exchange struct {
	name string

	mu             sync.RWMutex
	orders         map[string]*core.Order
	keyIndex       map[string]string // idempotency key -> exchange order id
	orderIDCounter int64

	account     core.AccountSnapshot
	positions   map[string]*core.Position
	constraints map[string]*core.SymbolConstraints

	orderCallback func(*core.OrderUpdate)
	streamRunning bool

	// Failure injection
	failNextPlace   int
	failErr         error
	ambiguousPlace  bool
	placeCallCount  int
	cancelCallCount int
}

// NewExchange creates a mock exchange with a default account
func NewExchange(name string) *Exchange {
	return &Exchange{
		name:           name,
		orders:         make(map[string]*core.Order),
		keyIndex:       make(map[string]string),
		orderIDCounter: 1000,
		account: core.AccountSnapshot{
			TotalBalance:     decimal.NewFromInt(100000),
			AvailableBalance: decimal.NewFromInt(100000),
			FetchedAt:        time.Now(),
		},
		positions:   make(map[string]*core.Position),
		constraints: make(map[string]*core.SymbolConstraints),
	}
}

// SetAccount overrides the account snapshot
func (m *Exchange) SetAccount(acc core.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = acc
}

// SetPosition sets an open position
func (m *Exchange) SetPosition(pos *core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Symbol] = pos
}

// SetConstraints sets per-symbol trading rules
func (m *Exchange) SetConstraints(symbol string, c *core.SymbolConstraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints[symbol] = c
}

// FailNextPlacements makes the next n PlaceOrder calls return err
func (m *Exchange) FailNextPlacements(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextPlace = n
	m.failErr = err
}

// SetAmbiguousPlacement makes PlaceOrder record the order but still return a
// timeout error, simulating a lost response
func (m *Exchange) SetAmbiguousPlacement(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ambiguousPlace = on
}

// PlaceCallCount returns how many times PlaceOrder was invoked
func (m *Exchange) PlaceCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.placeCallCount
}

// OrderCount returns the number of orders the exchange has accepted
func (m *Exchange) OrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func (m *Exchange) GetName() string { return m.name }

func (m *Exchange) CheckHealth(ctx context.Context) error { return nil }

// PlaceOrder places an order into the mock exchange. Duplicate idempotency
// keys return the existing order instead of creating a new one.
func (m *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.placeCallCount++

	if m.failNextPlace > 0 {
		m.failNextPlace--
		return nil, m.failErr
	}

	if req.IdempotencyKey != "" {
		if existingID, exists := m.keyIndex[req.IdempotencyKey]; exists {
			if existing, ok := m.orders[existingID]; ok {
				cp := *existing
				return &cp, nil
			}
		}
	}

	m.orderIDCounter++
	id := fmt.Sprintf("ex-%d", m.orderIDCounter)

	status := core.OrderStatusSubmitted
	filled := decimal.Zero
	avgPrice := decimal.Zero
	if req.Type == core.OrderTypeMarket {
		status = core.OrderStatusFilled
		filled = req.Quantity
		avgPrice = req.Price
	}

	order := &core.Order{
		ExchangeOrderID: id,
		IdempotencyKey:  req.IdempotencyKey,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          status,
		Quantity:        req.Quantity,
		FilledQuantity:  filled,
		Price:           req.Price,
		AvgFillPrice:    avgPrice,
		StrategyID:      req.StrategyID,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	m.orders[id] = order
	if req.IdempotencyKey != "" {
		m.keyIndex[req.IdempotencyKey] = id
	}

	if m.ambiguousPlace {
		return nil, fmt.Errorf("place order: timeout awaiting response")
	}

	cp := *order
	return &cp, nil
}

// CancelOrder cancels an open order
func (m *Exchange) CancelOrder(ctx context.Context, symbol string, exchangeOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelCallCount++

	order, ok := m.orders[exchangeOrderID]
	if !ok {
		return core.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", exchangeOrderID, core.ErrOrderFinalized)
	}
	order.Status = core.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	return nil
}

// GetOrder returns an order by exchange id
func (m *Exchange) GetOrder(ctx context.Context, symbol string, exchangeOrderID string) (*core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[exchangeOrderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

// GetOrderByIdempotencyKey returns the order placed under key, if any
func (m *Exchange) GetOrderByIdempotencyKey(ctx context.Context, symbol string, key string) (*core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keyIndex[key]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	order, ok := m.orders[id]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

// GetOpenOrders returns non-terminal orders for a symbol
func (m *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*core.Order
	for _, order := range m.orders {
		if order.Symbol == symbol && !order.Status.IsTerminal() {
			cp := *order
			open = append(open, &cp)
		}
	}
	return open, nil
}

func (m *Exchange) GetAccount(ctx context.Context) (*core.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := m.account
	return &acc, nil
}

func (m *Exchange) GetPositions(ctx context.Context) ([]*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Position
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Exchange) GetSymbolConstraints(ctx context.Context, symbol string) (*core.SymbolConstraints, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.constraints[symbol]; ok {
		cp := *c
		return &cp, nil
	}
	return &core.SymbolConstraints{
		MinOrderQuantity: decimal.NewFromFloat(0.0001),
		MinOrderValue:    decimal.NewFromInt(10),
		TickSize:         decimal.NewFromFloat(0.01),
		StepSize:         decimal.NewFromFloat(0.0001),
		MakerFeeRate:     decimal.NewFromFloat(0.001),
		TakerFeeRate:     decimal.NewFromFloat(0.001),
	}, nil
}

// StartOrderStream registers the update callback
func (m *Exchange) StartOrderStream(ctx context.Context, callback func(update *core.OrderUpdate)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderCallback = callback
	m.streamRunning = true
	return nil
}

// StopOrderStream unregisters the update callback
func (m *Exchange) StopOrderStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamRunning = false
	m.orderCallback = nil
	return nil
}

// EmitFill applies a fill to an order and delivers the stream update
func (m *Exchange) EmitFill(exchangeOrderID string, qty, price decimal.Decimal) {
	m.mu.Lock()
	order, ok := m.orders[exchangeOrderID]
	if !ok {
		m.mu.Unlock()
		return
	}

	order.FilledQuantity = order.FilledQuantity.Add(qty)
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.FilledQuantity = order.Quantity
		order.Status = core.OrderStatusFilled
	} else {
		order.Status = core.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = time.Now()

	update := &core.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		IdempotencyKey:  order.IdempotencyKey,
		Symbol:          order.Symbol,
		Status:          order.Status,
		Fill: &core.Fill{
			OrderID:       order.ExchangeOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Quantity:      qty,
			Price:         price,
			CumulativeQty: order.FilledQuantity,
			Timestamp:     time.Now(),
		},
		Timestamp: time.Now(),
	}
	cb := m.orderCallback
	running := m.streamRunning
	m.mu.Unlock()

	if running && cb != nil {
		cb(update)
	}
}
