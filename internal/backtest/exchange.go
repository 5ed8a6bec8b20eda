// Package backtest replays historical candles through the live decision
// pipeline. Only the exchange is swapped: strategies, risk gate, executor,
// and position tracking run the exact code paths used in live trading.
package backtest

import (
	"context"
	"fmt"
	"sync"

	"tradebot/internal/core"

	"github.com/shopspring/decimal"
)

// SimConfig controls execution realism
type SimConfig struct {
	StartingBalance decimal.Decimal
	SlippagePct     decimal.Decimal // applied against market orders, e.g. 0.0005
	FeePct          decimal.Decimal // taker fee charged on every fill notional
}

// SimExchange implements core.IExchange against replayed candles. Market
// orders fill at the current bar close adjusted by slippage; limit orders
// rest and resolve against later bars' high/low range. Order ids are
// deterministic so runs are reproducible.
type SimExchange struct {
	cfg SimConfig

	mu        sync.Mutex
	seq       int64
	cash      decimal.Decimal
	orders    map[string]*core.Order
	keyIndex  map[string]string
	resting   []string
	bars      map[string]core.Candle
	positions map[string]*core.Position
	feesPaid  decimal.Decimal

	constraints map[string]*core.SymbolConstraints
	callback    func(*core.OrderUpdate)
}

// NewSimExchange creates a simulated exchange
func NewSimExchange(cfg SimConfig) *SimExchange {
	if cfg.StartingBalance.IsZero() {
		cfg.StartingBalance = decimal.NewFromInt(100000)
	}
	return &SimExchange{
		cfg:         cfg,
		cash:        cfg.StartingBalance,
		orders:      make(map[string]*core.Order),
		keyIndex:    make(map[string]string),
		bars:        make(map[string]core.Candle),
		positions:   make(map[string]*core.Position),
		constraints: make(map[string]*core.SymbolConstraints),
	}
}

func (s *SimExchange) GetName() string { return "simulator" }

func (s *SimExchange) CheckHealth(ctx context.Context) error { return nil }

// SetConstraints sets per-symbol trading rules used by the risk gate
func (s *SimExchange) SetConstraints(symbol string, c *core.SymbolConstraints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.constraints[symbol] = c
}

// AdvanceBar moves simulated time to this bar: resting limit orders are
// resolved against its high/low range and position marks move to its close
func (s *SimExchange) AdvanceBar(bar core.Candle) {
	s.mu.Lock()
	s.bars[bar.Symbol] = bar

	if pos, ok := s.positions[bar.Symbol]; ok {
		pos.CurrentPrice = bar.Close
	}

	var updates []*core.OrderUpdate
	var stillResting []string
	for _, id := range s.resting {
		order := s.orders[id]
		if order.Symbol != bar.Symbol || order.Status.IsTerminal() {
			if !order.Status.IsTerminal() {
				stillResting = append(stillResting, id)
			}
			continue
		}

		fillable := (order.Side == core.SideBuy && bar.Low.LessThanOrEqual(order.Price)) ||
			(order.Side == core.SideSell && bar.High.GreaterThanOrEqual(order.Price))
		if !fillable {
			stillResting = append(stillResting, id)
			continue
		}
		updates = append(updates, s.fillLocked(order, order.Price, bar))
	}
	s.resting = stillResting
	cb := s.callback
	s.mu.Unlock()

	if cb != nil {
		for _, u := range updates {
			cb(u)
		}
	}
}

// PlaceOrder accepts an order against the current bar. Duplicate idempotency
// keys return the already-recorded order.
func (s *SimExchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	s.mu.Lock()

	if req.IdempotencyKey != "" {
		if id, ok := s.keyIndex[req.IdempotencyKey]; ok {
			cp := *s.orders[id]
			s.mu.Unlock()
			return &cp, nil
		}
	}

	bar, ok := s.bars[req.Symbol]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("no market data for symbol %s", req.Symbol)
	}

	s.seq++
	order := &core.Order{
		ExchangeOrderID: fmt.Sprintf("sim-%d", s.seq),
		IdempotencyKey:  req.IdempotencyKey,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          core.OrderStatusSubmitted,
		Quantity:        req.Quantity,
		Price:           req.Price,
		StrategyID:      req.StrategyID,
		CreatedAt:       bar.Timestamp,
		UpdatedAt:       bar.Timestamp,
	}
	s.orders[order.ExchangeOrderID] = order
	if req.IdempotencyKey != "" {
		s.keyIndex[req.IdempotencyKey] = order.ExchangeOrderID
	}

	var update *core.OrderUpdate
	switch req.Type {
	case core.OrderTypeMarket:
		update = s.fillLocked(order, s.slippedPrice(req.Side, bar.Close), bar)
	default:
		// A limit already inside the bar's range fills immediately at its
		// limit price; otherwise it rests
		immediate := (req.Side == core.SideBuy && bar.Low.LessThanOrEqual(req.Price)) ||
			(req.Side == core.SideSell && bar.High.GreaterThanOrEqual(req.Price))
		if immediate {
			update = s.fillLocked(order, req.Price, bar)
		} else {
			s.resting = append(s.resting, order.ExchangeOrderID)
		}
	}

	cp := *order
	cb := s.callback
	s.mu.Unlock()

	if update != nil && cb != nil {
		cb(update)
	}
	return &cp, nil
}

// fillLocked executes the full remaining quantity at price, updating cash and
// the aggregate symbol position, and returns the stream update to deliver
func (s *SimExchange) fillLocked(order *core.Order, price decimal.Decimal, bar core.Candle) *core.OrderUpdate {
	qty := order.Quantity.Sub(order.FilledQuantity)
	notional := qty.Mul(price)
	fee := notional.Mul(s.cfg.FeePct)
	s.feesPaid = s.feesPaid.Add(fee)

	if order.Side == core.SideBuy {
		s.cash = s.cash.Sub(notional).Sub(fee)
	} else {
		s.cash = s.cash.Add(notional).Sub(fee)
	}
	s.applyToPositionLocked(order.Symbol, order.Side, qty, price, bar)

	order.FilledQuantity = order.Quantity
	order.AvgFillPrice = price
	order.Status = core.OrderStatusFilled
	order.UpdatedAt = bar.Timestamp

	return &core.OrderUpdate{
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
			Commission:    fee,
			CumulativeQty: order.FilledQuantity,
			Timestamp:     bar.Timestamp,
		},
		Timestamp: bar.Timestamp,
	}
}

func (s *SimExchange) applyToPositionLocked(symbol string, side core.Side, qty, price decimal.Decimal, bar core.Candle) {
	pos, ok := s.positions[symbol]
	if !ok {
		s.positions[symbol] = &core.Position{
			Symbol:        symbol,
			Side:          side,
			Quantity:      qty,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			OpenedAt:      bar.Timestamp,
			UpdatedAt:     bar.Timestamp,
		}
		return
	}

	if pos.Side == side {
		newQty := pos.Quantity.Add(qty)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(newQty)
		pos.Quantity = newQty
	} else {
		pos.Quantity = pos.Quantity.Sub(qty)
		if pos.Quantity.IsNegative() {
			pos.Side = side
			pos.Quantity = pos.Quantity.Neg()
			pos.AvgEntryPrice = price
		}
		if pos.Quantity.IsZero() {
			delete(s.positions, symbol)
			return
		}
	}
	pos.CurrentPrice = price
	pos.UpdatedAt = bar.Timestamp
}

// slippedPrice worsens the touch price in the taker's direction
func (s *SimExchange) slippedPrice(side core.Side, price decimal.Decimal) decimal.Decimal {
	if s.cfg.SlippagePct.IsZero() {
		return price
	}
	adj := price.Mul(s.cfg.SlippagePct)
	if side == core.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// CancelOrder cancels a resting order
func (s *SimExchange) CancelOrder(ctx context.Context, symbol string, exchangeOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[exchangeOrderID]
	if !ok {
		return core.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", exchangeOrderID, core.ErrOrderFinalized)
	}
	order.Status = core.OrderStatusCancelled
	return nil
}

func (s *SimExchange) GetOrder(ctx context.Context, symbol string, exchangeOrderID string) (*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[exchangeOrderID]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *SimExchange) GetOrderByIdempotencyKey(ctx context.Context, symbol string, key string) (*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keyIndex[key]
	if !ok {
		return nil, core.ErrOrderNotFound
	}
	cp := *s.orders[id]
	return &cp, nil
}

func (s *SimExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*core.Order
	for _, order := range s.orders {
		if order.Symbol == symbol && !order.Status.IsTerminal() {
			cp := *order
			open = append(open, &cp)
		}
	}
	return open, nil
}

// GetAccount reports cash plus the mark-to-market value of open positions
func (s *SimExchange) GetAccount(ctx context.Context) (*core.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(), nil
}

func (s *SimExchange) accountLocked() *core.AccountSnapshot {
	equity := s.cash
	for _, pos := range s.positions {
		value := pos.Quantity.Mul(pos.CurrentPrice)
		if pos.Side == core.SideBuy {
			equity = equity.Add(value)
		} else {
			equity = equity.Sub(value)
		}
	}
	return &core.AccountSnapshot{
		TotalBalance:     equity,
		AvailableBalance: s.cash,
	}
}

func (s *SimExchange) GetPositions(ctx context.Context) ([]*core.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.Position
	for _, pos := range s.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

func (s *SimExchange) GetSymbolConstraints(ctx context.Context, symbol string) (*core.SymbolConstraints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.constraints[symbol]; ok {
		cp := *c
		return &cp, nil
	}
	return &core.SymbolConstraints{
		MinOrderQuantity: decimal.NewFromFloat(0.0001),
		MinOrderValue:    decimal.NewFromInt(10),
		TickSize:         decimal.NewFromFloat(0.01),
		StepSize:         decimal.NewFromFloat(0.0001),
	}, nil
}

func (s *SimExchange) StartOrderStream(ctx context.Context, callback func(update *core.OrderUpdate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = callback
	return nil
}

func (s *SimExchange) StopOrderStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = nil
	return nil
}

// FeesPaid returns total commissions charged across the run
func (s *SimExchange) FeesPaid() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feesPaid
}
