package execution

import (
	"sync"

	"tradebot/internal/core"
	"tradebot/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// positionKey identifies a position by symbol and owning strategy
type positionKey struct {
	Symbol     string
	StrategyID string
}

// PositionTracker derives positions from fills. Same-side fills raise the
// position with a fill-weighted average entry price; opposite-side fills
// realize PnL against that average and reduce or flip the position. Closed
// positions move to history.
type PositionTracker struct {
	mu sync.RWMutex

	open      map[positionKey]*core.Position
	closedQty map[positionKey]decimal.Decimal
	history   []core.Position

	historyLimit int
	clock        core.IClock
	logger       core.ILogger

	onRealized func(pnl decimal.Decimal)
	onUpdate   func(pos *core.Position)
}

// NewPositionTracker creates an empty tracker
func NewPositionTracker(historyLimit int, clock core.IClock, logger core.ILogger) *PositionTracker {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &PositionTracker{
		open:         make(map[positionKey]*core.Position),
		closedQty:    make(map[positionKey]decimal.Decimal),
		historyLimit: historyLimit,
		clock:        clock,
		logger:       logger.WithField("component", "position_tracker"),
	}
}

// OnRealized registers a callback receiving realized PnL as it is booked
func (t *PositionTracker) OnRealized(fn func(pnl decimal.Decimal)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRealized = fn
}

// OnUpdate registers a callback receiving a copy of every changed position
func (t *PositionTracker) OnUpdate(fn func(pos *core.Position)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// ApplyFill folds a fill into the position for its symbol and strategy and
// returns the resulting position copy (nil if the position closed) plus any
// realized PnL the fill produced.
func (t *PositionTracker) ApplyFill(strategyID string, fill *core.Fill) (*core.Position, decimal.Decimal) {
	t.mu.Lock()

	key := positionKey{Symbol: fill.Symbol, StrategyID: strategyID}
	pos := t.open[key]
	realized := decimal.Zero
	now := t.clock.Now()

	// Set when the fill closes the position; the flat transition is still
	// reported through OnUpdate
	var closed *core.Position

	switch {
	case pos == nil:
		pos = &core.Position{
			ID:            uuid.NewString(),
			Symbol:        fill.Symbol,
			Side:          fill.Side,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			CurrentPrice:  fill.Price,
			StrategyID:    strategyID,
			OpenedAt:      now,
			UpdatedAt:     now,
		}
		t.open[key] = pos
		t.closedQty[key] = decimal.Zero

	case pos.Side == fill.Side:
		// Scale in: entry price is the fill-weighted average
		newQty := pos.Quantity.Add(fill.Quantity)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity).
			Add(fill.Price.Mul(fill.Quantity)).
			Div(newQty)
		pos.Quantity = newQty
		pos.CurrentPrice = fill.Price
		pos.UpdatedAt = now

	default:
		closeQty := decimal.Min(pos.Quantity, fill.Quantity)
		realized = t.realizedFor(pos, fill.Price, closeQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		pos.Quantity = pos.Quantity.Sub(closeQty)
		t.closedQty[key] = t.closedQty[key].Add(closeQty)
		pos.CurrentPrice = fill.Price
		pos.UpdatedAt = now

		excess := fill.Quantity.Sub(closeQty)
		if pos.Quantity.IsZero() {
			pos.ClosedAt = now
			pos.UnrealizedPnL = decimal.Zero
			// The archived record carries the total round-trip quantity
			pos.Quantity = t.closedQty[key]
			t.archiveLocked(key, pos)
			flat := *pos
			closed = &flat
			pos = nil
		}
		if excess.IsPositive() {
			// The fill exceeded the position: the remainder opens a fresh
			// position on the other side
			pos = &core.Position{
				ID:            uuid.NewString(),
				Symbol:        fill.Symbol,
				Side:          fill.Side,
				Quantity:      excess,
				AvgEntryPrice: fill.Price,
				CurrentPrice:  fill.Price,
				StrategyID:    strategyID,
				OpenedAt:      now,
				UpdatedAt:     now,
			}
			t.open[key] = pos
			t.closedQty[key] = decimal.Zero
		}
	}

	if pos != nil {
		t.recomputeUnrealizedLocked(pos)
	}

	var result *core.Position
	if pos != nil {
		cp := *pos
		result = &cp
	}
	t.publishGaugesLocked(strategyID)
	onRealized := t.onRealized
	onUpdate := t.onUpdate
	t.mu.Unlock()

	if !realized.IsZero() && onRealized != nil {
		onRealized(realized)
	}
	if onUpdate != nil {
		if closed != nil {
			onUpdate(closed)
		}
		if result != nil {
			onUpdate(result)
		}
	}
	return result, realized
}

// UpdatePrice refreshes the mark price for every open position on the symbol
func (t *PositionTracker) UpdatePrice(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := decimal.Zero
	for key, pos := range t.open {
		if key.Symbol != symbol {
			continue
		}
		pos.CurrentPrice = price
		pos.UpdatedAt = t.clock.Now()
		t.recomputeUnrealizedLocked(pos)
		total = total.Add(pos.UnrealizedPnL)
	}
	f, _ := total.Float64()
	telemetry.GetGlobalMetrics().SetUnrealizedPnL(symbol, f)
}

// Get returns a copy of the open position for symbol and strategy
func (t *PositionTracker) Get(symbol, strategyID string) (*core.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.open[positionKey{Symbol: symbol, StrategyID: strategyID}]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// OpenPositions returns copies of all open positions
func (t *PositionTracker) OpenPositions() []*core.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*core.Position, 0, len(t.open))
	for _, pos := range t.open {
		cp := *pos
		out = append(out, &cp)
	}
	return out
}

// TotalUnrealized sums unrealized PnL across all open positions
func (t *PositionTracker) TotalUnrealized() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := decimal.Zero
	for _, pos := range t.open {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// History returns closed positions, oldest first
func (t *PositionTracker) History() []core.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]core.Position, len(t.history))
	copy(out, t.history)
	return out
}

// realizedFor computes the PnL of closing closeQty at price against the
// position's average entry
func (t *PositionTracker) realizedFor(pos *core.Position, price, closeQty decimal.Decimal) decimal.Decimal {
	diff := price.Sub(pos.AvgEntryPrice)
	if pos.Side == core.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(closeQty)
}

func (t *PositionTracker) recomputeUnrealizedLocked(pos *core.Position) {
	diff := pos.CurrentPrice.Sub(pos.AvgEntryPrice)
	if pos.Side == core.SideSell {
		diff = diff.Neg()
	}
	pos.UnrealizedPnL = diff.Mul(pos.Quantity)
}

func (t *PositionTracker) archiveLocked(key positionKey, pos *core.Position) {
	delete(t.open, key)
	t.history = append(t.history, *pos)
	if len(t.history) > t.historyLimit {
		t.history = t.history[len(t.history)-t.historyLimit:]
	}
	t.logger.Info("Position closed",
		"symbol", pos.Symbol,
		"strategy", pos.StrategyID,
		"realized_pnl", pos.RealizedPnL.String(),
		"held", pos.ClosedAt.Sub(pos.OpenedAt).String())
}

func (t *PositionTracker) publishGaugesLocked(strategyID string) {
	var count int64
	for key := range t.open {
		if key.StrategyID == strategyID {
			count++
		}
	}
	telemetry.GetGlobalMetrics().SetOpenPositions(strategyID, count)
}
