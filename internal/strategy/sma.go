package strategy

import (
	"context"
	"fmt"

	"tradebot/internal/core"
	"tradebot/internal/marketctx"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SMACrossSchema declares the parameters of the SMA crossover strategy
var SMACrossSchema = ConfigSchema{
	{Name: "fast_period", Type: ParamInt, Required: true, Min: FloatPtr(2), Max: FloatPtr(500)},
	{Name: "slow_period", Type: ParamInt, Required: true, Min: FloatPtr(3), Max: FloatPtr(2000)},
	{Name: "strength", Type: ParamFloat, Min: FloatPtr(0), Max: FloatPtr(1)},
}

// NewSMACross is the registry factory for the "sma_cross" strategy type
func NewSMACross(id string, symbols []string, logger core.ILogger) Strategy {
	return &SMACross{
		id:      id,
		symbols: symbols,
		windows: make(map[string]*priceWindow),
		logger:  logger.WithField("strategy", id),
	}
}

// SMACross emits a buy entry when the fast moving average crosses above the
// slow one and a sell exit when it crosses back below. One position per
// symbol; no shorting.
type SMACross struct {
	id       string
	symbols  []string
	fast     int
	slow     int
	strength float64

	windows map[string]*priceWindow
	fills   int
	logger  core.ILogger
}

// priceWindow keeps the last slow-period closes and the previous MA relation
type priceWindow struct {
	prices    []decimal.Decimal
	prevAbove bool
	primed    bool
}

func (s *SMACross) Name() string { return s.id }

func (s *SMACross) Init(params map[string]interface{}) error {
	s.fast = IntParam(params, "fast_period", 10)
	s.slow = IntParam(params, "slow_period", 30)
	s.strength = FloatParam(params, "strength", 0.8)
	if s.fast >= s.slow {
		return fmt.Errorf("fast_period %d must be below slow_period %d", s.fast, s.slow)
	}
	return nil
}

func (s *SMACross) OnMarketData(ctx context.Context, snap *marketctx.Snapshot, tick core.Tick) ([]core.Signal, error) {
	w := s.windows[tick.Symbol]
	if w == nil {
		w = &priceWindow{}
		s.windows[tick.Symbol] = w
	}

	w.prices = append(w.prices, tick.Price)
	if len(w.prices) > s.slow {
		w.prices = w.prices[len(w.prices)-s.slow:]
	}
	if len(w.prices) < s.slow {
		return nil, nil
	}

	fastMA := average(w.prices[len(w.prices)-s.fast:])
	slowMA := average(w.prices)
	above := fastMA.GreaterThan(slowMA)

	if !w.primed {
		w.primed = true
		w.prevAbove = above
		return nil, nil
	}

	crossedUp := above && !w.prevAbove
	crossedDown := !above && w.prevAbove
	w.prevAbove = above
	if !crossedUp && !crossedDown {
		return nil, nil
	}

	holding := false
	if pos, err := snap.Position(tick.Symbol); err == nil && pos != nil {
		holding = pos.Quantity.IsPositive()
	}

	switch {
	case crossedUp && !holding:
		s.logger.Debug("Golden cross",
			"symbol", tick.Symbol,
			"fast_ma", fastMA.String(),
			"slow_ma", slowMA.String())
		return []core.Signal{{
			ID:        uuid.NewString(),
			Symbol:    tick.Symbol,
			Side:      core.SideBuy,
			Kind:      core.SignalEntry,
			Strength:  s.strength,
			Timestamp: tick.Timestamp,
		}}, nil

	case crossedDown && holding:
		s.logger.Debug("Death cross",
			"symbol", tick.Symbol,
			"fast_ma", fastMA.String(),
			"slow_ma", slowMA.String())
		return []core.Signal{{
			ID:        uuid.NewString(),
			Symbol:    tick.Symbol,
			Side:      core.SideSell,
			Kind:      core.SignalExit,
			Strength:  1,
			Timestamp: tick.Timestamp,
		}}, nil
	}

	return nil, nil
}

func (s *SMACross) OnOrderFilled(order core.Order) {
	s.fills++
}

func (s *SMACross) OnPositionUpdate(pos core.Position) {}

func (s *SMACross) State() map[string]interface{} {
	return map[string]interface{}{
		"fast_period": s.fast,
		"slow_period": s.slow,
		"fills":       s.fills,
		"symbols":     s.symbols,
	}
}

func (s *SMACross) Shutdown() error { return nil }

func average(prices []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices))))
}
