package backtest

import (
	"context"
	"testing"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/execution"
	"tradebot/internal/logging"
	"tradebot/internal/marketctx"
	"tradebot/internal/mock"
	"tradebot/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted buys on one bar and exits on another, pricing at the bar close,
// so runs are fully deterministic
type scripted struct {
	id     string
	buyAt  int
	sellAt int
	ticks  int
}

func (s *scripted) Name() string                             { return s.id }
func (s *scripted) Init(params map[string]interface{}) error { return nil }
func (s *scripted) OnOrderFilled(core.Order)                 {}
func (s *scripted) OnPositionUpdate(core.Position)           {}
func (s *scripted) State() map[string]interface{}            { return nil }
func (s *scripted) Shutdown() error                          { return nil }

func (s *scripted) OnMarketData(ctx context.Context, snap *marketctx.Snapshot, tick core.Tick) ([]core.Signal, error) {
	s.ticks++
	switch s.ticks {
	case s.buyAt:
		return []core.Signal{{
			ID:             uuid.NewString(),
			Symbol:         tick.Symbol,
			Side:           core.SideBuy,
			Kind:           core.SignalEntry,
			Strength:       1,
			SuggestedPrice: tick.Price,
			Timestamp:      tick.Timestamp,
		}}, nil
	case s.sellAt:
		return []core.Signal{{
			ID:             uuid.NewString(),
			Symbol:         tick.Symbol,
			Side:           core.SideSell,
			Kind:           core.SignalExit,
			Strength:       1,
			SuggestedPrice: tick.Price,
			Timestamp:      tick.Timestamp,
		}}, nil
	}
	return nil, nil
}

func scriptedRegistry(t *testing.T, buyAt, sellAt int) *strategy.Registry {
	t.Helper()
	reg := strategy.NewRegistry()
	require.NoError(t, reg.Register("scripted", nil,
		func(id string, symbols []string, logger core.ILogger) strategy.Strategy {
			return &scripted{id: id, buyAt: buyAt, sellAt: sellAt}
		}))
	return reg
}

func flatCandles(symbol string, prices []int64) []core.Candle {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	candles := make([]core.Candle, len(prices))
	for i, p := range prices {
		price := decimal.NewFromInt(p)
		candles[i] = core.Candle{
			Symbol: symbol, Open: price, High: price, Low: price, Close: price,
			Volume:    decimal.NewFromInt(10),
			Timestamp: start.Add(time.Duration(i) * time.Minute),
		}
	}
	return candles
}

func scriptedConfig() config.StrategyConfig {
	return config.StrategyConfig{
		ID: "script-1", Type: "scripted", Symbols: []string{"BTCUSDT"}, Enabled: true,
	}
}

func TestBacktestRoundTrip(t *testing.T) {
	engine := NewEngine(Config{
		Sim:        SimConfig{StartingBalance: decimal.NewFromInt(100000)},
		Strategies: []config.StrategyConfig{scriptedConfig()},
	}, scriptedRegistry(t, 3, 6), logging.GetGlobalLogger())

	report, err := engine.Run(context.Background(), map[string][]core.Candle{
		"BTCUSDT": flatCandles("BTCUSDT", []int64{100, 100, 100, 110, 110, 120, 120}),
	})
	require.NoError(t, err)

	// Entry notional: 100000 * 0.02 * 1.0 = 2000 at 100 -> qty 20.
	// Round trip 100 -> 120 on 20 units realizes 400.
	require.Equal(t, 1, report.TradeCount)
	assert.True(t, report.Trades[0].PnL.Equal(decimal.NewFromInt(400)),
		"got %s", report.Trades[0].PnL)
	assert.True(t, report.TotalPnL.Equal(decimal.NewFromInt(400)))
	assert.True(t, report.EndEquity.Equal(decimal.NewFromInt(100400)))
	assert.Len(t, report.EquityCurve, 7)
	assert.Equal(t, 1, report.Wins)
	assert.InDelta(t, 1.0, report.WinRate, 1e-9)
}

func TestBacktestFeesReduceReturn(t *testing.T) {
	prices := []int64{100, 100, 100, 110, 110, 120, 120}

	run := func(feePct float64) decimal.Decimal {
		engine := NewEngine(Config{
			Sim: SimConfig{
				StartingBalance: decimal.NewFromInt(100000),
				FeePct:          decimal.NewFromFloat(feePct),
			},
			Strategies: []config.StrategyConfig{scriptedConfig()},
		}, scriptedRegistry(t, 3, 6), logging.GetGlobalLogger())

		report, err := engine.Run(context.Background(), map[string][]core.Candle{
			"BTCUSDT": flatCandles("BTCUSDT", prices),
		})
		require.NoError(t, err)
		return report.EndEquity
	}

	free := run(0)
	taxed := run(0.001)
	assert.True(t, taxed.LessThan(free),
		"fees must reduce equity: %s vs %s", taxed, free)
	// Fees: 0.1% of 2000 entry + 0.1% of 2400 exit = 4.4
	assert.True(t, free.Sub(taxed).Equal(decimal.NewFromFloat(4.4)),
		"got %s", free.Sub(taxed))
}

func TestBacktestDeterministic(t *testing.T) {
	prices := []int64{100, 101, 100, 108, 112, 120, 118}

	run := func() *decimal.Decimal {
		engine := NewEngine(Config{
			Sim:        SimConfig{StartingBalance: decimal.NewFromInt(100000)},
			Strategies: []config.StrategyConfig{scriptedConfig()},
		}, scriptedRegistry(t, 2, 6), logging.GetGlobalLogger())
		report, err := engine.Run(context.Background(), map[string][]core.Candle{
			"BTCUSDT": flatCandles("BTCUSDT", prices),
		})
		require.NoError(t, err)
		return &report.TotalPnL
	}

	first := run()
	second := run()
	assert.True(t, first.Equal(*second))
}

func TestBacktestMultiSymbolTimeAligned(t *testing.T) {
	reg := strategy.NewRegistry()
	var observed []string
	require.NoError(t, reg.Register("watcher", nil,
		func(id string, symbols []string, logger core.ILogger) strategy.Strategy {
			return &tickWatcher{id: id, observed: &observed}
		}))

	engine := NewEngine(Config{
		Sim: SimConfig{StartingBalance: decimal.NewFromInt(100000)},
		Strategies: []config.StrategyConfig{{
			ID: "w1", Type: "watcher", Symbols: []string{"AAA", "BBB"}, Enabled: true,
		}},
	}, reg, logging.GetGlobalLogger())

	_, err := engine.Run(context.Background(), map[string][]core.Candle{
		"BBB": flatCandles("BBB", []int64{10, 11, 12}),
		"AAA": flatCandles("AAA", []int64{20, 21, 22}),
	})
	require.NoError(t, err)

	// Same timestamps interleave symbol-alphabetically, never out of time order
	assert.Equal(t, []string{"AAA", "BBB", "AAA", "BBB", "AAA", "BBB"}, observed)
}

type tickWatcher struct {
	id       string
	observed *[]string
	last     time.Time
}

func (w *tickWatcher) Name() string                             { return w.id }
func (w *tickWatcher) Init(params map[string]interface{}) error { return nil }
func (w *tickWatcher) OnOrderFilled(core.Order)                 {}
func (w *tickWatcher) OnPositionUpdate(core.Position)           {}
func (w *tickWatcher) State() map[string]interface{}            { return nil }
func (w *tickWatcher) Shutdown() error                          { return nil }

func (w *tickWatcher) OnMarketData(ctx context.Context, snap *marketctx.Snapshot, tick core.Tick) ([]core.Signal, error) {
	if tick.Timestamp.Before(w.last) {
		panic("tick delivered out of time order")
	}
	w.last = tick.Timestamp
	*w.observed = append(*w.observed, tick.Symbol)
	return nil, nil
}

// TestBacktestLiveParity drives the identical fill sequence through the live
// executor path against the mock exchange and checks the shared position
// accounting produces the same realized PnL as the frictionless backtest.
func TestBacktestLiveParity(t *testing.T) {
	engine := NewEngine(Config{
		Sim:        SimConfig{StartingBalance: decimal.NewFromInt(100000)},
		Strategies: []config.StrategyConfig{scriptedConfig()},
	}, scriptedRegistry(t, 3, 6), logging.GetGlobalLogger())

	report, err := engine.Run(context.Background(), map[string][]core.Candle{
		"BTCUSDT": flatCandles("BTCUSDT", []int64{100, 100, 100, 110, 110, 120, 120}),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.TradeCount)

	trade := report.Trades[0]
	exitPrice := trade.EntryPrice.Add(trade.PnL.Div(trade.Quantity))

	// Live path: same quantities and prices through executor + mock exchange
	exchange := mock.NewExchange("mock")
	exec := execution.NewExecutor(exchange, config.ExecutorConfig{
		RateLimit: 1000, RateBurst: 100, MaxRetries: 1,
		BaseRetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond,
		BreakerMaxFailures: 5, BreakerOpenTimeout: time.Second,
		OrderHistoryLimit: 100,
	}, nil, nil, nil, logging.GetGlobalLogger())
	require.NoError(t, exec.Start(context.Background()))
	defer exec.Stop()

	entry, err := exec.Execute(context.Background(), &core.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideBuy, Type: core.OrderTypeLimit,
		Quantity: trade.Quantity, Price: trade.EntryPrice,
		StrategyID: "script-1", IdempotencyKey: "parity-entry",
	})
	require.NoError(t, err)
	exchange.EmitFill(entry.ExchangeOrderID, trade.Quantity, trade.EntryPrice)

	exit, err := exec.Execute(context.Background(), &core.OrderRequest{
		Symbol: "BTCUSDT", Side: core.SideSell, Type: core.OrderTypeLimit,
		Quantity: trade.Quantity, Price: exitPrice,
		StrategyID: "script-1", IdempotencyKey: "parity-exit",
	})
	require.NoError(t, err)
	exchange.EmitFill(exit.ExchangeOrderID, trade.Quantity, exitPrice)

	history := exec.Positions().History()
	require.Len(t, history, 1)
	assert.True(t, history[0].RealizedPnL.Equal(trade.PnL),
		"live realized %s vs backtest %s", history[0].RealizedPnL, trade.PnL)
}
