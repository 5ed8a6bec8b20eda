package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/execution"
	"tradebot/internal/marketctx"
	"tradebot/internal/risk"
	"tradebot/internal/stats"
	"tradebot/internal/strategy"
)

// barClock is an IClock driven by the replay timeline, so daily loss resets
// and order timestamps follow simulated time instead of wall time
type barClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *barClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *barClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Config assembles one backtest run
type Config struct {
	Sim        SimConfig
	Executor   config.ExecutorConfig
	Limits     *risk.Limits
	Strategies []config.StrategyConfig
}

// Engine replays candles through the live pipeline. Strategies run
// synchronously in bar order, so results are deterministic and a strategy
// never observes data past the simulated clock.
type Engine struct {
	cfg      Config
	registry *strategy.Registry
	logger   core.ILogger
}

// NewEngine creates a backtest engine over a strategy registry
func NewEngine(cfg Config, registry *strategy.Registry, logger core.ILogger) *Engine {
	if cfg.Limits == nil {
		cfg.Limits = risk.DefaultLimits()
	}
	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 2
	}
	if cfg.Executor.RateLimit == 0 {
		cfg.Executor.RateLimit = 10000
		cfg.Executor.RateBurst = 1000
	}
	if cfg.Executor.BaseRetryDelay == 0 {
		cfg.Executor.BaseRetryDelay = time.Millisecond
		cfg.Executor.MaxRetryDelay = 10 * time.Millisecond
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		logger:   logger.WithField("component", "backtest"),
	}
}

// instance pairs a created strategy with its config
type runInstance struct {
	cfg   config.StrategyConfig
	strat strategy.Strategy
}

func (ri *runInstance) trades(symbol string) bool {
	for _, s := range ri.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Run replays the candles and returns the performance report. Candles are
// keyed by symbol; bars across symbols are aligned by timestamp and replayed
// in chronological order.
func (e *Engine) Run(ctx context.Context, candles map[string][]core.Candle) (*stats.Report, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}

	clock := &barClock{}
	sim := NewSimExchange(e.cfg.Sim)
	daily := risk.NewDailyTracker(clock, e.logger)
	gate := risk.NewGate(risk.NewLimitsHolder(e.cfg.Limits), daily, e.logger)
	executor := execution.NewExecutor(sim, e.cfg.Executor, clock, nil, nil, e.logger)
	executor.Positions().OnRealized(daily.RecordRealized)
	if err := executor.Start(ctx); err != nil {
		return nil, err
	}
	defer executor.Stop()

	instances, err := e.createStrategies()
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, inst := range instances {
			if err := inst.strat.Shutdown(); err != nil {
				e.logger.Warn("Strategy shutdown error", "strategy", inst.cfg.ID, "error", err)
			}
		}
	}()

	timeline := alignBars(candles)
	e.logger.Info("Backtest starting",
		"symbols", len(candles),
		"steps", len(timeline),
		"strategies", len(instances))

	holder := marketctx.NewHolder()
	var curve []stats.EquityPoint

	for _, step := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clock.Set(step.ts)

		for _, bar := range step.bars {
			sim.AdvanceBar(bar)
			executor.Positions().UpdatePrice(bar.Symbol, bar.Close)
		}
		daily.SetUnrealized(executor.Positions().TotalUnrealized())

		snap, err := e.buildSnapshot(ctx, sim, step.ts, candles)
		if err != nil {
			return nil, err
		}
		holder.Publish(snap)

		for _, bar := range step.bars {
			tick := core.Tick{
				Symbol:    bar.Symbol,
				Price:     bar.Close,
				Volume:    bar.Volume,
				Timestamp: bar.Timestamp,
			}
			for _, inst := range instances {
				if !inst.trades(bar.Symbol) {
					continue
				}
				signals, err := inst.strat.OnMarketData(ctx, snap, tick)
				if err != nil {
					e.logger.Warn("Strategy error during replay",
						"strategy", inst.cfg.ID,
						"symbol", bar.Symbol,
						"error", err)
					continue
				}
				e.routeSignals(ctx, inst, gate, executor, holder, signals)
			}
		}

		account, err := sim.GetAccount(ctx)
		if err != nil {
			return nil, err
		}
		curve = append(curve, stats.EquityPoint{Timestamp: step.ts, Equity: account.TotalBalance})
	}

	report := stats.Compute(e.cfg.Sim.StartingBalance,
		stats.TradesFromPositions(executor.Positions().History()), curve)
	e.logger.Info("Backtest finished",
		"trades", report.TradeCount,
		"total_return_pct", report.TotalReturnPct,
		"max_drawdown_pct", report.MaxDrawdownPct,
		"fees_paid", sim.FeesPaid().String())
	return report, nil
}

func (e *Engine) createStrategies() ([]*runInstance, error) {
	var instances []*runInstance
	for _, cfg := range e.cfg.Strategies {
		if !cfg.Enabled {
			continue
		}
		strat, err := e.registry.Create(cfg, e.logger)
		if err != nil {
			return nil, fmt.Errorf("create strategy %q: %w", cfg.ID, err)
		}
		instances = append(instances, &runInstance{cfg: cfg, strat: strat})
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("no enabled strategies configured")
	}
	return instances, nil
}

// routeSignals runs each signal through the gate and executes approvals.
// Rejections are expected traffic during a replay and only logged at debug.
func (e *Engine) routeSignals(
	ctx context.Context,
	inst *runInstance,
	gate *risk.Gate,
	executor *execution.Executor,
	holder *marketctx.Holder,
	signals []core.Signal,
) {
	for i := range signals {
		sig := signals[i]
		sig.StrategyID = inst.cfg.ID
		sig.ClampStrength()

		result := gate.Validate(&sig, holder.Current())
		if !result.Approved() {
			e.logger.Debug("Signal rejected",
				"strategy", inst.cfg.ID,
				"symbol", sig.Symbol,
				"code", string(result.Rejection.Code))
			continue
		}
		if _, err := executor.Execute(ctx, result.Request); err != nil {
			e.logger.Warn("Backtest order failed",
				"strategy", inst.cfg.ID,
				"symbol", sig.Symbol,
				"error", err)
		}
	}
}

// buildSnapshot assembles the world state visible to strategies at this step
func (e *Engine) buildSnapshot(ctx context.Context, sim *SimExchange, ts time.Time, candles map[string][]core.Candle) (*marketctx.Snapshot, error) {
	snap := marketctx.NewSnapshot()

	account, err := sim.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	snap.Account = *account

	positions, err := sim.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, pos := range positions {
		snap.Positions[pos.Symbol] = pos
	}

	for symbol := range candles {
		constraints, err := sim.GetSymbolConstraints(ctx, symbol)
		if err != nil {
			return nil, err
		}
		snap.Constraints[symbol] = constraints
	}

	snap.LastExchangeSync = ts
	snap.LastAnalyticsSync = ts
	return snap, nil
}

// timelineStep is all bars sharing one timestamp
type timelineStep struct {
	ts   time.Time
	bars []core.Candle
}

// alignBars merges per-symbol candle series into a single chronological
// timeline. Bars at the same timestamp replay together, ordered by symbol for
// determinism.
func alignBars(candles map[string][]core.Candle) []timelineStep {
	grouped := make(map[int64][]core.Candle)
	for _, series := range candles {
		for _, bar := range series {
			key := bar.Timestamp.UnixNano()
			grouped[key] = append(grouped[key], bar)
		}
	}

	keys := make([]int64, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	steps := make([]timelineStep, 0, len(keys))
	for _, key := range keys {
		bars := grouped[key]
		sort.Slice(bars, func(i, j int) bool { return bars[i].Symbol < bars[j].Symbol })
		steps = append(steps, timelineStep{ts: time.Unix(0, key).UTC(), bars: bars})
	}
	return steps
}
