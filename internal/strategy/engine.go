package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/marketctx"
	"tradebot/pkg/concurrency"
	"tradebot/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstanceStatus is the lifecycle state of a strategy instance
type InstanceStatus string

const (
	StatusRunning InstanceStatus = "RUNNING"
	StatusStopped InstanceStatus = "STOPPED"
	StatusFailed  InstanceStatus = "FAILED"
)

// Stats is a point-in-time view of one strategy instance
type Stats struct {
	ID             string
	Type           string
	Status         InstanceStatus
	TicksProcessed int64
	SignalsEmitted int64
	Fills          int64
	Errors         int64
	Panics         int64
	DroppedTicks   int64
	LastError      string
	LastTickAt     time.Time
	State          map[string]interface{}
}

// SignalSink receives signals emitted by strategies. Implementations must be
// safe for concurrent use; the engine calls it from pool workers.
type SignalSink func(ctx context.Context, signals []core.Signal)

// instance is one running strategy with its runner goroutine and tick queue
type instance struct {
	cfg   config.StrategyConfig
	strat Strategy
	ticks chan core.Tick

	// parent outlives the instance's own cancel so orders already handed to
	// the sink reach a terminal outcome even while the instance stops
	parent   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup

	mu             sync.Mutex
	status         InstanceStatus
	ticksProcessed int64
	signalsEmitted int64
	fills          int64
	errors         int64
	panics         int64
	droppedTicks   int64
	lastError      string
	lastTickAt     time.Time
}

// Engine runs strategy instances. Each instance owns a goroutine consuming a
// buffered tick channel, so ticks stay ordered per instance and a slow or
// panicking strategy never touches its peers. Signal delivery is offloaded to
// a worker pool so the strategy loop is never blocked by downstream work.
type Engine struct {
	registry *Registry
	holder   *marketctx.Holder
	sink     SignalSink
	pool     *concurrency.WorkerPool
	clock    core.IClock
	logger   core.ILogger

	maxPanics int

	mu        sync.RWMutex
	instances map[string]*instance

	overBudget metric.Int64Counter
}

// NewEngine wires a strategy engine
func NewEngine(
	registry *Registry,
	holder *marketctx.Holder,
	sink SignalSink,
	pool *concurrency.WorkerPool,
	clock core.IClock,
	logger core.ILogger,
) *Engine {
	if clock == nil {
		clock = core.RealClock{}
	}
	meter := telemetry.GetMeter("strategy-engine")
	overBudget, _ := meter.Int64Counter("strategy_tick_over_budget_total",
		metric.WithDescription("Ticks whose processing exceeded the soft budget"))

	return &Engine{
		registry:   registry,
		holder:     holder,
		sink:       sink,
		pool:       pool,
		clock:      clock,
		logger:     logger.WithField("component", "strategy_engine"),
		maxPanics:  3,
		instances:  make(map[string]*instance),
		overBudget: overBudget,
	}
}

// StartStrategy creates and starts one instance from its config. A config
// schema violation means the instance never starts.
func (e *Engine) StartStrategy(ctx context.Context, cfg config.StrategyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.instances[cfg.ID]; ok && existing.getStatus() == StatusRunning {
		return fmt.Errorf("strategy %q already running", cfg.ID)
	}

	strat, err := e.registry.Create(cfg, e.logger)
	if err != nil {
		e.logger.Error("Strategy failed to start",
			"strategy", cfg.ID,
			"type", cfg.Type,
			"error", err)
		return err
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	runCtx, cancel := context.WithCancel(ctx)
	inst := &instance{
		cfg:    cfg,
		strat:  strat,
		ticks:  make(chan core.Tick, queueSize),
		parent: ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusRunning,
	}
	e.instances[cfg.ID] = inst

	go e.run(runCtx, inst)
	e.logger.Info("Strategy started",
		"strategy", cfg.ID,
		"type", cfg.Type,
		"symbols", fmt.Sprintf("%v", cfg.Symbols))
	return nil
}

// StartAll starts every enabled instance, continuing past individual failures
func (e *Engine) StartAll(ctx context.Context, configs []config.StrategyConfig) error {
	var firstErr error
	for _, cfg := range configs {
		if !cfg.Enabled {
			e.logger.Info("Strategy disabled, skipping", "strategy", cfg.ID)
			continue
		}
		if err := e.StartStrategy(ctx, cfg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopStrategy stops one instance and waits for its runner to drain
func (e *Engine) StopStrategy(id string) error {
	e.mu.Lock()
	inst, ok := e.instances[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown strategy %q", id)
	}

	inst.cancel()
	<-inst.done
	// Signals already handed to the sink may carry live submissions; wait for
	// them to reach terminal outcomes before releasing the instance
	inst.inflight.Wait()

	if err := inst.strat.Shutdown(); err != nil {
		e.logger.Warn("Strategy shutdown error", "strategy", id, "error", err)
	}
	inst.setStatus(StatusStopped)
	e.logger.Info("Strategy stopped", "strategy", id)
	return nil
}

// StopAll stops every instance
func (e *Engine) StopAll() {
	e.mu.RLock()
	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if err := e.StopStrategy(id); err != nil {
			e.logger.Warn("Failed to stop strategy", "strategy", id, "error", err)
		}
	}
}

// Dispatch fans a tick out to every running instance trading its symbol.
// A full queue drops the tick for that instance rather than blocking the
// feed.
func (e *Engine) Dispatch(tick core.Tick) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, inst := range e.instances {
		if inst.getStatus() != StatusRunning || !inst.trades(tick.Symbol) {
			continue
		}
		select {
		case inst.ticks <- tick:
		default:
			inst.mu.Lock()
			inst.droppedTicks++
			dropped := inst.droppedTicks
			inst.mu.Unlock()
			if dropped%100 == 1 {
				e.logger.Warn("Strategy tick queue full, dropping",
					"strategy", inst.cfg.ID,
					"symbol", tick.Symbol,
					"dropped_total", dropped)
			}
		}
	}
}

// NotifyFill routes a fill event to the owning strategy
func (e *Engine) NotifyFill(order *core.Order) {
	e.withInstance(order.StrategyID, func(inst *instance) {
		inst.mu.Lock()
		inst.fills++
		inst.mu.Unlock()
		defer e.recoverCallback(inst, "OnOrderFilled")
		inst.strat.OnOrderFilled(*order)
	})
}

// NotifyPosition routes a position change to the owning strategy
func (e *Engine) NotifyPosition(pos *core.Position) {
	e.withInstance(pos.StrategyID, func(inst *instance) {
		defer e.recoverCallback(inst, "OnPositionUpdate")
		inst.strat.OnPositionUpdate(*pos)
	})
}

// StrategyStatus returns the stats of one instance
func (e *Engine) StrategyStatus(id string) (*Stats, error) {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
	return inst.stats(), nil
}

// Status returns stats for every instance
func (e *Engine) Status() []*Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Stats, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst.stats())
	}
	return out
}

// run is the per-instance loop. A panic in the strategy is contained here:
// the loop restarts until the panic budget is spent, then the instance is
// marked failed while the rest of the engine keeps running.
func (e *Engine) run(ctx context.Context, inst *instance) {
	defer close(inst.done)

	for {
		exited := e.consume(ctx, inst)
		if exited {
			return
		}

		inst.mu.Lock()
		inst.panics++
		panics := inst.panics
		inst.mu.Unlock()

		if panics >= int64(e.maxPanics) {
			inst.setStatus(StatusFailed)
			e.logger.Error("Strategy exceeded panic budget, marked failed",
				"strategy", inst.cfg.ID,
				"panics", panics)
			return
		}
		e.logger.Warn("Strategy panicked, restarting loop",
			"strategy", inst.cfg.ID,
			"panics", panics)
	}
}

// consume processes ticks until the context ends (returns true) or the
// strategy panics (returns false)
func (e *Engine) consume(ctx context.Context, inst *instance) (exited bool) {
	defer func() {
		if r := recover(); r != nil {
			inst.mu.Lock()
			inst.lastError = fmt.Sprintf("panic: %v", r)
			inst.mu.Unlock()
			exited = false
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		case tick := <-inst.ticks:
			e.processTick(ctx, inst, tick)
		}
	}
}

func (e *Engine) processTick(ctx context.Context, inst *instance, tick core.Tick) {
	snap := e.holder.Current()

	start := time.Now()
	signals, err := inst.strat.OnMarketData(ctx, snap, tick)
	elapsed := time.Since(start)

	inst.mu.Lock()
	inst.ticksProcessed++
	inst.lastTickAt = e.clock.Now()
	if err != nil {
		inst.errors++
		inst.lastError = err.Error()
	}
	inst.signalsEmitted += int64(len(signals))
	inst.mu.Unlock()

	if err != nil {
		e.logger.Error("Strategy tick error",
			"strategy", inst.cfg.ID,
			"symbol", tick.Symbol,
			"error", err)
		return
	}

	budget := inst.cfg.TickBudget
	if budget > 0 && elapsed > budget {
		e.overBudget.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", inst.cfg.ID)))
		e.logger.Warn("Strategy tick exceeded soft budget",
			"strategy", inst.cfg.ID,
			"symbol", tick.Symbol,
			"elapsed", elapsed.String(),
			"budget", budget.String())
	}

	if len(signals) == 0 || e.sink == nil {
		return
	}

	for i := range signals {
		signals[i].StrategyID = inst.cfg.ID
		signals[i].ClampStrength()
		if signals[i].Timestamp.IsZero() {
			signals[i].Timestamp = e.clock.Now()
		}
	}

	// Delivery runs on the instance's parent context: stopping the instance
	// must not abort an order submission already in flight
	batch := signals
	inst.inflight.Add(1)
	deliver := func() {
		defer inst.inflight.Done()
		e.sink(inst.parent, batch)
	}
	if err := e.pool.Submit(deliver); err != nil {
		e.logger.Warn("Signal offload pool full, delivering inline",
			"strategy", inst.cfg.ID,
			"error", err)
		deliver()
	}
}

func (e *Engine) withInstance(id string, fn func(*instance)) {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if ok {
		fn(inst)
	}
}

func (e *Engine) recoverCallback(inst *instance, callback string) {
	if r := recover(); r != nil {
		inst.mu.Lock()
		inst.panics++
		inst.lastError = fmt.Sprintf("panic in %s: %v", callback, r)
		inst.mu.Unlock()
		e.logger.Error("Strategy callback panicked",
			"strategy", inst.cfg.ID,
			"callback", callback,
			"panic", r)
	}
}

func (inst *instance) trades(symbol string) bool {
	for _, s := range inst.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (inst *instance) getStatus() InstanceStatus {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.status
}

func (inst *instance) setStatus(s InstanceStatus) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.status = s
}

func (inst *instance) stats() *Stats {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return &Stats{
		ID:             inst.cfg.ID,
		Type:           inst.cfg.Type,
		Status:         inst.status,
		TicksProcessed: inst.ticksProcessed,
		SignalsEmitted: inst.signalsEmitted,
		Fills:          inst.fills,
		Errors:         inst.errors,
		Panics:         inst.panics,
		DroppedTicks:   inst.droppedTicks,
		LastError:      inst.lastError,
		LastTickAt:     inst.lastTickAt,
		State:          inst.strat.State(),
	}
}
