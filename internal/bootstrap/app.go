// Package bootstrap wires the live trading pipeline from configuration and
// manages its lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradebot/internal/alert"
	"tradebot/internal/analytics"
	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/exchange"
	"tradebot/internal/execution"
	"tradebot/internal/feed"
	"tradebot/internal/marketctx"
	"tradebot/internal/risk"
	"tradebot/internal/store"
	"tradebot/internal/strategy"
	"tradebot/pkg/concurrency"
	"tradebot/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

// App holds the wired pipeline. Construction connects everything; Start and
// Stop drive the lifecycle in dependency order.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger

	Telemetry *telemetry.Telemetry
	Metrics   *telemetry.MetricsServer

	Exchange core.IExchange
	Archive  *store.SQLiteArchive
	Holder   *marketctx.Holder
	Sync     *marketctx.Synchronizer
	Daily    *risk.DailyTracker
	Gate     *risk.Gate
	Alerts   *alert.Manager
	Executor *execution.Executor
	Engine   *strategy.Engine
	Feed     *feed.Feed
}

// NewApp builds the full pipeline from a config file
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tel, err := telemetry.Setup(cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	exch, err := exchange.New(cfg.App.PrimaryExchange, cfg.Exchanges[cfg.App.PrimaryExchange], logger)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}

	archive, err := store.NewSQLiteArchive(cfg.Archive.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
		Exchange:  exch,
		Archive:   archive,
	}
	app.wire()
	return app, nil
}

// wire connects the components: feed into the strategy engine, signals
// through the gate into the executor, fills back out to strategies, alerting,
// and the archive.
func (a *App) wire() {
	cfg := a.Cfg
	logger := a.Logger

	a.Alerts = alert.NewManager(cfg.Alerting, nil, logger)
	a.Holder = marketctx.NewHolder()

	symbols := tradedSymbols(cfg.Strategies)
	var provider core.IAnalyticsProvider
	if client := analytics.NewClient(cfg.Analytics, logger); client != nil {
		provider = client
	}
	a.Sync = marketctx.NewSynchronizer(a.Holder, a.Exchange, provider, marketctx.SynchronizerConfig{
		ExchangeInterval:  cfg.Sync.ExchangeInterval,
		AnalyticsInterval: cfg.Sync.AnalyticsInterval,
		Symbols:           symbols,
	}, nil, logger)

	a.Daily = risk.NewDailyTracker(nil, logger)
	a.Gate = risk.NewGate(risk.NewLimitsHolder(risk.FromConfig(cfg.Risk)), a.Daily, logger)

	a.Executor = execution.NewExecutor(a.Exchange, cfg.Executor, nil, a.Alerts, a.Archive, logger)
	a.Executor.Positions().OnRealized(a.Daily.RecordRealized)

	registry := strategy.NewRegistry()
	registerBuiltins(registry, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "signal-dispatch",
		MaxWorkers:  8,
		MaxCapacity: 256,
	}, logger)
	a.Engine = strategy.NewEngine(registry, a.Holder, a.routeSignals, pool, nil, logger)

	a.Executor.OnTerminal(func(order *core.Order) {
		a.Engine.NotifyFill(order)
	})
	a.Executor.Positions().OnUpdate(func(pos *core.Position) {
		a.Engine.NotifyPosition(pos)
	})

	a.Feed = feed.NewFeed(cfg.Feed, symbols, logger)
	a.Feed.Subscribe(func(tick core.Tick) {
		a.Engine.Dispatch(tick)
		a.Executor.Positions().UpdatePrice(tick.Symbol, tick.Price)
		a.Daily.SetUnrealized(a.Executor.Positions().TotalUnrealized())
	})
}

// routeSignals is the strategy engine sink: every signal passes the risk gate
// and approved requests go to the executor
func (a *App) routeSignals(ctx context.Context, signals []core.Signal) {
	snap := a.Holder.Current()
	for i := range signals {
		sig := &signals[i]
		result := a.Gate.Validate(sig, snap)
		if !result.Approved() {
			a.Alerts.Notify(core.Event{
				Kind:    core.EventRiskRejection,
				Title:   "Signal rejected",
				Message: result.Rejection.String(),
				Fields: map[string]string{
					"strategy": sig.StrategyID,
					"symbol":   sig.Symbol,
				},
			})
			continue
		}
		if _, err := a.Executor.Execute(ctx, result.Request); err != nil {
			a.Logger.Error("Order execution failed",
				"signal_id", sig.ID,
				"symbol", sig.Symbol,
				"error", err.Error())
		}
	}
}

// Start brings the pipeline up: metrics, context sync, order stream,
// strategies, and finally the market data feed.
func (a *App) Start(ctx context.Context) error {
	if a.Cfg.Telemetry.EnableMetrics {
		a.Metrics = telemetry.NewMetricsServer(a.Cfg.Telemetry.MetricsPort, a.Logger)
		a.Metrics.Start()
	}

	if err := a.Exchange.CheckHealth(ctx); err != nil {
		a.Logger.Warn("Exchange health check failed, starting anyway", "error", err.Error())
	}

	if err := a.Sync.Start(ctx); err != nil {
		return fmt.Errorf("start synchronizer: %w", err)
	}
	if err := a.Executor.Start(ctx); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}
	if err := a.Engine.StartAll(ctx, a.Cfg.Strategies); err != nil {
		return fmt.Errorf("start strategies: %w", err)
	}
	a.Feed.Start()

	a.Logger.Info("Trading pipeline started",
		"exchange", a.Exchange.GetName(),
		"strategies", len(a.Cfg.Strategies))
	return nil
}

// Stop tears the pipeline down in reverse order so no component references a
// stopped dependency. Open orders are cancelled first when configured.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.Feed.Stop()
	a.Engine.StopAll()

	if a.Cfg.System.CancelOnExit {
		for _, order := range a.Executor.Book().ActiveOrders() {
			if err := a.Executor.Cancel(ctx, order.ID); err != nil {
				a.Logger.Warn("Cancel on exit failed",
					"order_id", order.ID, "error", err.Error())
			}
		}
	}

	_ = a.Executor.Stop()
	a.Sync.Stop()
	a.Alerts.Close()

	if err := a.Archive.Close(); err != nil {
		a.Logger.Warn("Archive close failed", "error", err.Error())
	}
	if a.Metrics != nil {
		_ = a.Metrics.Stop(ctx)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err.Error())
	}
	a.Logger.Info("Trading pipeline stopped")
}

// Run starts the pipeline and blocks until a termination signal arrives
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	a.Logger.Info("Shutdown signal received")
	a.Stop()
	return nil
}

// registerBuiltins installs the strategy types shipped with the binary
func registerBuiltins(registry *strategy.Registry, logger core.ILogger) {
	if err := registry.Register("sma_cross", strategy.SMACrossSchema, strategy.NewSMACross); err != nil {
		logger.Fatal("Failed to register builtin strategy", "error", err.Error())
	}
}

// tradedSymbols returns the union of all configured strategy symbols
func tradedSymbols(strategies []config.StrategyConfig) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, s := range strategies {
		for _, symbol := range s.Symbols {
			if !seen[symbol] {
				seen[symbol] = true
				symbols = append(symbols, symbol)
			}
		}
	}
	return symbols
}
