package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsTotal        = "tradebot_signals_total"
	MetricRiskRejectionsTotal = "tradebot_risk_rejections_total"
	MetricRiskWarningsTotal   = "tradebot_risk_warnings_total"
	MetricOrdersPlacedTotal   = "tradebot_orders_placed_total"
	MetricOrdersFilledTotal   = "tradebot_orders_filled_total"
	MetricOrderRetriesTotal   = "tradebot_order_retries_total"
	MetricOrderFailuresTotal  = "tradebot_order_failures_total"
	MetricPnLRealizedTotal    = "tradebot_pnl_realized_total"
	MetricPnLUnrealized       = "tradebot_pnl_unrealized"
	MetricPositionsOpen       = "tradebot_positions_open"
	MetricDailyLossRatio      = "tradebot_daily_loss_ratio"
	MetricBreakerOpen         = "tradebot_breaker_open"
	MetricPlacementLatency    = "tradebot_placement_latency_ms"
	MetricStrategyTickBudget  = "tradebot_strategy_tick_over_budget_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	SignalsTotal        metric.Int64Counter
	RiskRejectionsTotal metric.Int64Counter
	RiskWarningsTotal   metric.Int64Counter
	OrdersPlacedTotal   metric.Int64Counter
	OrdersFilledTotal   metric.Int64Counter
	OrderRetriesTotal   metric.Int64Counter
	OrderFailuresTotal  metric.Int64Counter
	PnLRealizedTotal    metric.Float64Counter
	PnLUnrealized       metric.Float64ObservableGauge
	PositionsOpen       metric.Int64ObservableGauge
	DailyLossRatio      metric.Float64ObservableGauge
	BreakerOpen         metric.Int64ObservableGauge
	PlacementLatency    metric.Float64Histogram
	TickOverBudgetTotal metric.Int64Counter

	// State for observable gauges
	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	openPositionsMap map[string]int64
	dailyLossMap     map[string]float64
	breakerOpenMap   map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedPnLMap: make(map[string]float64),
			openPositionsMap: make(map[string]int64),
			dailyLossMap:     make(map[string]float64),
			breakerOpenMap:   make(map[string]int64),
		}
		// Instruments are created in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal, metric.WithDescription("Total signals emitted by strategies"))
	if err != nil {
		return err
	}

	m.RiskRejectionsTotal, err = meter.Int64Counter(MetricRiskRejectionsTotal, metric.WithDescription("Total signals rejected by the risk gate"))
	if err != nil {
		return err
	}

	m.RiskWarningsTotal, err = meter.Int64Counter(MetricRiskWarningsTotal, metric.WithDescription("Total soft risk warnings emitted"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders fully filled"))
	if err != nil {
		return err
	}

	m.OrderRetriesTotal, err = meter.Int64Counter(MetricOrderRetriesTotal, metric.WithDescription("Total order placement retries"))
	if err != nil {
		return err
	}

	m.OrderFailuresTotal, err = meter.Int64Counter(MetricOrderFailuresTotal, metric.WithDescription("Total order placement failures"))
	if err != nil {
		return err
	}

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit and loss"))
	if err != nil {
		return err
	}

	m.PlacementLatency, err = meter.Float64Histogram(MetricPlacementLatency, metric.WithDescription("Latency of order placements"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.TickOverBudgetTotal, err = meter.Int64Counter(MetricStrategyTickBudget, metric.WithDescription("Strategy ticks that exceeded the soft time budget"))
	if err != nil {
		return err
	}

	// Observables
	m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized, metric.WithDescription("Current unrealized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.unrealizedPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Number of currently open positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for strat, val := range m.openPositionsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("strategy", strat)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.DailyLossRatio, err = meter.Float64ObservableGauge(MetricDailyLossRatio, metric.WithDescription("Fraction of the daily loss limit consumed"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for scope, val := range m.dailyLossMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("scope", scope)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BreakerOpen, err = meter.Int64ObservableGauge(MetricBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for exch, val := range m.breakerOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("exchange", exch)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetBreakerOpen(exchange string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerOpenMap[exchange] = val
}

func (m *MetricsHolder) SetUnrealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[symbol] = value
}

func (m *MetricsHolder) SetOpenPositions(strategy string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositionsMap[strategy] = count
}

func (m *MetricsHolder) SetDailyLossRatio(scope string, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLossMap[scope] = ratio
}

func (m *MetricsHolder) GetUnrealizedPnL() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.unrealizedPnLMap {
		res[k] = v
	}
	return res
}
