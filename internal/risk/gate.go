package risk

import (
	"context"
	"fmt"

	"tradebot/internal/core"
	"tradebot/internal/marketctx"
	"tradebot/pkg/telemetry"
	"tradebot/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RejectCode identifies which check rejected a signal
type RejectCode string

const (
	RejectContextNotReady  RejectCode = "CONTEXT_NOT_READY"
	RejectSignalStrength   RejectCode = "SIGNAL_STRENGTH"
	RejectDailyLossLimit   RejectCode = "DAILY_LOSS_LIMIT"
	RejectSymbolDisabled   RejectCode = "SYMBOL_DISABLED"
	RejectStrategyPaused   RejectCode = "STRATEGY_PAUSED"
	RejectVolatility       RejectCode = "VOLATILITY"
	RejectPerSymbolCap     RejectCode = "PER_SYMBOL_CAP"
	RejectAggregateCap     RejectCode = "AGGREGATE_CAP"
	RejectMaxPositions     RejectCode = "MAX_POSITIONS"
	RejectMinOrderValue    RejectCode = "MIN_ORDER_VALUE"
	RejectNoPriceAvailable RejectCode = "NO_PRICE"
	RejectNoPosition       RejectCode = "NO_POSITION"
)

// Rejection is a business outcome, not an error: the signal is dropped and
// the owning strategy keeps running
type Rejection struct {
	Code              RejectCode
	Reason            string
	SuggestedQuantity decimal.Decimal
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

// Result is the outcome of validating one signal. Exactly one of Request and
// Rejection is set; Warnings may accompany either.
type Result struct {
	Request   *core.OrderRequest
	Rejection *Rejection
	Warnings  []string
}

// Approved reports whether the signal passed all checks
func (r *Result) Approved() bool {
	return r.Request != nil
}

// Gate validates signals against the active limits and a context snapshot.
// Validation is deterministic for a given (signal, snapshot, limits) triple;
// checks run in a fixed order and the first failure wins.
type Gate struct {
	limits *LimitsHolder
	daily  *DailyTracker
	logger core.ILogger

	rejectCounter  metric.Int64Counter
	warningCounter metric.Int64Counter
}

// NewGate creates a risk gate
func NewGate(limits *LimitsHolder, daily *DailyTracker, logger core.ILogger) *Gate {
	meter := telemetry.GetMeter("risk-gate")
	rejectCounter, _ := meter.Int64Counter("risk_rejections_total",
		metric.WithDescription("Total signals rejected by the risk gate"))
	warningCounter, _ := meter.Int64Counter("risk_warnings_total",
		metric.WithDescription("Total soft risk warnings emitted"))

	return &Gate{
		limits:         limits,
		daily:          daily,
		logger:         logger.WithField("component", "risk_gate"),
		rejectCounter:  rejectCounter,
		warningCounter: warningCounter,
	}
}

// ReplaceLimits atomically swaps the active limit set. In-flight validations
// complete under the old limits.
func (g *Gate) ReplaceLimits(limits *Limits) {
	g.limits.Replace(limits)
	g.logger.Info("Risk limits replaced",
		"per_symbol_cap_pct", limits.PerSymbolCapPct.String(),
		"aggregate_cap_pct", limits.AggregateCapPct.String(),
		"max_open_positions", limits.MaxOpenPositions)
}

// Daily exposes the tracker so fill handlers can record realized PnL
func (g *Gate) Daily() *DailyTracker {
	return g.daily
}

// Validate runs the check chain. Check order is fixed: daily loss limit,
// enablement, volatility, position sizing. Approved requests are never
// re-validated downstream.
func (g *Gate) Validate(sig *core.Signal, snap *marketctx.Snapshot) *Result {
	limits := g.limits.Current()
	sig.ClampStrength()

	if !snap.ExchangeReady() {
		return g.reject(sig, RejectContextNotReady, "exchange state has not synced yet")
	}

	if sig.Strength < limits.MinSignalStrength {
		return g.reject(sig, RejectSignalStrength,
			fmt.Sprintf("strength %.2f below minimum %.2f", sig.Strength, limits.MinSignalStrength))
	}

	equity := snap.Account.TotalBalance
	var warnings []string

	// 1. Daily loss limit. Exits are always allowed so positions can be
	// closed even after the limit is hit.
	status := g.daily.Status(equity, limits.DailyLossLimitPct)
	if sig.IsEntry() {
		if status.Level == LossLevelBreached {
			return g.reject(sig, RejectDailyLossLimit,
				fmt.Sprintf("daily loss %s reached limit of %s%% equity",
					status.TotalPnL.String(), limits.DailyLossLimitPct.String()))
		}
	}
	switch status.Level {
	case LossLevelCritical:
		warnings = append(warnings, fmt.Sprintf("daily loss at %s of limit (critical)", percent(status.LossRatio)))
	case LossLevelWarning:
		warnings = append(warnings, fmt.Sprintf("daily loss at %s of limit", percent(status.LossRatio)))
	}

	// 2. Enablement
	if limits.DisabledSymbols[sig.Symbol] {
		return g.reject(sig, RejectSymbolDisabled, fmt.Sprintf("symbol %s is disabled", sig.Symbol))
	}
	if limits.PausedStrategies[sig.StrategyID] {
		return g.reject(sig, RejectStrategyPaused, fmt.Sprintf("strategy %s is paused", sig.StrategyID))
	}

	// 3. Volatility filter, entries only
	if sig.IsEntry() {
		threshold := limits.VolatilityThresholdFor(sig.Symbol)
		if threshold.IsPositive() {
			if vol, err := snap.Score(sig.Symbol); err == nil {
				volDec := decimal.NewFromFloat(vol)
				if volDec.GreaterThan(threshold) {
					return g.reject(sig, RejectVolatility,
						fmt.Sprintf("volatility %s exceeds threshold %s", volDec.String(), threshold.String()))
				}
				if volDec.GreaterThan(threshold.Mul(warnRatio)) {
					warnings = append(warnings, fmt.Sprintf("volatility %s above 70%% of threshold %s",
						volDec.String(), threshold.String()))
				}
			}
		}
	}

	// 4. Sizing
	req, rej := g.size(sig, snap, limits, equity)
	if rej != nil {
		res := &Result{Rejection: rej, Warnings: warnings}
		g.record(sig, res)
		return res
	}

	res := &Result{Request: req, Warnings: warnings}
	g.record(sig, res)
	return res
}

// size computes the order quantity and applies the exposure checks
func (g *Gate) size(sig *core.Signal, snap *marketctx.Snapshot, limits *Limits, equity decimal.Decimal) (*core.OrderRequest, *Rejection) {
	position := snap.Positions[sig.Symbol]

	price := sig.SuggestedPrice
	if price.IsZero() && position != nil {
		price = position.CurrentPrice
	}
	if price.IsZero() {
		return nil, &Rejection{Code: RejectNoPriceAvailable, Reason: "no price available to size order"}
	}

	if !sig.IsEntry() {
		// Exits close or reduce the existing position
		if position == nil || position.Quantity.IsZero() {
			return nil, &Rejection{Code: RejectNoPosition, Reason: "exit signal with no open position"}
		}
		qty := position.Quantity
		if sig.Kind == core.SignalScaleOut {
			qty = qty.Mul(decimal.NewFromFloat(sig.Strength))
			if qty.IsZero() {
				qty = position.Quantity
			}
		}
		return g.buildRequest(sig, qty, price), nil
	}

	// Entry sizing: equity fraction scaled by signal strength
	notional := equity.Mul(limits.DefaultOrderEquityFrac).Mul(decimal.NewFromFloat(sig.Strength))

	symbolCap := equity.Mul(limits.PerSymbolCapPct).Div(decimal.NewFromInt(100))
	aggregateCap := equity.Mul(limits.AggregateCapPct).Div(decimal.NewFromInt(100))

	symbolExposure := decimal.Zero
	if position != nil {
		symbolExposure = position.Notional()
	}
	totalExposure := decimal.Zero
	for _, p := range snap.Positions {
		totalExposure = totalExposure.Add(p.Notional())
	}

	// Max positions applies only when the entry opens a new position
	if position == nil {
		open := len(snap.Positions)
		if open >= limits.MaxOpenPositions {
			return nil, &Rejection{
				Code:   RejectMaxPositions,
				Reason: fmt.Sprintf("%d positions open, limit %d", open, limits.MaxOpenPositions),
			}
		}
	}

	if symbolExposure.Add(notional).GreaterThan(symbolCap) {
		headroom := symbolCap.Sub(symbolExposure)
		rej := &Rejection{
			Code: RejectPerSymbolCap,
			Reason: fmt.Sprintf("order notional %s would push %s exposure past cap %s",
				notional.String(), sig.Symbol, symbolCap.String()),
		}
		if headroom.IsPositive() {
			rej.SuggestedQuantity = headroom.Div(price)
		}
		return nil, rej
	}

	if totalExposure.Add(notional).GreaterThan(aggregateCap) {
		return nil, &Rejection{
			Code: RejectAggregateCap,
			Reason: fmt.Sprintf("order notional %s would push aggregate exposure past cap %s",
				notional.String(), aggregateCap.String()),
		}
	}

	minValue := limits.MinOrderValue
	if c, ok := snap.Constraints[sig.Symbol]; ok && c.MinOrderValue.GreaterThan(minValue) {
		minValue = c.MinOrderValue
	}
	if minValue.IsPositive() && notional.LessThan(minValue) {
		return nil, &Rejection{
			Code:   RejectMinOrderValue,
			Reason: fmt.Sprintf("order notional %s below minimum %s", notional.String(), minValue.String()),
		}
	}

	qty := notional.Div(price)
	if c, ok := snap.Constraints[sig.Symbol]; ok {
		qty = tradingutils.QuantizeToStep(qty, c.StepSize)
		if !sig.SuggestedPrice.IsZero() {
			price = tradingutils.AlignToTick(price, c.TickSize)
		}
	}
	if qty.IsZero() {
		return nil, &Rejection{Code: RejectMinOrderValue, Reason: "sized quantity rounds to zero"}
	}

	return g.buildRequest(sig, qty, price), nil
}

func (g *Gate) buildRequest(sig *core.Signal, qty, price decimal.Decimal) *core.OrderRequest {
	orderType := core.OrderTypeLimit
	if sig.SuggestedPrice.IsZero() {
		orderType = core.OrderTypeMarket
	}
	return &core.OrderRequest{
		Symbol:         sig.Symbol,
		Side:           sig.Side,
		Type:           orderType,
		Quantity:       qty,
		Price:          price,
		StrategyID:     sig.StrategyID,
		SignalID:       sig.ID,
		IdempotencyKey: "sig_" + uuid.NewString(),
	}
}

func (g *Gate) reject(sig *core.Signal, code RejectCode, reason string) *Result {
	res := &Result{Rejection: &Rejection{Code: code, Reason: reason}}
	g.record(sig, res)
	return res
}

// record logs the outcome and bumps metrics. Rejections are logged and
// dropped; they never stop the owning strategy.
func (g *Gate) record(sig *core.Signal, res *Result) {
	ctx := context.Background()
	for _, w := range res.Warnings {
		g.logger.Warn("Risk warning", "signal_id", sig.ID, "strategy", sig.StrategyID, "warning", w)
		g.warningCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", sig.StrategyID)))
	}
	if res.Rejection != nil {
		g.logger.Info("Signal rejected",
			"signal_id", sig.ID,
			"strategy", sig.StrategyID,
			"symbol", sig.Symbol,
			"code", string(res.Rejection.Code),
			"reason", res.Rejection.Reason)
		g.rejectCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", sig.StrategyID),
			attribute.String("code", string(res.Rejection.Code))))
	}
}

func percent(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).Round(1).String() + "%"
}
