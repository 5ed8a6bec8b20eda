package risk

import (
	"sync"
	"time"

	"tradebot/internal/core"
	"tradebot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// LossLevel classifies how much of the daily loss budget is consumed
type LossLevel string

const (
	LossLevelOK       LossLevel = "OK"
	LossLevelWarning  LossLevel = "WARNING"  // >= 70% of the limit
	LossLevelCritical LossLevel = "CRITICAL" // >= 90% of the limit
	LossLevelBreached LossLevel = "BREACHED"
)

// warnRatio and criticalRatio are the soft warning thresholds
var (
	warnRatio     = decimal.NewFromFloat(0.7)
	criticalRatio = decimal.NewFromFloat(0.9)
)

// DailyStatus is a point-in-time view of the day's loss budget
type DailyStatus struct {
	Date          string
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalPnL      decimal.Decimal
	LossRatio     decimal.Decimal
	Level         LossLevel
	Wins          int
	Losses        int
}

// DailyTracker accumulates the calendar day's profit and loss. The day rolls
// over at UTC midnight regardless of local timezone or restarts within the
// same day. The clock is injectable for deterministic tests.
type DailyTracker struct {
	mu            sync.Mutex
	clock         core.IClock
	logger        core.ILogger
	date          string
	realizedPnL   decimal.Decimal
	unrealizedPnL decimal.Decimal
	wins          int
	losses        int
	breached      bool
}

// NewDailyTracker creates a tracker starting at the clock's current UTC day
func NewDailyTracker(clock core.IClock, logger core.ILogger) *DailyTracker {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &DailyTracker{
		clock:  clock,
		logger: logger.WithField("component", "daily_tracker"),
		date:   utcDate(clock.Now()),
	}
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// checkAndReset rolls the accumulators over when the UTC date has changed.
// Callers must hold the mutex.
func (d *DailyTracker) checkAndReset() {
	today := utcDate(d.clock.Now())
	if today != d.date {
		d.logger.Info("Daily loss tracker reset",
			"previous_date", d.date,
			"date", today,
			"realized_pnl", d.realizedPnL.String())
		d.date = today
		d.realizedPnL = decimal.Zero
		d.unrealizedPnL = decimal.Zero
		d.wins = 0
		d.losses = 0
		d.breached = false
	}
}

// RecordRealized adds a realized PnL amount to the current day
func (d *DailyTracker) RecordRealized(pnl decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkAndReset()
	d.realizedPnL = d.realizedPnL.Add(pnl)
	if pnl.IsPositive() {
		d.wins++
	} else if pnl.IsNegative() {
		d.losses++
	}
}

// SetUnrealized replaces the day's unrealized PnL component
func (d *DailyTracker) SetUnrealized(pnl decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkAndReset()
	d.unrealizedPnL = pnl
}

// Status computes the budget consumption against equity and limitPct
func (d *DailyTracker) Status(equity, limitPct decimal.Decimal) DailyStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkAndReset()

	total := d.realizedPnL.Add(d.unrealizedPnL)
	status := DailyStatus{
		Date:          d.date,
		RealizedPnL:   d.realizedPnL,
		UnrealizedPnL: d.unrealizedPnL,
		TotalPnL:      total,
		Level:         LossLevelOK,
		Wins:          d.wins,
		Losses:        d.losses,
	}

	if limitPct.IsZero() || equity.IsZero() || !total.IsNegative() {
		telemetry.GetGlobalMetrics().SetDailyLossRatio("account", 0)
		if d.breached {
			status.Level = LossLevelBreached
		}
		return status
	}

	limitAmount := equity.Mul(limitPct).Div(decimal.NewFromInt(100))
	status.LossRatio = total.Neg().Div(limitAmount)
	telemetry.GetGlobalMetrics().SetDailyLossRatio("account", status.LossRatio.InexactFloat64())

	switch {
	case status.LossRatio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		status.Level = LossLevelBreached
	case status.LossRatio.GreaterThanOrEqual(criticalRatio):
		status.Level = LossLevelCritical
	case status.LossRatio.GreaterThanOrEqual(warnRatio):
		status.Level = LossLevelWarning
	}

	// Once breached the day stays breached: a recovering unrealized mark must
	// not re-enable entries before the UTC rollover
	if status.Level == LossLevelBreached && !d.breached {
		d.breached = true
		d.logger.Warn("Daily loss limit breached, entries paused until rollover",
			"date", d.date,
			"total_pnl", total.String(),
			"loss_ratio", status.LossRatio.String())
	}
	if d.breached {
		status.Level = LossLevelBreached
	}
	return status
}
