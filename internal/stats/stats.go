// Package stats computes performance reports shared by the live pipeline and
// the backtest engine. All inputs are the order and position history types,
// so both modes produce directly comparable numbers.
package stats

import (
	"math"
	"sort"
	"time"

	"tradebot/internal/core"

	"github.com/shopspring/decimal"
)

// Trade is one closed round trip
type Trade struct {
	Symbol     string
	StrategyID string
	Side       core.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	PnL        decimal.Decimal
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// EquityPoint is one sample of total equity over time
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// Report is the full performance summary
type Report struct {
	StartEquity decimal.Decimal
	EndEquity   decimal.Decimal
	TotalPnL    decimal.Decimal

	TotalReturnPct      float64
	AnnualizedReturnPct float64
	MaxDrawdownPct      float64

	TradeCount   int
	Wins         int
	Losses       int
	WinRate      float64
	ProfitFactor float64

	Sharpe  float64
	Sortino float64

	Start time.Time
	End   time.Time

	EquityCurve []EquityPoint
	Trades      []Trade
}

// TradesFromPositions converts closed position history into round trips
func TradesFromPositions(history []core.Position) []Trade {
	trades := make([]Trade, 0, len(history))
	for _, pos := range history {
		trades = append(trades, Trade{
			Symbol:     pos.Symbol,
			StrategyID: pos.StrategyID,
			Side:       pos.Side,
			Quantity:   pos.Quantity,
			EntryPrice: pos.AvgEntryPrice,
			PnL:        pos.RealizedPnL,
			OpenedAt:   pos.OpenedAt,
			ClosedAt:   pos.ClosedAt,
		})
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })
	return trades
}

// Compute builds a report from the starting equity, the closed trades, and
// the sampled equity curve
func Compute(startEquity decimal.Decimal, trades []Trade, curve []EquityPoint) *Report {
	report := &Report{
		StartEquity: startEquity,
		EndEquity:   startEquity,
		EquityCurve: curve,
		Trades:      trades,
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, trade := range trades {
		report.TotalPnL = report.TotalPnL.Add(trade.PnL)
		if trade.PnL.IsPositive() {
			report.Wins++
			grossProfit = grossProfit.Add(trade.PnL)
		} else if trade.PnL.IsNegative() {
			report.Losses++
			grossLoss = grossLoss.Add(trade.PnL.Neg())
		}
	}
	report.TradeCount = len(trades)
	if report.TradeCount > 0 {
		report.WinRate = float64(report.Wins) / float64(report.TradeCount)
	}
	if grossLoss.IsPositive() {
		report.ProfitFactor, _ = grossProfit.Div(grossLoss).Float64()
	} else if grossProfit.IsPositive() {
		report.ProfitFactor = math.Inf(1)
	}

	if len(curve) > 0 {
		report.Start = curve[0].Timestamp
		report.End = curve[len(curve)-1].Timestamp
		report.EndEquity = curve[len(curve)-1].Equity
	} else {
		report.EndEquity = startEquity.Add(report.TotalPnL)
	}

	if startEquity.IsPositive() {
		ret, _ := report.EndEquity.Sub(startEquity).Div(startEquity).Float64()
		report.TotalReturnPct = ret * 100
		report.AnnualizedReturnPct = annualize(ret, report.Start, report.End)
	}

	report.MaxDrawdownPct = maxDrawdown(curve)
	report.Sharpe, report.Sortino = riskAdjusted(curve)

	return report
}

// maxDrawdown returns the largest peak-to-trough equity decline in percent
func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	worst := 0.0
	for _, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsPositive() {
			dd, _ := peak.Sub(point.Equity).Div(peak).Float64()
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst * 100
}

// riskAdjusted computes Sharpe and Sortino ratios from per-sample returns,
// annualized by the observed sampling interval. Zero-variance curves yield 0.
func riskAdjusted(curve []EquityPoint) (sharpe, sortino float64) {
	if len(curve) < 3 {
		return 0, 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if !prev.IsPositive() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return 0, 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	downVariance := 0.0
	downCount := 0
	for _, r := range returns {
		d := r - mean
		variance += d * d
		if r < 0 {
			downVariance += r * r
			downCount++
		}
	}
	variance /= float64(len(returns) - 1)

	span := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
	periodsPerYear := 252.0
	if span > 0 {
		perPeriod := span / time.Duration(len(returns))
		if perPeriod > 0 {
			periodsPerYear = float64(365*24*time.Hour) / float64(perPeriod)
		}
	}
	scale := math.Sqrt(periodsPerYear)

	if variance > 0 {
		sharpe = mean / math.Sqrt(variance) * scale
	}
	if downCount > 0 {
		downDev := math.Sqrt(downVariance / float64(downCount))
		if downDev > 0 {
			sortino = mean / downDev * scale
		}
	} else if mean > 0 {
		sortino = math.Inf(1)
	}
	return sharpe, sortino
}

// annualize converts a total return over [start, end] to a yearly rate
func annualize(totalReturn float64, start, end time.Time) float64 {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return 0
	}
	years := end.Sub(start).Hours() / (365 * 24)
	if years <= 0 {
		return 0
	}
	return (math.Pow(1+totalReturn, 1/years) - 1) * 100
}
