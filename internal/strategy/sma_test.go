package strategy

import (
	"context"
	"testing"
	"time"

	"tradebot/internal/core"
	"tradebot/internal/logging"
	"tradebot/internal/marketctx"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSMA(t *testing.T, fast, slow int) Strategy {
	t.Helper()
	strat := NewSMACross("sma-1", []string{"BTCUSDT"}, logging.GetGlobalLogger())
	require.NoError(t, strat.Init(map[string]interface{}{
		"fast_period": fast,
		"slow_period": slow,
	}))
	return strat
}

func feed(t *testing.T, strat Strategy, snap *marketctx.Snapshot, prices []int64) []core.Signal {
	t.Helper()
	var all []core.Signal
	for i, p := range prices {
		signals, err := strat.OnMarketData(context.Background(), snap, core.Tick{
			Symbol:    "BTCUSDT",
			Price:     decimal.NewFromInt(p),
			Timestamp: time.Date(2025, 3, 10, 12, 0, i, 0, time.UTC),
		})
		require.NoError(t, err)
		all = append(all, signals...)
	}
	return all
}

func TestSMACrossEmitsEntryOnGoldenCross(t *testing.T) {
	strat := newSMA(t, 2, 4)
	snap := &marketctx.Snapshot{}

	// Declining prices prime the window with fast below slow, then a rally
	// crosses fast above slow
	signals := feed(t, strat, snap, []int64{110, 108, 106, 104, 102, 100, 120, 140})

	require.Len(t, signals, 1)
	assert.Equal(t, core.SideBuy, signals[0].Side)
	assert.Equal(t, core.SignalEntry, signals[0].Kind)
	assert.Equal(t, "BTCUSDT", signals[0].Symbol)
	assert.NotEmpty(t, signals[0].ID)
}

func TestSMACrossExitRequiresPosition(t *testing.T) {
	strat := newSMA(t, 2, 4)

	// No open position: a death cross stays silent
	empty := &marketctx.Snapshot{}
	signals := feed(t, strat, empty, []int64{100, 102, 104, 106, 108, 110, 90, 70})
	assert.Empty(t, signals)

	// With a long position the same cross emits an exit
	strat = newSMA(t, 2, 4)
	snap := marketctx.NewSnapshot()
	snap.LastExchangeSync = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	snap.Positions["BTCUSDT"] = &core.Position{
		Symbol:   "BTCUSDT",
		Side:     core.SideBuy,
		Quantity: decimal.NewFromFloat(0.5),
	}
	signals = feed(t, strat, snap, []int64{100, 102, 104, 106, 108, 110, 90, 70})

	require.Len(t, signals, 1)
	assert.Equal(t, core.SideSell, signals[0].Side)
	assert.Equal(t, core.SignalExit, signals[0].Kind)
	assert.Equal(t, 1.0, signals[0].Strength)
}

func TestSMACrossSilentUntilWindowFull(t *testing.T) {
	strat := newSMA(t, 2, 10)
	signals := feed(t, strat, &marketctx.Snapshot{}, []int64{100, 101, 102, 103, 104})
	assert.Empty(t, signals)
}

func TestSMACrossRejectsBadPeriods(t *testing.T) {
	strat := NewSMACross("sma-1", []string{"BTCUSDT"}, logging.GetGlobalLogger())
	err := strat.Init(map[string]interface{}{
		"fast_period": 30,
		"slow_period": 10,
	})
	assert.Error(t, err)
}

func TestSMACrossState(t *testing.T) {
	strat := newSMA(t, 5, 20)
	state := strat.State()
	assert.Equal(t, 5, state["fast_period"])
	assert.Equal(t, 20, state["slow_period"])
}
