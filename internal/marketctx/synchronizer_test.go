package marketctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradebot/internal/core"
	"tradebot/internal/logging"
	"tradebot/internal/mock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *Holder, *mock.Exchange, *mock.AnalyticsProvider) {
	t.Helper()

	holder := NewHolder()
	exchange := mock.NewExchange("mock")
	analytics := mock.NewAnalyticsProvider()
	analytics.SetScore("BTCUSDT", 0.85)
	analytics.SetState("BTCUSDT", "trending")

	sync := NewSynchronizer(holder, exchange, analytics, SynchronizerConfig{
		ExchangeInterval:  time.Second,
		AnalyticsInterval: time.Minute,
		Symbols:           []string{"BTCUSDT"},
	}, core.RealClock{}, logging.GetGlobalLogger())

	return sync, holder, exchange, analytics
}

func TestSnapshotNotReadyBeforeFirstSync(t *testing.T) {
	holder := NewHolder()
	snap := holder.Current()

	_, err := snap.AccountState()
	assert.ErrorIs(t, err, core.ErrContextNotReady)

	_, err = snap.Score("BTCUSDT")
	assert.ErrorIs(t, err, core.ErrContextNotReady)

	_, err = snap.OpenPositionCount()
	assert.ErrorIs(t, err, core.ErrContextNotReady)
}

func TestSyncExchangePublishesSnapshot(t *testing.T) {
	sync, holder, exchange, _ := newTestSynchronizer(t)

	exchange.SetAccount(core.AccountSnapshot{
		TotalBalance:     decimal.NewFromInt(100000),
		AvailableBalance: decimal.NewFromInt(90000),
	})
	exchange.SetPosition(&core.Position{
		Symbol:   "BTCUSDT",
		Side:     core.SideBuy,
		Quantity: decimal.NewFromFloat(0.5),
	})

	require.NoError(t, sync.syncExchange(context.Background()))

	snap := holder.Current()
	require.True(t, snap.ExchangeReady())

	acc, err := snap.AccountState()
	require.NoError(t, err)
	assert.True(t, acc.TotalBalance.Equal(decimal.NewFromInt(100000)))

	pos, err := snap.Position("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromFloat(0.5)))

	count, err := snap.OpenPositionCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncAnalyticsPublishesScores(t *testing.T) {
	sync, holder, _, _ := newTestSynchronizer(t)

	require.NoError(t, sync.syncAnalytics(context.Background()))

	snap := holder.Current()
	require.True(t, snap.AnalyticsReady())

	score, err := snap.Score("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.85, score)

	state, err := snap.State("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "trending", state)
}

func TestAnalyticsFailureKeepsPreviousSnapshot(t *testing.T) {
	sync, holder, _, analytics := newTestSynchronizer(t)

	require.NoError(t, sync.syncAnalytics(context.Background()))
	before := holder.Current()
	beforeSync := before.LastAnalyticsSync

	analytics.SetError(errors.New("provider unavailable"))
	err := sync.syncAnalytics(context.Background())
	require.Error(t, err)

	after := holder.Current()
	assert.Equal(t, beforeSync, after.LastAnalyticsSync)

	score, err := after.Score("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.85, score)
}

func TestSnapshotImmutableAfterPublish(t *testing.T) {
	sync, holder, exchange, _ := newTestSynchronizer(t)

	require.NoError(t, sync.syncExchange(context.Background()))
	first := holder.Current()

	// A second sync with changed upstream state must not mutate the first
	// snapshot in place
	exchange.SetPosition(&core.Position{
		Symbol:   "ETHUSDT",
		Side:     core.SideBuy,
		Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, sync.syncExchange(context.Background()))
	second := holder.Current()

	assert.NotSame(t, first, second)
	assert.NotContains(t, first.Positions, "ETHUSDT")
	assert.Contains(t, second.Positions, "ETHUSDT")
}

func TestSynchronizerStartStop(t *testing.T) {
	sync, holder, _, _ := newTestSynchronizer(t)

	require.NoError(t, sync.Start(context.Background()))
	defer sync.Stop()

	// Start primes both cycles synchronously
	snap := holder.Current()
	assert.True(t, snap.ExchangeReady())
	assert.True(t, snap.AnalyticsReady())
}
