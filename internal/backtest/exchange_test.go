package backtest

import (
	"context"
	"testing"
	"time"

	"tradebot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(symbol string, open, high, low, close int64, minute int) core.Candle {
	return core.Candle{
		Symbol:    symbol,
		Open:      decimal.NewFromInt(open),
		High:      decimal.NewFromInt(high),
		Low:       decimal.NewFromInt(low),
		Close:     decimal.NewFromInt(close),
		Volume:    decimal.NewFromInt(100),
		Timestamp: time.Date(2025, 3, 10, 12, minute, 0, 0, time.UTC),
	}
}

func collectUpdates(sim *SimExchange) *[]*core.OrderUpdate {
	var updates []*core.OrderUpdate
	_ = sim.StartOrderStream(context.Background(), func(u *core.OrderUpdate) {
		updates = append(updates, u)
	})
	return &updates
}

func TestSimMarketOrderFillsAtCloseWithSlippage(t *testing.T) {
	sim := NewSimExchange(SimConfig{
		StartingBalance: decimal.NewFromInt(100000),
		SlippagePct:     decimal.NewFromFloat(0.001),
	})
	updates := collectUpdates(sim)
	sim.AdvanceBar(bar("BTCUSDT", 50000, 50100, 49900, 50000, 0))

	order, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     core.SideBuy,
		Type:     core.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)
	// Buy slips upward: 50000 * 1.001
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(50050)),
		"got %s", order.AvgFillPrice)

	require.Len(t, *updates, 1)
	assert.True(t, (*updates)[0].Fill.CumulativeQty.Equal(decimal.NewFromInt(1)))
}

func TestSimFeesCharged(t *testing.T) {
	sim := NewSimExchange(SimConfig{
		StartingBalance: decimal.NewFromInt(100000),
		FeePct:          decimal.NewFromFloat(0.001),
	})
	sim.AdvanceBar(bar("BTCUSDT", 100, 100, 100, 100, 0))

	_, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     core.SideBuy,
		Type:     core.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	// Notional 1000, fee 1
	assert.True(t, sim.FeesPaid().Equal(decimal.NewFromInt(1)))

	account, err := sim.GetAccount(context.Background())
	require.NoError(t, err)
	// Cash 100000 - 1000 - 1, position worth 1000
	assert.True(t, account.TotalBalance.Equal(decimal.NewFromInt(99999)),
		"got %s", account.TotalBalance)
}

func TestSimLimitOrderRestsUntilTouched(t *testing.T) {
	sim := NewSimExchange(SimConfig{StartingBalance: decimal.NewFromInt(100000)})
	updates := collectUpdates(sim)
	sim.AdvanceBar(bar("BTCUSDT", 50000, 50100, 49900, 50000, 0))

	order, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     core.SideBuy,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(49000),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusSubmitted, order.Status)
	assert.Empty(t, *updates)

	// Bar that never reaches the limit
	sim.AdvanceBar(bar("BTCUSDT", 50000, 50200, 49500, 50100, 1))
	assert.Empty(t, *updates)

	// Bar whose low trades through the limit
	sim.AdvanceBar(bar("BTCUSDT", 50100, 50100, 48800, 49100, 2))
	require.Len(t, *updates, 1)
	assert.True(t, (*updates)[0].Fill.Price.Equal(decimal.NewFromInt(49000)),
		"limit fills at limit price, got %s", (*updates)[0].Fill.Price)

	open, err := sim.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSimLimitInsideBarFillsImmediately(t *testing.T) {
	sim := NewSimExchange(SimConfig{StartingBalance: decimal.NewFromInt(100000)})
	sim.AdvanceBar(bar("BTCUSDT", 50000, 50100, 49900, 50000, 0))

	order, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     core.SideBuy,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(50000),
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)
	assert.True(t, order.AvgFillPrice.Equal(decimal.NewFromInt(50000)))
}

func TestSimIdempotencyKeyReturnsExisting(t *testing.T) {
	sim := NewSimExchange(SimConfig{StartingBalance: decimal.NewFromInt(100000)})
	sim.AdvanceBar(bar("BTCUSDT", 100, 100, 100, 100, 0))

	req := &core.OrderRequest{
		Symbol:         "BTCUSDT",
		Side:           core.SideBuy,
		Type:           core.OrderTypeMarket,
		Quantity:       decimal.NewFromInt(1),
		IdempotencyKey: "k1",
	}
	first, err := sim.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := sim.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ExchangeOrderID, second.ExchangeOrderID)

	// Only one fill's worth of cash moved
	account, _ := sim.GetAccount(context.Background())
	assert.True(t, account.AvailableBalance.Equal(decimal.NewFromInt(99900)))
}

func TestSimDeterministicOrderIDs(t *testing.T) {
	sim := NewSimExchange(SimConfig{StartingBalance: decimal.NewFromInt(100000)})
	sim.AdvanceBar(bar("BTCUSDT", 100, 100, 100, 100, 0))

	for i, want := range []string{"sim-1", "sim-2", "sim-3"} {
		order, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
			Symbol:   "BTCUSDT",
			Side:     core.SideBuy,
			Type:     core.OrderTypeMarket,
			Quantity: decimal.NewFromInt(1),
		})
		require.NoError(t, err, "order %d", i)
		assert.Equal(t, want, order.ExchangeOrderID)
	}
}

func TestSimCancelRestingOrder(t *testing.T) {
	sim := NewSimExchange(SimConfig{StartingBalance: decimal.NewFromInt(100000)})
	sim.AdvanceBar(bar("BTCUSDT", 50000, 50100, 49900, 50000, 0))

	order, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     core.SideSell,
		Type:     core.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(60000),
	})
	require.NoError(t, err)

	require.NoError(t, sim.CancelOrder(context.Background(), "BTCUSDT", order.ExchangeOrderID))
	err = sim.CancelOrder(context.Background(), "BTCUSDT", order.ExchangeOrderID)
	assert.ErrorIs(t, err, core.ErrOrderFinalized)
}

func TestSimPositionFlipAndClose(t *testing.T) {
	sim := NewSimExchange(SimConfig{StartingBalance: decimal.NewFromInt(100000)})
	sim.AdvanceBar(bar("BTCUSDT", 100, 100, 100, 100, 0))

	buy := func(qty int64) {
		_, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
			Symbol: "BTCUSDT", Side: core.SideBuy, Type: core.OrderTypeMarket,
			Quantity: decimal.NewFromInt(qty),
		})
		require.NoError(t, err)
	}
	sell := func(qty int64) {
		_, err := sim.PlaceOrder(context.Background(), &core.OrderRequest{
			Symbol: "BTCUSDT", Side: core.SideSell, Type: core.OrderTypeMarket,
			Quantity: decimal.NewFromInt(qty),
		})
		require.NoError(t, err)
	}

	buy(10)
	positions, _ := sim.GetPositions(context.Background())
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(10)))

	sell(15)
	positions, _ = sim.GetPositions(context.Background())
	require.Len(t, positions, 1)
	assert.Equal(t, core.SideSell, positions[0].Side)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(5)))

	buy(5)
	positions, _ = sim.GetPositions(context.Background())
	assert.Empty(t, positions)
}
