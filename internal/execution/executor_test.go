package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/internal/logging"
	"tradebot/internal/mock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutorConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		RateLimit:          1000,
		RateBurst:          100,
		MaxRetries:         3,
		BaseRetryDelay:     time.Millisecond,
		MaxRetryDelay:      5 * time.Millisecond,
		BreakerMaxFailures: 10,
		BreakerOpenTimeout: 30 * time.Second,
		OrderHistoryLimit:  100,
	}
}

func newTestExecutor(t *testing.T) (*Executor, *mock.Exchange) {
	t.Helper()
	exchange := mock.NewExchange("mock")
	exec := NewExecutor(exchange, testExecutorConfig(), nil, nil, nil, logging.GetGlobalLogger())
	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(func() { _ = exec.Stop() })
	return exec, exchange
}

type notifierRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *notifierRecorder) Notify(event core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *notifierRecorder) byKind(kind core.EventKind) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newNotifiedExecutor(t *testing.T, cfg config.ExecutorConfig) (*Executor, *mock.Exchange, *notifierRecorder) {
	t.Helper()
	exchange := mock.NewExchange("mock")
	rec := &notifierRecorder{}
	exec := NewExecutor(exchange, cfg, nil, rec, nil, logging.GetGlobalLogger())
	require.NoError(t, exec.Start(context.Background()))
	t.Cleanup(func() { _ = exec.Stop() })
	return exec, exchange, rec
}

func limitRequest(key string) *core.OrderRequest {
	return &core.OrderRequest{
		Symbol:         "BTCUSDT",
		Side:           core.SideBuy,
		Type:           core.OrderTypeLimit,
		Quantity:       decimal.NewFromFloat(0.5),
		Price:          decimal.NewFromInt(50000),
		StrategyID:     "s1",
		IdempotencyKey: key,
	}
}

func TestExecutorPlacesOrder(t *testing.T) {
	exec, exchange := newTestExecutor(t)

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusSubmitted, order.Status)
	assert.NotEmpty(t, order.ExchangeOrderID)
	assert.Equal(t, 1, exchange.OrderCount())
}

func TestExecutorMarketOrderFillsImmediately(t *testing.T) {
	exec, _ := newTestExecutor(t)

	req := limitRequest("k1")
	req.Type = core.OrderTypeMarket

	order, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(req.Quantity))

	pos, ok := exec.Positions().Get("BTCUSDT", "s1")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(req.Quantity))
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	exec, exchange := newTestExecutor(t)
	exchange.FailNextPlacements(2, errors.New("connection refused"))

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusSubmitted, order.Status)
	assert.Equal(t, 3, exchange.PlaceCallCount())
	assert.Equal(t, 1, exchange.OrderCount())
}

func TestExecutorFatalErrorFailsWithoutRetry(t *testing.T) {
	exec, exchange := newTestExecutor(t)
	exchange.FailNextPlacements(1, errors.New("insufficient funds for order"))

	_, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.Error(t, err)
	assert.Equal(t, 1, exchange.PlaceCallCount())

	orders := exec.Book().OrdersByStrategy("s1")
	require.Len(t, orders, 1)
	assert.Equal(t, core.OrderStatusRejected, orders[0].Status)
}

func TestExecutorAmbiguousPlacementIsIdempotent(t *testing.T) {
	exec, exchange := newTestExecutor(t)

	// The exchange records the order but the response never arrives
	exchange.SetAmbiguousPlacement(true)

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusSubmitted, order.Status)

	// Exactly one order exists despite the lost response; the executor
	// resolved the key instead of resubmitting
	assert.Equal(t, 1, exchange.OrderCount())
	assert.Equal(t, 1, exchange.PlaceCallCount())
}

func TestExecutorExhaustsRetries(t *testing.T) {
	exec, exchange := newTestExecutor(t)
	exchange.FailNextPlacements(10, errors.New("connection refused"))

	_, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.Error(t, err)
	assert.Equal(t, 4, exchange.PlaceCallCount()) // initial attempt + 3 retries
}

func TestExecutorNotifiesFilledOrders(t *testing.T) {
	exec, _, rec := newNotifiedExecutor(t, testExecutorConfig())

	req := limitRequest("k1")
	req.Type = core.OrderTypeMarket
	_, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)

	events := rec.byKind(core.EventOrderFilled)
	require.Len(t, events, 1)
	assert.Equal(t, "BTCUSDT", events[0].Fields["symbol"])
	assert.Equal(t, "mock", events[0].Fields["exchange"])
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestExecutorNotifiesBreakerTransitions(t *testing.T) {
	cfg := testExecutorConfig()
	cfg.BreakerMaxFailures = 2
	exec, exchange, rec := newNotifiedExecutor(t, cfg)
	exchange.FailNextPlacements(10, errors.New("connection refused"))

	_, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.Error(t, err)

	events := rec.byKind(core.EventBreakerChanged)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "CLOSED to OPEN")
}

func TestExecutorFailsFastWhileBreakerOpen(t *testing.T) {
	cfg := testExecutorConfig()
	cfg.BreakerMaxFailures = 2
	exec, exchange, _ := newNotifiedExecutor(t, cfg)
	exchange.FailNextPlacements(10, errors.New("connection refused"))

	// The second failure opens the breaker; the remaining retries of the
	// schedule never reach the exchange
	_, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.ErrorIs(t, err, core.ErrBreakerOpen)
	assert.Equal(t, 2, exchange.PlaceCallCount())

	// While open, a fresh request is rejected without an exchange call
	_, err = exec.Execute(context.Background(), limitRequest("k2"))
	require.ErrorIs(t, err, core.ErrBreakerOpen)
	assert.Equal(t, 2, exchange.PlaceCallCount())
}

func TestExecutorStreamFillsReachPositions(t *testing.T) {
	exec, exchange := newTestExecutor(t)

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)

	exchange.EmitFill(order.ExchangeOrderID, decimal.NewFromFloat(0.2), decimal.NewFromInt(50000))
	exchange.EmitFill(order.ExchangeOrderID, decimal.NewFromFloat(0.3), decimal.NewFromInt(51000))

	tracked, err := exec.Book().Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, tracked.Status)

	pos, ok := exec.Positions().Get("BTCUSDT", "s1")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, pos.AvgEntryPrice.Equal(decimal.NewFromInt(50600)),
		"got entry %s", pos.AvgEntryPrice)
}

func TestExecutorCancelOpenOrder(t *testing.T) {
	exec, _ := newTestExecutor(t)

	var terminal []*core.Order
	exec.OnTerminal(func(order *core.Order) { terminal = append(terminal, order) })

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)

	require.NoError(t, exec.Cancel(context.Background(), order.ID))

	tracked, err := exec.Book().Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCancelled, tracked.Status)

	require.Len(t, terminal, 1)
	assert.Equal(t, order.ID, terminal[0].ID)

	// A second cancel is rejected
	assert.ErrorIs(t, exec.Cancel(context.Background(), order.ID), core.ErrOrderFinalized)
}

func TestExecutorFillAfterCancelWins(t *testing.T) {
	exec, _ := newTestExecutor(t)

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)
	require.NoError(t, exec.Cancel(context.Background(), order.ID))

	// The venue executed before the cancel; the stream delivers the fill late
	exec.HandleUpdate(&core.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          "BTCUSDT",
		Status:          core.OrderStatusFilled,
		Fill: &core.Fill{
			Symbol:        "BTCUSDT",
			Side:          core.SideBuy,
			Quantity:      decimal.NewFromFloat(0.5),
			Price:         decimal.NewFromInt(50000),
			CumulativeQty: decimal.NewFromFloat(0.5),
		},
	})

	tracked, err := exec.Book().Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, tracked.Status)

	pos, ok := exec.Positions().Get("BTCUSDT", "s1")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromFloat(0.5)))
}

func TestExecutorDuplicateStreamFillIgnored(t *testing.T) {
	exec, _ := newTestExecutor(t)

	order, err := exec.Execute(context.Background(), limitRequest("k1"))
	require.NoError(t, err)

	fill := &core.Fill{
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Quantity:      decimal.NewFromFloat(0.2),
		Price:         decimal.NewFromInt(50000),
		CumulativeQty: decimal.NewFromFloat(0.2),
	}
	update := &core.OrderUpdate{
		ExchangeOrderID: order.ExchangeOrderID,
		Symbol:          "BTCUSDT",
		Status:          core.OrderStatusPartiallyFilled,
		Fill:            fill,
	}
	exec.HandleUpdate(update)
	exec.HandleUpdate(update)

	pos, ok := exec.Positions().Get("BTCUSDT", "s1")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromFloat(0.2)),
		"duplicate delivery must not double the position, got %s", pos.Quantity)
}

func TestExecutorUnknownUpdateIgnored(t *testing.T) {
	exec, _ := newTestExecutor(t)

	// Must not panic or create state
	exec.HandleUpdate(&core.OrderUpdate{ExchangeOrderID: "ex-unknown", Symbol: "BTCUSDT"})
	assert.Empty(t, exec.Book().ActiveOrders())
}
