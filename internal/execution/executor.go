package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Executor places risk-approved orders on an exchange and keeps the order
// book and position tracker consistent with exchange reality. Every request
// carries an idempotency key; when a placement response is lost the executor
// queries by key before resubmitting so ambiguity never produces a duplicate
// order.
type Executor struct {
	exchange  core.IExchange
	book      *Book
	positions *PositionTracker
	breaker   *Breaker
	limiter   *rate.Limiter
	notifier  core.INotifier
	archive   core.IArchive
	clock     core.IClock
	logger    core.ILogger

	maxRetries     int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration

	onTerminal func(order *core.Order)
	onFill     func(order *core.Order, fill *core.Fill)

	ordersPlaced   metric.Int64Counter
	ordersFilled   metric.Int64Counter
	orderRetries   metric.Int64Counter
	orderFailures  metric.Int64Counter
	placeLatencyMs metric.Float64Histogram
}

// NewExecutor wires an executor for one exchange
func NewExecutor(
	exchange core.IExchange,
	cfg config.ExecutorConfig,
	clock core.IClock,
	notifier core.INotifier,
	archive core.IArchive,
	logger core.ILogger,
) *Executor {
	if clock == nil {
		clock = core.RealClock{}
	}
	log := logger.WithField("component", "order_executor").WithField("exchange", exchange.GetName())

	meter := telemetry.GetMeter("order-executor")
	ordersPlaced, _ := meter.Int64Counter("orders_placed_total",
		metric.WithDescription("Orders successfully submitted to the exchange"))
	ordersFilled, _ := meter.Int64Counter("orders_filled_total",
		metric.WithDescription("Orders that reached a fully filled state"))
	orderRetries, _ := meter.Int64Counter("order_retries_total",
		metric.WithDescription("Placement attempts retried after transient failures"))
	orderFailures, _ := meter.Int64Counter("order_failures_total",
		metric.WithDescription("Orders that failed placement permanently"))
	placeLatency, _ := meter.Float64Histogram("order_placement_latency_ms",
		metric.WithDescription("Latency of successful placement calls in milliseconds"))

	e := &Executor{
		exchange:       exchange,
		book:           NewBook(cfg.OrderHistoryLimit, clock, logger),
		positions:      NewPositionTracker(cfg.OrderHistoryLimit, clock, logger),
		breaker:        NewBreaker(exchange.GetName(), BreakerConfig{MaxFailures: cfg.BreakerMaxFailures, OpenTimeout: cfg.BreakerOpenTimeout}, clock, logger),
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		notifier:       notifier,
		archive:        archive,
		clock:          clock,
		logger:         log,
		maxRetries:     cfg.MaxRetries,
		baseRetryDelay: cfg.BaseRetryDelay,
		maxRetryDelay:  cfg.MaxRetryDelay,
		ordersPlaced:   ordersPlaced,
		ordersFilled:   ordersFilled,
		orderRetries:   orderRetries,
		orderFailures:  orderFailures,
		placeLatencyMs: placeLatency,
	}
	e.breaker.OnStateChange(func(from, to BreakerState) {
		e.notify(core.EventBreakerChanged, "Circuit breaker "+to.String(),
			fmt.Sprintf("%s breaker moved %s to %s", exchange.GetName(), from, to), "")
	})
	return e
}

// Book exposes the order book
func (e *Executor) Book() *Book { return e.book }

// Positions exposes the position tracker
func (e *Executor) Positions() *PositionTracker { return e.positions }

// Breaker exposes the circuit breaker
func (e *Executor) Breaker() *Breaker { return e.breaker }

// OnTerminal registers a callback for every order reaching a terminal state.
// Each order is reported exactly once.
func (e *Executor) OnTerminal(fn func(order *core.Order)) { e.onTerminal = fn }

// OnFill registers a callback for every applied fill
func (e *Executor) OnFill(fn func(order *core.Order, fill *core.Fill)) { e.onFill = fn }

// Start subscribes to the exchange order stream
func (e *Executor) Start(ctx context.Context) error {
	return e.exchange.StartOrderStream(ctx, e.HandleUpdate)
}

// Stop unsubscribes from the exchange order stream
func (e *Executor) Stop() error {
	return e.exchange.StopOrderStream()
}

// Execute places an approved order request and returns the tracked order.
// Transient failures are retried with jittered exponential backoff behind the
// circuit breaker and rate limiter; fatal exchange rejections fail the order
// immediately.
func (e *Executor) Execute(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	order := e.book.Create(req)

	placed, err := e.placeWithRetry(ctx, req)
	if err != nil {
		e.orderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", req.Symbol)))
		if _, terr := e.book.MarkTerminal(order.ID, core.OrderStatusRejected, err.Error()); terr != nil {
			e.logger.Error("Failed to mark order rejected", "order_id", order.ID, "error", terr)
		}
		e.logger.Error("Order placement failed",
			"order_id", order.ID,
			"symbol", req.Symbol,
			"side", string(req.Side),
			"error", err)
		e.notify(core.EventOrderRejected, "Order placement failed",
			fmt.Sprintf("%s %s %s: %v", req.Side, req.Quantity.String(), req.Symbol, err), req.Symbol)
		return nil, err
	}

	tracked, err := e.book.MarkSubmitted(order.ID, placed.ExchangeOrderID)
	if err != nil {
		return nil, err
	}
	e.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", req.Symbol),
		attribute.String("side", string(req.Side))))
	e.logger.Info("Order submitted",
		"order_id", order.ID,
		"exchange_order_id", placed.ExchangeOrderID,
		"symbol", req.Symbol,
		"side", string(req.Side),
		"type", string(req.Type),
		"quantity", req.Quantity.String())

	// Market orders can come back already executed; fold the reported fill in
	// so callers see a consistent book immediately
	if placed.FilledQuantity.IsPositive() {
		e.applyFill(order.ID, &core.Fill{
			OrderID:       order.ID,
			Symbol:        placed.Symbol,
			Side:          placed.Side,
			Quantity:      placed.FilledQuantity,
			Price:         placed.AvgFillPrice,
			CumulativeQty: placed.FilledQuantity,
			Timestamp:     e.clock.Now(),
		})
		tracked, _ = e.book.Get(order.ID)
	}

	return tracked, nil
}

// placeWithRetry drives the placement attempt loop. An ambiguous failure is
// resolved by querying the idempotency key: if the exchange recorded the
// order, that order is adopted instead of resubmitting.
func (e *Executor) placeWithRetry(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.orderRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", req.Symbol)))
			delay := e.retryDelay(attempt)
			e.logger.Warn("Retrying order placement",
				"symbol", req.Symbol,
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		// An open breaker cannot recover within one backoff schedule, so the
		// request fails fast instead of burning the retry budget
		if err := e.breaker.Allow(); err != nil {
			return nil, err
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		placed, err := e.exchange.PlaceOrder(ctx, req)
		if err == nil {
			e.breaker.RecordSuccess()
			e.placeLatencyMs.Record(ctx, float64(time.Since(start).Milliseconds()))
			return placed, nil
		}

		if core.IsFatalExchangeError(err) {
			// The exchange processed and rejected the request; the circuit is
			// healthy
			e.breaker.RecordSuccess()
			return nil, err
		}

		e.breaker.RecordFailure()
		lastErr = err

		if core.IsAmbiguousResult(err) {
			if adopted := e.resolveAmbiguous(ctx, req); adopted != nil {
				e.breaker.RecordSuccess()
				return adopted, nil
			}
		}
	}

	return nil, fmt.Errorf("place order after %d attempts: %w", e.maxRetries+1, lastErr)
}

// resolveAmbiguous checks whether a placement with a lost response actually
// landed. Returns the exchange's order if it did, nil if the key is unknown
// and resubmission is safe.
func (e *Executor) resolveAmbiguous(ctx context.Context, req *core.OrderRequest) *core.Order {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	existing, err := e.exchange.GetOrderByIdempotencyKey(queryCtx, req.Symbol, req.IdempotencyKey)
	if err != nil {
		if !errors.Is(err, core.ErrOrderNotFound) {
			e.logger.Warn("Idempotency query failed, will retry placement",
				"symbol", req.Symbol,
				"idempotency_key", req.IdempotencyKey,
				"error", err)
		}
		return nil
	}

	e.logger.Info("Ambiguous placement resolved to existing order",
		"symbol", req.Symbol,
		"idempotency_key", req.IdempotencyKey,
		"exchange_order_id", existing.ExchangeOrderID)
	return existing
}

// Cancel requests cancellation of a tracked order. A concurrent fill is not
// an error: the fill wins and the order finishes filled.
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	order, err := e.book.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", orderID, core.ErrOrderFinalized)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.retryDelay(attempt)):
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		err := e.exchange.CancelOrder(ctx, order.Symbol, order.ExchangeOrderID)
		switch {
		case err == nil:
			res, terr := e.book.MarkTerminal(orderID, core.OrderStatusCancelled, "cancelled by request")
			if terr != nil {
				if errors.Is(terr, core.ErrOrderFinalized) {
					return nil
				}
				return terr
			}
			e.reportTerminal(res.Order)
			return nil

		case errors.Is(err, core.ErrOrderFinalized):
			// Executed before the cancel landed; the stream delivers the fill
			e.logger.Info("Cancel raced a fill, letting the fill win",
				"order_id", orderID,
				"exchange_order_id", order.ExchangeOrderID)
			return nil

		case core.IsFatalExchangeError(err), errors.Is(err, core.ErrOrderNotFound):
			return err

		default:
			lastErr = err
		}
	}

	return fmt.Errorf("cancel order after %d attempts: %w", e.maxRetries+1, lastErr)
}

// HandleUpdate processes an exchange order stream event
func (e *Executor) HandleUpdate(update *core.OrderUpdate) {
	orderID, ok := e.book.Resolve(update.ExchangeOrderID, update.IdempotencyKey)
	if !ok {
		e.logger.Warn("Order update for unknown order",
			"exchange_order_id", update.ExchangeOrderID,
			"symbol", update.Symbol)
		return
	}

	if update.Fill != nil {
		e.applyFill(orderID, update.Fill)
		return
	}

	switch update.Status {
	case core.OrderStatusCancelled, core.OrderStatusRejected, core.OrderStatusExpired:
		res, err := e.book.MarkTerminal(orderID, update.Status, update.Reason)
		if err != nil {
			if !errors.Is(err, core.ErrOrderFinalized) {
				e.logger.Error("Failed to apply terminal update",
					"order_id", orderID,
					"status", string(update.Status),
					"error", err)
			}
			return
		}
		e.reportTerminal(res.Order)
	}
}

// applyFill routes a fill through the book and into positions
func (e *Executor) applyFill(orderID string, fill *core.Fill) {
	res, err := e.book.ApplyFill(orderID, fill)
	if err != nil {
		e.logger.Error("Failed to apply fill",
			"order_id", orderID,
			"error", err)
		return
	}
	if res.Fill == nil {
		// Stale or duplicate delivery; already folded in
		return
	}

	pos, realized := e.positions.ApplyFill(res.Order.StrategyID, res.Fill)
	e.logger.Info("Fill applied",
		"order_id", orderID,
		"symbol", res.Fill.Symbol,
		"quantity", res.Fill.Quantity.String(),
		"price", res.Fill.Price.String(),
		"cumulative", res.Fill.CumulativeQty.String(),
		"realized_pnl", realized.String())

	if e.onFill != nil {
		e.onFill(res.Order, res.Fill)
	}
	if pos != nil && e.archive != nil {
		if err := e.archive.SavePosition(context.Background(), pos); err != nil {
			e.logger.Warn("Failed to archive position", "symbol", pos.Symbol, "error", err)
		}
	}

	if res.BecameTerminal {
		ctx := context.Background()
		e.ordersFilled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("symbol", res.Order.Symbol)))
		e.notify(core.EventOrderFilled, "Order filled",
			fmt.Sprintf("%s %s %s @ %s", res.Order.Side, res.Order.Quantity.String(),
				res.Order.Symbol, res.Order.AvgFillPrice.String()), res.Order.Symbol)
		e.reportTerminal(res.Order)
	}
}

// reportTerminal archives the order and invokes the terminal callback
func (e *Executor) reportTerminal(order *core.Order) {
	if e.archive != nil {
		if err := e.archive.SaveOrder(context.Background(), order); err != nil {
			e.logger.Warn("Failed to archive order", "order_id", order.ID, "error", err)
		}
	}
	if e.onTerminal != nil {
		e.onTerminal(order)
	}
}

// CleanupTerminal archives and drops terminal orders older than age
func (e *Executor) CleanupTerminal(age time.Duration) int {
	removed := e.book.CleanupTerminal(age)
	return len(removed)
}

// retryDelay computes the jittered exponential backoff for an attempt
func (e *Executor) retryDelay(attempt int) time.Duration {
	delay := e.baseRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > e.maxRetryDelay {
		delay = e.maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func (e *Executor) notify(kind core.EventKind, title, message, symbol string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(core.Event{
		Kind:      kind,
		Title:     title,
		Message:   message,
		Fields:    map[string]string{"symbol": symbol, "exchange": e.exchange.GetName()},
		Timestamp: e.clock.Now(),
	})
}
