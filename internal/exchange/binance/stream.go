package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tradebot/internal/core"
	"tradebot/pkg/retry"
	"tradebot/pkg/websocket"
)

const keepaliveInterval = 25 * time.Minute

// userStream owns the user data websocket. The listen key expires after 60
// minutes without a keepalive, so a refresh loop runs alongside the socket.
type userStream struct {
	ws     *websocket.Client
	cancel context.CancelFunc
}

// orderTradeUpdate is the user data stream event for order state changes
type orderTradeUpdate struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		ExecType      string `json:"x"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastFilledQty string `json:"l"`
		CumFilledQty  string `json:"z"`
		LastFilled    string `json:"L"`
		AvgPrice      string `json:"ap"`
		Commission    string `json:"n"`
		TradeTimeMs   int64  `json:"T"`
	} `json:"o"`
}

// StartOrderStream opens the user data stream and delivers order updates to
// callback. Reconnection is handled by the websocket client; a fresh listen
// key is requested on every connect.
func (e *Exchange) StartOrderStream(ctx context.Context, callback func(update *core.OrderUpdate)) error {
	key, err := e.createListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}

	ws := websocket.NewClient(e.wsURL+"/"+key, func(message []byte) {
		update, ok := parseOrderUpdate(message)
		if !ok {
			return
		}
		callback(update)
	}, e.logger)

	streamCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.stream = &userStream{ws: ws, cancel: cancel}
	e.mu.Unlock()

	ws.Start()
	go e.keepaliveLoop(streamCtx)

	e.logger.Info("User data stream started")
	return nil
}

// StopOrderStream closes the user data stream
func (e *Exchange) StopOrderStream() error {
	e.mu.Lock()
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()

	if stream == nil {
		return nil
	}
	stream.cancel()
	stream.ws.Stop()
	e.logger.Info("User data stream stopped")
	return nil
}

func (e *Exchange) createListenKey(ctx context.Context) (string, error) {
	body, err := e.http.Post(ctx, "/fapi/v1/listenKey", nil)
	if err != nil {
		return "", e.mapError(err)
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key response: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}
	return resp.ListenKey, nil
}

// keepaliveLoop refreshes the listen key on a fixed cadence. The key expires
// 60 minutes after the last successful refresh, so transient failures are
// retried before giving up on a cycle.
func (e *Exchange) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retry.Do(ctx, policy, core.IsTransientError, func() error {
				_, err := e.http.Put(ctx, "/fapi/v1/listenKey", nil)
				return err
			})
			if err != nil {
				e.logger.Warn("Listen key keepalive failed", "error", err.Error())
			}
		}
	}
}

// parseOrderUpdate converts a raw stream message into an OrderUpdate.
// Non-order events and unparseable messages return ok=false.
func parseOrderUpdate(message []byte) (*core.OrderUpdate, bool) {
	var event orderTradeUpdate
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, false
	}
	if event.EventType != "ORDER_TRADE_UPDATE" {
		return nil, false
	}

	o := event.Order
	update := &core.OrderUpdate{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		IdempotencyKey:  o.ClientOrderID,
		Symbol:          o.Symbol,
		Status:          mapOrderStatus(o.Status),
		Timestamp:       time.UnixMilli(o.TradeTimeMs).UTC(),
	}

	if last := mustDecimal(o.LastFilledQty); last.IsPositive() {
		update.Fill = &core.Fill{
			OrderID:       update.ExchangeOrderID,
			Symbol:        o.Symbol,
			Side:          core.Side(o.Side),
			Quantity:      last,
			Price:         mustDecimal(o.LastFilled),
			Commission:    mustDecimal(o.Commission),
			CumulativeQty: mustDecimal(o.CumFilledQty),
			Timestamp:     update.Timestamp,
		}
	}
	return update, true
}
