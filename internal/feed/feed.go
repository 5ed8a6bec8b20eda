// Package feed streams market data ticks from the exchange websocket into the
// strategy engine.
package feed

import (
	"encoding/json"
	"sync"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/pkg/websocket"

	"github.com/shopspring/decimal"
)

// TickSink receives parsed ticks. Dispatch on the strategy engine satisfies it.
type TickSink func(tick core.Tick)

// tickMessage is the wire shape of one trade tick. Prices arrive as strings
// and are parsed to decimals before anything downstream sees them.
type tickMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
	TsMs   int64  `json:"ts"`
}

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Feed owns the websocket connection to the market data stream. It
// resubscribes after every reconnect and fans parsed ticks out to the
// registered sinks. A malformed message is logged and skipped; it never
// stops the stream.
type Feed struct {
	client  *websocket.Client
	symbols []string
	logger  core.ILogger

	mu    sync.RWMutex
	sinks []TickSink

	dropped uint64
}

// NewFeed builds a feed for the configured stream URL and symbol set
func NewFeed(cfg config.FeedConfig, symbols []string, logger core.ILogger) *Feed {
	f := &Feed{
		symbols: symbols,
		logger:  logger.WithField("component", "market_feed"),
	}
	f.client = websocket.NewClient(cfg.URL, f.handleMessage, f.logger)
	if cfg.ReconnectDelay > 0 {
		f.client.SetReconnectWait(cfg.ReconnectDelay)
	}
	if cfg.PingInterval > 0 {
		f.client.SetPingConfig(cfg.PingInterval, cfg.PingInterval/2, cfg.PingInterval*2)
	}
	f.client.SetOnConnected(f.subscribe)
	return f
}

// Subscribe registers a sink. All sinks see every tick, in arrival order.
func (f *Feed) Subscribe(sink TickSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
}

// Start connects and begins streaming. Reconnects are handled internally.
func (f *Feed) Start() {
	f.logger.Info("Starting market feed", "symbols", len(f.symbols))
	f.client.Start()
}

// Stop closes the stream and waits for the read loop to exit
func (f *Feed) Stop() {
	f.client.Stop()
	f.logger.Info("Market feed stopped")
}

func (f *Feed) subscribe() {
	if err := f.client.Send(subscribeRequest{Op: "subscribe", Args: f.symbols}); err != nil {
		f.logger.Error("Failed to send subscription", "error", err)
	}
}

func (f *Feed) handleMessage(message []byte) {
	var msg tickMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.drop("unparseable message", err)
		return
	}
	if msg.Type != "tick" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		f.drop("bad price", err)
		return
	}
	volume := decimal.Zero
	if msg.Volume != "" {
		if volume, err = decimal.NewFromString(msg.Volume); err != nil {
			f.drop("bad volume", err)
			return
		}
	}

	tick := core.Tick{
		Symbol:    msg.Symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(msg.TsMs).UTC(),
	}

	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, sink := range sinks {
		sink(tick)
	}
}

func (f *Feed) drop(reason string, err error) {
	f.dropped++
	fields := []interface{}{"reason", reason, "dropped_total", f.dropped}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	f.logger.Warn("Dropping feed message", fields...)
}
