// Package websocket provides a self-healing WebSocket client. The client
// redials on any read or ping failure and replays the OnConnected hook after
// every successful dial, so subscriptions survive reconnects.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebot/internal/core"
	"tradebot/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler receives every raw frame read from the socket
type MessageHandler func(message []byte)

const (
	defaultReconnectWait = 5 * time.Second
	defaultPingInterval  = 30 * time.Second
	defaultPingWait      = 10 * time.Second
	defaultPongWait      = 60 * time.Second
	stopTimeout          = 5 * time.Second
)

// Client dials a WebSocket endpoint and keeps it alive
type Client struct {
	url     string
	handler MessageHandler
	logger  core.ILogger

	mu          sync.Mutex
	conn        *websocket.Conn
	onConnected func()

	reconnectWait time.Duration
	pingInterval  time.Duration
	pingWait      time.Duration
	pongWait      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tracer   trace.Tracer
	messages metric.Int64Counter
	dials    metric.Int64Counter
	handleMs metric.Float64Histogram
}

// NewClient builds a client for url. Call Start to dial.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("ws-client")
	messages, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	dials, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	handleMs, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		url:           url,
		handler:       handler,
		logger:        logger,
		reconnectWait: defaultReconnectWait,
		pingInterval:  defaultPingInterval,
		pingWait:      defaultPingWait,
		pongWait:      defaultPongWait,
		ctx:           ctx,
		cancel:        cancel,
		tracer:        telemetry.GetTracer("ws-client"),
		messages:      messages,
		dials:         dials,
		handleMs:      handleMs,
	}
}

// SetReconnectWait overrides the pause between redial attempts
func (c *Client) SetReconnectWait(wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = wait
}

// SetPingConfig overrides the heartbeat cadence and deadlines
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected registers a hook invoked after every successful dial
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes message as JSON on the current connection
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start launches the dial/read loop in the background
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop tears down the connection and waits for the loops to exit
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

// run is the outer session loop: dial, serve, back off, redial
func (c *Client) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.dial(); err != nil {
			if c.logger != nil {
				c.logger.Error("WebSocket connect failed", "url", c.url, "error", err)
			}
			if !c.sleep(c.reconnectWait) {
				return
			}
			continue
		}

		c.serveSession()

		if !c.sleep(c.reconnectWait) {
			return
		}
	}
}

// serveSession runs one connected session to completion
func (c *Client) serveSession() {
	c.mu.Lock()
	hook := c.onConnected
	interval := c.pingInterval
	c.mu.Unlock()

	if hook != nil {
		hook()
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(c.ctx)
	defer stopHeartbeat()
	if interval > 0 {
		c.wg.Add(1)
		go c.heartbeat(heartbeatCtx)
	}

	c.readLoop()
}

// sleep waits d or until Stop, reporting false on shutdown
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			// A failed ping closes the socket so the read loop redials
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) dial() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.dials.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		start := time.Now()
		c.messages.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
		c.handleMs.Record(c.ctx, time.Since(start).Seconds())
	}
}
