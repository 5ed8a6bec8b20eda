package alert

import (
	"context"
	"sync"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	"tradebot/pkg/concurrency"

	"golang.org/x/time/rate"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

// rank orders levels for threshold filtering
func (l Level) rank() int {
	switch l {
	case Warning:
		return 1
	case Error:
		return 2
	case Critical:
		return 3
	default:
		return 0
	}
}

// levelFor maps an event kind to its notification severity
func levelFor(kind core.EventKind) Level {
	switch kind {
	case core.EventOrderFilled:
		return Info
	case core.EventRiskWarning, core.EventRiskRejection:
		return Warning
	case core.EventOrderRejected, core.EventStrategyError:
		return Error
	case core.EventBreakerChanged:
		return Critical
	default:
		return Info
	}
}

// Payload is the rendered form of an event handed to channels
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one external destination
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Name() string
}

const sendTimeout = 10 * time.Second

// Manager fans events out to the configured channels. Sends run on a small
// worker pool and are never awaited, so a slow webhook cannot stall order
// handling. Each event kind is throttled to keep a flapping component from
// flooding the channels.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	limiters map[core.EventKind]*rate.Limiter

	minLevel Level
	pool     *concurrency.WorkerPool
	clock    core.IClock
	logger   core.ILogger
}

// NewManager builds a manager from config. Channels with empty credentials
// are skipped, so a zero config yields a manager that only logs.
func NewManager(cfg config.AlertingConfig, clock core.IClock, logger core.ILogger) *Manager {
	if clock == nil {
		clock = core.RealClock{}
	}
	minLevel := Info
	if cfg.MinLevelCritical {
		minLevel = Critical
	}
	m := &Manager{
		limiters: make(map[core.EventKind]*rate.Limiter),
		minLevel: minLevel,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "alerts",
			MaxWorkers:  4,
			MaxCapacity: 64,
			NonBlocking: true,
		}, logger),
		clock:  clock,
		logger: logger.WithField("component", "alert_manager"),
	}
	if cfg.SlackWebhookURL != "" {
		m.AddChannel(NewSlackChannel(cfg.SlackWebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		m.AddChannel(NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID))
	}
	return m
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify implements core.INotifier. It renders the event, applies the level
// threshold and the per-kind throttle, and queues one send per channel.
func (m *Manager) Notify(event core.Event) {
	level := levelFor(event.Kind)
	if level.rank() < m.minLevel.rank() {
		return
	}
	if !m.limiterFor(event.Kind).Allow() {
		m.logger.Debug("Alert throttled", "kind", string(event.Kind), "title", event.Title)
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = m.clock.Now()
	}
	payload := Payload{
		Level:     level,
		Title:     event.Title,
		Message:   event.Message,
		Timestamp: ts,
		Fields:    event.Fields,
	}

	m.logger.Info("Dispatching alert",
		"kind", string(event.Kind), "level", string(level), "title", event.Title)

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	for _, ch := range channels {
		ch := ch
		if err := m.pool.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := ch.Send(ctx, payload); err != nil {
				m.logger.Error("Failed to send alert",
					"channel", ch.Name(), "title", payload.Title, "error", err)
			}
		}); err != nil {
			m.logger.Warn("Alert queue full, dropping send",
				"channel", ch.Name(), "title", payload.Title)
		}
	}
}

// Close waits for queued sends to drain
func (m *Manager) Close() {
	m.pool.Stop()
}

// Critical events always pass; routine kinds are capped per window.
func (m *Manager) limiterFor(kind core.EventKind) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[kind]
	if !ok {
		if levelFor(kind) == Critical {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Every(10*time.Second), 6)
		}
		m.limiters[kind] = lim
	}
	return lim
}
