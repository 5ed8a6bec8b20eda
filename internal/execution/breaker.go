// Package execution owns the order lifecycle: placement with retries and
// idempotency, the per-exchange circuit breaker, order state tracking, and
// position accounting driven by fills.
package execution

import (
	"sync"
	"time"

	"tradebot/internal/core"
	"tradebot/pkg/telemetry"
)

// BreakerState is the circuit breaker state
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig controls when the breaker trips and recovers
type BreakerConfig struct {
	MaxFailures int           // consecutive failures before opening
	OpenTimeout time.Duration // how long Open rejects before a trial is allowed
}

// Breaker is a per-exchange circuit breaker. Closed passes calls through and
// counts consecutive failures. Open fails fast without touching the network.
// After OpenTimeout a single trial request is admitted (HalfOpen); its
// outcome closes or reopens the circuit. The clock is injectable so recovery
// timing is testable without sleeps.
type Breaker struct {
	mu sync.Mutex

	name   string
	config BreakerConfig
	clock  core.IClock
	logger core.ILogger

	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool

	onChange func(from, to BreakerState)
}

// NewBreaker creates a closed breaker for the named exchange
func NewBreaker(name string, config BreakerConfig, clock core.IClock, logger core.ILogger) *Breaker {
	if clock == nil {
		clock = core.RealClock{}
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		config: config,
		clock:  clock,
		logger: logger.WithField("component", "circuit_breaker").WithField("exchange", name),
		state:  BreakerClosed,
	}
}

// OnStateChange registers a callback invoked outside the lock on every
// transition
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a call may proceed. In Open it fails fast with
// ErrBreakerOpen until the timeout elapses, then admits exactly one trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case BreakerClosed:
		b.mu.Unlock()
		return nil

	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) < b.config.OpenTimeout {
			b.mu.Unlock()
			return core.ErrBreakerOpen
		}
		from := b.state
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.notify(from, BreakerHalfOpen)
		return nil

	case BreakerHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return core.ErrBreakerOpen
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// RecordSuccess reports a successful call. A half-open trial success closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.trialInFlight = false
	if b.state != BreakerClosed {
		b.state = BreakerClosed
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// RecordFailure reports a failed call. Consecutive failures at or past the
// threshold open the circuit; a half-open trial failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.clock.Now()
		b.trialInFlight = false
	case BreakerClosed:
		b.failures++
		if b.failures >= b.config.MaxFailures {
			b.state = BreakerOpen
			b.openedAt = b.clock.Now()
		}
	case BreakerOpen:
		// Already open; refresh nothing so the original timeout stands
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) notify(from, to BreakerState) {
	b.logger.Warn("Circuit breaker state change",
		"from", from.String(),
		"to", to.String())
	telemetry.GetGlobalMetrics().SetBreakerOpen(b.name, to != BreakerClosed)

	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(from, to)
	}
}
