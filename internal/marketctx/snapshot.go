// Package marketctx maintains the shared read-only world state consumed by
// strategies and the risk gate. A single synchronizer goroutine builds
// immutable snapshots and publishes them atomically; readers always see a
// consistent point-in-time view and are never blocked by refreshes.
package marketctx

import (
	"sync/atomic"
	"time"

	"tradebot/internal/core"
)

// Snapshot is an immutable view of account, position, order, and analytics
// state. Fields must never be mutated after Publish; refreshes build a new
// snapshot instead.
type Snapshot struct {
	Account       core.AccountSnapshot
	Positions     map[string]*core.Position
	PendingOrders []*core.Order
	Constraints   map[string]*core.SymbolConstraints
	Scores        map[string]float64
	States        map[string]string

	LastExchangeSync  time.Time
	LastAnalyticsSync time.Time
}

// NewSnapshot returns an empty snapshot with no sync history
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Positions:   make(map[string]*core.Position),
		Constraints: make(map[string]*core.SymbolConstraints),
		Scores:      make(map[string]float64),
		States:      make(map[string]string),
	}
}

// ExchangeReady reports whether exchange-sourced fields have been synced at
// least once
func (s *Snapshot) ExchangeReady() bool {
	return !s.LastExchangeSync.IsZero()
}

// AnalyticsReady reports whether analytics-sourced fields have been synced at
// least once
func (s *Snapshot) AnalyticsReady() bool {
	return !s.LastAnalyticsSync.IsZero()
}

// AccountState returns the account snapshot, or ErrContextNotReady before the
// first exchange sync
func (s *Snapshot) AccountState() (core.AccountSnapshot, error) {
	if !s.ExchangeReady() {
		return core.AccountSnapshot{}, core.ErrContextNotReady
	}
	return s.Account, nil
}

// Position returns the open position for a symbol, or nil when flat
func (s *Snapshot) Position(symbol string) (*core.Position, error) {
	if !s.ExchangeReady() {
		return nil, core.ErrContextNotReady
	}
	return s.Positions[symbol], nil
}

// OpenPositionCount returns the number of open positions
func (s *Snapshot) OpenPositionCount() (int, error) {
	if !s.ExchangeReady() {
		return 0, core.ErrContextNotReady
	}
	return len(s.Positions), nil
}

// Score returns the analytics score for a symbol, or ErrContextNotReady
// before the first analytics sync
func (s *Snapshot) Score(symbol string) (float64, error) {
	if !s.AnalyticsReady() {
		return 0, core.ErrContextNotReady
	}
	return s.Scores[symbol], nil
}

// State returns the analytics state classification for a symbol
func (s *Snapshot) State(symbol string) (string, error) {
	if !s.AnalyticsReady() {
		return "", core.ErrContextNotReady
	}
	return s.States[symbol], nil
}

// SymbolConstraints returns the exchange trading rules for a symbol
func (s *Snapshot) SymbolConstraints(symbol string) (*core.SymbolConstraints, error) {
	if !s.ExchangeReady() {
		return nil, core.ErrContextNotReady
	}
	c, ok := s.Constraints[symbol]
	if !ok {
		return nil, core.ErrContextNotReady
	}
	return c, nil
}

// clone returns a shallow copy with fresh maps so the synchronizer can evolve
// the next snapshot without touching the published one
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Account:           s.Account,
		PendingOrders:     s.PendingOrders,
		LastExchangeSync:  s.LastExchangeSync,
		LastAnalyticsSync: s.LastAnalyticsSync,
		Positions:         make(map[string]*core.Position, len(s.Positions)),
		Constraints:       make(map[string]*core.SymbolConstraints, len(s.Constraints)),
		Scores:            make(map[string]float64, len(s.Scores)),
		States:            make(map[string]string, len(s.States)),
	}
	for k, v := range s.Positions {
		next.Positions[k] = v
	}
	for k, v := range s.Constraints {
		next.Constraints[k] = v
	}
	for k, v := range s.Scores {
		next.Scores[k] = v
	}
	for k, v := range s.States {
		next.States[k] = v
	}
	return next
}

// Holder publishes snapshots atomically. Readers call Current; only the
// synchronizer calls Publish.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a holder seeded with an empty snapshot
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(NewSnapshot())
	return h
}

// Current returns the latest published snapshot
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Publish atomically replaces the current snapshot
func (h *Holder) Publish(s *Snapshot) {
	h.current.Store(s)
}
