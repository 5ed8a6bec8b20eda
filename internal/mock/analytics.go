package mock

import (
	"context"
	"sync"
)

// AnalyticsProvider implements core.IAnalyticsProvider for testing
type AnalyticsProvider struct {
	mu     sync.RWMutex
	scores map[string]float64
	states map[string]string
	err    error
	calls  int
}

// NewAnalyticsProvider creates an empty analytics stub
func NewAnalyticsProvider() *AnalyticsProvider {
	return &AnalyticsProvider{
		scores: make(map[string]float64),
		states: make(map[string]string),
	}
}

// SetScore sets the score returned for a symbol
func (a *AnalyticsProvider) SetScore(symbol string, score float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scores[symbol] = score
}

// SetState sets the state classification returned for a symbol
func (a *AnalyticsProvider) SetState(symbol string, state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[symbol] = state
}

// SetError makes all calls fail with err
func (a *AnalyticsProvider) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Calls returns the number of lookups served
func (a *AnalyticsProvider) Calls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls
}

func (a *AnalyticsProvider) Scores(ctx context.Context, symbols []string) (map[string]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if v, ok := a.scores[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

func (a *AnalyticsProvider) States(ctx context.Context, symbols []string) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	out := make(map[string]string, len(symbols))
	for _, s := range symbols {
		if v, ok := a.states[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}
