package marketctx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradebot/internal/core"
	"tradebot/pkg/retry"

	"golang.org/x/sync/errgroup"
)

// SynchronizerConfig controls the two refresh cycles
type SynchronizerConfig struct {
	ExchangeInterval  time.Duration
	AnalyticsInterval time.Duration
	Symbols           []string
}

// Synchronizer is the single writer of the shared context. A short cycle
// refreshes exchange state (account, positions, open orders) and a long cycle
// refreshes analytics (scores, state classifications). Failures keep the
// previous snapshot; staleness is visible through the sync timestamps.
type Synchronizer struct {
	holder    *Holder
	exchange  core.IExchange
	analytics core.IAnalyticsProvider
	config    SynchronizerConfig
	logger    core.ILogger
	clock     core.IClock

	retryPolicy retry.Policy

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynchronizer creates a synchronizer publishing into holder
func NewSynchronizer(holder *Holder, exchange core.IExchange, analytics core.IAnalyticsProvider, cfg SynchronizerConfig, clock core.IClock, logger core.ILogger) *Synchronizer {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Synchronizer{
		holder:      holder,
		exchange:    exchange,
		analytics:   analytics,
		config:      cfg,
		clock:       clock,
		logger:      logger.WithField("component", "context_synchronizer"),
		retryPolicy: retry.Policy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second},
	}
}

// Start launches the refresh loop. Both cycles run in one goroutine so the
// snapshot only ever has one writer.
func (s *Synchronizer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Prime the exchange cycle before strategies start ticking. An error here
	// is not fatal: the loop keeps retrying and accessors return not-ready.
	if err := s.syncExchange(runCtx); err != nil {
		s.logger.Warn("Initial exchange sync failed, starting degraded", "error", err.Error())
	}
	if err := s.syncAnalytics(runCtx); err != nil {
		s.logger.Warn("Initial analytics sync failed, starting degraded", "error", err.Error())
	}

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop terminates the refresh loop and waits for it to exit
func (s *Synchronizer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Synchronizer) run(ctx context.Context) {
	defer s.wg.Done()

	exchangeTicker := time.NewTicker(s.config.ExchangeInterval)
	defer exchangeTicker.Stop()
	analyticsTicker := time.NewTicker(s.config.AnalyticsInterval)
	defer analyticsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-exchangeTicker.C:
			if err := s.syncExchange(ctx); err != nil {
				s.logger.Warn("Exchange sync failed, keeping previous snapshot",
					"error", err.Error(),
					"stale_since", s.holder.Current().LastExchangeSync)
			}
		case <-analyticsTicker.C:
			if err := s.syncAnalytics(ctx); err != nil {
				s.logger.Warn("Analytics sync failed, keeping previous snapshot",
					"error", err.Error(),
					"stale_since", s.holder.Current().LastAnalyticsSync)
			}
		}
	}
}

// syncExchange refreshes account, positions, and open orders, then publishes
func (s *Synchronizer) syncExchange(ctx context.Context) error {
	var (
		account     *core.AccountSnapshot
		positions   []*core.Position
		openOrders  []*core.Order
		constraints = make(map[string]*core.SymbolConstraints)
		mu          sync.Mutex
	)

	err := retry.Do(ctx, s.retryPolicy, core.IsTransientError, func() error {
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			acc, err := s.exchange.GetAccount(gctx)
			if err != nil {
				return fmt.Errorf("fetch account: %w", err)
			}
			account = acc
			return nil
		})
		g.Go(func() error {
			pos, err := s.exchange.GetPositions(gctx)
			if err != nil {
				return fmt.Errorf("fetch positions: %w", err)
			}
			positions = pos
			return nil
		})
		g.Go(func() error {
			var all []*core.Order
			for _, symbol := range s.config.Symbols {
				orders, err := s.exchange.GetOpenOrders(gctx, symbol)
				if err != nil {
					return fmt.Errorf("fetch open orders for %s: %w", symbol, err)
				}
				all = append(all, orders...)
			}
			openOrders = all
			return nil
		})
		g.Go(func() error {
			for _, symbol := range s.config.Symbols {
				c, err := s.exchange.GetSymbolConstraints(gctx, symbol)
				if err != nil {
					return fmt.Errorf("fetch constraints for %s: %w", symbol, err)
				}
				mu.Lock()
				constraints[symbol] = c
				mu.Unlock()
			}
			return nil
		})

		return g.Wait()
	})
	if err != nil {
		return err
	}

	next := s.holder.Current().clone()
	next.Account = *account
	next.Positions = make(map[string]*core.Position, len(positions))
	for _, p := range positions {
		next.Positions[p.Symbol] = p
	}
	next.PendingOrders = openOrders
	for symbol, c := range constraints {
		next.Constraints[symbol] = c
	}
	next.LastExchangeSync = s.clock.Now()

	s.holder.Publish(next)
	s.logger.Debug("Exchange state synced",
		"positions", len(positions),
		"pending_orders", len(openOrders))
	return nil
}

// syncAnalytics refreshes scores and state classifications, then publishes
func (s *Synchronizer) syncAnalytics(ctx context.Context) error {
	if s.analytics == nil {
		return nil
	}

	var (
		scores map[string]float64
		states map[string]string
	)

	err := retry.Do(ctx, s.retryPolicy, core.IsTransientError, func() error {
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			sc, err := s.analytics.Scores(gctx, s.config.Symbols)
			if err != nil {
				return fmt.Errorf("fetch scores: %w", err)
			}
			scores = sc
			return nil
		})
		g.Go(func() error {
			st, err := s.analytics.States(gctx, s.config.Symbols)
			if err != nil {
				return fmt.Errorf("fetch states: %w", err)
			}
			states = st
			return nil
		})

		return g.Wait()
	})
	if err != nil {
		return err
	}

	next := s.holder.Current().clone()
	next.Scores = scores
	next.States = states
	next.LastAnalyticsSync = s.clock.Now()

	s.holder.Publish(next)
	s.logger.Debug("Analytics state synced", "symbols", len(scores))
	return nil
}
