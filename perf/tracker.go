// Package perf keeps per-strategy results and feeds them back into the
// registry's performance-weighted allocation.
package perf

import (
	"sync"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/registry"
)

// WeightUpdater receives the recomputed snapshot after each closed trade.
// The orchestrator.Controller satisfies it.
type WeightUpdater interface {
	UpdatePerformance(id string, upd registry.PerformanceUpdate)
}

type stats struct {
	trades      int
	wins        int
	grossProfit float64
	grossLoss   float64
	equity      float64
	peakEquity  float64
	maxDrawdown float64
}

// Tracker implements broker.PerformanceSink. It is locked because the
// orchestrator unit and reporting callers may read concurrently.
type Tracker struct {
	mu      sync.Mutex
	updater WeightUpdater
	byStrat map[string]*stats
}

// NewTracker builds a tracker. updater may be nil; stats are then kept but
// never pushed.
func NewTracker(updater WeightUpdater) *Tracker {
	return &Tracker{updater: updater, byStrat: make(map[string]*stats)}
}

// SetUpdater late-binds the updater; the controller is built after its
// performance sinks.
func (t *Tracker) SetUpdater(u WeightUpdater) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updater = u
}

func (t *Tracker) OnPrice(tick market.Tick) {}

func (t *Tracker) TradeOpened(ev broker.TradeEvent) {}

// TradeClosed folds one realized result into the strategy's stats and
// pushes the fresh snapshot to the registry.
func (t *Tracker) TradeClosed(ev broker.TradeEvent) {
	if ev.StrategyID == "" {
		return
	}

	t.mu.Lock()
	s, ok := t.byStrat[ev.StrategyID]
	if !ok {
		s = &stats{}
		t.byStrat[ev.StrategyID] = s
	}
	s.trades++
	if ev.PnL > 0 {
		s.wins++
		s.grossProfit += ev.PnL
	} else {
		s.grossLoss += -ev.PnL
	}
	s.equity += ev.PnL
	if s.equity > s.peakEquity {
		s.peakEquity = s.equity
	}
	if s.peakEquity > 0 {
		if dd := (s.peakEquity - s.equity) / s.peakEquity; dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}
	upd := s.update()
	t.mu.Unlock()

	if t.updater != nil {
		t.updater.UpdatePerformance(ev.StrategyID, upd)
	}
}

func (s *stats) update() registry.PerformanceUpdate {
	winRate := float64(s.wins) / float64(s.trades)
	profitFactor := 0.0
	if s.grossLoss > 0 {
		profitFactor = s.grossProfit / s.grossLoss
	} else if s.grossProfit > 0 {
		// No losing trades yet; saturate rather than divide by zero.
		profitFactor = 10
	}
	drawdown := s.maxDrawdown
	trades := s.trades
	return registry.PerformanceUpdate{
		WinRate:      &winRate,
		ProfitFactor: &profitFactor,
		Drawdown:     &drawdown,
		Trades:       &trades,
	}
}

// Snapshot returns a strategy's current performance, and whether any trades
// were recorded.
func (t *Tracker) Snapshot(strategyID string) (registry.Performance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byStrat[strategyID]
	if !ok {
		return registry.Performance{}, false
	}
	upd := s.update()
	return registry.Performance{
		WinRate:      *upd.WinRate,
		ProfitFactor: *upd.ProfitFactor,
		Drawdown:     *upd.Drawdown,
		Trades:       *upd.Trades,
	}, true
}
