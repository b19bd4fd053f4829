// Package backtest replays recorded ticks through the full trading stack
// against the simulated exchange, with the same resolution and sizing path
// the live controller uses.
package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/broker/sim"
	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/orchestrator"
	"github.com/rustyeddy/pilot/perf"
	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/resolve"
	"github.com/rustyeddy/pilot/risk"
	"github.com/rustyeddy/pilot/strategies"
)

// TickFeed yields ticks (typically from a dataset) one at a time.
// Implementations should be deterministic and return (ok=false, err=nil) at EOF.
type TickFeed interface {
	Next() (t market.Tick, ok bool, err error)
	Close() error
}

// Options controls a backtest run.
type Options struct {
	Mode          resolve.Mode
	OrderNotional float64
	Policy        risk.Policy
	Balances      broker.Balances
	MaxActive     int

	// If true, close all open positions at the end of the dataset.
	CloseEnd bool
}

// Result is a lightweight summary of a backtest run.
type Result struct {
	Trades int
	Wins   int
	Losses int
	NetPnL float64

	FinalBalances broker.Balances
	OpenPositions int

	Start time.Time
	End   time.Time
}

// WinRate returns wins/trades in [0,1], or 0 with no trades.
func (r Result) WinRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades)
}

// Runner replays a feed through an orchestrator wired to the sim exchange.
type Runner struct {
	Feed       TickFeed
	Strategies []strategies.Strategy
	Options    Options
	Extra      []broker.PerformanceSink // journal sinks etc.
	Log        zerolog.Logger
}

// Run executes the backtest loop:
//  1. read next tick
//  2. exchange.UpdatePrice(tick)
//  3. orchestrator.OnTick(ctx, tick)
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Feed == nil {
		return Result{}, fmt.Errorf("backtest: Feed is required")
	}
	if len(r.Strategies) == 0 {
		return Result{}, fmt.Errorf("backtest: at least one strategy is required")
	}
	defer r.Feed.Close()

	maxActive := r.Options.MaxActive
	if maxActive <= 0 {
		maxActive = len(r.Strategies)
	}

	ex := sim.NewExchange(r.Options.Balances)
	reg := registry.New(r.Log, maxActive, true)
	tracker := perf.NewTracker(reg)
	tally := &resultSink{}
	sinks := append(broker.Sinks{tracker, tally}, r.Extra...)

	orc := orchestrator.New(orchestrator.Config{
		Mode:          r.Options.Mode,
		OrderNotional: r.Options.OrderNotional,
	}, r.Log, risk.NewSizer(r.Options.Policy), reg, ex, ex, nil, sinks)

	for _, s := range r.Strategies {
		if err := reg.Register(s, 0); err != nil {
			return Result{}, err
		}
		orc.WatchSymbols(s.Instruments()...)
	}
	orc.Start(ctx)

	var start, end time.Time
	for {
		t, ok, err := r.Feed.Next()
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}

		if start.IsZero() || t.Time.Before(start) {
			start = t.Time
		}
		if end.IsZero() || t.Time.After(end) {
			end = t.Time
		}

		ex.UpdatePrice(t)
		orc.OnTick(ctx, t)
	}

	if r.Options.CloseEnd {
		for sym := range orc.Positions() {
			orc.ApplyViability(ctx, broker.ViabilityResult{
				Symbol:      sym,
				ShouldClose: true,
				Reason:      "end of replay",
			})
		}
	}
	orc.Stop()

	res := tally.result()
	res.OpenPositions = len(orc.Positions())
	res.Start, res.End = start, end

	balances, err := ex.AccountBalances(ctx)
	if err == nil {
		res.FinalBalances = balances
	}
	return res, nil
}

// resultSink tallies closed trades for the run summary.
type resultSink struct {
	mu     sync.Mutex
	trades int
	wins   int
	losses int
	netPnL float64
}

func (s *resultSink) OnPrice(t market.Tick)            {}
func (s *resultSink) TradeOpened(ev broker.TradeEvent) {}

func (s *resultSink) TradeClosed(ev broker.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades++
	if ev.PnL > 0 {
		s.wins++
	} else {
		s.losses++
	}
	s.netPnL += ev.PnL
}

func (s *resultSink) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{Trades: s.trades, Wins: s.wins, Losses: s.losses, NetPnL: s.netPnL}
}
