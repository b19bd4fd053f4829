package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/broker/sim"
	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/risk"
	"github.com/rustyeddy/pilot/signal"
)

// fakeSource feeds canned signals and a canned registry snapshot.
type fakeSource struct {
	signals map[string]signal.Signal
	snap    map[string]registry.Entry
}

func (f *fakeSource) CollectSignals(t market.Tick) map[string]signal.Signal { return f.signals }
func (f *fakeSource) Snapshot() map[string]registry.Entry                   { return f.snap }

// recordingSink captures performance events.
type recordingSink struct {
	opened []broker.TradeEvent
	closed []broker.TradeEvent
}

func (r *recordingSink) OnPrice(t market.Tick)           {}
func (r *recordingSink) TradeOpened(ev broker.TradeEvent) { r.opened = append(r.opened, ev) }
func (r *recordingSink) TradeClosed(ev broker.TradeEvent) { r.closed = append(r.closed, ev) }

// countingMD counts subscription calls.
type countingMD struct {
	subs, unsubs map[string]int
	subAll       int
	unsubAll     int
	health       broker.Health
	healthErr    error
}

func newCountingMD() *countingMD {
	return &countingMD{
		subs:   make(map[string]int),
		unsubs: make(map[string]int),
		health: broker.Health{Status: "healthy"},
	}
}

func (m *countingMD) Subscribe(symbol string) error   { m.subs[symbol]++; return nil }
func (m *countingMD) Unsubscribe(symbol string) error { m.unsubs[symbol]++; return nil }
func (m *countingMD) SubscribeAll() error             { m.subAll++; return nil }
func (m *countingMD) UnsubscribeAll() error           { m.unsubAll++; return nil }
func (m *countingMD) HealthCheck(ctx context.Context) (broker.Health, error) {
	return m.health, m.healthErr
}

// stubAnalyzer returns canned viability results.
type stubAnalyzer struct {
	results []broker.ViabilityResult
	err     error
	fills   []broker.PlacedOrder
	prices  int
}

func (a *stubAnalyzer) OnPrice(t market.Tick)      { a.prices++ }
func (a *stubAnalyzer) OnFill(o broker.PlacedOrder) { a.fills = append(a.fills, o) }
func (a *stubAnalyzer) AnalyzeOpenPositions(ctx context.Context, positions map[string]broker.Position) ([]broker.ViabilityResult, error) {
	return a.results, a.err
}

func entrySignal(symbol string, dir signal.Direction) signal.Signal {
	return signal.Signal{Symbol: symbol, Type: signal.Entry, Direction: dir}
}

func exitSignal(symbol string, dir signal.Direction) signal.Signal {
	return signal.Signal{Symbol: symbol, Type: signal.Exit, Direction: dir}
}

func activeEntry(weight float64, symbols ...string) registry.Entry {
	return registry.Entry{Weight: weight, Status: registry.Active, Instruments: symbols}
}

type fixture struct {
	orc    *Orchestrator
	ex     *sim.Exchange
	md     *countingMD
	riskc  *stubAnalyzer
	perf   *recordingSink
	source *fakeSource
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ex:     sim.NewExchange(broker.Balances{"USD": 100000}),
		md:     newCountingMD(),
		riskc:  &stubAnalyzer{},
		perf:   &recordingSink{},
		source: &fakeSource{signals: map[string]signal.Signal{}, snap: map[string]registry.Entry{}},
	}
	f.orc = New(cfg, zerolog.Nop(), risk.NewSizer(risk.Policy{}), f.source, f.ex, f.md, f.riskc, f.perf)
	return f
}

func (f *fixture) tick(symbol string, price float64) market.Tick {
	t := market.Tick{Symbol: symbol, Price: price, Time: time.Now()}
	f.ex.UpdatePrice(t)
	return t
}

func TestOrchestrator_IgnoresTicksWhileStopped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.source.signals["s1"] = entrySignal("BTC-USD", signal.Long)
	f.source.snap["s1"] = activeEntry(1, "BTC-USD")

	f.orc.OnTick(context.Background(), f.tick("BTC-USD", 100))

	assert.Empty(t, f.ex.Orders())
	assert.Zero(t, f.riskc.prices)
}

func TestOrchestrator_StartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	f.orc.Start(ctx)
	f.orc.Start(ctx) // idempotent
	assert.True(t, f.orc.Running())
	assert.Equal(t, 1, f.md.subAll)

	f.orc.Stop()
	f.orc.Stop()
	assert.False(t, f.orc.Running())
	assert.Equal(t, 1, f.md.unsubAll)
}

func TestOrchestrator_EntryThenExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OrderNotional: 1000})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": entrySignal("BTC-USD", signal.Long)}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))

	positions := f.orc.Positions()
	require.Len(t, positions, 1)
	pos := positions["BTC-USD"]
	assert.Equal(t, "s1", pos.StrategyID)
	assert.Equal(t, signal.Long, pos.Direction)
	assert.InDelta(t, 10.0, pos.Size, 1e-9) // 1000 notional at price 100
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	require.Len(t, f.perf.opened, 1)
	require.Len(t, f.riskc.fills, 1)

	f.source.signals = map[string]signal.Signal{"s1": exitSignal("BTC-USD", signal.Long)}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 110))

	assert.Empty(t, f.orc.Positions())
	require.Len(t, f.perf.closed, 1)
	assert.InDelta(t, 100.0, f.perf.closed[0].PnL, 1e-9) // 10 units x +10
	assert.Len(t, f.orc.History(), 2)
}

func TestOrchestrator_PricedEntryBecomesLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{OrderNotional: 1000})
	ctx := context.Background()
	f.orc.Start(ctx)

	sig := entrySignal("BTC-USD", signal.Long)
	sig.Price = 102
	f.source.signals = map[string]signal.Signal{"s1": sig}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))

	orders := f.ex.Orders()
	require.Len(t, orders, 1)
	entry := orders[0]
	assert.Equal(t, broker.Buy, entry.Side)
	assert.Equal(t, broker.Limit, entry.Type)
	assert.Equal(t, broker.IOC, entry.TIF)
	// Signal price sits above the limit-buy band, so the sizer pulls it
	// back toward the reference.
	assert.InDelta(t, 100.5, entry.Price, 1e-9)

	positions := f.orc.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 100.5, positions["BTC-USD"].EntryPrice, 1e-9)
}

func TestOrchestrator_OnePositionSlotPerSymbol(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": entrySignal("BTC-USD", signal.Long)}
	f.source.snap = map[string]registry.Entry{
		"s1": activeEntry(0.5, "BTC-USD"),
		"s2": activeEntry(0.5, "BTC-USD"),
	}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))
	require.Len(t, f.orc.Positions(), 1)

	// Another strategy's entry on the same symbol is skipped while the
	// slot is taken.
	f.source.signals = map[string]signal.Signal{"s2": entrySignal("BTC-USD", signal.Long)}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 101))

	assert.Len(t, f.orc.Positions(), 1)
	assert.Len(t, f.ex.Orders(), 1)
}

func TestOrchestrator_PlacementFailureSkipsOnlyThatSignal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)

	// Two winning signals on different symbols; the first placement fails.
	f.source.signals = map[string]signal.Signal{
		"s1": entrySignal("BTC-USD", signal.Long),
		"s2": entrySignal("ETH-USD", signal.Long),
	}
	f.source.snap = map[string]registry.Entry{
		"s1": activeEntry(0.5, "BTC-USD"),
		"s2": activeEntry(0.5, "ETH-USD"),
	}
	f.tick("ETH-USD", 50)
	f.ex.FailNext = errors.New("venue rejected")
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))

	// Exactly one of the two placements failed; the other went through.
	assert.Len(t, f.ex.Orders(), 1)
	assert.Len(t, f.orc.Positions(), 1)
}

func TestOrchestrator_BalanceFetchFailureDropsSignal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": entrySignal("BTC-USD", signal.Long)}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	f.ex.FailBalances = errors.New("api timeout")
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))

	assert.Empty(t, f.ex.Orders())
	assert.Empty(t, f.orc.Positions())
}

func TestOrchestrator_ExitWithoutPositionSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": exitSignal("BTC-USD", signal.Long)}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))

	assert.Empty(t, f.ex.Orders())
}

func TestOrchestrator_HistoryBounded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	for i := 0; i < 150; i++ {
		f.orc.recordOrder(broker.PlacedOrder{ID: fmt.Sprintf("o%03d", i)})
	}

	history := f.orc.History()
	require.Len(t, history, HistoryCap)
	assert.Equal(t, "o050", history[0].ID)
	assert.Equal(t, "o149", history[len(history)-1].ID)
}

func TestOrchestrator_WatchedSymbolRefCounting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	// Strategies X and Y both declare ETH-USD.
	f.orc.WatchSymbols("ETH-USD")
	f.orc.WatchSymbols("ETH-USD")
	assert.True(t, f.orc.Watched("ETH-USD"))
	assert.Equal(t, 1, f.md.subs["ETH-USD"])

	f.orc.UnwatchSymbols("ETH-USD")
	assert.True(t, f.orc.Watched("ETH-USD"))
	assert.Zero(t, f.md.unsubs["ETH-USD"])

	f.orc.UnwatchSymbols("ETH-USD")
	assert.False(t, f.orc.Watched("ETH-USD"))
	assert.Equal(t, 1, f.md.unsubs["ETH-USD"])

	// Extra removals stay a no-op.
	f.orc.UnwatchSymbols("ETH-USD")
	assert.Equal(t, 1, f.md.unsubs["ETH-USD"])
}

func TestOrchestrator_NonViableCloseLong(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CloseBuffer: 0.001})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": entrySignal("BTC-USD", signal.Long)}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))
	require.Len(t, f.orc.Positions(), 1)

	f.orc.OnTick(ctx, f.tick("BTC-USD", 90))
	f.orc.ApplyViability(ctx, broker.ViabilityResult{
		Symbol: "BTC-USD", Viable: false, ShouldClose: true, Reason: "drawdown",
	})

	assert.Empty(t, f.orc.Positions())
	orders := f.ex.Orders()
	require.Len(t, orders, 2)
	closeOrder := orders[1]
	assert.Equal(t, broker.Sell, closeOrder.Side)
	assert.Equal(t, broker.Limit, closeOrder.Type)
	assert.Equal(t, broker.IOC, closeOrder.TIF)
	assert.True(t, closeOrder.ReduceOnly)
	assert.InDelta(t, 90*0.999, closeOrder.Price, 1e-9)

	require.Len(t, f.perf.closed, 1)
	assert.Contains(t, f.perf.closed[0].Reason, "drawdown")
}

func TestOrchestrator_NonViableCloseFailureKeepsPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": entrySignal("BTC-USD", signal.Short)}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	// Seed a short position directly; the sim exchange cannot short.
	f.orc.positions["BTC-USD"] = broker.Position{
		Symbol: "BTC-USD", StrategyID: "s1", Direction: signal.Short, Size: 1, EntryPrice: 100,
	}
	f.tick("BTC-USD", 100)

	f.ex.FailNext = errors.New("venue down")
	f.orc.ApplyViability(ctx, broker.ViabilityResult{
		Symbol: "BTC-USD", Viable: false, ShouldClose: true, Reason: "stale",
	})

	// Still tracked for the next cycle.
	assert.Len(t, f.orc.Positions(), 1)
}

func TestOrchestrator_ViableResultIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)
	f.orc.positions["BTC-USD"] = broker.Position{Symbol: "BTC-USD", Direction: signal.Long, Size: 1}

	f.orc.ApplyViability(ctx, broker.ViabilityResult{Symbol: "BTC-USD", Viable: true})
	f.orc.ApplyViability(ctx, broker.ViabilityResult{Symbol: "BTC-USD", Viable: false, ShouldClose: false})

	assert.Len(t, f.orc.Positions(), 1)
	assert.Empty(t, f.ex.Orders())
}

func TestOrchestrator_AnalyzePositionsDrivesCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AnalyzeInterval: time.Minute})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.source.signals = map[string]signal.Signal{"s1": entrySignal("BTC-USD", signal.Long)}
	f.source.snap = map[string]registry.Entry{"s1": activeEntry(1, "BTC-USD")}
	f.orc.OnTick(ctx, f.tick("BTC-USD", 100))

	f.riskc.results = []broker.ViabilityResult{
		{Symbol: "BTC-USD", Viable: false, ShouldClose: true, Reason: "risk limit"},
	}
	f.orc.AnalyzePositions(ctx)

	assert.Empty(t, f.orc.Positions())
}

func TestOrchestrator_ProbeHealthStoresResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	f.orc.Start(ctx)

	f.md.health = broker.Health{Status: "degraded", Issues: []string{"ws lag"}}
	f.orc.ProbeHealth(ctx)

	h := f.orc.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, []string{"ws lag"}, h.Issues)
	assert.False(t, h.LastCheck.IsZero())

	f.md.healthErr = errors.New("probe timeout")
	f.orc.ProbeHealth(ctx)
	assert.Equal(t, "unreachable", f.orc.Health().Status)
}

func TestOrchestrator_PeriodicHandlersNoOpWhileStopped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AnalyzeInterval: time.Minute})
	ctx := context.Background()

	// Fire the handlers as a late timer would after STOP: nothing happens.
	f.orc.AnalyzePositions(ctx)
	f.orc.ProbeHealth(ctx)

	assert.Empty(t, f.orc.Health().Status)
}
