// Package orchestrator turns resolved strategy signals into capital-bounded
// orders and manages the lifecycle of the resulting positions.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/internal/metrics"
	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/resolve"
	"github.com/rustyeddy/pilot/risk"
	"github.com/rustyeddy/pilot/signal"
)

// HistoryCap bounds the kept order history; the oldest order is evicted
// first.
const HistoryCap = 100

// healthInterval is the fixed cadence of the market-data supervisor probe.
const healthInterval = 60 * time.Second

// SignalSource is the registry surface the orchestrator consumes.
type SignalSource interface {
	CollectSignals(t market.Tick) map[string]signal.Signal
	Snapshot() map[string]registry.Entry
}

// Config carries the orchestrator's tunables. Zero values get defaults from
// the config package before construction.
type Config struct {
	Mode            resolve.Mode
	AnalyzeInterval time.Duration // 0 disables position analysis
	OrderNotional   float64       // quote-currency budget per full-weight entry
	CloseBuffer     float64       // price buffer for forced closes, e.g. 0.001
}

// HealthStatus is the stored result of the last supervisor probe.
type HealthStatus struct {
	Status    string
	LastCheck time.Time
	Issues    []string
}

// Orchestrator owns the run state, the watched-symbol set, open positions,
// and the bounded order history. It is single-owner state: all mutation goes
// through its handlers on one supervised unit.
type Orchestrator struct {
	cfg   Config
	log   zerolog.Logger
	sizer *risk.Sizer

	signals SignalSource
	exec    broker.ExecutionPort
	md      broker.MarketDataPort
	riskc   broker.RiskAnalyzer
	perf    broker.PerformanceSink

	// schedule re-arms a timer through the owning unit's mailbox. The
	// message receives the unit's current state so a timer armed before a
	// restart still fires against the rebuilt orchestrator. Nil disables
	// timers (tests drive handlers directly).
	schedule func(d time.Duration, msg func(*Orchestrator))

	running   bool
	watch     map[string]int // symbol -> active strategies declaring it
	positions map[string]broker.Position
	history   []broker.PlacedOrder
	ticks     *market.TickStore
	health    HealthStatus
}

// New wires an orchestrator. The risk and performance collaborators may be
// nil; they then receive no notifications.
func New(cfg Config, log zerolog.Logger, sizer *risk.Sizer, signals SignalSource,
	exec broker.ExecutionPort, md broker.MarketDataPort,
	riskc broker.RiskAnalyzer, perf broker.PerformanceSink) *Orchestrator {

	if cfg.Mode == "" {
		cfg.Mode = resolve.PerformanceWeighted
	}
	if cfg.OrderNotional <= 0 {
		cfg.OrderNotional = 1000
	}
	if cfg.CloseBuffer <= 0 {
		cfg.CloseBuffer = 0.001
	}
	return &Orchestrator{
		cfg:       cfg,
		log:       log.With().Str("component", "orchestrator").Logger(),
		sizer:     sizer,
		signals:   signals,
		exec:      exec,
		md:        md,
		riskc:     riskc,
		perf:      perf,
		watch:     make(map[string]int),
		positions: make(map[string]broker.Position),
		ticks:     market.NewTickStore(),
	}
}

// SetScheduler installs the timer hook. Must be called before Start.
func (o *Orchestrator) SetScheduler(schedule func(d time.Duration, msg func(*Orchestrator))) {
	o.schedule = schedule
}

// Start transitions to RUNNING, subscribes to all watched symbols, and arms
// the periodic timers. Idempotent.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.running {
		return
	}
	o.running = true
	if err := o.md.SubscribeAll(); err != nil {
		o.log.Warn().Err(err).Msg("subscribe all failed")
	}
	if o.schedule != nil {
		if o.cfg.AnalyzeInterval > 0 {
			o.schedule(o.cfg.AnalyzeInterval, func(cur *Orchestrator) { cur.AnalyzePositions(ctx) })
		}
		o.schedule(healthInterval, func(cur *Orchestrator) { cur.ProbeHealth(ctx) })
	}
	o.log.Info().Str("mode", string(o.cfg.Mode)).Msg("orchestrator running")
}

// Stop unsubscribes and transitions to STOPPED. Armed timers are not
// cancelled; they observe the run state when they fire and stand down.
func (o *Orchestrator) Stop() {
	if !o.running {
		return
	}
	o.running = false
	if err := o.md.UnsubscribeAll(); err != nil {
		o.log.Warn().Err(err).Msg("unsubscribe all failed")
	}
	o.log.Info().Msg("orchestrator stopped")
}

// OnTick is the main trading path: fan out, resolve, size, place, track.
// Ticks are ignored while stopped.
func (o *Orchestrator) OnTick(ctx context.Context, t market.Tick) {
	if !o.running {
		return
	}
	metrics.TicksTotal.WithLabelValues(t.Symbol).Inc()
	o.ticks.Set(t)

	if o.riskc != nil {
		o.riskc.OnPrice(t)
	}
	if o.perf != nil {
		o.perf.OnPrice(t)
	}

	signals := o.signals.CollectSignals(t)
	if len(signals) == 0 {
		return
	}
	resolved := resolve.Resolve(signals, o.signals.Snapshot(), o.cfg.Mode)
	if len(resolved) < len(signals) {
		metrics.ConflictsTotal.WithLabelValues(t.Symbol).Inc()
	}

	// One rejected or failed signal never aborts the rest of the tick.
	for strategyID, sig := range resolved {
		o.processSignal(ctx, strategyID, sig, t)
	}
}

func (o *Orchestrator) processSignal(ctx context.Context, strategyID string, sig signal.Signal, t market.Tick) {
	refPrice := t.Price
	if last, err := o.ticks.Get(sig.Symbol); err == nil {
		refPrice = last.Price
	}

	intent, ok := o.buildIntent(strategyID, sig, refPrice)
	if !ok {
		return
	}

	balances, err := o.exec.AccountBalances(ctx)
	if err != nil {
		// Fail closed: nothing is placed without a balance snapshot.
		metrics.RejectionsTotal.WithLabelValues(t.Symbol, risk.Extreme.String()).Inc()
		o.log.Warn().Err(err).Str("strategy", strategyID).Msg("balance fetch failed, signal dropped")
		return
	}

	assessment := o.sizer.Assess(intent, refPrice, balances)
	if !assessment.Approved {
		metrics.RejectionsTotal.WithLabelValues(t.Symbol, assessment.Level.String()).Inc()
		o.log.Info().Str("strategy", strategyID).Str("reason", assessment.Reason).
			Str("risk", assessment.Level.String()).Msg("order rejected by sizer")
		return
	}
	if assessment.AdjustedSize != nil {
		intent.Size = *assessment.AdjustedSize
	}
	if assessment.AdjustedPrice != nil {
		intent.Price = *assessment.AdjustedPrice
	}

	order, err := o.exec.PlaceOrder(ctx, intent)
	if err != nil {
		o.log.Warn().Err(err).Str("strategy", strategyID).Str("symbol", intent.Symbol).
			Msg("order placement failed, signal dropped")
		return
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	o.recordOrder(order)
	if o.riskc != nil {
		o.riskc.OnFill(order)
	}

	// Only immediately-filled orders move the position table.
	if order.Filled {
		o.applyFill(strategyID, sig, order)
	}
}

// buildIntent translates a winning signal into an order intent, honoring the
// one-position-per-symbol invariant.
func (o *Orchestrator) buildIntent(strategyID string, sig signal.Signal, refPrice float64) (broker.OrderIntent, bool) {
	switch sig.Type {
	case signal.Entry:
		if _, open := o.positions[sig.Symbol]; open {
			o.log.Debug().Str("strategy", strategyID).Str("symbol", sig.Symbol).
				Msg("entry skipped, position slot taken")
			return broker.OrderIntent{}, false
		}
		side := broker.Buy
		if sig.Direction == signal.Short {
			side = broker.Sell
		}
		weight := o.weightOf(strategyID)
		if refPrice <= 0 {
			return broker.OrderIntent{}, false
		}
		size := o.cfg.OrderNotional * weight / refPrice
		if size <= 0 {
			return broker.OrderIntent{}, false
		}
		intent := broker.OrderIntent{
			Symbol: sig.Symbol,
			Side:   side,
			Type:   broker.Market,
			Size:   size,
		}
		// A priced signal becomes an immediate-or-cancel limit at that
		// price; the sizer may still clamp it toward the reference.
		if sig.Price > 0 {
			intent.Type = broker.Limit
			intent.Price = sig.Price
			intent.TIF = broker.IOC
		}
		return intent, true

	case signal.Exit:
		pos, open := o.positions[sig.Symbol]
		if !open || pos.Direction != sig.Direction {
			o.log.Debug().Str("strategy", strategyID).Str("symbol", sig.Symbol).
				Msg("exit skipped, no matching position")
			return broker.OrderIntent{}, false
		}
		side := broker.Sell
		if pos.Direction == signal.Short {
			side = broker.Buy
		}
		return broker.OrderIntent{
			Symbol:     sig.Symbol,
			Side:       side,
			Type:       broker.Market,
			Size:       pos.Size,
			ReduceOnly: true,
		}, true
	}
	return broker.OrderIntent{}, false
}

func (o *Orchestrator) weightOf(strategyID string) float64 {
	if e, ok := o.signals.Snapshot()[strategyID]; ok {
		return e.Weight
	}
	return 0
}

func (o *Orchestrator) applyFill(strategyID string, sig signal.Signal, order broker.PlacedOrder) {
	switch sig.Type {
	case signal.Entry:
		pos := broker.Position{
			Symbol:     order.Symbol,
			StrategyID: strategyID,
			Direction:  sig.Direction,
			Size:       order.Size,
			EntryPrice: order.Price,
			OpenedAt:   order.FillTime,
		}
		o.positions[order.Symbol] = pos
		if o.perf != nil {
			o.perf.TradeOpened(broker.TradeEvent{
				StrategyID: strategyID,
				Symbol:     order.Symbol,
				Direction:  sig.Direction,
				Size:       order.Size,
				Price:      order.Price,
				Reason:     sig.Reason,
				Time:       order.FillTime,
			})
		}
	case signal.Exit:
		pos := o.positions[order.Symbol]
		delete(o.positions, order.Symbol)
		if o.perf != nil {
			o.perf.TradeClosed(broker.TradeEvent{
				StrategyID: pos.StrategyID,
				Symbol:     order.Symbol,
				Direction:  pos.Direction,
				Size:       order.Size,
				Price:      order.Price,
				PnL:        realized(pos, order.Price),
				Reason:     sig.Reason,
				Time:       order.FillTime,
			})
		}
	}
}

func realized(pos broker.Position, closePrice float64) float64 {
	if pos.Direction == signal.Short {
		return (pos.EntryPrice - closePrice) * pos.Size
	}
	return (closePrice - pos.EntryPrice) * pos.Size
}

func (o *Orchestrator) recordOrder(order broker.PlacedOrder) {
	o.history = append(o.history, order)
	if len(o.history) > HistoryCap {
		o.history = o.history[len(o.history)-HistoryCap:]
	}
}

// AnalyzePositions asks the risk collaborator to judge every open position,
// then re-arms itself while running.
func (o *Orchestrator) AnalyzePositions(ctx context.Context) {
	if !o.running {
		return
	}
	defer func() {
		if o.schedule != nil && o.cfg.AnalyzeInterval > 0 {
			o.schedule(o.cfg.AnalyzeInterval, func(cur *Orchestrator) { cur.AnalyzePositions(ctx) })
		}
	}()

	if o.riskc == nil || len(o.positions) == 0 {
		return
	}
	snapshot := make(map[string]broker.Position, len(o.positions))
	for sym, pos := range o.positions {
		snapshot[sym] = pos
	}
	results, err := o.riskc.AnalyzeOpenPositions(ctx, snapshot)
	if err != nil {
		o.log.Warn().Err(err).Msg("position analysis failed")
		return
	}
	for _, res := range results {
		o.ApplyViability(ctx, res)
	}
}

// ApplyViability force-closes a position judged non-viable with a
// reduce-only IOC limit order priced through the book. On failure the
// position stays tracked for the next cycle.
func (o *Orchestrator) ApplyViability(ctx context.Context, res broker.ViabilityResult) {
	if res.Viable || !res.ShouldClose {
		return
	}
	pos, open := o.positions[res.Symbol]
	if !open {
		return
	}

	last, err := o.ticks.Get(res.Symbol)
	if err != nil {
		o.log.Warn().Str("symbol", res.Symbol).Msg("cannot close position without a price")
		return
	}

	var intent broker.OrderIntent
	if pos.Direction == signal.Long {
		intent = broker.OrderIntent{
			Symbol:     res.Symbol,
			Side:       broker.Sell,
			Type:       broker.Limit,
			Size:       pos.Size,
			Price:      last.BestBid() * (1 - o.cfg.CloseBuffer),
			ReduceOnly: true,
			TIF:        broker.IOC,
		}
	} else {
		intent = broker.OrderIntent{
			Symbol:     res.Symbol,
			Side:       broker.Buy,
			Type:       broker.Limit,
			Size:       pos.Size,
			Price:      last.BestAsk() * (1 + o.cfg.CloseBuffer),
			ReduceOnly: true,
			TIF:        broker.IOC,
		}
	}

	order, err := o.exec.PlaceOrder(ctx, intent)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", res.Symbol).Str("reason", res.Reason).
			Msg("forced close failed, position kept for re-evaluation")
		return
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	o.recordOrder(order)
	delete(o.positions, res.Symbol)
	if o.perf != nil {
		o.perf.TradeClosed(broker.TradeEvent{
			StrategyID: pos.StrategyID,
			Symbol:     res.Symbol,
			Direction:  pos.Direction,
			Size:       pos.Size,
			Price:      order.Price,
			PnL:        realized(pos, order.Price),
			Reason:     "non-viable: " + res.Reason,
			Time:       order.FillTime,
		})
	}
	o.log.Info().Str("symbol", res.Symbol).Str("reason", res.Reason).Msg("closed non-viable position")
}

// ProbeHealth asks the market-data supervisor for a health report and stores
// it, then re-arms itself while running. The result drives no remediation.
func (o *Orchestrator) ProbeHealth(ctx context.Context) {
	if !o.running {
		return
	}
	defer func() {
		if o.schedule != nil {
			o.schedule(healthInterval, func(cur *Orchestrator) { cur.ProbeHealth(ctx) })
		}
	}()

	h, err := o.md.HealthCheck(ctx)
	if err != nil {
		o.health = HealthStatus{Status: "unreachable", LastCheck: time.Now().UTC(), Issues: []string{err.Error()}}
		return
	}
	o.health = HealthStatus{Status: h.Status, LastCheck: time.Now().UTC(), Issues: h.Issues}
}

// WatchSymbols bumps reference counts for a newly added strategy's
// instruments, subscribing on each 0 -> 1 transition.
func (o *Orchestrator) WatchSymbols(symbols ...string) {
	for _, sym := range symbols {
		o.watch[sym]++
		if o.watch[sym] == 1 {
			if err := o.md.Subscribe(sym); err != nil {
				o.log.Warn().Err(err).Str("symbol", sym).Msg("subscribe failed")
			}
		}
	}
}

// UnwatchSymbols drops reference counts for a removed strategy's
// instruments, unsubscribing on each 1 -> 0 transition.
func (o *Orchestrator) UnwatchSymbols(symbols ...string) {
	for _, sym := range symbols {
		if o.watch[sym] == 0 {
			continue
		}
		o.watch[sym]--
		if o.watch[sym] == 0 {
			delete(o.watch, sym)
			if err := o.md.Unsubscribe(sym); err != nil {
				o.log.Warn().Err(err).Str("symbol", sym).Msg("unsubscribe failed")
			}
		}
	}
}

// Running reports the state machine's current state.
func (o *Orchestrator) Running() bool { return o.running }

// Watched reports whether a symbol currently has interested strategies.
func (o *Orchestrator) Watched(symbol string) bool { return o.watch[symbol] > 0 }

// Positions returns a copy of the open position table.
func (o *Orchestrator) Positions() map[string]broker.Position {
	out := make(map[string]broker.Position, len(o.positions))
	for sym, pos := range o.positions {
		out[sym] = pos
	}
	return out
}

// History returns the bounded order history, oldest first.
func (o *Orchestrator) History() []broker.PlacedOrder {
	return append([]broker.PlacedOrder(nil), o.history...)
}

// Health returns the last stored supervisor probe result.
func (o *Orchestrator) Health() HealthStatus { return o.health }
