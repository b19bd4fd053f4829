package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/risk"
	"github.com/rustyeddy/pilot/signal"
	"github.com/rustyeddy/pilot/strategies"
	"github.com/rustyeddy/pilot/supervise"
)

// callTimeout bounds synchronous reads against a unit.
const callTimeout = 5 * time.Second

// Deps are the collaborators a Controller drives.
type Deps struct {
	Exec broker.ExecutionPort
	MD   broker.MarketDataPort
	Risk broker.RiskAnalyzer
	Perf broker.PerformanceSink
}

// Controller deploys the registry and the orchestrator as independent
// supervised units and exposes message-shaped entry points. Both units
// restart to their startup state after a handler panic; state accumulated
// before the crash is discarded.
type Controller struct {
	log zerolog.Logger

	regUnit *supervise.Unit[*registry.Registry]
	orcUnit *supervise.Unit[*Orchestrator]
}

// NewController builds the two units. buildRegistry defines the registry's
// startup state (a crash restarts to exactly this); cfg and deps define the
// orchestrator's.
func NewController(cfg Config, log zerolog.Logger, sizerPolicy risk.Policy,
	buildRegistry func() *registry.Registry, deps Deps) *Controller {

	c := &Controller{log: log}
	c.regUnit = supervise.NewUnit("registry", log, 0, buildRegistry)

	source := &registrySource{unit: c.regUnit}
	sizer := risk.NewSizer(sizerPolicy)
	c.orcUnit = supervise.NewUnit("orchestrator", log, 0, func() *Orchestrator {
		o := New(cfg, log, sizer, source, deps.Exec, deps.MD, deps.Risk, deps.Perf)
		o.SetScheduler(c.scheduleOrc)
		return o
	})
	return c
}

// scheduleOrc delivers a timer firing as a mailbox message so it runs
// against whatever state the unit holds when it fires.
func (c *Controller) scheduleOrc(d time.Duration, msg func(*Orchestrator)) {
	time.AfterFunc(d, func() {
		if err := c.orcUnit.Send(msg); err != nil {
			c.log.Debug().Err(err).Msg("timer fired after shutdown")
		}
	})
}

// Run launches both units. They stop when ctx is cancelled or Shutdown is
// called.
func (c *Controller) Run(ctx context.Context) {
	c.regUnit.Start(ctx)
	c.orcUnit.Start(ctx)
}

// Shutdown stops the trading loop and closes both units.
func (c *Controller) Shutdown() {
	c.Stop()
	c.orcUnit.Close()
	c.regUnit.Close()
	c.orcUnit.Wait()
	c.regUnit.Wait()
}

// Start transitions the orchestrator to RUNNING.
func (c *Controller) Start(ctx context.Context) error {
	return c.orcUnit.Send(func(o *Orchestrator) { o.Start(ctx) })
}

// Stop transitions the orchestrator to STOPPED.
func (c *Controller) Stop() {
	_ = c.orcUnit.Send(func(o *Orchestrator) { o.Stop() })
}

// OnTick feeds one market tick into the trading path.
func (c *Controller) OnTick(ctx context.Context, t market.Tick) error {
	return c.orcUnit.Send(func(o *Orchestrator) { o.OnTick(ctx, t) })
}

// AddStrategy registers a strategy and bumps symbol watch counts.
func (c *Controller) AddStrategy(s strategies.Strategy, weight float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	err, callErr := supervise.Call(ctx, c.regUnit, func(r *registry.Registry) error {
		return r.Register(s, weight)
	})
	if callErr != nil {
		return callErr
	}
	if err != nil {
		return err
	}
	symbols := s.Instruments()
	return c.orcUnit.Send(func(o *Orchestrator) { o.WatchSymbols(symbols...) })
}

// RemoveStrategy unregisters a strategy and drops its symbol watches.
func (c *Controller) RemoveStrategy(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	symbols, err := supervise.Call(ctx, c.regUnit, func(r *registry.Registry) []string {
		e, ok := r.Get(id)
		if !ok {
			return nil
		}
		r.Unregister(id)
		return e.Instruments
	})
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}
	return c.orcUnit.Send(func(o *Orchestrator) { o.UnwatchSymbols(symbols...) })
}

// PauseStrategy sets a strategy aside without unregistering it.
func (c *Controller) PauseStrategy(id string) error {
	return c.regUnit.Send(func(r *registry.Registry) { r.Pause(id) })
}

// ResumeStrategy reactivates a paused strategy.
func (c *Controller) ResumeStrategy(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	err, callErr := supervise.Call(ctx, c.regUnit, func(r *registry.Registry) error {
		return r.Resume(id)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// AdjustWeight overwrites an active strategy's weight.
func (c *Controller) AdjustWeight(id string, w float64) error {
	return c.regUnit.Send(func(r *registry.Registry) { r.AdjustWeight(id, w) })
}

// UpdatePerformance merges a performance snapshot into a strategy's entry.
// It satisfies the perf package's updater contract.
func (c *Controller) UpdatePerformance(id string, upd registry.PerformanceUpdate) {
	_ = c.regUnit.Send(func(r *registry.Registry) { r.UpdatePerformance(id, upd) })
}

// Strategies returns a snapshot of the registry.
func (c *Controller) Strategies() (map[string]registry.Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return supervise.Call(ctx, c.regUnit, func(r *registry.Registry) map[string]registry.Entry {
		return r.Snapshot()
	})
}

// Positions returns a copy of the open position table.
func (c *Controller) Positions() (map[string]broker.Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return supervise.Call(ctx, c.orcUnit, func(o *Orchestrator) map[string]broker.Position {
		return o.Positions()
	})
}

// History returns the bounded order history, oldest first.
func (c *Controller) History() ([]broker.PlacedOrder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return supervise.Call(ctx, c.orcUnit, func(o *Orchestrator) []broker.PlacedOrder {
		return o.History()
	})
}

// registrySource adapts the registry unit to the orchestrator's
// SignalSource. Calls from the orchestrator's handler suspend only that
// unit; the registry keeps its own sequential inbox.
type registrySource struct {
	unit *supervise.Unit[*registry.Registry]
}

func (s *registrySource) CollectSignals(t market.Tick) map[string]signal.Signal {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	out, err := supervise.Call(ctx, s.unit, func(r *registry.Registry) map[string]signal.Signal {
		return r.CollectSignals(t)
	})
	if err != nil {
		return nil
	}
	return out
}

func (s *registrySource) Snapshot() map[string]registry.Entry {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	out, err := supervise.Call(ctx, s.unit, func(r *registry.Registry) map[string]registry.Entry {
		return r.Snapshot()
	})
	if err != nil {
		return nil
	}
	return out
}
