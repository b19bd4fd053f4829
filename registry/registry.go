// Package registry owns the set of registered strategies, their
// capital-allocation weights, and their lifecycle status.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/signal"
	"github.com/rustyeddy/pilot/strategies"
)

// ErrCapacityExceeded is returned when registering or resuming a strategy
// would push the active count over the configured maximum.
var ErrCapacityExceeded = errors.New("max active strategies reached")

// Status is a strategy's lifecycle state. Only active strategies receive
// ticks and carry weight.
type Status string

const (
	Active     Status = "active"
	Paused     Status = "paused"
	Backtest   Status = "backtest"
	Deprecated Status = "deprecated"
)

// Performance is a strategy's tracked results snapshot.
type Performance struct {
	WinRate      float64
	ProfitFactor float64
	Drawdown     float64 // fraction of peak equity given back
	Trades       int
	UpdatedAt    time.Time
}

// PerformanceUpdate merges non-nil fields into an entry's snapshot.
type PerformanceUpdate struct {
	WinRate      *float64
	ProfitFactor *float64
	Drawdown     *float64
	Trades       *int
}

// Entry is the registry's record for one strategy. Callers always receive
// copies; the live strategy capability never leaves the registry.
type Entry struct {
	ID          string
	Instruments []string
	Weight      float64
	Status      Status
	Performance Performance
	LastSignal  *signal.Signal
}

type record struct {
	Entry
	strategy strategies.Strategy
}

// Registry is a single-owner structure: it is driven from exactly one
// supervised unit and is not internally locked.
type Registry struct {
	log zerolog.Logger

	maxActive   int
	autoWeights bool

	entries map[string]*record
	active  int
}

// DefaultWeight is the neutral allocation a strategy starts with.
const DefaultWeight = 0.5

func New(log zerolog.Logger, maxActive int, autoWeights bool) *Registry {
	if maxActive <= 0 {
		maxActive = 10
	}
	return &Registry{
		log:         log.With().Str("component", "registry").Logger(),
		maxActive:   maxActive,
		autoWeights: autoWeights,
		entries:     make(map[string]*record),
	}
}

// Register inserts a new active entry for the strategy. The initial weight
// defaults to DefaultWeight when w <= 0.
func (r *Registry) Register(s strategies.Strategy, w float64) error {
	id := s.Name()
	// Registration always yields an active entry, so the cap applies
	// unless the id already holds an active slot.
	if rec, exists := r.entries[id]; (!exists || rec.Status != Active) && r.active >= r.maxActive {
		return fmt.Errorf("register %q: %w", id, ErrCapacityExceeded)
	}
	if w <= 0 {
		w = DefaultWeight
	}

	if old, exists := r.entries[id]; exists {
		if old.Status == Active {
			r.active--
		}
	}
	r.entries[id] = &record{
		Entry: Entry{
			ID:          id,
			Instruments: append([]string(nil), s.Instruments()...),
			Weight:      w,
			Status:      Active,
			Performance: Performance{UpdatedAt: time.Now().UTC()},
		},
		strategy: s,
	}
	r.active++
	r.normalize()
	r.log.Info().Str("strategy", id).Float64("weight", w).Msg("registered strategy")
	return nil
}

// Unregister removes a strategy. Unknown ids are a logged no-op.
func (r *Registry) Unregister(id string) {
	rec, ok := r.entries[id]
	if !ok {
		r.log.Warn().Str("strategy", id).Msg("unregister: unknown strategy")
		return
	}
	if rec.Status == Active {
		r.active--
	}
	delete(r.entries, id)
	r.normalize()
	r.log.Info().Str("strategy", id).Msg("unregistered strategy")
}

// UpdatePerformance merges the update into the entry's snapshot and, for
// active entries under auto-weighting, recomputes the weight.
func (r *Registry) UpdatePerformance(id string, upd PerformanceUpdate) {
	rec, ok := r.entries[id]
	if !ok {
		r.log.Warn().Str("strategy", id).Msg("update performance: unknown strategy")
		return
	}
	if upd.WinRate != nil {
		rec.Performance.WinRate = *upd.WinRate
	}
	if upd.ProfitFactor != nil {
		rec.Performance.ProfitFactor = *upd.ProfitFactor
	}
	if upd.Drawdown != nil {
		rec.Performance.Drawdown = *upd.Drawdown
	}
	if upd.Trades != nil {
		rec.Performance.Trades = *upd.Trades
	}
	rec.Performance.UpdatedAt = time.Now().UTC()

	if rec.Status == Active && r.autoWeights {
		rec.Weight = calculateWeight(rec.Performance)
	}
	r.normalize()
}

// AdjustWeight overwrites an active entry's weight. Unknown or non-active
// entries are a logged no-op.
func (r *Registry) AdjustWeight(id string, w float64) {
	rec, ok := r.entries[id]
	if !ok || rec.Status != Active {
		r.log.Warn().Str("strategy", id).Msg("adjust weight: unknown or inactive strategy")
		return
	}
	rec.Weight = w
	r.normalize()
}

// Pause sets an active entry aside: status paused, weight zero.
func (r *Registry) Pause(id string) {
	rec, ok := r.entries[id]
	if !ok || rec.Status != Active {
		return
	}
	rec.Status = Paused
	rec.Weight = 0
	r.active--
	r.normalize()
	r.log.Info().Str("strategy", id).Msg("paused strategy")
}

// Resume reactivates a non-active entry, recomputing its weight from the
// performance snapshot.
func (r *Registry) Resume(id string) error {
	rec, ok := r.entries[id]
	if !ok || rec.Status == Active {
		return nil
	}
	if r.active >= r.maxActive {
		return fmt.Errorf("resume %q: %w", id, ErrCapacityExceeded)
	}
	rec.Weight = calculateWeight(rec.Performance)
	rec.Status = Active
	r.active++
	r.normalize()
	r.log.Info().Str("strategy", id).Float64("weight", rec.Weight).Msg("resumed strategy")
	return nil
}

// ActiveCount reports the number of active entries.
func (r *Registry) ActiveCount() int { return r.active }

// Get returns a copy of one entry.
func (r *Registry) Get(id string) (Entry, bool) {
	rec, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return rec.copyEntry(), true
}

// Snapshot returns copies of all entries keyed by id.
func (r *Registry) Snapshot() map[string]Entry {
	out := make(map[string]Entry, len(r.entries))
	for id, rec := range r.entries {
		out[id] = rec.copyEntry()
	}
	return out
}

// Instruments returns every instrument an active strategy declares.
func (r *Registry) Instruments() []string {
	seen := map[string]bool{}
	var out []string
	for _, rec := range r.entries {
		if rec.Status != Active {
			continue
		}
		for _, sym := range rec.Instruments {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

// CollectSignals fans the tick out to every active strategy declaring the
// tick's symbol. A strategy failure is logged and treated as no signal.
func (r *Registry) CollectSignals(t market.Tick) map[string]signal.Signal {
	out := make(map[string]signal.Signal)
	for id, rec := range r.entries {
		if rec.Status != Active || !rec.declares(t.Symbol) {
			continue
		}
		sig, err := rec.strategy.ProcessTick(t)
		if err != nil {
			r.log.Warn().Err(err).Str("strategy", id).Msg("strategy failed on tick")
			continue
		}
		if sig == nil || !sig.Valid() {
			continue
		}
		cp := *sig
		rec.LastSignal = &cp
		out[id] = cp
	}
	return out
}

func (rec *record) declares(symbol string) bool {
	for _, s := range rec.Instruments {
		if s == symbol {
			return true
		}
	}
	return false
}

func (rec *record) copyEntry() Entry {
	e := rec.Entry
	e.Instruments = append([]string(nil), rec.Instruments...)
	if rec.LastSignal != nil {
		cp := *rec.LastSignal
		e.LastSignal = &cp
	}
	return e
}
