// Package resolve reconciles simultaneous, possibly contradictory signals
// from multiple strategies on the same instrument.
package resolve

import (
	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/signal"
)

// Mode selects the arbitration rule for conflicted groups.
type Mode string

const (
	// PerformanceWeighted sums registry weights per side; the heavier side
	// wins.
	PerformanceWeighted Mode = "performance_weighted"
	// RiskAdjusted lets exit signals through a conflict unconditionally;
	// entries only win when no exits are present.
	RiskAdjusted Mode = "risk_adjusted"
	// Consensus counts members per side; weights break count ties.
	Consensus Mode = "consensus"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case PerformanceWeighted, RiskAdjusted, Consensus:
		return true
	}
	return false
}

type candidate struct {
	id     string
	sig    signal.Signal
	weight float64
}

// bullish classifies a signal by the exposure it pushes toward: entering
// long and closing short both press the market from the same side.
func bullish(s signal.Signal) bool {
	if s.Type == signal.Entry {
		return s.Direction == signal.Long
	}
	return s.Direction == signal.Short
}

// Resolve reduces one tick's signals to at most one winning side per
// instrument. Losing signals are dropped entirely; there is no partial
// order or merge. A pure function over its inputs.
func Resolve(signals map[string]signal.Signal, snap map[string]registry.Entry, mode Mode) map[string]signal.Signal {
	groups := make(map[string][]candidate)
	for id, sig := range signals {
		entry, ok := snap[id]
		if !ok || entry.Status != registry.Active {
			continue
		}
		if sig.Symbol == "" || !declares(entry, sig.Symbol) {
			continue
		}
		groups[sig.Symbol] = append(groups[sig.Symbol], candidate{id: id, sig: sig, weight: entry.Weight})
	}

	out := make(map[string]signal.Signal)
	for _, group := range groups {
		for _, c := range resolveGroup(group, mode) {
			out[c.id] = c.sig
		}
	}
	return out
}

// conflicted reports whether a group of candidates holds both sides.
func conflicted(group []candidate) bool {
	if len(group) <= 1 {
		return false
	}
	first := bullish(group[0].sig)
	for _, c := range group[1:] {
		if bullish(c.sig) != first {
			return true
		}
	}
	return false
}

func resolveGroup(group []candidate, mode Mode) []candidate {
	if !conflicted(group) {
		return group
	}

	switch mode {
	case RiskAdjusted:
		exits := filter(group, func(c candidate) bool { return c.sig.Type == signal.Exit })
		if len(exits) > 0 {
			return exits
		}
		return byWeight(group)
	case Consensus:
		bulls := filter(group, func(c candidate) bool { return bullish(c.sig) })
		bears := filter(group, func(c candidate) bool { return !bullish(c.sig) })
		switch {
		case len(bulls) > len(bears):
			return bulls
		case len(bears) > len(bulls):
			return bears
		default:
			return byWeight(group)
		}
	default: // PerformanceWeighted
		return byWeight(group)
	}
}

// byWeight sums weights per side and keeps the strictly heavier one. An
// exact tie resolves to nothing: dropping both sides is deterministic and
// favors neither direction.
func byWeight(group []candidate) []candidate {
	var bullWeight, bearWeight float64
	for _, c := range group {
		if bullish(c.sig) {
			bullWeight += c.weight
		} else {
			bearWeight += c.weight
		}
	}
	switch {
	case bullWeight > bearWeight:
		return filter(group, func(c candidate) bool { return bullish(c.sig) })
	case bearWeight > bullWeight:
		return filter(group, func(c candidate) bool { return !bullish(c.sig) })
	default:
		return nil
	}
}

func filter(group []candidate, keep func(candidate) bool) []candidate {
	var out []candidate
	for _, c := range group {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func declares(e registry.Entry, symbol string) bool {
	for _, s := range e.Instruments {
		if s == symbol {
			return true
		}
	}
	return false
}
