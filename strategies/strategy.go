// Package strategies holds the decision units the controller runs. A
// strategy is an opaque capability: given a tick it may emit one signal.
package strategies

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/signal"
)

// Strategy is the minimal capability the registry holds. ProcessTick may
// fail; the caller treats a failure as "no signal" for that tick.
type Strategy interface {
	Name() string
	Instruments() []string
	ProcessTick(t market.Tick) (*signal.Signal, error)
}

// Config is one strategy's explicit configuration. Instrument is required;
// there is no fallback symbol lookup.
type Config struct {
	Name       string  `yaml:"name"`
	Type       string  `yaml:"type"`
	Instrument string  `yaml:"instrument"`
	Weight     float64 `yaml:"weight"`

	// RSI knobs
	Period     int     `yaml:"period"`
	Oversold   float64 `yaml:"oversold"`
	Overbought float64 `yaml:"overbought"`

	// Scalper knobs
	BurstPct    float64 `yaml:"burst_pct"`
	WindowTicks int     `yaml:"window_ticks"`
}

// New builds a strategy for the given type.
func New(cfg Config) (Strategy, error) {
	if strings.TrimSpace(cfg.Instrument) == "" {
		return nil, fmt.Errorf("strategy %q: instrument is required", cfg.Name)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "rsi":
		return NewRSI(cfg), nil
	case "scalper", "scalp":
		return NewScalper(cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q (supported: rsi, scalper)", cfg.Type)
	}
}
