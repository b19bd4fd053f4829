package strategies

import (
	"fmt"

	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/signal"
)

// Scalper chases short price bursts: when the move across the last
// WindowTicks ticks exceeds BurstPct it enters with the move, and exits as
// soon as the burst fades below half the threshold.
type Scalper struct {
	name       string
	instrument string
	burstPct   float64
	window     int

	prices []float64
	open   signal.Direction // "" when flat
}

func NewScalper(cfg Config) *Scalper {
	if cfg.BurstPct <= 0 {
		cfg.BurstPct = 0.004
	}
	if cfg.WindowTicks <= 1 {
		cfg.WindowTicks = 10
	}
	name := cfg.Name
	if name == "" {
		name = "scalper-" + cfg.Instrument
	}
	return &Scalper{
		name:       name,
		instrument: cfg.Instrument,
		burstPct:   cfg.BurstPct,
		window:     cfg.WindowTicks,
	}
}

func (s *Scalper) Name() string          { return s.name }
func (s *Scalper) Instruments() []string { return []string{s.instrument} }

func (s *Scalper) ProcessTick(t market.Tick) (*signal.Signal, error) {
	if t.Symbol != s.instrument || t.Price <= 0 {
		return nil, nil
	}

	s.prices = append(s.prices, t.Price)
	if len(s.prices) > s.window {
		s.prices = s.prices[len(s.prices)-s.window:]
	}
	if len(s.prices) < s.window {
		return nil, nil
	}

	oldest := s.prices[0]
	move := (t.Price - oldest) / oldest

	if s.open == "" {
		switch {
		case move >= s.burstPct:
			s.open = signal.Long
			return s.emit(t, signal.Entry, signal.Long, move), nil
		case move <= -s.burstPct:
			s.open = signal.Short
			return s.emit(t, signal.Entry, signal.Short, move), nil
		}
		return nil, nil
	}

	faded := move < s.burstPct/2 && move > -s.burstPct/2
	if faded {
		dir := s.open
		s.open = ""
		return s.emit(t, signal.Exit, dir, move), nil
	}
	return nil, nil
}

func (s *Scalper) emit(t market.Tick, typ signal.Type, dir signal.Direction, move float64) *signal.Signal {
	conf := move / s.burstPct
	if conf < 0 {
		conf = -conf
	}
	if conf > 1 {
		conf = 1
	}
	return &signal.Signal{
		Symbol:     t.Symbol,
		Type:       typ,
		Direction:  dir,
		Confidence: conf,
		Reason:     fmt.Sprintf("burst=%.3f%%", move*100),
		Time:       t.Time,
	}
}
