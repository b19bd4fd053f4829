package strategies

import (
	"fmt"

	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/signal"
)

// RSI is a mean-reversion strategy on Wilder's relative strength index.
// It enters long when RSI crosses up out of the oversold zone, enters short
// when RSI crosses down out of the overbought zone, and exits when RSI
// returns through the midline.
type RSI struct {
	name       string
	instrument string
	period     int
	oversold   float64
	overbought float64

	lastPrice float64
	avgGain   float64
	avgLoss   float64
	samples   int
	lastRSI   float64
	haveRSI   bool

	inLong  bool
	inShort bool
}

func NewRSI(cfg Config) *RSI {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	name := cfg.Name
	if name == "" {
		name = "rsi-" + cfg.Instrument
	}
	return &RSI{
		name:       name,
		instrument: cfg.Instrument,
		period:     cfg.Period,
		oversold:   cfg.Oversold,
		overbought: cfg.Overbought,
	}
}

func (s *RSI) Name() string          { return s.name }
func (s *RSI) Instruments() []string { return []string{s.instrument} }

func (s *RSI) ProcessTick(t market.Tick) (*signal.Signal, error) {
	if t.Symbol != s.instrument || t.Price <= 0 {
		return nil, nil
	}

	if s.lastPrice == 0 {
		s.lastPrice = t.Price
		return nil, nil
	}

	change := t.Price - s.lastPrice
	s.lastPrice = t.Price

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	// Wilder smoothing after an initial simple average.
	s.samples++
	if s.samples <= s.period {
		s.avgGain += gain / float64(s.period)
		s.avgLoss += loss / float64(s.period)
		if s.samples < s.period {
			return nil, nil
		}
	} else {
		n := float64(s.period)
		s.avgGain = (s.avgGain*(n-1) + gain) / n
		s.avgLoss = (s.avgLoss*(n-1) + loss) / n
	}

	rsi := s.value()
	prev, had := s.lastRSI, s.haveRSI
	s.lastRSI, s.haveRSI = rsi, true
	if !had {
		return nil, nil
	}

	switch {
	case !s.inLong && !s.inShort && prev <= s.oversold && rsi > s.oversold:
		s.inLong = true
		return s.emit(t, signal.Entry, signal.Long, rsi), nil
	case !s.inLong && !s.inShort && prev >= s.overbought && rsi < s.overbought:
		s.inShort = true
		return s.emit(t, signal.Entry, signal.Short, rsi), nil
	case s.inLong && prev < 50 && rsi >= 50:
		s.inLong = false
		return s.emit(t, signal.Exit, signal.Long, rsi), nil
	case s.inShort && prev > 50 && rsi <= 50:
		s.inShort = false
		return s.emit(t, signal.Exit, signal.Short, rsi), nil
	}
	return nil, nil
}

func (s *RSI) value() float64 {
	if s.avgLoss == 0 {
		return 100
	}
	rs := s.avgGain / s.avgLoss
	return 100 - 100/(1+rs)
}

func (s *RSI) emit(t market.Tick, typ signal.Type, dir signal.Direction, rsi float64) *signal.Signal {
	conf := (50 - rsi) / 50
	if conf < 0 {
		conf = -conf
	}
	return &signal.Signal{
		Symbol:     t.Symbol,
		Type:       typ,
		Direction:  dir,
		Confidence: conf,
		Reason:     fmt.Sprintf("rsi=%.1f", rsi),
		Time:       t.Time,
	}
}
