// Package journal persists closed trades for later review. It is a
// reporting sink only; the controller never reads state back from it.
package journal

import (
	"time"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/internal/id"
	"github.com/rustyeddy/pilot/market"
)

// TradeRecord is one realized trade.
type TradeRecord struct {
	ID         string
	StrategyID string
	Symbol     string
	Direction  string
	Size       float64
	Price      float64
	PnL        float64
	Reason     string
	ClosedAt   time.Time
}

// Journal stores trade records.
type Journal interface {
	RecordTrade(t TradeRecord) error
	RecentTrades(limit int) ([]TradeRecord, error)
	Close() error
}

// Sink adapts a Journal to broker.PerformanceSink.
type Sink struct {
	j Journal
}

func NewSink(j Journal) *Sink { return &Sink{j: j} }

func (s *Sink) OnPrice(t market.Tick)            {}
func (s *Sink) TradeOpened(ev broker.TradeEvent) {}

func (s *Sink) TradeClosed(ev broker.TradeEvent) {
	// Best effort; a journal failure never touches the trading path.
	_ = s.j.RecordTrade(TradeRecord{
		ID:         id.New(),
		StrategyID: ev.StrategyID,
		Symbol:     ev.Symbol,
		Direction:  string(ev.Direction),
		Size:       ev.Size,
		Price:      ev.Price,
		PnL:        ev.PnL,
		Reason:     ev.Reason,
		ClosedAt:   ev.Time,
	})
}
