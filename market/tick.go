package market

import (
	"errors"
	"sync"
	"time"
)

// Tick is a single trade print for one instrument. Price is the last trade
// price; Bid/Ask are optional and fall back to Price when the venue does not
// publish a book.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Bid    float64
	Ask    float64
	Time   time.Time
}

// BestBid returns the bid, falling back to the last price.
func (t Tick) BestBid() float64 {
	if t.Bid > 0 {
		return t.Bid
	}
	return t.Price
}

// BestAsk returns the ask, falling back to the last price.
func (t Tick) BestAsk() float64 {
	if t.Ask > 0 {
		return t.Ask
	}
	return t.Price
}

// TickStore keeps the most recent tick per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, errors.New("price not found")
	}
	return t, nil
}
