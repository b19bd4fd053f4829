// Package sim provides an in-memory exchange used by tests and the backtest
// harness. Market orders fill instantly at the last known price; limit
// orders fill at their limit price.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/internal/id"
	"github.com/rustyeddy/pilot/market"
)

// Exchange implements broker.ExecutionPort and broker.MarketDataPort against
// an in-memory balance sheet and price store.
type Exchange struct {
	mu       sync.Mutex
	balances broker.Balances
	prices   *market.TickStore
	orders   []broker.PlacedOrder
	subs     map[string]int // symbol -> subscribe count

	// FailNext forces the next PlaceOrder to fail; FailBalances forces
	// AccountBalances to fail. Both are test hooks.
	FailNext     error
	FailBalances error
}

func NewExchange(balances broker.Balances) *Exchange {
	b := make(broker.Balances, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Exchange{
		balances: b,
		prices:   market.NewTickStore(),
		subs:     make(map[string]int),
	}
}

// UpdatePrice records a tick as the latest market state.
func (e *Exchange) UpdatePrice(t market.Tick) {
	e.prices.Set(t)
}

func (e *Exchange) PlaceOrder(ctx context.Context, intent broker.OrderIntent) (broker.PlacedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.FailNext != nil {
		err := e.FailNext
		e.FailNext = nil
		return broker.PlacedOrder{}, err
	}

	price := intent.Price
	if price <= 0 {
		tick, err := e.prices.Get(intent.Symbol)
		if err != nil {
			return broker.PlacedOrder{}, fmt.Errorf("place order %s: %w", intent.Symbol, err)
		}
		price = tick.Price
	}
	if price <= 0 {
		return broker.PlacedOrder{}, fmt.Errorf("place order %s: no price", intent.Symbol)
	}

	base, quote := market.Split(intent.Symbol)
	if base == "" {
		return broker.PlacedOrder{}, fmt.Errorf("place order: bad symbol %q", intent.Symbol)
	}

	notional := intent.Size * price
	switch intent.Side {
	case broker.Buy:
		if e.balances[quote] < notional {
			return broker.PlacedOrder{}, fmt.Errorf("place order %s: insufficient %s", intent.Symbol, quote)
		}
		e.balances[quote] -= notional
		e.balances[base] += intent.Size
	case broker.Sell:
		if e.balances[base] < intent.Size {
			return broker.PlacedOrder{}, fmt.Errorf("place order %s: insufficient %s", intent.Symbol, base)
		}
		e.balances[base] -= intent.Size
		e.balances[quote] += notional
	default:
		return broker.PlacedOrder{}, fmt.Errorf("place order: bad side %q", intent.Side)
	}

	filled := intent
	filled.Price = price
	order := broker.PlacedOrder{
		OrderIntent: filled,
		ID:          id.New(),
		Filled:      true,
		FillTime:    time.Now().UTC(),
	}
	e.orders = append(e.orders, order)
	return order, nil
}

func (e *Exchange) AccountBalances(ctx context.Context) (broker.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailBalances != nil {
		return nil, e.FailBalances
	}
	out := make(broker.Balances, len(e.balances))
	for k, v := range e.balances {
		out[k] = v
	}
	return out, nil
}

// Orders returns every accepted order in placement sequence.
func (e *Exchange) Orders() []broker.PlacedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]broker.PlacedOrder(nil), e.orders...)
}

func (e *Exchange) Subscribe(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[symbol]++
	return nil
}

func (e *Exchange) Unsubscribe(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs[symbol] > 0 {
		e.subs[symbol]--
	}
	return nil
}

func (e *Exchange) SubscribeAll() error   { return nil }
func (e *Exchange) UnsubscribeAll() error { return nil }

func (e *Exchange) HealthCheck(ctx context.Context) (broker.Health, error) {
	return broker.Health{Status: "healthy"}, nil
}

// SubCount reports net subscriptions for a symbol.
func (e *Exchange) SubCount(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subs[symbol]
}
