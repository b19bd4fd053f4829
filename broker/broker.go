// Package broker defines the ports the trading controller drives and the
// order/position values that cross them.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/signal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
)

// OrderIntent is a placement request before sizing and execution.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Size       float64
	Price      float64 // 0 for market orders
	ReduceOnly bool
	TIF        TimeInForce
}

// PlacedOrder is an intent the execution port accepted.
type PlacedOrder struct {
	OrderIntent

	ID       string
	Filled   bool
	FillTime time.Time
}

// Position is one open exposure. The controller tracks at most one per
// symbol. StrategyID names the strategy whose entry signal opened it.
type Position struct {
	Symbol     string
	StrategyID string
	Direction  signal.Direction
	Size       float64
	EntryPrice float64
	OpenedAt   time.Time
}

// Balances maps asset code ("BTC", "USD") to free amount.
type Balances map[string]float64

// ExecutionPort places orders and reports account state.
type ExecutionPort interface {
	PlaceOrder(ctx context.Context, intent OrderIntent) (PlacedOrder, error)
	AccountBalances(ctx context.Context) (Balances, error)
}

// Health is the market-data supervisor's probe result.
type Health struct {
	Status string
	Issues []string
}

// MarketDataPort manages venue subscriptions for watched symbols.
type MarketDataPort interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	SubscribeAll() error
	UnsubscribeAll() error
	HealthCheck(ctx context.Context) (Health, error)
}

// ViabilityResult is the risk collaborator's verdict on one open position.
type ViabilityResult struct {
	Symbol      string
	Viable      bool
	ShouldClose bool
	Reason      string
	Direction   signal.Direction
	Size        float64
}

// RiskAnalyzer observes prices and fills and periodically judges open
// positions.
type RiskAnalyzer interface {
	OnPrice(t market.Tick)
	OnFill(o PlacedOrder)
	AnalyzeOpenPositions(ctx context.Context, positions map[string]Position) ([]ViabilityResult, error)
}

// TradeEvent describes an open/close of a controller-tracked position.
type TradeEvent struct {
	StrategyID string
	Symbol     string
	Direction  signal.Direction
	Size       float64
	Price      float64
	PnL        float64 // realized, close events only
	Reason     string
	Time       time.Time
}

// PerformanceSink consumes trade lifecycle events and price updates. It is
// purely a sink from the controller's perspective.
type PerformanceSink interface {
	OnPrice(t market.Tick)
	TradeOpened(ev TradeEvent)
	TradeClosed(ev TradeEvent)
}

// Sinks fans performance events out to several sinks.
type Sinks []PerformanceSink

func (s Sinks) OnPrice(t market.Tick) {
	for _, sink := range s {
		sink.OnPrice(t)
	}
}

func (s Sinks) TradeOpened(ev TradeEvent) {
	for _, sink := range s {
		sink.TradeOpened(ev)
	}
}

func (s Sinks) TradeClosed(ev TradeEvent) {
	for _, sink := range s {
		sink.TradeClosed(ev)
	}
}
