// Package risk bounds order intents against available capital before they
// reach the execution port.
package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/market"
)

// Level grades an assessment for reporting. It never changes control flow
// beyond approved/rejected.
type Level int

const (
	Low Level = iota
	Medium
	High
	Extreme
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Extreme:
		return "EXTREME"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Assessment is the sizer's verdict on one intent. AdjustedSize and
// AdjustedPrice are nil when the intent passes unchanged.
type Assessment struct {
	Approved      bool
	AdjustedSize  *float64
	AdjustedPrice *float64
	Reason        string
	Level         Level
}

// Sizer evaluates intents against a policy. It is stateless and safe for
// concurrent use.
type Sizer struct {
	policy Policy
}

func NewSizer(p Policy) *Sizer {
	return &Sizer{policy: p.withDefaults()}
}

// Assess bounds an intent against the reference price and account balances.
// A sizer failure never panics; anything it cannot price is rejected.
func (s *Sizer) Assess(intent broker.OrderIntent, refPrice float64, balances broker.Balances) Assessment {
	price := intent.Price
	if price <= 0 {
		price = refPrice
	}
	if price <= 0 {
		return reject(Extreme, "no resolvable price")
	}
	if balances == nil {
		return reject(Extreme, "account balances unavailable")
	}
	if intent.Size <= 0 {
		return reject(Extreme, "non-positive size")
	}

	if intent.Side == broker.Sell {
		return s.assessSell(intent, balances)
	}
	return s.assessBuy(intent, price, refPrice, balances)
}

func (s *Sizer) assessSell(intent broker.OrderIntent, balances broker.Balances) Assessment {
	base := market.Base(intent.Symbol)
	held := balances[base]
	if held <= 0 {
		return reject(Extreme, fmt.Sprintf("no %s balance to sell", base))
	}

	if soft := held * s.policy.SellSoftCap; intent.Size > soft {
		return adjustSize(soft, Medium,
			fmt.Sprintf("size clamped to %.0f%% of %s balance", s.policy.SellSoftCap*100, base))
	}
	if hard := held * s.policy.SellHardCap; intent.Size > hard {
		return adjustSize(floor4(hard), High,
			fmt.Sprintf("size clamped to %.0f%% of %s balance", s.policy.SellHardCap*100, base))
	}
	return approve(Low)
}

func (s *Sizer) assessBuy(intent broker.OrderIntent, price, refPrice float64, balances broker.Balances) Assessment {
	if intent.Type == broker.Limit && refPrice > 0 && intent.Price > refPrice*s.policy.LimitBuyBand {
		clamped := round2(refPrice * s.policy.LimitBuyClamp)
		return adjustPrice(clamped, Medium, "limit price above band, clamped toward reference")
	}

	quote := balances[market.Quote(intent.Symbol)]
	notional := intent.Size * price

	if cap := quote * s.policy.BuyNotionalCap; notional > cap {
		return adjustSize(floor4(cap/price), Medium,
			fmt.Sprintf("notional clamped to %.0f%% of quote balance", s.policy.BuyNotionalCap*100))
	}
	if notional > quote {
		if quote < notional*s.policy.BuyMinBalance {
			return reject(Extreme, "insufficient quote balance")
		}
		return adjustSize(floor4(quote*s.policy.BuyBalanceUsage/price), High,
			fmt.Sprintf("size shrunk to %.0f%% of quote balance", s.policy.BuyBalanceUsage*100))
	}
	return approve(Low)
}

func approve(level Level) Assessment {
	return Assessment{Approved: true, Level: level}
}

func reject(level Level, reason string) Assessment {
	return Assessment{Approved: false, Level: level, Reason: reason}
}

func adjustSize(size float64, level Level, reason string) Assessment {
	return Assessment{Approved: true, AdjustedSize: &size, Level: level, Reason: reason}
}

func adjustPrice(price float64, level Level, reason string) Assessment {
	return Assessment{Approved: true, AdjustedPrice: &price, Level: level, Reason: reason}
}

// floor4 truncates to 4 decimal places, the venue's size granularity.
func floor4(v float64) float64 {
	return math.Floor(v*1e4) / 1e4
}

func round2(v float64) float64 {
	return math.Round(v*1e2) / 1e2
}
