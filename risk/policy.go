package risk

// Policy carries the sizing thresholds. Zero values are replaced by
// DefaultPolicy at construction; the controller never mutates a Policy after
// startup.
type Policy struct {
	// Sell-side clamps, as fractions of the available base balance.
	SellSoftCap float64 // 0.50
	SellHardCap float64 // 0.95

	// Buy-side bounds, as fractions of the available quote balance.
	BuyNotionalCap  float64 // 0.30
	BuyBalanceUsage float64 // 0.90
	BuyMinBalance   float64 // 0.10 of the requested notional

	// Limit-buy price band relative to the reference price.
	LimitBuyBand  float64 // 1.01
	LimitBuyClamp float64 // 1.005
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SellSoftCap:     0.50,
		SellHardCap:     0.95,
		BuyNotionalCap:  0.30,
		BuyBalanceUsage: 0.90,
		BuyMinBalance:   0.10,
		LimitBuyBand:    1.01,
		LimitBuyClamp:   1.005,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SellSoftCap <= 0 {
		p.SellSoftCap = d.SellSoftCap
	}
	if p.SellHardCap <= 0 {
		p.SellHardCap = d.SellHardCap
	}
	if p.BuyNotionalCap <= 0 {
		p.BuyNotionalCap = d.BuyNotionalCap
	}
	if p.BuyBalanceUsage <= 0 {
		p.BuyBalanceUsage = d.BuyBalanceUsage
	}
	if p.BuyMinBalance <= 0 {
		p.BuyMinBalance = d.BuyMinBalance
	}
	if p.LimitBuyBand <= 0 {
		p.LimitBuyBand = d.LimitBuyBand
	}
	if p.LimitBuyClamp <= 0 {
		p.LimitBuyClamp = d.LimitBuyClamp
	}
	return p
}
