package registry

// calculateWeight derives an entry's raw weight from its performance
// snapshot: winRate x max(profitFactor, 1) x (1 - drawdown), clamped to
// [0.1, 1]. Entries with no recorded trades stay at the neutral default so
// a new strategy is neither starved nor favored.
func calculateWeight(p Performance) float64 {
	if p.Trades == 0 {
		return DefaultWeight
	}
	pf := p.ProfitFactor
	if pf < 1 {
		pf = 1
	}
	w := p.WinRate * pf * (1 - p.Drawdown)
	if w < 0.1 {
		return 0.1
	}
	if w > 1 {
		return 1
	}
	return w
}

// normalize recomputes the whole active set so active weights sum to 1 and
// non-active weights are 0. It is deterministic and idempotent, not an
// incremental update.
func (r *Registry) normalize() {
	if !r.autoWeights {
		for _, rec := range r.entries {
			if rec.Status != Active {
				rec.Weight = 0
			}
		}
		return
	}

	var sum float64
	var active []*record
	for _, rec := range r.entries {
		if rec.Status != Active {
			rec.Weight = 0
			continue
		}
		active = append(active, rec)
		sum += rec.Weight
	}
	if len(active) == 0 {
		return
	}
	if sum == 0 {
		equal := 1 / float64(len(active))
		for _, rec := range active {
			rec.Weight = equal
		}
		return
	}
	for _, rec := range active {
		rec.Weight /= sum
	}
}
