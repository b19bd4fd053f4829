package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/signal"
)

func entry(weight float64, symbols ...string) registry.Entry {
	return registry.Entry{Weight: weight, Status: registry.Active, Instruments: symbols}
}

func sig(symbol string, typ signal.Type, dir signal.Direction) signal.Signal {
	return signal.Signal{Symbol: symbol, Type: typ, Direction: dir}
}

func TestResolve_NoConflictPassesThrough(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"a": sig("BTC-USD", signal.Entry, signal.Long),
		"b": sig("BTC-USD", signal.Entry, signal.Long),
		"c": sig("ETH-USD", signal.Entry, signal.Short),
	}
	snap := map[string]registry.Entry{
		"a": entry(0.4, "BTC-USD"),
		"b": entry(0.3, "BTC-USD"),
		"c": entry(0.3, "ETH-USD"),
	}

	got := Resolve(signals, snap, PerformanceWeighted)
	assert.Len(t, got, 3)
}

func TestResolve_PerformanceWeighted(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"heavy": sig("BTC-USD", signal.Entry, signal.Long),
		"light": sig("BTC-USD", signal.Entry, signal.Short),
	}
	snap := map[string]registry.Entry{
		"heavy": entry(0.7, "BTC-USD"),
		"light": entry(0.3, "BTC-USD"),
	}

	got := Resolve(signals, snap, PerformanceWeighted)

	require.Len(t, got, 1)
	assert.Equal(t, signal.Long, got["heavy"].Direction)
}

func TestResolve_ExactTieDropsGroup(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"a": sig("BTC-USD", signal.Entry, signal.Long),
		"b": sig("BTC-USD", signal.Entry, signal.Short),
	}
	snap := map[string]registry.Entry{
		"a": entry(0.5, "BTC-USD"),
		"b": entry(0.5, "BTC-USD"),
	}

	got := Resolve(signals, snap, PerformanceWeighted)
	assert.Empty(t, got)
}

func TestResolve_ExitsClassifiedByClosedSide(t *testing.T) {
	t.Parallel()

	// Exit-short closes a short position (a buy), the same side pressure
	// as entering long: no conflict.
	signals := map[string]signal.Signal{
		"a": sig("BTC-USD", signal.Entry, signal.Long),
		"b": sig("BTC-USD", signal.Exit, signal.Short),
	}
	snap := map[string]registry.Entry{
		"a": entry(0.5, "BTC-USD"),
		"b": entry(0.5, "BTC-USD"),
	}

	got := Resolve(signals, snap, PerformanceWeighted)
	assert.Len(t, got, 2)
}

func TestResolve_RiskAdjustedExitsWin(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"entering": sig("BTC-USD", signal.Entry, signal.Long),
		"closing":  sig("BTC-USD", signal.Exit, signal.Long),
	}
	snap := map[string]registry.Entry{
		"entering": entry(0.9, "BTC-USD"),
		"closing":  entry(0.1, "BTC-USD"),
	}

	got := Resolve(signals, snap, RiskAdjusted)

	require.Len(t, got, 1)
	assert.Equal(t, signal.Exit, got["closing"].Type)
}

func TestResolve_RiskAdjustedFallsBackToWeights(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"heavy": sig("BTC-USD", signal.Entry, signal.Long),
		"light": sig("BTC-USD", signal.Entry, signal.Short),
	}
	snap := map[string]registry.Entry{
		"heavy": entry(0.6, "BTC-USD"),
		"light": entry(0.4, "BTC-USD"),
	}

	got := Resolve(signals, snap, RiskAdjusted)

	require.Len(t, got, 1)
	assert.Contains(t, got, "heavy")
}

func TestResolve_ConsensusCountsMembers(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"a": sig("BTC-USD", signal.Entry, signal.Long),
		"b": sig("BTC-USD", signal.Entry, signal.Long),
		"c": sig("BTC-USD", signal.Entry, signal.Short),
	}
	// The lone short carries far more weight, but consensus counts heads.
	snap := map[string]registry.Entry{
		"a": entry(0.1, "BTC-USD"),
		"b": entry(0.1, "BTC-USD"),
		"c": entry(0.8, "BTC-USD"),
	}

	got := Resolve(signals, snap, Consensus)

	require.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}

func TestResolve_ConsensusTieFallsBackToWeights(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"a": sig("BTC-USD", signal.Entry, signal.Long),
		"b": sig("BTC-USD", signal.Entry, signal.Short),
	}
	snap := map[string]registry.Entry{
		"a": entry(0.3, "BTC-USD"),
		"b": entry(0.7, "BTC-USD"),
	}

	got := Resolve(signals, snap, Consensus)

	require.Len(t, got, 1)
	assert.Contains(t, got, "b")
}

func TestResolve_DiscardsUnusableSignals(t *testing.T) {
	t.Parallel()

	signals := map[string]signal.Signal{
		"inactive":   sig("BTC-USD", signal.Entry, signal.Long),
		"unknown":    sig("BTC-USD", signal.Entry, signal.Long),
		"undeclared": sig("DOGE-USD", signal.Entry, signal.Long),
		"nosymbol":   {Type: signal.Entry, Direction: signal.Long},
	}
	paused := entry(0.5, "BTC-USD")
	paused.Status = registry.Paused
	snap := map[string]registry.Entry{
		"inactive":   paused,
		"undeclared": entry(0.5, "BTC-USD"),
		"nosymbol":   entry(0.5, "BTC-USD"),
	}

	got := Resolve(signals, snap, PerformanceWeighted)
	assert.Empty(t, got)
}

func TestMode_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, PerformanceWeighted.Valid())
	assert.True(t, RiskAdjusted.Valid())
	assert.True(t, Consensus.Valid())
	assert.False(t, Mode("majority").Valid())
}
