package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "performance_weighted", cfg.Controller.Mode)
	assert.InDelta(t, 1000.0, cfg.Controller.OrderNotional, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Controller.AnalyzeInterval.Std())
	assert.Equal(t, 10, cfg.Controller.MaxActive)
	assert.Equal(t, "sim", cfg.Feed.Provider)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
controller:
  mode: consensus
  order_notional: 500
  analyze_interval: 1m
risk:
  sell_soft_cap: 0.4
strategies:
  - name: rsi-btc
    type: rsi
    instrument: BTC-USD
    period: 14
  - name: scalp-eth
    type: scalper
    instrument: ETH-USD
    burst_pct: 0.002
feed:
  provider: websocket
  url: wss://example.test/ws
journal:
  db_path: /tmp/trades.db
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "consensus", cfg.Controller.Mode)
	assert.InDelta(t, 500.0, cfg.Controller.OrderNotional, 1e-9)
	assert.Equal(t, time.Minute, cfg.Controller.AnalyzeInterval.Std())
	// Unset fields keep their defaults.
	assert.Equal(t, 10, cfg.Controller.MaxActive)

	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, "rsi-btc", cfg.Strategies[0].Name)
	assert.Equal(t, 14, cfg.Strategies[0].Period)

	assert.Equal(t, "websocket", cfg.Feed.Provider)
	assert.Equal(t, "wss://example.test/ws", cfg.Feed.URL)
	assert.Equal(t, "/tmp/trades.db", cfg.Journal.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)

	p := cfg.Policy()
	assert.InDelta(t, 0.4, p.SellSoftCap, 1e-9)
	assert.InDelta(t, 0.0, p.SellHardCap, 1e-9) // sizer fills this in
}

func TestDefault_MarshalRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(out), "analyze_interval: 30s")

	cfg, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Controller.AnalyzeInterval.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PILOT_MODE", "risk_adjusted")
	t.Setenv("PILOT_ORDER_NOTIONAL", "250")
	t.Setenv("PILOT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "risk_adjusted", cfg.Controller.Mode)
	assert.InDelta(t, 250.0, cfg.Controller.OrderNotional, 1e-9)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad mode", "controller:\n  mode: nonsense\n"},
		{"negative notional", "controller:\n  order_notional: -1\n"},
		{"bad provider", "feed:\n  provider: carrier-pigeon\n"},
		{"strategy without instrument", "strategies:\n  - name: x\n    type: rsi\n"},
		{"strategy without type", "strategies:\n  - name: x\n    instrument: BTC-USD\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
