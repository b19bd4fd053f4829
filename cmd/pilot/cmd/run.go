package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/broker/sim"
	"github.com/rustyeddy/pilot/config"
	"github.com/rustyeddy/pilot/feed"
	"github.com/rustyeddy/pilot/internal/logx"
	"github.com/rustyeddy/pilot/internal/metrics"
	"github.com/rustyeddy/pilot/journal"
	"github.com/rustyeddy/pilot/market"
	"github.com/rustyeddy/pilot/orchestrator"
	"github.com/rustyeddy/pilot/perf"
	"github.com/rustyeddy/pilot/registry"
	"github.com/rustyeddy/pilot/resolve"
	"github.com/rustyeddy/pilot/strategies"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading controller",
	Long: `Run the controller with the strategies from the config file.

Orders are executed against the paper-trading exchange. The market data
source is either the live websocket feed or a synthetic random walk,
depending on feed.provider.

Example:
  pilot run -f configs/pilot.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := logx.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := metrics.Serve(cfg.Metrics.Addr)
	defer srv.Close()

	exchange := sim.NewExchange(broker.Balances(cfg.Account.Balances))

	var sinks broker.Sinks
	if cfg.Journal.DBPath != "" {
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		sinks = append(sinks, journal.NewSink(j))
	}
	tracker := perf.NewTracker(nil)
	sinks = append(sinks, tracker)

	ticks := make(chan market.Tick, 256)
	var md broker.MarketDataPort = exchange
	if cfg.Feed.Provider == "websocket" {
		f := feed.New(cfg.Feed.URL, log)
		md = f
		go func() {
			if err := f.Run(ctx, ticks); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("feed stopped")
			}
		}()
	} else {
		go simTicks(ctx, cfg, ticks)
	}

	ctrl := orchestrator.NewController(orchestrator.Config{
		Mode:            resolve.Mode(cfg.Controller.Mode),
		AnalyzeInterval: cfg.Controller.AnalyzeInterval.Std(),
		OrderNotional:   cfg.Controller.OrderNotional,
		CloseBuffer:     cfg.Controller.CloseBuffer,
	}, log, cfg.Policy(), func() *registry.Registry {
		return registry.New(log, cfg.Controller.MaxActive, true)
	}, orchestrator.Deps{Exec: exchange, MD: md, Perf: sinks})

	ctrl.Run(ctx)
	defer ctrl.Shutdown()
	tracker.SetUpdater(ctrl)

	for _, sc := range cfg.Strategies {
		s, err := strategies.New(sc)
		if err != nil {
			return err
		}
		if err := ctrl.AddStrategy(s, sc.Weight); err != nil {
			return fmt.Errorf("add strategy %q: %w", sc.Name, err)
		}
		log.Info().Str("strategy", s.Name()).Str("type", sc.Type).Msg("strategy deployed")
	}

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("provider", cfg.Feed.Provider).Msg("controller running")

	for {
		select {
		case <-ctx.Done():
			ctrl.Stop()
			log.Info().Msg("shutting down")
			return nil
		case t := <-ticks:
			exchange.UpdatePrice(t)
			if err := ctrl.OnTick(ctx, t); err != nil {
				log.Warn().Err(err).Msg("tick dropped")
			}
		}
	}
}

// simTicks emits a synthetic random walk for every configured instrument.
func simTicks(ctx context.Context, cfg *config.Config, out chan<- market.Tick) {
	prices := make(map[string]float64)
	for _, sc := range cfg.Strategies {
		prices[sc.Instrument] = 100
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-ticker.C:
			step++
			for sym := range prices {
				// Deterministic drifting wave, good enough for paper runs.
				drift := 0.1
				if step%40 >= 20 {
					drift = -0.1
				}
				prices[sym] += drift
				t := market.Tick{Symbol: sym, Price: prices[sym], Size: 1, Time: ts}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
