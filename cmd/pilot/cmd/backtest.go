package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/pilot/backtest"
	"github.com/rustyeddy/pilot/broker"
	"github.com/rustyeddy/pilot/config"
	"github.com/rustyeddy/pilot/internal/logx"
	"github.com/rustyeddy/pilot/journal"
	"github.com/rustyeddy/pilot/resolve"
	"github.com/rustyeddy/pilot/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay recorded ticks through the trading stack",
	Long: `Backtest replays tick CSV data (time,symbol,price,size[,bid,ask])
through the configured strategies, the conflict resolver, and the sizer,
executing against the simulated exchange.

Example:
  pilot backtest -f configs/pilot.yaml --ticks data/btcusd.csv`,
	RunE: runBacktest,
}

var (
	btTicksPath string
	btDBPath    string
	btFrom      string
	btTo        string
	btCloseEnd  bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btTicksPath, "ticks", "t", "", "path to tick CSV (time,symbol,price,size[,bid,ask]) (required)")
	backtestCmd.Flags().StringVarP(&btDBPath, "db", "d", "", "journal the replayed trades to this SQLite DB")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "only replay ticks at or after this RFC3339 time")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "only replay ticks before this RFC3339 time")
	backtestCmd.Flags().BoolVar(&btCloseEnd, "close-end", true, "close all open positions at end of replay")

	backtestCmd.MarkFlagRequired("ticks")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if len(cfg.Strategies) == 0 {
		return fmt.Errorf("config has no strategies to backtest")
	}
	log := logx.New(cfg.LogLevel)

	from, to, err := parseRange(btFrom, btTo)
	if err != nil {
		return err
	}

	feed, err := backtest.NewCSVTickFeed(btTicksPath, from, to)
	if err != nil {
		return fmt.Errorf("open ticks: %w", err)
	}

	strats := make([]strategies.Strategy, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		s, err := strategies.New(sc)
		if err != nil {
			return err
		}
		strats = append(strats, s)
	}

	var extra []broker.PerformanceSink
	if btDBPath != "" {
		j, err := journal.NewSQLite(btDBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer j.Close()
		extra = append(extra, journal.NewSink(j))
	}

	runner := &backtest.Runner{
		Feed:       feed,
		Strategies: strats,
		Options: backtest.Options{
			Mode:          resolve.Mode(cfg.Controller.Mode),
			OrderNotional: cfg.Controller.OrderNotional,
			Policy:        cfg.Policy(),
			Balances:      broker.Balances(cfg.Account.Balances),
			MaxActive:     cfg.Controller.MaxActive,
			CloseEnd:      btCloseEnd,
		},
		Extra: extra,
		Log:   log,
	}

	res, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}
	printResult(cmd, res)
	return nil
}

func parseRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return from, to, fmt.Errorf("bad --from: %w", err)
		}
	}
	if toStr != "" {
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			return from, to, fmt.Errorf("bad --to: %w", err)
		}
	}
	return from, to, nil
}

func printResult(cmd *cobra.Command, res backtest.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "==================================================")
	fmt.Fprintln(out, " Backtest Result")
	fmt.Fprintln(out, "==================================================")
	if !res.Start.IsZero() {
		fmt.Fprintf(out, "Start:         %s\n", res.Start.Format(time.RFC3339))
		fmt.Fprintf(out, "End:           %s\n", res.End.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Trades:        %d\n", res.Trades)
	fmt.Fprintf(out, "Wins:          %d\n", res.Wins)
	fmt.Fprintf(out, "Losses:        %d\n", res.Losses)
	fmt.Fprintf(out, "Win Rate:      %.2f%%\n", res.WinRate()*100)
	fmt.Fprintf(out, "Net P/L:       %.2f\n", res.NetPnL)
	fmt.Fprintf(out, "Open at End:   %d\n", res.OpenPositions)
	for asset, amount := range res.FinalBalances {
		fmt.Fprintf(out, "Balance %-6s %.4f\n", asset+":", amount)
	}
}
