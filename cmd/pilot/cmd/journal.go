package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/pilot/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade records from the SQLite journal.

Example:
  pilot journal recent -n 20 --db ./pilot.sqlite`,
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently closed trades",
	Args:  cobra.NoArgs,
	RunE:  runJournalRecent,
}

var (
	journalDBPath string
	journalLimit  int
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRecentCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./pilot.sqlite", "path to SQLite journal DB")
	journalRecentCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "maximum trades to show")
}

func runJournalRecent(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	trades, err := j.RecentTrades(journalLimit)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(trades) == 0 {
		fmt.Fprintln(out, "no trades recorded")
		return nil
	}

	fmt.Fprintf(out, "%-28s %-20s %-10s %-6s %12s %12s %12s  %s\n",
		"CLOSED", "STRATEGY", "SYMBOL", "DIR", "SIZE", "PRICE", "PNL", "REASON")
	for _, tr := range trades {
		fmt.Fprintf(out, "%-28s %-20s %-10s %-6s %12.4f %12.4f %12.2f  %s\n",
			tr.ClosedAt.Format(time.RFC3339), tr.StrategyID, tr.Symbol, tr.Direction,
			tr.Size, tr.Price, tr.PnL, tr.Reason)
	}
	return nil
}
