package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "A multi-strategy trading controller",
	Long: `Pilot runs a weighted portfolio of trading strategies behind a single
controller. It provides tools for:
  - Running the live controller against a market data feed
  - Replaying recorded tick data through the full trading stack
  - Querying the trade journal
  - Performance-weighted strategy allocation with conflict resolution
  - Risk-bounded order sizing`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

var cfgPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to config file (YAML)")
}
