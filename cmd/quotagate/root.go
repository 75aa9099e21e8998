package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotagate",
	Short: "Quota and rate limiting engine for LLM workloads",
	Long: `Quotagate gates expensive generation calls behind per-tier quotas.

It enforces a per-minute rate limit through a token bucket admission
cache and daily request and token budgets through a durable usage
ledger, and exposes both over a JSON API.

Quick start:
  quotagate serve     # Start the quota server

Management:
  quotagate tiers     # Show configured tier limits
  quotagate usage     # Inspect a user's recorded usage
  quotagate rollup    # Aggregate a closed day into daily stats
  quotagate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "quotagate.yaml", "config file path")
}
