package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/adapters/clock"
	"github.com/quotagate/quotagate/adapters/sqlite"
	"github.com/quotagate/quotagate/app"
	"github.com/quotagate/quotagate/config"
)

var usageDays int

var usageCmd = &cobra.Command{
	Use:   "usage <user-id>",
	Short: "Inspect a user's recorded usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "sqlite" {
			return fmt.Errorf("usage inspection requires the sqlite ledger")
		}

		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		store := sqlite.NewLedgerStore(db)
		reports := app.NewReports(store, store, clock.Real{})

		report, err := reports.UsageSummary(cmd.Context(), args[0], usageDays)
		if err != nil {
			return err
		}

		s := report.Summary
		fmt.Printf("Usage for %s (%s to %s)\n", args[0],
			s.PeriodStart.Format("2006-01-02"), s.PeriodEnd.Format("2006-01-02"))
		fmt.Printf("  Requests: %d\n", s.RequestCount)
		fmt.Printf("  Tokens: %d in / %d out\n", s.TokensIn, s.TokensOut)
		fmt.Printf("  Cost: $%.4f\n", s.CostUSD)
		fmt.Printf("  Avg latency: %dms\n", s.AvgLatencyMs)

		if len(s.ByFeature) > 0 {
			fmt.Println("\nBy feature:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  FEATURE\tREQUESTS\tTOKENS\tCOST")
			for name, b := range s.ByFeature {
				fmt.Fprintf(w, "  %s\t%d\t%d\t$%.4f\n", name, b.Requests, b.Tokens, b.CostUSD)
			}
			w.Flush()
		}

		if len(report.Daily) > 0 {
			fmt.Println("\nDaily:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "  DAY\tREQUESTS\tTOKENS IN\tTOKENS OUT\tCOST")
			for _, d := range report.Daily {
				fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t$%.4f\n",
					d.Day.Format("2006-01-02"), d.Requests, d.TokensIn, d.TokensOut, d.CostUSD)
			}
			w.Flush()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().IntVar(&usageDays, "days", 30, "period length in days")
}
