package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/config"
	"github.com/quotagate/quotagate/domain/policy"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Show configured tier limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := policy.DefaultTable()
		if cfg, err := config.Load(cfgFile); err == nil {
			table = cfg.PolicyTable()
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIER\tREQ/MIN\tREQ/DAY\tTOKENS/DAY")
		for _, p := range table.Tiers() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", p.Tier, p.RequestsPerMinute, p.RequestsPerDay, p.TokensPerDay)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tiersCmd)
}
