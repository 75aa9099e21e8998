package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/adapters/clock"
	"github.com/quotagate/quotagate/adapters/sqlite"
	"github.com/quotagate/quotagate/config"
	"github.com/quotagate/quotagate/domain/quota"
)

var rollupDay string

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Aggregate a closed day into daily stats",
	Long: `Fold one day's ledger rows into the daily aggregates table.

Defaults to yesterday (UTC). The server runs this nightly; the command
exists for backfills and for deployments without the scheduled job.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "sqlite" {
			return fmt.Errorf("rollup requires the sqlite ledger")
		}

		day := quota.DayStart(clock.Real{}.Now()).AddDate(0, 0, -1)
		if rollupDay != "" {
			day, err = time.ParseInLocation("2006-01-02", rollupDay, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid --day, want YYYY-MM-DD: %w", err)
			}
		}

		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		store := sqlite.NewLedgerStore(db)
		n, err := store.RollupDay(cmd.Context(), day)
		if err != nil {
			return err
		}
		fmt.Printf("Rolled up %s: %d user rows\n", day.Format("2006-01-02"), n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollupCmd)
	rollupCmd.Flags().StringVar(&rollupDay, "day", "", "UTC day to roll up (YYYY-MM-DD)")
}
