package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		fmt.Println("Configuration valid")
		fmt.Printf("  Database: %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
		fmt.Printf("  Redis: enabled=%v\n", cfg.Redis.Enabled)
		fmt.Printf("  Tiers: %d configured (plus built-in defaults)\n", len(cfg.Tiers))
		fmt.Printf("  Fail open: %v\n", cfg.Quota.FailOpen)
		fmt.Printf("  Hot-reloadable: %s\n", strings.Join(config.ReloadableFields(), ", "))
		fmt.Printf("  Restart required: %s\n", strings.Join(config.NonReloadableFields(), ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
