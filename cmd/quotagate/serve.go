package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota server",
	Long: `Start the quotagate server.

The server will:
  - Load configuration from quotagate.yaml (or --config)
  - Open the usage ledger database and run migrations
  - Connect to Redis for distributed buckets (if enabled)
  - Serve the quota API and Prometheus metrics

Environment variables (for Docker deployments):
  QUOTAGATE_DATABASE_DSN   - Ledger database path (default: quotagate.db)
  QUOTAGATE_SERVER_PORT    - Server port (default: 8080)
  QUOTAGATE_REDIS_URL      - Redis URL (enables distributed buckets)
  QUOTAGATE_LOG_LEVEL      - Log level: debug, info, warn, error

Examples:
  quotagate serve
  quotagate serve --config /etc/quotagate/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
