package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsesek/hoplite/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the hoplite HTTP server.

The server will:
  - Load configuration from hoplite.yaml (or --config)
  - Or load configuration from HOPLITE_* environment variables
  - Open the database and apply module migrations
  - Serve requests until SIGINT or SIGTERM

With a config file, routes and the log level are reloaded when the file
changes or on SIGHUP.

Environment variables (for container deployments):
  HOPLITE_SERVER_PORT      - Server port (default: 8080)
  HOPLITE_DATABASE_DSN     - Database path (default: hoplite.db)
  HOPLITE_TEMPLATES_DIR    - Template directory (default: templates)
  HOPLITE_CACHE_MODE       - Template cache: none, file or minio
  HOPLITE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  hoplite serve
  hoplite serve --config /etc/hoplite/hoplite.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Running with environment variables (no config file)")
	}

	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgFile,
		Modules:    modules(),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Blocks until shutdown
	return app.Run()
}
