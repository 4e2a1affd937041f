package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsesek/hoplite/adapters/sqlstore"
	"github.com/rsesek/hoplite/config"
)

const (
	checkMark = "✓"
	crossMark = "✗"
)

var validateCheckDatabase bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the hoplite configuration file.

Checks:
  - YAML syntax is valid
  - Values are in range and routes compile
  - Database can be opened (optional)

Examples:
  hoplite validate
  hoplite validate --check-database --config /etc/hoplite/hoplite.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the database can be opened")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Listen: %s%s\n", checkMark, cfg.Server.Addr(), cfg.Server.MountPoint)
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Templates: %s (cache: %s)\n", checkMark, cfg.Templates.PathPattern, cfg.Templates.Cache.Mode)
	fmt.Fprintf(out, "  %s Routes configured: %d\n", checkMark, len(cfg.Routes))

	if validateCheckDatabase {
		db, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			fmt.Fprintf(out, "  %s Database reachable\n", crossMark)
			return err
		}
		defer db.Close()
		if err := db.PingContext(cmd.Context()); err != nil {
			fmt.Fprintf(out, "  %s Database reachable\n", crossMark)
			return fmt.Errorf("ping database: %w", err)
		}
		fmt.Fprintf(out, "  %s Database reachable\n", checkMark)
	}

	fmt.Fprintln(out, "\nConfiguration is valid.")
	return nil
}
