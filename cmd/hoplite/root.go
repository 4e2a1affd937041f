package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rsesek/hoplite/bootstrap"
	"github.com/rsesek/hoplite/modules/notes"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "hoplite",
	Short: "Small web framework with routing, REST actions and compiled templates",
	Long: `Hoplite maps request URLs to actions, runs them and renders the
result as HTML through compiled templates, or as JSON or XML.

Quick start:
  hoplite serve            # Start the server
  hoplite routes           # Show the route table
  hoplite routes match /x  # Show which action handles a URL
  hoplite compile          # Fill the template cache ahead of time
  hoplite validate         # Check the configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if _, err := os.Stat(envFile); err != nil {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "hoplite.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of environment variables loaded before the config")
}

// modules returns the modules built into the binary.
func modules() []bootstrap.Module {
	return []bootstrap.Module{notes.New()}
}
