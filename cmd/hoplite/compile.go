package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rsesek/hoplite/bootstrap"
	"github.com/rsesek/hoplite/config"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile every template into the cache",
	Long: `Compile every template found under the template directory, and the
templates shipped by modules, into the configured cache backend.

A warm cache spares the first requests after a deploy from compiling.

Examples:
  hoplite compile
  HOPLITE_CACHE_MODE=minio hoplite compile`,
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.NewWithConfig(bootstrap.Config{
		ConfigPath: cfgFile,
		Modules:    modules(),
		LogOutput:  io.Discard,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer app.Shutdown()

	if app.Config().Templates.Cache.Mode == config.CacheNone {
		fmt.Fprintln(cmd.OutOrStdout(), "Template cache is disabled; templates are only checked.")
	}

	names, err := app.Templates.Precompile(cmd.Context())
	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "  %s %s\n", checkMark, name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d templates compiled\n", len(names))
	return nil
}
