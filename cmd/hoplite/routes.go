package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rsesek/hoplite/bootstrap"
	"github.com/rsesek/hoplite/config"
	"github.com/rsesek/hoplite/domain/route"
	"github.com/rsesek/hoplite/domain/web"
)

var routesJSON bool

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the route table",
	Long: `Show the route table: configured routes followed by the default
routes of the built-in modules, in the order they are matched.

Examples:
  hoplite routes
  hoplite routes --json
  hoplite routes match notes/12`,
	RunE: runRoutesList,
}

var routesMatchCmd = &cobra.Command{
	Use:   "match <url>",
	Short: "Show which action handles a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutesMatch,
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.AddCommand(routesMatchCmd)

	routesCmd.PersistentFlags().BoolVar(&routesJSON, "json", false, "output as JSON")
}

func loadRoutes() (*config.Config, *route.Map, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	rt, err := bootstrap.NewModuleRuntime(modules(), zerolog.Nop())
	if err != nil {
		return nil, nil, err
	}
	m, err := route.New(rt.Routes(cfg.Routes)...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, m, nil
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	_, m, err := loadRoutes()
	if err != nil {
		return err
	}
	rules := m.Rules()
	out := cmd.OutOrStdout()

	if routesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	if len(rules) == 0 {
		fmt.Fprintln(out, "No routes configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tKIND\tTARGET\tACTION")
	for _, r := range rules {
		pattern := r.Pattern
		if pattern == "" {
			pattern = "(root)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pattern, route.KindOf(r.Pattern), r.Target, route.ActionName(r.Target))
	}
	return w.Flush()
}

func runRoutesMatch(cmd *cobra.Command, args []string) error {
	cfg, m, err := loadRoutes()
	if err != nil {
		return err
	}

	url := args[0]
	if cfg.Server.MountPoint != "" {
		url = strings.TrimPrefix(url, cfg.Server.MountPoint)
	}
	req := web.NewRequest(strings.TrimLeft(url, "/"))

	target, ok := m.Evaluate(req)
	if !ok {
		return fmt.Errorf("no route matches %q", req.URL)
	}

	out := cmd.OutOrStdout()
	if routesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"url":    req.URL,
			"target": target,
			"action": route.ActionName(target),
			"params": req.Data,
		})
	}

	fmt.Fprintf(out, "Target: %s\n", target)
	fmt.Fprintf(out, "Action: %s\n", route.ActionName(target))
	keys := make([]string, 0, len(req.Data))
	for k := range req.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %v\n", k, req.Data[k])
	}
	return nil
}
