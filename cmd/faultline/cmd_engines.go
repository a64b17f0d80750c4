package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/internal/engine"
	"faultline/internal/grammar"

	"github.com/spf13/cobra"
)

func newEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List engines, grammar templates and anomaly categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENGINE\tTHROTTLE\tDESCRIPTION")
			for _, kind := range config.EngineKinds {
				fmt.Fprintf(w, "%s\t%dms\t%s\n", kind, engine.DefaultThrottle(kind), engine.Describe(kind))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nGrammar templates: %s\n", strings.Join(grammar.Names(), ", "))
			cats := make([]string, len(anomaly.Categories))
			for i, c := range anomaly.Categories {
				cats[i] = string(c)
			}
			fmt.Fprintf(out, "Anomaly categories: %s\n", strings.Join(cats, ", "))

			if m, ok := engine.FindMutator(""); ok {
				fmt.Fprintf(out, "Mutator: %s\n", m.Path())
			} else {
				fmt.Fprintf(out, "Mutator: not found, mutation uses the built-in fallback (set %s)\n", engine.MutatorEnv)
			}
			return nil
		},
	}
}
