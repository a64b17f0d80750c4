package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"faultline/internal/run"

	"github.com/spf13/cobra"
)

func newCapturesCmd() *cobra.Command {
	var (
		runsDir string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "captures",
		Short: "List capture files of past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := run.ListCaptures(runsDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if list == nil {
					list = []run.CaptureInfo{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			if len(list) == 0 {
				fmt.Fprintf(out, "No captures in %s\n", runsDir)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tMODIFIED\tSIZE\tENGINE\tTRANSPORT\tTARGET\tPATH")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					c.RunID, c.Modified.Format(time.DateTime), c.Size, c.Engine, c.Transport, c.Target, c.Path)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&runsDir, "runs-dir", run.DefaultRunsDir, "directory for run artifacts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(newCapturesDeleteCmd())
	return cmd
}

func newCapturesDeleteCmd() *cobra.Command {
	var runsDir string
	cmd := &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Remove runs and their artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := run.NewManager(run.WithRunsDir(runsDir))
			for _, id := range args {
				if err := mgr.DeleteRun(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runsDir, "runs-dir", run.DefaultRunsDir, "directory for run artifacts")
	return cmd
}
