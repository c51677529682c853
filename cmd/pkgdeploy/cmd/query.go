package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/pkgdeploy/internal/service/deployer"
)

// historyLimit caps how many runs are printed.
var historyLimit int

var (
	// listCmd prints the installed packages.
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List installed packages.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			packages, err := deployer.List(cmd.Context(), configPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tVERSION\tFILES\tINSTALLED AT")

			for _, p := range packages {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					p.ID().Name, p.ID().Version, len(p.Files), p.InstalledAt.Format(time.RFC3339))
			}

			return w.Flush()
		},
	}

	// historyCmd prints the recorded deployment runs.
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent deployment runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := deployer.History(cmd.Context(), configPath, historyLimit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RUN\tSTARTED AT\tSTATUS\tACTIONS\tINSTALLED\tDELETED\tERROR")

			for _, r := range runs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Status, len(r.Actions),
					r.Installed, r.Deleted, r.Error)
			}

			return w.Flush()
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}
