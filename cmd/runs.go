package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/licita-cli/internal/ingest"
	"github.com/sells-group/licita-cli/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent ingest windows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "runs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		source, _ := cmd.Flags().GetString("source")

		log := ingest.NewRunLog(st.Pool())
		if source != "" {
			last, err := log.LastSuccess(ctx, model.Source(source))
			if err != nil {
				return eris.Wrap(err, "runs")
			}
			if last == nil {
				fmt.Fprintf(os.Stdout, "No completed runs for %s.\n", source)
			} else {
				fmt.Fprintf(os.Stdout, "%s is complete through %s\n", source, last.Format(time.DateOnly))
			}
		}

		runs, err := log.Recent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRuns(os.Stdout, runs)
		return nil
	},
}

func formatRuns(w io.Writer, runs []ingest.RunEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tWINDOW\tSTATUS\tFETCHED\tCREATED\tEXISTING\tERRORS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s..%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Source, r.WindowFrom.Format(time.DateOnly), r.WindowTo.Format(time.DateOnly),
			r.Status, r.Fetched, r.Created, r.Existing, r.Errors, r.StartedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max runs to show")
	runsCmd.Flags().String("source", "", "also show the last completed window for this source")
	rootCmd.AddCommand(runsCmd)
}
