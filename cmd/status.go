package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/licita-cli/internal/ingest"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/monitoring"
)

var statusLookback int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingest and document pipeline health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "status")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback := statusLookback
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackHours
		}

		collector := monitoring.NewCollector(ingest.NewRunLog(st.Pool()), st)
		snap, err := collector.Collect(ctx, lookback)
		if err != nil {
			return err
		}
		formatStatus(os.Stdout, snap, monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap))
		return nil
	},
}

func formatStatus(w io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "INGEST (last %dh)\t\n", snap.LookbackHours)
	fmt.Fprintf(tw, "  windows\t%d\n", snap.IngestTotal)
	fmt.Fprintf(tw, "  complete\t%d\n", snap.IngestComplete)
	fmt.Fprintf(tw, "  failed\t%d\n", snap.IngestFailed)
	fmt.Fprintf(tw, "  running\t%d\n", snap.IngestRunning)
	fmt.Fprintf(tw, "  created\t%d\n", snap.IngestCreated)
	fmt.Fprintf(tw, "  record errors\t%d\n", snap.RecordErrors)
	fmt.Fprintf(tw, "  failure rate\t%.1f%%\n", snap.IngestFailRate*100)

	fmt.Fprintln(tw, "DOCUMENTS\t")
	statuses := make([]model.DocumentStatus, 0, len(snap.Documents))
	for s := range snap.Documents {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, s := range statuses {
		fmt.Fprintf(tw, "  %s\t%d\n", s, snap.Documents[s])
	}
	fmt.Fprintf(tw, "  backlog\t%d\n", snap.DocumentBacklog)
	fmt.Fprintf(tw, "  failure rate\t%.1f%%\n", snap.DocFailRate*100)
	tw.Flush() //nolint:errcheck

	if len(alerts) == 0 {
		fmt.Fprintln(w, "\nNo alerts.")
		return
	}
	fmt.Fprintln(w, "\nALERTS")
	for _, a := range alerts {
		fmt.Fprintf(w, "  [%s] %s\n", a.Severity, a.Message)
	}
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback-hours", 0, "window for ingest counts (default monitoring.lookback_hours)")
	rootCmd.AddCommand(statusCmd)
}
