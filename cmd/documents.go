package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/docpipeline"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Download, extract and index opportunity documents",
}

var documentsDownloadCmd = &cobra.Command{
	Use:   "download <opportunity-id>",
	Short: "Process every pending document of an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		oppID, err := parseID("opportunity", args[0])
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, "documents", envNeeds{Documents: true})
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Documents.DownloadOpportunity(ctx, oppID)
		if err != nil {
			return eris.Wrap(err, "documents download")
		}
		formatDocumentSummary(os.Stdout, summary)
		return nil
	},
}

var documentsProcessCmd = &cobra.Command{
	Use:   "process <document-id>...",
	Short: "Run download, extraction and embedding for documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids := make([]uuid.UUID, 0, len(args))
		for _, a := range args {
			id, err := parseID("document", a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		env, err := initEnv(ctx, "documents", envNeeds{Documents: true})
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Documents.ProcessAll(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "documents process")
		}
		formatDocumentSummary(os.Stdout, summary)
		return nil
	},
}

var (
	sweepLimit   int
	sweepEnqueue bool
)

var documentsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process or enqueue pending documents that have a URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "documents", envNeeds{Documents: true, Temporal: sweepEnqueue})
		if err != nil {
			return err
		}
		defer env.Close()

		if sweepEnqueue {
			id, err := env.Enqueuer().EnqueueSweep(ctx, sweepLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Enqueued sweep workflow %s\n", id)
			return nil
		}

		ids, err := env.Documents.PendingDocuments(ctx, sweepLimit)
		if err != nil {
			return err
		}
		zap.L().Info("processing pending documents", zap.Int("count", len(ids)))
		summary, err := env.Documents.ProcessAll(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "documents sweep")
		}
		formatDocumentSummary(os.Stdout, summary)
		return nil
	},
}

func formatDocumentSummary(w io.Writer, s *docpipeline.Summary) {
	outcomes := make([]string, 0, len(s.Outcomes))
	for o := range s.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tDOCUMENTS")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%d\n", o, s.Outcomes[docpipeline.Outcome(o)])
	}
	fmt.Fprintf(tw, "errors\t%d\n", s.Errors)
	tw.Flush() //nolint:errcheck
}

func parseID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, eris.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

func init() {
	documentsSweepCmd.Flags().IntVar(&sweepLimit, "limit", docpipeline.DefaultSweepLimit, "max documents per sweep")
	documentsSweepCmd.Flags().BoolVar(&sweepEnqueue, "enqueue", false, "start a sweep workflow instead of processing inline")

	documentsCmd.AddCommand(documentsDownloadCmd)
	documentsCmd.AddCommand(documentsProcessCmd)
	documentsCmd.AddCommand(documentsSweepCmd)
	rootCmd.AddCommand(documentsCmd)
}
