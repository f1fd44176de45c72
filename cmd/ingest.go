package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/connector"
	"github.com/sells-group/licita-cli/internal/ingest"
	"github.com/sells-group/licita-cli/internal/model"
)

var (
	ingestSource        string
	ingestDaysBack      int
	ingestUF            string
	ingestKeyword       string
	ingestAllModalities bool
	ingestModalities    []int
	ingestMaxPages      int
	ingestSkipItems     bool
	ingestSkipDocs      bool
	ingestWindow        int
	ingestEnqueueDocs   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch recent opportunities from a source",
	Long:  "Fetches the last --days-back days from PNCP, Compras.gov or both in --window day windows and stores new opportunities with their items and document references.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sources, err := ingestSources(ingestSource)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "ingest", envNeeds{Ingest: true, Temporal: ingestEnqueueDocs, Documents: ingestEnqueueDocs})
		if err != nil {
			return err
		}
		defer env.Close()

		from, to := connector.DaysBack(time.Now(), ingestDaysBack)
		opts := ingest.Options{
			Query: connector.Query{
				From:       from,
				To:         to,
				UF:         ingestUF,
				Keyword:    ingestKeyword,
				Modalities: resolveModalities(ingestAllModalities, ingestModalities),
				MaxPages:   ingestMaxPages,
			},
			WindowDays: ingestWindow,
			SkipItems:  ingestSkipItems,
			SkipDocs:   ingestSkipDocs,
		}
		if ingestEnqueueDocs {
			enq := env.Enqueuer()
			opts.OnCreated = func(ctx context.Context, opp *model.Opportunity) error {
				ids, err := env.Documents.OpportunityPending(ctx, opp.ID)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := enq.EnqueueDocument(ctx, id); err != nil {
						return err
					}
				}
				return nil
			}
		}

		var reports []*ingest.Report
		for _, src := range sources {
			c, err := env.Connector(src)
			if err != nil {
				return err
			}
			report, err := env.Ingest.Run(ctx, c, opts)
			if err != nil {
				return eris.Wrapf(err, "ingest %s", src)
			}
			reports = append(reports, report)
			zap.L().Info("ingest complete",
				zap.String("source", string(src)),
				zap.Int("fetched", report.Fetched),
				zap.Int("created", report.Created),
				zap.Int("existing", report.Existing),
				zap.Int("errors", report.Errors),
				zap.Duration("elapsed", report.Elapsed),
			)
		}

		formatIngestReports(os.Stdout, reports)
		return nil
	},
}

func ingestSources(name string) ([]model.Source, error) {
	switch name {
	case "", "all":
		return []model.Source{model.SourcePNCP, model.SourceComprasGov}, nil
	case string(model.SourcePNCP), string(model.SourceComprasGov):
		return []model.Source{model.Source(name)}, nil
	default:
		return nil, eris.Errorf("ingest: unknown source %q (want pncp, compras_gov or all)", name)
	}
}

// resolveModalities picks the PNCP modality codes to fetch. nil lets the
// connector use its defaults.
func resolveModalities(all bool, explicit []int) []int {
	if all {
		return connector.AllPNCPModalities
	}
	if len(explicit) > 0 {
		return explicit
	}
	return nil
}

func formatIngestReports(w io.Writer, reports []*ingest.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFETCHED\tCREATED\tEXISTING\tERRORS\tFAILED WINDOWS\tELAPSED")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Source, r.Fetched, r.Created, r.Existing, r.Errors, r.FailedWindows(), r.Elapsed.Round(time.Millisecond))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestSource, "source", "all", "source to ingest: pncp, compras_gov or all")
	f.IntVar(&ingestDaysBack, "days-back", 30, "days of history to fetch")
	f.StringVar(&ingestUF, "uf", "", "only fetch opportunities from this state (e.g. SP)")
	f.StringVar(&ingestKeyword, "keyword", "", "keep opportunities whose title or description contains this text")
	f.BoolVar(&ingestAllModalities, "all-modalities", false, "fetch every PNCP modality")
	f.IntSliceVar(&ingestModalities, "modalities", nil, "PNCP modality codes, e.g. 6,4,8")
	f.IntVar(&ingestMaxPages, "max-pages", 0, "max pages per modality (0 = no limit)")
	f.BoolVar(&ingestSkipItems, "skip-items", false, "do not fetch opportunity items")
	f.BoolVar(&ingestSkipDocs, "skip-docs", false, "do not fetch document references")
	f.IntVar(&ingestWindow, "window", 0, "split the range into windows of N days (0 = no split)")
	f.BoolVar(&ingestEnqueueDocs, "enqueue-docs", false, "start a document workflow for each new opportunity's documents")
	rootCmd.AddCommand(ingestCmd)
}
