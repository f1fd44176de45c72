package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/model"
)

var (
	matchClient     string
	matchAllClients bool
	matchEnqueue    bool
)

var matchCmd = &cobra.Command{
	Use:   "match <opportunity-id>",
	Short: "Score clients against an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		oppID, err := parseID("opportunity", args[0])
		if err != nil {
			return err
		}
		if matchClient == "" && !matchAllClients {
			return eris.New("match: --client or --all-clients is required")
		}

		env, err := initEnv(ctx, "match", envNeeds{Analysis: !matchEnqueue, Temporal: matchEnqueue})
		if err != nil {
			return err
		}
		defer env.Close()

		clientIDs, err := matchClientIDs(ctx, env.Store, matchClient, matchAllClients)
		if err != nil {
			return err
		}

		if matchEnqueue {
			enq := env.Enqueuer()
			for _, cid := range clientIDs {
				id, err := enq.EnqueueMatching(ctx, oppID, cid)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "Enqueued matching workflow %s\n", id)
			}
			return nil
		}

		var results []*model.Match
		for _, cid := range clientIDs {
			m, err := env.Analysis.Match(ctx, oppID, cid)
			if err != nil {
				zap.L().Error("match failed", zap.String("client_id", cid.String()), zap.Error(err))
				continue
			}
			results = append(results, m)
		}
		formatMatches(os.Stdout, results)
		return nil
	},
}

type clientLister interface {
	ListClients(ctx context.Context, activeOnly bool) ([]model.Client, error)
}

func matchClientIDs(ctx context.Context, l clientLister, one string, all bool) ([]uuid.UUID, error) {
	if !all {
		id, err := parseID("client", one)
		if err != nil {
			return nil, err
		}
		return []uuid.UUID{id}, nil
	}
	clients, err := l.ListClients(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "match: list clients")
	}
	ids := make([]uuid.UUID, len(clients))
	for i, c := range clients {
		ids[i] = c.ID
	}
	return ids, nil
}

func formatMatches(w io.Writer, matches []*model.Match) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT\tSCORE\tMISSING DOCS\tJUSTIFICATION")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			m.ClientID, m.Score, strings.Join(m.MissingDocs, "; "), truncateCell(m.Justification, 80))
	}
	tw.Flush() //nolint:errcheck
}

func truncateCell(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	matchCmd.Flags().StringVar(&matchClient, "client", "", "client id to score")
	matchCmd.Flags().BoolVar(&matchAllClients, "all-clients", false, "score every active client")
	matchCmd.Flags().BoolVar(&matchEnqueue, "enqueue", false, "start matching workflows instead of running inline")
	rootCmd.AddCommand(matchCmd)
}
