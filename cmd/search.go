package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/licita-cli/internal/model"
)

var (
	searchOpportunity string
	searchK           int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed document chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var oppID *uuid.UUID
		if searchOpportunity != "" {
			id, err := parseID("opportunity", searchOpportunity)
			if err != nil {
				return err
			}
			oppID = &id
		}

		env, err := initEnv(ctx, "search", envNeeds{Retrieval: true})
		if err != nil {
			return err
		}
		defer env.Close()

		k := searchK
		if k <= 0 {
			k = cfg.Analysis.SearchTopK
		}
		chunks, err := env.Retriever.Search(ctx, strings.Join(args, " "), oppID, k)
		if err != nil {
			return eris.Wrap(err, "search")
		}
		if len(chunks) == 0 {
			fmt.Fprintln(os.Stderr, "No matching chunks.")
			return nil
		}
		formatChunks(os.Stdout, chunks)
		return nil
	},
}

func formatChunks(w io.Writer, chunks []model.ScoredChunk) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTANCE\tFILE\tPAGE\tCONTENT")
	for _, c := range chunks {
		fmt.Fprintf(tw, "%.4f\t%s\t%d\t%s\n", c.Distance, c.FileName, c.PageNumber, truncateCell(c.Content, 100))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	searchCmd.Flags().StringVar(&searchOpportunity, "opportunity", "", "restrict the search to one opportunity")
	searchCmd.Flags().IntVar(&searchK, "k", 0, "number of chunks (default analysis.search_top_k)")
	rootCmd.AddCommand(searchCmd)
}
