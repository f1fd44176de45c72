package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/tasks"
)

var deadlinesDays int

var deadlinesCmd = &cobra.Command{
	Use:   "deadlines",
	Short: "List open opportunities whose deadline is coming up",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "deadlines")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		upcoming, err := st.UpcomingDeadlines(ctx, time.Now().UTC(), time.Duration(deadlinesDays)*24*time.Hour)
		if err != nil {
			return err
		}
		if len(upcoming) == 0 {
			fmt.Fprintln(os.Stderr, "No deadlines in range.")
			return nil
		}
		formatDeadlines(os.Stdout, upcoming)
		return nil
	},
}

func formatDeadlines(w io.Writer, upcoming []model.UpcomingDeadline) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEADLINE\tSTATUS\tENTITY\tTITLE\tID")
	for _, u := range upcoming {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			u.Deadline.Format("2006-01-02 15:04"), u.Status, truncateCell(u.EntityName, 40), truncateCell(u.Title, 60), u.OpportunityID)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	deadlinesCmd.Flags().IntVar(&deadlinesDays, "days", tasks.DefaultDeadlineDays, "look-ahead in days")
	rootCmd.AddCommand(deadlinesCmd)
}
