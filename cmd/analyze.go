package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/analysis"
	"github.com/sells-group/licita-cli/internal/model"
)

var (
	analyzeType    string
	analyzeEnqueue bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <opportunity-id>",
	Short: "Run LLM extraction and summary for an opportunity",
	Long:  "Runs the analysis selected by --type (full, summary, checklist or risks) against the opportunity's indexed documents. The opportunity is marked analyzing while it runs and restored if the analysis fails.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		oppID, err := parseID("opportunity", args[0])
		if err != nil {
			return err
		}
		t, ok := model.ParseAnalysisType(analyzeType)
		if !ok {
			return eris.Errorf("analyze: unknown type %q", analyzeType)
		}

		if analyzeEnqueue {
			env, err := initEnv(ctx, "analyze", envNeeds{Temporal: true})
			if err != nil {
				return err
			}
			defer env.Close()
			id, err := env.Enqueuer().EnqueueAnalysis(ctx, oppID, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Enqueued analysis workflow %s\n", id)
			return nil
		}

		env, err := initEnv(ctx, "analyze", envNeeds{Analysis: true, Retrieval: true})
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := runAnalysis(ctx, env.Analysis, oppID, t)
		if err != nil {
			return err
		}
		return writeAnalysis(os.Stdout, res)
	},
}

// analyzer is the part of analysis.Service runAnalysis drives.
type analyzer interface {
	BeginAnalysis(ctx context.Context, opportunityID uuid.UUID) (model.OpportunityStatus, error)
	Run(ctx context.Context, opportunityID uuid.UUID, analysisType model.AnalysisType) (*analysis.Result, error)
	Revert(ctx context.Context, opportunityID uuid.UUID, prev model.OpportunityStatus) (bool, error)
}

// runAnalysis mirrors AnalysisWorkflow without retries: begin, run, and
// revert the status on failure.
func runAnalysis(ctx context.Context, a analyzer, oppID uuid.UUID, t model.AnalysisType) (*analysis.Result, error) {
	prev, err := a.BeginAnalysis(ctx, oppID)
	if err != nil {
		return nil, eris.Wrap(err, "analyze")
	}

	res, err := a.Run(ctx, oppID, t)
	if err != nil {
		if _, rerr := a.Revert(ctx, oppID, prev); rerr != nil {
			zap.L().Error("revert status failed", zap.String("opportunity_id", oppID.String()), zap.Error(rerr))
		}
		return nil, eris.Wrapf(err, "analyze %s", t)
	}
	if res.Degraded {
		zap.L().Warn("llm answer was not valid json; stored raw response", zap.String("opportunity_id", oppID.String()))
	}
	return res, nil
}

func writeAnalysis(w io.Writer, res *analysis.Result) error {
	out := map[string]any{
		"opportunity_id": res.OpportunityID,
		"analysis_type":  res.AnalysisType,
		"degraded":       res.Degraded,
	}
	if res.Extraction != nil {
		out["extraction"] = res.Extraction.Content
	}
	if res.Summary != nil {
		out["summary"] = res.Summary.Content
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeType, "type", string(model.AnalysisFull), "analysis type: full, summary, checklist or risks")
	analyzeCmd.Flags().BoolVar(&analyzeEnqueue, "enqueue", false, "start an analysis workflow instead of running inline")
	rootCmd.AddCommand(analyzeCmd)
}
