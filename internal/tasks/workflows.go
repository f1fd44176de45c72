package tasks

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/licita-cli/internal/docpipeline"
)

// activities resolves activity names in workflow code. It is never
// dereferenced.
var activities *Activities

// IngestWorkflow ingests one source.
func IngestWorkflow(ctx workflow.Context, in IngestInput) (*IngestResult, error) {
	var res IngestResult
	err := workflow.ExecuteActivity(withRetry(ctx, 3, 2*time.Minute), activities.IngestSource, in).Get(ctx, &res)
	if err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("ingest finished",
		"source", string(in.Source), "fetched", res.Fetched, "created", res.Created, "enqueued", res.Enqueued)
	return &res, nil
}

// DocumentWorkflow chains download, extraction and embedding for one
// document. Each stage only runs when the one before handed it work.
func DocumentWorkflow(ctx workflow.Context, in DocumentInput) (*DocumentResult, error) {
	res := &DocumentResult{DocumentID: in.DocumentID}

	if err := workflow.ExecuteActivity(withRetry(ctx, 3, 30*time.Second), activities.DownloadDocument, in.DocumentID).Get(ctx, &res.Outcome); err != nil {
		return nil, err
	}
	if !docpipeline.ReadyToExtract(res.Outcome) {
		return res, nil
	}

	if err := workflow.ExecuteActivity(withRetry(ctx, 2, 30*time.Second), activities.ExtractDocument, in.DocumentID).Get(ctx, &res.Outcome); err != nil {
		return nil, err
	}
	if res.Outcome != docpipeline.OutcomeIndexed {
		return res, nil
	}

	if err := workflow.ExecuteActivity(withRetry(ctx, 2, time.Minute), activities.EmbedDocument, in.DocumentID).Get(ctx, &res.Embedded); err != nil {
		return nil, err
	}
	return res, nil
}

// DownloadPendingWorkflow sweeps pending documents into document workflows.
func DownloadPendingWorkflow(ctx workflow.Context, in SweepInput) (int, error) {
	var n int
	err := workflow.ExecuteActivity(withRetry(ctx, 3, 30*time.Second), activities.SweepPending, in.Limit).Get(ctx, &n)
	return n, err
}

// AnalysisWorkflow marks the opportunity analyzing, runs the analysis and,
// once its retries are exhausted, reverts the status it had before.
func AnalysisWorkflow(ctx workflow.Context, in AnalysisInput) (*AnalysisResult, error) {
	logger := workflow.GetLogger(ctx)

	var start AnalysisStart
	if err := workflow.ExecuteActivity(withRetry(ctx, 3, 5*time.Second), activities.BeginAnalysis, in.OpportunityID).Get(ctx, &start); err != nil {
		return nil, err
	}
	if !start.Found {
		return &AnalysisResult{OpportunityID: in.OpportunityID, AnalysisType: in.AnalysisType, Skipped: true}, nil
	}

	var res AnalysisResult
	err := workflow.ExecuteActivity(withRetry(ctx, 3, time.Minute), activities.RunAnalysis, in).Get(ctx, &res)
	if err != nil {
		logger.Error("analysis failed, reverting status",
			"opportunity_id", in.OpportunityID.String(), "previous", string(start.Previous), "error", err)
		if rerr := workflow.ExecuteActivity(withRetry(ctx, 3, 5*time.Second), activities.RevertAnalysis, in.OpportunityID, start.Previous).Get(ctx, nil); rerr != nil {
			logger.Error("revert failed", "opportunity_id", in.OpportunityID.String(), "error", rerr)
		}
		return nil, err
	}
	return &res, nil
}

// MatchingWorkflow scores one client against one opportunity.
func MatchingWorkflow(ctx workflow.Context, in MatchInput) (*MatchResult, error) {
	var res MatchResult
	if err := workflow.ExecuteActivity(withRetry(ctx, 3, time.Minute), activities.MatchClient, in).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeadlineWorkflow logs opportunities closing soon.
func DeadlineWorkflow(ctx workflow.Context, in DeadlineInput) (int, error) {
	var n int
	err := workflow.ExecuteActivity(withRetry(ctx, 3, 30*time.Second), activities.CheckDeadlines, in.Days).Get(ctx, &n)
	return n, err
}

// Registrar is the registration surface of a Temporal worker.
type Registrar interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// Register adds every workflow and the activities to r.
func Register(r Registrar, acts *Activities) {
	r.RegisterWorkflow(IngestWorkflow)
	r.RegisterWorkflow(DocumentWorkflow)
	r.RegisterWorkflow(DownloadPendingWorkflow)
	r.RegisterWorkflow(AnalysisWorkflow)
	r.RegisterWorkflow(MatchingWorkflow)
	r.RegisterWorkflow(DeadlineWorkflow)
	r.RegisterActivity(acts)
}
