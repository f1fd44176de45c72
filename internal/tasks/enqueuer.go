package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/model"
)

// WorkflowStarter starts workflows. client.Client satisfies it.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Enqueuer starts workflows under deterministic IDs, so enqueueing the same
// work while it runs attaches to the running execution instead of starting
// a second one.
type Enqueuer struct {
	starter   WorkflowStarter
	taskQueue string
	now       func() time.Time
}

// NewEnqueuer creates an Enqueuer for taskQueue.
func NewEnqueuer(s WorkflowStarter, taskQueue string) *Enqueuer {
	return &Enqueuer{starter: s, taskQueue: taskQueue, now: time.Now}
}

// DocumentWorkflowID is the workflow ID for a document chain.
func DocumentWorkflowID(id uuid.UUID) string { return "document-" + id.String() }

// AnalysisWorkflowID is the workflow ID for an analysis run.
func AnalysisWorkflowID(id uuid.UUID, t model.AnalysisType) string {
	return fmt.Sprintf("analysis-%s-%s", id, t)
}

// MatchWorkflowID is the workflow ID for a matching run.
func MatchWorkflowID(opportunityID, clientID uuid.UUID) string {
	return fmt.Sprintf("match-%s-%s", opportunityID, clientID)
}

// EnqueueDocument starts the document chain.
func (e *Enqueuer) EnqueueDocument(ctx context.Context, id uuid.UUID) error {
	_, err := e.start(ctx, DocumentWorkflowID(id), DocumentWorkflow, DocumentInput{DocumentID: id})
	return err
}

// EnqueueAnalysis starts an analysis run and returns the workflow ID.
func (e *Enqueuer) EnqueueAnalysis(ctx context.Context, id uuid.UUID, t model.AnalysisType) (string, error) {
	return e.start(ctx, AnalysisWorkflowID(id, t), AnalysisWorkflow, AnalysisInput{OpportunityID: id, AnalysisType: t})
}

// EnqueueMatching starts a matching run and returns the workflow ID.
func (e *Enqueuer) EnqueueMatching(ctx context.Context, opportunityID, clientID uuid.UUID) (string, error) {
	return e.start(ctx, MatchWorkflowID(opportunityID, clientID), MatchingWorkflow,
		MatchInput{OpportunityID: opportunityID, ClientID: clientID})
}

// EnqueueIngest starts an ingest run. Runs are keyed by source and day.
func (e *Enqueuer) EnqueueIngest(ctx context.Context, in IngestInput) (string, error) {
	id := fmt.Sprintf("ingest-%s-%s", in.Source, e.now().UTC().Format("20060102-1504"))
	return e.start(ctx, id, IngestWorkflow, in)
}

// EnqueueSweep starts a pending-document sweep.
func (e *Enqueuer) EnqueueSweep(ctx context.Context, limit int) (string, error) {
	id := "download-pending-" + e.now().UTC().Format("20060102-1504")
	return e.start(ctx, id, DownloadPendingWorkflow, SweepInput{Limit: limit})
}

// EnqueueDeadlines starts a deadline check.
func (e *Enqueuer) EnqueueDeadlines(ctx context.Context, days int) (string, error) {
	id := "check-deadlines-" + e.now().UTC().Format("20060102")
	return e.start(ctx, id, DeadlineWorkflow, DeadlineInput{Days: days})
}

func (e *Enqueuer) start(ctx context.Context, id string, wf interface{}, arg interface{}) (string, error) {
	run, err := e.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: e.taskQueue,
	}, wf, arg)
	if err != nil {
		return "", eris.Wrapf(err, "tasks: start workflow %s", id)
	}
	zap.L().Debug("workflow enqueued", zap.String("workflow_id", run.GetID()), zap.String("run_id", run.GetRunID()))
	return run.GetID(), nil
}

var _ DocumentEnqueuer = (*Enqueuer)(nil)
