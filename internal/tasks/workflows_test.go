package tasks

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/sells-group/licita-cli/internal/docpipeline"
	"github.com/sells-group/licita-cli/internal/model"
)

func newEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	acts := &Activities{}
	Register(env, acts)
	return env, acts
}

func TestDocumentWorkflow_FullChain(t *testing.T) {
	env, acts := newEnv(t)
	id := uuid.New()

	env.OnActivity(acts.DownloadDocument, mock.Anything, id).Return(docpipeline.OutcomeDownloaded, nil).Once()
	env.OnActivity(acts.ExtractDocument, mock.Anything, id).Return(docpipeline.OutcomeIndexed, nil).Once()
	env.OnActivity(acts.EmbedDocument, mock.Anything, id).Return(12, nil).Once()

	env.ExecuteWorkflow(DocumentWorkflow, DocumentInput{DocumentID: id})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res DocumentResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, docpipeline.OutcomeIndexed, res.Outcome)
	assert.Equal(t, 12, res.Embedded)
	env.AssertExpectations(t)
}

func TestDocumentWorkflow_DeduplicatedStillExtracts(t *testing.T) {
	env, acts := newEnv(t)
	id := uuid.New()

	env.OnActivity(acts.DownloadDocument, mock.Anything, id).Return(docpipeline.OutcomeDeduplicated, nil).Once()
	env.OnActivity(acts.ExtractDocument, mock.Anything, id).Return(docpipeline.OutcomeIndexed, nil).Once()
	env.OnActivity(acts.EmbedDocument, mock.Anything, id).Return(3, nil).Once()

	env.ExecuteWorkflow(DocumentWorkflow, DocumentInput{DocumentID: id})
	require.NoError(t, env.GetWorkflowError())

	var res DocumentResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, docpipeline.OutcomeIndexed, res.Outcome)
	assert.Equal(t, 3, res.Embedded)
	env.AssertExpectations(t)
}

func TestDocumentWorkflow_FailedDownloadStops(t *testing.T) {
	env, acts := newEnv(t)
	id := uuid.New()

	env.OnActivity(acts.DownloadDocument, mock.Anything, id).Return(docpipeline.OutcomeFailed, nil).Once()

	env.ExecuteWorkflow(DocumentWorkflow, DocumentInput{DocumentID: id})
	require.NoError(t, env.GetWorkflowError())

	var res DocumentResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, docpipeline.OutcomeFailed, res.Outcome)
}

func TestDocumentWorkflow_DownloadRetriedThreeTimes(t *testing.T) {
	env, acts := newEnv(t)
	id := uuid.New()

	env.OnActivity(acts.DownloadDocument, mock.Anything, id).
		Return(docpipeline.Outcome(""), errors.New("connection reset by peer")).Times(3)

	env.ExecuteWorkflow(DocumentWorkflow, DocumentInput{DocumentID: id})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestDocumentWorkflow_PermanentNotRetried(t *testing.T) {
	env, acts := newEnv(t)
	id := uuid.New()

	env.OnActivity(acts.DownloadDocument, mock.Anything, id).
		Return(docpipeline.Outcome(""), temporal.NewNonRetryableApplicationError("404", ErrTypePermanent, nil)).Once()

	env.ExecuteWorkflow(DocumentWorkflow, DocumentInput{DocumentID: id})
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestAnalysisWorkflow_Success(t *testing.T) {
	env, acts := newEnv(t)
	in := AnalysisInput{OpportunityID: uuid.New(), AnalysisType: model.AnalysisFull}

	env.OnActivity(acts.BeginAnalysis, mock.Anything, in.OpportunityID).
		Return(&AnalysisStart{Previous: model.StatusNew, Found: true}, nil).Once()
	env.OnActivity(acts.RunAnalysis, mock.Anything, in).
		Return(&AnalysisResult{OpportunityID: in.OpportunityID, AnalysisType: in.AnalysisType}, nil).Once()

	env.ExecuteWorkflow(AnalysisWorkflow, in)
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestAnalysisWorkflow_RevertsAfterRetries(t *testing.T) {
	env, acts := newEnv(t)
	in := AnalysisInput{OpportunityID: uuid.New(), AnalysisType: model.AnalysisChecklist}

	env.OnActivity(acts.BeginAnalysis, mock.Anything, in.OpportunityID).
		Return(&AnalysisStart{Previous: model.StatusNew, Found: true}, nil).Once()
	env.OnActivity(acts.RunAnalysis, mock.Anything, in).
		Return((*AnalysisResult)(nil), errors.New("llm 503")).Times(3)
	env.OnActivity(acts.RevertAnalysis, mock.Anything, in.OpportunityID, model.StatusNew).
		Return(nil).Once()

	env.ExecuteWorkflow(AnalysisWorkflow, in)
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestAnalysisWorkflow_MissingOpportunity(t *testing.T) {
	env, acts := newEnv(t)
	in := AnalysisInput{OpportunityID: uuid.New(), AnalysisType: model.AnalysisFull}

	env.OnActivity(acts.BeginAnalysis, mock.Anything, in.OpportunityID).Return(&AnalysisStart{}, nil).Once()

	env.ExecuteWorkflow(AnalysisWorkflow, in)
	require.NoError(t, env.GetWorkflowError())

	var res AnalysisResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.True(t, res.Skipped)
}

func TestMatchingWorkflow(t *testing.T) {
	env, acts := newEnv(t)
	in := MatchInput{OpportunityID: uuid.New(), ClientID: uuid.New()}

	env.OnActivity(acts.MatchClient, mock.Anything, in).Return(&MatchResult{Score: 72}, nil).Once()

	env.ExecuteWorkflow(MatchingWorkflow, in)
	require.NoError(t, env.GetWorkflowError())

	var res MatchResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, 72, res.Score)
}

func TestIngestAndSweepWorkflows(t *testing.T) {
	env, acts := newEnv(t)
	in := IngestInput{Source: model.SourcePNCP, DaysBack: 3}
	env.OnActivity(acts.IngestSource, mock.Anything, in).Return(&IngestResult{Fetched: 5, Created: 2}, nil).Once()

	env.ExecuteWorkflow(IngestWorkflow, in)
	require.NoError(t, env.GetWorkflowError())
	var res IngestResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, 2, res.Created)

	env2, acts2 := newEnv(t)
	env2.OnActivity(acts2.SweepPending, mock.Anything, 200).Return(7, nil).Once()
	env2.ExecuteWorkflow(DownloadPendingWorkflow, SweepInput{Limit: 200})
	require.NoError(t, env2.GetWorkflowError())
	var n int
	require.NoError(t, env2.GetWorkflowResult(&n))
	assert.Equal(t, 7, n)
}

func TestDeadlineWorkflow(t *testing.T) {
	env, acts := newEnv(t)
	env.OnActivity(acts.CheckDeadlines, mock.Anything, 3).Return(4, nil).Once()

	env.ExecuteWorkflow(DeadlineWorkflow, DeadlineInput{Days: 3})
	require.NoError(t, env.GetWorkflowError())
	var n int
	require.NoError(t, env.GetWorkflowResult(&n))
	assert.Equal(t, 4, n)
}
