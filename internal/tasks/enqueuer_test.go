package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"

	"github.com/sells-group/licita-cli/internal/model"
)

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-" + r.id }

type startCall struct {
	opts client.StartWorkflowOptions
	args []interface{}
}

type fakeStarter struct {
	err   error
	calls []startCall
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, startCall{opts: opts, args: args})
	return fakeRun{id: opts.ID}, nil
}

func newTestEnqueuer(s WorkflowStarter) *Enqueuer {
	e := NewEnqueuer(s, "licita")
	e.now = func() time.Time { return time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC) }
	return e
}

func TestEnqueuer_WorkflowIDs(t *testing.T) {
	ctx := context.Background()
	s := &fakeStarter{}
	e := newTestEnqueuer(s)
	opp, cl := uuid.New(), uuid.New()

	require.NoError(t, e.EnqueueDocument(ctx, opp))

	id, err := e.EnqueueAnalysis(ctx, opp, model.AnalysisFull)
	require.NoError(t, err)
	assert.Equal(t, "analysis-"+opp.String()+"-full", id)

	id, err = e.EnqueueMatching(ctx, opp, cl)
	require.NoError(t, err)
	assert.Equal(t, "match-"+opp.String()+"-"+cl.String(), id)

	id, err = e.EnqueueIngest(ctx, IngestInput{Source: model.SourceComprasGov, DaysBack: 1})
	require.NoError(t, err)
	assert.Equal(t, "ingest-compras_gov-20240305-0600", id)

	id, err = e.EnqueueSweep(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "download-pending-20240305-0600", id)

	id, err = e.EnqueueDeadlines(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "check-deadlines-20240305", id)

	require.Len(t, s.calls, 6)
	assert.Equal(t, DocumentWorkflowID(opp), s.calls[0].opts.ID)
	assert.Equal(t, []interface{}{DocumentInput{DocumentID: opp}}, s.calls[0].args)
	assert.Equal(t, []interface{}{SweepInput{Limit: 100}}, s.calls[4].args)
	for _, c := range s.calls {
		assert.Equal(t, "licita", c.opts.TaskQueue)
	}
}

func TestEnqueuer_StartError(t *testing.T) {
	e := newTestEnqueuer(&fakeStarter{err: errors.New("frontend unavailable")})

	_, err := e.EnqueueAnalysis(context.Background(), uuid.New(), model.AnalysisSummary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasks: start workflow analysis-")
	assert.Contains(t, err.Error(), "frontend unavailable")
}
