// Package tasks runs the pipeline as Temporal workflows: ingestion, the
// per-document download/extract/embed chain, pending sweeps, analysis with
// status revert, matching and deadline checks.
package tasks

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/licita-cli/internal/docpipeline"
	"github.com/sells-group/licita-cli/internal/model"
)

// ActivityTimeout bounds a single activity attempt.
const ActivityTimeout = 30 * time.Minute

// ErrTypePermanent tags application errors that must not be retried.
const ErrTypePermanent = "PermanentError"

// IngestInput starts an ingest run for one source.
type IngestInput struct {
	Source     model.Source `json:"source"`
	DaysBack   int          `json:"days_back"`
	UF         string       `json:"uf,omitempty"`
	Keyword    string       `json:"keyword,omitempty"`
	Modalities []int        `json:"modalities,omitempty"`
	MaxPages   int          `json:"max_pages,omitempty"`
	WindowDays int          `json:"window_days,omitempty"`
	SkipItems  bool         `json:"skip_items,omitempty"`
	SkipDocs   bool         `json:"skip_docs,omitempty"`
}

// IngestResult totals an ingest run.
type IngestResult struct {
	Fetched  int `json:"fetched"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Errors   int `json:"errors"`
	Enqueued int `json:"enqueued"`
}

// DocumentInput names one document.
type DocumentInput struct {
	DocumentID uuid.UUID `json:"document_id"`
}

// DocumentResult is where a document's chain stopped.
type DocumentResult struct {
	DocumentID uuid.UUID           `json:"document_id"`
	Outcome    docpipeline.Outcome `json:"outcome"`
	Embedded   int                 `json:"embedded"`
}

// SweepInput bounds a pending-document sweep.
type SweepInput struct {
	Limit int `json:"limit"`
}

// AnalysisInput selects the analysis stages for one opportunity.
type AnalysisInput struct {
	OpportunityID uuid.UUID          `json:"opportunity_id"`
	AnalysisType  model.AnalysisType `json:"analysis_type"`
}

// AnalysisStart is the status an opportunity had before analysis.
type AnalysisStart struct {
	Previous model.OpportunityStatus `json:"previous"`
	Found    bool                    `json:"found"`
}

// AnalysisResult reports an analysis run.
type AnalysisResult struct {
	OpportunityID uuid.UUID          `json:"opportunity_id"`
	AnalysisType  model.AnalysisType `json:"analysis_type"`
	Degraded      bool               `json:"degraded"`
	Skipped       bool               `json:"skipped"`
}

// MatchInput names an opportunity and client pair.
type MatchInput struct {
	OpportunityID uuid.UUID `json:"opportunity_id"`
	ClientID      uuid.UUID `json:"client_id"`
}

// MatchResult reports a matching run.
type MatchResult struct {
	Score   int  `json:"score"`
	Skipped bool `json:"skipped"`
}

// DeadlineInput sets the look-ahead of a deadline check.
type DeadlineInput struct {
	Days int `json:"days"`
}

// DefaultDeadlineDays is the deadline look-ahead.
const DefaultDeadlineDays = 3

func retryPolicy(attempts int32, initial time.Duration) *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        initial,
		BackoffCoefficient:     2.0,
		MaximumInterval:        10 * time.Minute,
		MaximumAttempts:        attempts,
		NonRetryableErrorTypes: []string{ErrTypePermanent},
	}
}

func withRetry(ctx workflow.Context, attempts int32, initial time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeout,
		RetryPolicy:         retryPolicy(attempts, initial),
	})
}
