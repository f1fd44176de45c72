package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/analysis"
	"github.com/sells-group/licita-cli/internal/connector"
	"github.com/sells-group/licita-cli/internal/docpipeline"
	"github.com/sells-group/licita-cli/internal/embedding"
	"github.com/sells-group/licita-cli/internal/ingest"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/resilience"
	"github.com/sells-group/licita-cli/internal/store"
)

// DocumentPipeline is the document work the activities drive.
type DocumentPipeline interface {
	Download(ctx context.Context, id uuid.UUID) (docpipeline.Outcome, error)
	Extract(ctx context.Context, id uuid.UUID) (docpipeline.Outcome, error)
	Embed(ctx context.Context, id uuid.UUID) (*embedding.BatchReport, error)
	PendingDocuments(ctx context.Context, limit int) ([]uuid.UUID, error)
	OpportunityPending(ctx context.Context, opportunityID uuid.UUID) ([]uuid.UUID, error)
}

// Analyzer runs the LLM stages.
type Analyzer interface {
	BeginAnalysis(ctx context.Context, opportunityID uuid.UUID) (model.OpportunityStatus, error)
	Run(ctx context.Context, opportunityID uuid.UUID, analysisType model.AnalysisType) (*analysis.Result, error)
	Revert(ctx context.Context, opportunityID uuid.UUID, prev model.OpportunityStatus) (bool, error)
	Match(ctx context.Context, opportunityID, clientID uuid.UUID) (*model.Match, error)
}

// IngestRunner ingests one connector.
type IngestRunner interface {
	Run(ctx context.Context, c connector.Connector, opts ingest.Options) (*ingest.Report, error)
}

// DeadlineLister lists opportunities closing soon.
type DeadlineLister interface {
	UpcomingDeadlines(ctx context.Context, now time.Time, within time.Duration) ([]model.UpcomingDeadline, error)
}

// DocumentEnqueuer starts a document workflow.
type DocumentEnqueuer interface {
	EnqueueDocument(ctx context.Context, id uuid.UUID) error
}

// ConnectorFactory builds the connector for a source.
type ConnectorFactory func(src model.Source) (connector.Connector, error)

// Activities holds the services the workflows call. Register it whole on a
// worker.
type Activities struct {
	Ingest     IngestRunner
	Connectors ConnectorFactory
	Documents  DocumentPipeline
	Analysis   Analyzer
	Deadlines  DeadlineLister
	Enqueuer   DocumentEnqueuer
	Now        func() time.Time
}

func (a *Activities) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// IngestSource fetches the last DaysBack days of a source and enqueues the
// pending documents of every new opportunity.
func (a *Activities) IngestSource(ctx context.Context, in IngestInput) (*IngestResult, error) {
	c, err := a.Connectors(in.Source)
	if err != nil {
		return nil, permanent(err)
	}
	from, to := connector.DaysBack(a.now(), in.DaysBack)

	res := &IngestResult{}
	report, err := a.Ingest.Run(ctx, c, ingest.Options{
		Query: connector.Query{
			From:       from,
			To:         to,
			UF:         in.UF,
			Keyword:    in.Keyword,
			Modalities: in.Modalities,
			MaxPages:   in.MaxPages,
		},
		WindowDays: in.WindowDays,
		SkipItems:  in.SkipItems,
		SkipDocs:   in.SkipDocs,
		OnCreated: func(ctx context.Context, opp *model.Opportunity) error {
			n, err := a.enqueueOpportunity(ctx, opp.ID)
			res.Enqueued += n
			return err
		},
	})
	if err != nil {
		return nil, activityError(err)
	}
	res.Fetched, res.Created, res.Existing, res.Errors = report.Fetched, report.Created, report.Existing, report.Errors
	return res, nil
}

func (a *Activities) enqueueOpportunity(ctx context.Context, oppID uuid.UUID) (int, error) {
	ids, err := a.Documents.OpportunityPending(ctx, oppID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := a.Enqueuer.EnqueueDocument(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DownloadDocument runs the download stage.
func (a *Activities) DownloadDocument(ctx context.Context, id uuid.UUID) (docpipeline.Outcome, error) {
	out, err := a.Documents.Download(ctx, id)
	return out, activityError(err)
}

// ExtractDocument runs text extraction and chunking.
func (a *Activities) ExtractDocument(ctx context.Context, id uuid.UUID) (docpipeline.Outcome, error) {
	out, err := a.Documents.Extract(ctx, id)
	return out, activityError(err)
}

// EmbedDocument embeds the chunks that have no vector yet.
func (a *Activities) EmbedDocument(ctx context.Context, id uuid.UUID) (int, error) {
	report, err := a.Documents.Embed(ctx, id)
	if err != nil {
		return 0, activityError(err)
	}
	return report.Embedded, nil
}

// SweepPending enqueues a document workflow for up to limit pending
// documents. A failed enqueue is logged and the sweep continues.
func (a *Activities) SweepPending(ctx context.Context, limit int) (int, error) {
	ids, err := a.Documents.PendingDocuments(ctx, limit)
	if err != nil {
		return 0, activityError(err)
	}
	n := 0
	for _, id := range ids {
		if err := a.Enqueuer.EnqueueDocument(ctx, id); err != nil {
			zap.L().Warn("enqueue document failed", zap.String("document_id", id.String()), zap.Error(err))
			continue
		}
		n++
	}
	zap.L().Info("pending sweep", zap.Int("pending", len(ids)), zap.Int("enqueued", n))
	return n, nil
}

// BeginAnalysis marks a new opportunity analyzing and reports its prior
// status. A missing opportunity is not an error.
func (a *Activities) BeginAnalysis(ctx context.Context, opportunityID uuid.UUID) (*AnalysisStart, error) {
	prev, err := a.Analysis.BeginAnalysis(ctx, opportunityID)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Error("opportunity not found", zap.String("opportunity_id", opportunityID.String()))
		return &AnalysisStart{}, nil
	}
	if err != nil {
		return nil, activityError(err)
	}
	return &AnalysisStart{Previous: prev, Found: true}, nil
}

// RunAnalysis runs the selected analysis stages.
func (a *Activities) RunAnalysis(ctx context.Context, in AnalysisInput) (*AnalysisResult, error) {
	res, err := a.Analysis.Run(ctx, in.OpportunityID, in.AnalysisType)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Error("opportunity not found", zap.String("opportunity_id", in.OpportunityID.String()))
		return &AnalysisResult{OpportunityID: in.OpportunityID, AnalysisType: in.AnalysisType, Skipped: true}, nil
	}
	if err != nil {
		return nil, activityError(err)
	}
	return &AnalysisResult{
		OpportunityID: in.OpportunityID,
		AnalysisType:  in.AnalysisType,
		Degraded:      res.Degraded,
	}, nil
}

// RevertAnalysis restores the pre-analysis status.
func (a *Activities) RevertAnalysis(ctx context.Context, opportunityID uuid.UUID, prev model.OpportunityStatus) error {
	_, err := a.Analysis.Revert(ctx, opportunityID, prev)
	return activityError(err)
}

// MatchClient scores one client for one opportunity. Missing records are
// logged and skipped.
func (a *Activities) MatchClient(ctx context.Context, in MatchInput) (*MatchResult, error) {
	m, err := a.Analysis.Match(ctx, in.OpportunityID, in.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Error("opportunity or client not found",
			zap.String("opportunity_id", in.OpportunityID.String()),
			zap.String("client_id", in.ClientID.String()),
		)
		return &MatchResult{Skipped: true}, nil
	}
	if err != nil {
		return nil, activityError(err)
	}
	return &MatchResult{Score: m.Score}, nil
}

// CheckDeadlines logs opportunities closing within days. Delivery of the
// alerts lives elsewhere.
func (a *Activities) CheckDeadlines(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = DefaultDeadlineDays
	}
	upcoming, err := a.Deadlines.UpcomingDeadlines(ctx, a.now(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return 0, activityError(err)
	}
	for _, u := range upcoming {
		zap.L().Info("deadline approaching",
			zap.String("opportunity_id", u.OpportunityID.String()),
			zap.String("title", u.Title),
			zap.String("entity", u.EntityName),
			zap.String("status", string(u.Status)),
			zap.Time("deadline", u.Deadline),
		)
	}
	zap.L().Info("deadline check", zap.Int("upcoming", len(upcoming)), zap.Int("days", days))
	return len(upcoming), nil
}

// activityError marks permanent failures non-retryable so Temporal stops
// retrying them.
func activityError(err error) error {
	if err == nil || !resilience.IsPermanent(err) {
		return err
	}
	return permanent(err)
}

func permanent(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
}
