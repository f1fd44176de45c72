// Package store persists opportunities, documents, chunk embeddings and
// analysis output in Postgres with pgvector.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrInvalidTransition is returned when a write would move a document to a
// status its current status cannot reach.
var ErrInvalidTransition = eris.New("store: invalid document status transition")

// OpportunityFilter specifies criteria for listing opportunities.
type OpportunityFilter struct {
	Source   model.Source            `json:"source,omitempty"`
	Status   model.OpportunityStatus `json:"status,omitempty"`
	Modality model.Modality          `json:"modality,omitempty"`
	UF       string                  `json:"uf,omitempty"`
	// Query matches title or entity name, case-insensitively.
	Query string `json:"q,omitempty"`
	// Ordering is a column name, optionally prefixed with "-" for
	// descending. Defaults to -published_at.
	Ordering string `json:"ordering,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// DownloadResult is what the download stage records on a document.
type DownloadResult struct {
	StorageKey string
	FileName   string
	FileHash   string
	FileSize   int64
	MimeType   string
}

// ExtractionResult is what the extraction stage records on a document.
type ExtractionResult struct {
	Text      string
	PageCount int
	OCRUsed   bool
}

// ChunkEmbedding pairs a chunk with its vector.
type ChunkEmbedding struct {
	ChunkID uuid.UUID
	Vector  []float32
}

// Store defines the persistence interface for ingestion, the document
// pipeline and analysis.
type Store interface {
	// Opportunities
	GetOpportunityByDedupHash(ctx context.Context, dedupHash string) (*model.Opportunity, error)
	FindObjectDuplicate(ctx context.Context, objectHash string, source model.Source, externalID string) (*model.Opportunity, error)
	CreateOpportunity(ctx context.Context, opp *model.Opportunity) (bool, error)
	GetOpportunity(ctx context.Context, id uuid.UUID) (*model.Opportunity, error)
	GetOpportunityDetail(ctx context.Context, id uuid.UUID) (*model.OpportunityDetail, error)
	ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.Opportunity, int, error)
	UpdateOpportunityStatus(ctx context.Context, id uuid.UUID, status model.OpportunityStatus) error
	TransitionOpportunityStatus(ctx context.Context, id uuid.UUID, from, to model.OpportunityStatus) (bool, error)
	UpcomingDeadlines(ctx context.Context, now time.Time, within time.Duration) ([]model.UpcomingDeadline, error)

	// Items
	CreateItem(ctx context.Context, item *model.OpportunityItem) error
	ListItems(ctx context.Context, opportunityID uuid.UUID) ([]model.OpportunityItem, error)

	// Documents
	CreateDocument(ctx context.Context, doc *model.OpportunityDocument) error
	GetDocument(ctx context.Context, id uuid.UUID) (*model.DocumentSource, error)
	ListDocuments(ctx context.Context, opportunityID uuid.UUID, statuses ...model.DocumentStatus) ([]model.OpportunityDocument, error)
	ListPendingDocuments(ctx context.Context, limit int) ([]model.OpportunityDocument, error)
	FindDocumentByHash(ctx context.Context, fileHash string, excludeID uuid.UUID) (*model.OpportunityDocument, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus) error
	MarkDocumentDownloaded(ctx context.Context, id uuid.UUID, res DownloadResult) error
	SaveExtraction(ctx context.Context, id uuid.UUID, res ExtractionResult) error
	MarkDocumentFailed(ctx context.Context, id uuid.UUID, message string) error
	RecordDocumentError(ctx context.Context, id uuid.UUID, message string) error
	CountDocumentsByStatus(ctx context.Context) (map[model.DocumentStatus]int, error)

	// Chunks
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []model.DocumentChunk) (int64, error)
	ListUnembeddedChunks(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error)
	SetChunkEmbeddings(ctx context.Context, embeddings []ChunkEmbedding) (int64, error)
	SearchChunks(ctx context.Context, query []float32, opportunityID *uuid.UUID, topK int) ([]model.ScoredChunk, error)

	// Analysis
	ReplaceRequirements(ctx context.Context, opportunityID uuid.UUID, reqs []model.ExtractedRequirement) error
	ListRequirements(ctx context.Context, opportunityID uuid.UUID) ([]model.ExtractedRequirement, error)
	CreateSummary(ctx context.Context, s *model.AISummary) error
	LatestSummary(ctx context.Context, opportunityID uuid.UUID, analysisType model.AnalysisType) (*model.AISummary, error)
	ListSummaries(ctx context.Context, opportunityID uuid.UUID) ([]model.AISummary, error)

	// Clients and matches
	UpsertClient(ctx context.Context, c *model.Client) error
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]model.Client, error)
	UpsertMatch(ctx context.Context, m *model.Match) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
