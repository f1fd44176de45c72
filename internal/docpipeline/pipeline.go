// Package docpipeline moves one attached document from its source URL to
// embedded, searchable chunks: download, extract, chunk and embed.
package docpipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/licita-cli/internal/chunk"
	"github.com/sells-group/licita-cli/internal/embedding"
	"github.com/sells-group/licita-cli/internal/extract"
	"github.com/sells-group/licita-cli/internal/fetcher"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/normalize"
	"github.com/sells-group/licita-cli/internal/resilience"
	"github.com/sells-group/licita-cli/internal/storage"
	"github.com/sells-group/licita-cli/internal/store"
)

// Outcome is the result of one pipeline stage.
type Outcome string

const (
	OutcomeDownloaded   Outcome = "downloaded"
	OutcomeDeduplicated Outcome = "deduplicated"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeIndexed      Outcome = "indexed"
	OutcomeFailed       Outcome = "failed"
)

const (
	DefaultConcurrency = 4
	DefaultMaxErrorLen = 500
	DefaultSweepLimit  = 200
)

// ErrNoURL is recorded on documents that have nothing to download.
var ErrNoURL = eris.New("No URL")

// Store is the persistence the pipeline needs.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*model.DocumentSource, error)
	ListDocuments(ctx context.Context, opportunityID uuid.UUID, statuses ...model.DocumentStatus) ([]model.OpportunityDocument, error)
	ListPendingDocuments(ctx context.Context, limit int) ([]model.OpportunityDocument, error)
	FindDocumentByHash(ctx context.Context, fileHash string, excludeID uuid.UUID) (*model.OpportunityDocument, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus) error
	MarkDocumentDownloaded(ctx context.Context, id uuid.UUID, res store.DownloadResult) error
	SaveExtraction(ctx context.Context, id uuid.UUID, res store.ExtractionResult) error
	MarkDocumentFailed(ctx context.Context, id uuid.UUID, message string) error
	RecordDocumentError(ctx context.Context, id uuid.UUID, message string) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []model.DocumentChunk) (int64, error)
	ListUnembeddedChunks(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error)
}

// TextExtractor converts stored bytes to text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mime, fileName string) (*extract.Result, error)
}

// ChunkEmbedder embeds chunks in batches.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []model.DocumentChunk) (*embedding.BatchReport, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store      Store
	Downloader fetcher.Downloader
	Storage    storage.Storage
	Extractor  TextExtractor
	Chunker    *chunk.Chunker
	Embedder   ChunkEmbedder
}

// Options tunes a Pipeline.
type Options struct {
	Concurrency int
	MaxErrorLen int
	SweepLimit  int
}

// Pipeline runs the document stages. Each stage is idempotent and safe to
// retry; the store is the only shared state.
type Pipeline struct {
	Deps
	opts Options
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxErrorLen <= 0 {
		opts.MaxErrorLen = DefaultMaxErrorLen
	}
	if opts.SweepLimit <= 0 {
		opts.SweepLimit = DefaultSweepLimit
	}
	return &Pipeline{Deps: deps, opts: opts}
}

// Download fetches the document, hashes it and stores it under its content
// address. A document whose bytes already exist under another document is
// marked downloaded with the shared hash and is not stored again.
func (p *Pipeline) Download(ctx context.Context, id uuid.UUID) (Outcome, error) {
	log := zap.L().With(zap.String("document_id", id.String()))

	doc, ok, err := p.load(ctx, id)
	if !ok {
		return OutcomeSkipped, err
	}
	if doc.Status.HasFile() && doc.StorageKey != "" {
		log.Debug("document already downloaded", zap.String("status", string(doc.Status)))
		return OutcomeSkipped, nil
	}
	if strings.TrimSpace(doc.OriginalURL) == "" {
		if err := p.Store.MarkDocumentFailed(ctx, id, ErrNoURL.Error()); err != nil {
			return OutcomeFailed, eris.Wrap(err, "docpipeline: mark no url")
		}
		log.Warn("document has no url")
		return OutcomeFailed, nil
	}

	if err := p.Store.UpdateDocumentStatus(ctx, id, model.DocDownloading); err != nil {
		return OutcomeFailed, eris.Wrap(err, "docpipeline: mark downloading")
	}

	payload, err := p.Downloader.Download(ctx, doc.OriginalURL)
	if err != nil {
		return p.fail(ctx, doc, "download", err)
	}

	sum := sha256.Sum256(payload.Data)
	hash := hex.EncodeToString(sum[:])
	mime := ContentType(payload.ContentType)

	existing, err := p.Store.FindDocumentByHash(ctx, hash, id)
	switch {
	case err == nil:
		res := store.DownloadResult{
			StorageKey: existing.StorageKey,
			FileName:   FileName(doc.FileName, doc.OriginalURL, hash),
			FileHash:   hash,
			FileSize:   int64(len(payload.Data)),
			MimeType:   mime,
		}
		if err := p.Store.MarkDocumentDownloaded(ctx, id, res); err != nil {
			return p.fail(ctx, doc, "record duplicate", err)
		}
		log.Info("document already stored (hash match)",
			zap.String("file_hash", hash),
			zap.String("existing_document_id", existing.ID.String()),
		)
		return OutcomeDeduplicated, nil
	case !errors.Is(err, store.ErrNotFound):
		return p.fail(ctx, doc, "find by hash", err)
	}

	fileName := FileName(doc.FileName, doc.OriginalURL, hash)
	key := storage.DocumentKey(doc.Source, doc.CreatedAt.Year(), hash, fileName)
	if err := p.Storage.Put(ctx, key, payload.Data, mime); err != nil {
		return p.fail(ctx, doc, "store file", err)
	}

	res := store.DownloadResult{
		StorageKey: key,
		FileName:   fileName,
		FileHash:   hash,
		FileSize:   int64(len(payload.Data)),
		MimeType:   mime,
	}
	if err := p.Store.MarkDocumentDownloaded(ctx, id, res); err != nil {
		return p.fail(ctx, doc, "record download", err)
	}

	log.Info("downloaded document",
		zap.String("file_name", fileName),
		zap.Int64("bytes", res.FileSize),
		zap.String("storage_key", key),
	)
	return OutcomeDownloaded, nil
}

// Extract reads the stored file, extracts its text and replaces the
// document's chunks. Documents without a stored file are skipped.
func (p *Pipeline) Extract(ctx context.Context, id uuid.UUID) (Outcome, error) {
	doc, ok, err := p.load(ctx, id)
	if !ok {
		return OutcomeSkipped, err
	}
	if doc.StorageKey == "" {
		zap.L().Debug("document has no stored file", zap.String("document_id", id.String()))
		return OutcomeSkipped, nil
	}

	if err := p.Store.UpdateDocumentStatus(ctx, id, model.DocExtracting); err != nil {
		return OutcomeFailed, eris.Wrap(err, "docpipeline: mark extracting")
	}

	data, err := p.Storage.Get(ctx, doc.StorageKey)
	if err != nil {
		return p.fail(ctx, doc, "read file", err)
	}

	res, err := p.Extractor.Extract(ctx, data, doc.MimeType, doc.FileName)
	if err != nil {
		return p.fail(ctx, doc, "extract text", err)
	}
	text := CleanText(res.Text)

	pieces := p.Chunker.Split(text)
	chunks := make([]model.DocumentChunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = model.DocumentChunk{
			ChunkIndex: c.Index,
			Content:    c.Content,
			TokenCount: c.TokenCount,
			PageNumber: c.PageNumber,
		}
	}
	if _, err := p.Store.ReplaceChunks(ctx, id, chunks); err != nil {
		return p.fail(ctx, doc, "replace chunks", err)
	}

	// Chunks are written first so every failure above happens while the
	// document is still extracting.
	if err := p.Store.SaveExtraction(ctx, id, store.ExtractionResult{
		Text:      text,
		PageCount: res.PageCount,
		OCRUsed:   res.OCRUsed,
	}); err != nil {
		return p.fail(ctx, doc, "save extraction", err)
	}

	zap.L().Info("indexed document",
		zap.String("document_id", id.String()),
		zap.String("file_name", doc.FileName),
		zap.Int("pages", res.PageCount),
		zap.Bool("ocr_used", res.OCRUsed),
		zap.Int("chunks", len(chunks)),
	)
	return OutcomeIndexed, nil
}

// Embed embeds every chunk of the document that has no vector yet. When
// some batches fail the error is recorded on the document and returned, but
// the document stays indexed; a later run only embeds the remaining chunks
// and clears the error.
func (p *Pipeline) Embed(ctx context.Context, id uuid.UUID) (*embedding.BatchReport, error) {
	doc, ok, err := p.load(ctx, id)
	if !ok {
		return &embedding.BatchReport{}, err
	}

	chunks, err := p.Store.ListUnembeddedChunks(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "docpipeline: list unembedded chunks")
	}
	if len(chunks) == 0 {
		return &embedding.BatchReport{}, nil
	}

	report, err := p.Embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return report, eris.Wrap(err, "docpipeline: embed chunks")
	}
	if err := report.Err(); err != nil {
		msg := normalize.Truncate(err.Error(), p.opts.MaxErrorLen)
		if rerr := p.Store.RecordDocumentError(ctx, id, msg); rerr != nil {
			zap.L().Error("failed to record embedding error",
				zap.String("document_id", id.String()),
				zap.Error(rerr),
			)
		}
		zap.L().Warn("document stage failed",
			zap.String("document_id", id.String()),
			zap.String("stage", "embed"),
			zap.Int("failed_batches", len(report.Failed)),
			zap.Error(err),
		)
		return report, eris.Wrap(err, "docpipeline: embed")
	}

	if doc.ErrorMessage != "" {
		if err := p.Store.RecordDocumentError(ctx, id, ""); err != nil {
			return report, eris.Wrap(err, "docpipeline: clear embedding error")
		}
	}
	zap.L().Info("embedded document chunks",
		zap.String("document_id", id.String()),
		zap.Int("chunks", report.Embedded),
		zap.Int("batches", report.Batches),
		zap.Int("tokens", report.Tokens),
		zap.Float64("cost_usd", report.CostUSD),
	)
	return report, nil
}

// ReadyToExtract reports whether a download outcome leaves a stored file
// for the extract stage. A deduplicated document shares its sibling's file
// but still needs its own text and chunks.
func ReadyToExtract(out Outcome) bool {
	switch out {
	case OutcomeDownloaded, OutcomeDeduplicated, OutcomeSkipped:
		return true
	}
	return false
}

// Process runs download, extract and embed in order, stopping at the first
// stage that does not hand work to the next.
func (p *Pipeline) Process(ctx context.Context, id uuid.UUID) (Outcome, error) {
	out, err := p.Download(ctx, id)
	if err != nil || !ReadyToExtract(out) {
		return out, err
	}

	out, err = p.Extract(ctx, id)
	if err != nil || out != OutcomeIndexed {
		return out, err
	}

	if _, err := p.Embed(ctx, id); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeIndexed, nil
}

// Summary tallies the outcomes of a multi-document run.
type Summary struct {
	Outcomes map[Outcome]int
	Errors   int
}

// DownloadOpportunity processes every pending document of an opportunity
// with bounded concurrency. A failing document is counted and logged; it
// never stops the others.
func (p *Pipeline) DownloadOpportunity(ctx context.Context, opportunityID uuid.UUID) (*Summary, error) {
	ids, err := p.OpportunityPending(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	return p.ProcessAll(ctx, ids)
}

// OpportunityPending returns the ids of the opportunity's pending documents.
func (p *Pipeline) OpportunityPending(ctx context.Context, opportunityID uuid.UUID) ([]uuid.UUID, error) {
	docs, err := p.Store.ListDocuments(ctx, opportunityID, model.DocPending)
	if err != nil {
		return nil, eris.Wrap(err, "docpipeline: list pending documents")
	}
	ids := make([]uuid.UUID, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// ProcessAll runs Process for each id with bounded concurrency.
func (p *Pipeline) ProcessAll(ctx context.Context, ids []uuid.UUID) (*Summary, error) {
	var mu sync.Mutex
	summary := &Summary{Outcomes: make(map[Outcome]int)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			out, err := p.Process(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			summary.Outcomes[out]++
			if err != nil {
				summary.Errors++
				zap.L().Warn("document processing failed",
					zap.String("document_id", id.String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "docpipeline: process documents")
	}
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "docpipeline: process documents")
	}
	return summary, nil
}

// PendingDocuments returns the ids of up to limit pending documents with
// a URL. limit <= 0 uses the configured sweep limit.
func (p *Pipeline) PendingDocuments(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = p.opts.SweepLimit
	}
	docs, err := p.Store.ListPendingDocuments(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "docpipeline: list pending documents")
	}
	ids := make([]uuid.UUID, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// load fetches the document. A missing document is not an error: ok is
// false and err is nil.
func (p *Pipeline) load(ctx context.Context, id uuid.UUID) (*model.DocumentSource, bool, error) {
	doc, err := p.Store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Error("document not found", zap.String("document_id", id.String()))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "docpipeline: get document")
	}
	return doc, true, nil
}

// fail records the truncated error on the document and returns the stage
// error, keeping its retry classification.
func (p *Pipeline) fail(ctx context.Context, doc *model.DocumentSource, stage string, cause error) (Outcome, error) {
	msg := normalize.Truncate(cause.Error(), p.opts.MaxErrorLen)
	if err := p.Store.MarkDocumentFailed(ctx, doc.ID, msg); err != nil {
		zap.L().Error("failed to record document failure",
			zap.String("document_id", doc.ID.String()),
			zap.Error(err),
		)
	}
	zap.L().Warn("document stage failed",
		zap.String("document_id", doc.ID.String()),
		zap.String("stage", stage),
		zap.String("url", doc.OriginalURL),
		zap.Bool("retryable", !resilience.IsPermanent(cause)),
		zap.Error(cause),
	)
	return OutcomeFailed, eris.Wrapf(cause, "docpipeline: %s", stage)
}
