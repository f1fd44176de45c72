package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/model"
)

const documentColumns = `d.id, d.opportunity_id, d.original_url, d.storage_key, d.file_name, d.doc_type,
	d.file_hash, d.file_size, d.mime_type, d.status, d.page_count, d.ocr_used, d.error_message,
	d.created_at, d.updated_at`

func scanDocument(row scanner, extra ...any) (*model.OpportunityDocument, error) {
	var d model.OpportunityDocument
	var status string
	dest := []any{
		&d.ID, &d.OpportunityID, &d.OriginalURL, &d.StorageKey, &d.FileName, &d.DocType,
		&d.FileHash, &d.FileSize, &d.MimeType, &status, &d.PageCount, &d.OCRUsed, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	d.Status = model.DocumentStatus(status)
	return &d, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *model.OpportunityDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = model.DocPending
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO opportunity_documents (id, opportunity_id, original_url, file_name, doc_type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.OpportunityID, doc.OriginalURL, doc.FileName, doc.DocType, string(doc.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert document")
}

// GetDocument loads a document with its extracted text and the source of
// its opportunity.
func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*model.DocumentSource, error) {
	var text, source string
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+`, d.extracted_text, o.source
		 FROM opportunity_documents d JOIN opportunities o ON o.id = d.opportunity_id
		 WHERE d.id = $1`, id), &text, &source)
	if err != nil {
		return nil, notFound(err, "postgres: get document")
	}
	d.ExtractedText = text
	return &model.DocumentSource{OpportunityDocument: *d, Source: model.Source(source)}, nil
}

// ListDocuments lists an opportunity's documents, optionally restricted to
// the given statuses.
func (s *PostgresStore) ListDocuments(ctx context.Context, opportunityID uuid.UUID, statuses ...model.DocumentStatus) ([]model.OpportunityDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM opportunity_documents d WHERE d.opportunity_id = $1`
	args := []any{opportunityID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND d.status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY d.created_at, d.id`

	return s.queryDocuments(ctx, "list documents", query, args...)
}

// ListPendingDocuments returns up to limit pending documents that have a
// URL to download, oldest first.
func (s *PostgresStore) ListPendingDocuments(ctx context.Context, limit int) ([]model.OpportunityDocument, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryDocuments(ctx, "list pending documents",
		`SELECT `+documentColumns+` FROM opportunity_documents d
		 WHERE d.status = $1 AND d.original_url <> ''
		 ORDER BY d.created_at LIMIT $2`,
		string(model.DocPending), limit)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, op, query string, args ...any) ([]model.OpportunityDocument, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: "+op)
	}
	defer rows.Close()

	var docs []model.OpportunityDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: "+op+" iterate")
}

// CountDocumentsByStatus counts documents per status.
func (s *PostgresStore) CountDocumentsByStatus(ctx context.Context) (map[model.DocumentStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM opportunity_documents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count documents")
	}
	defer rows.Close()

	counts := make(map[model.DocumentStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document count")
		}
		counts[model.DocumentStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count documents iterate")
}

// FindDocumentByHash returns a downloaded document, other than excludeID,
// whose content hash is fileHash.
func (s *PostgresStore) FindDocumentByHash(ctx context.Context, fileHash string, excludeID uuid.UUID) (*model.OpportunityDocument, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM opportunity_documents d
		 WHERE d.file_hash = $1 AND d.id <> $2 AND d.storage_key <> ''
		 ORDER BY d.created_at LIMIT 1`,
		fileHash, excludeID))
	if err != nil {
		return nil, notFound(err, "postgres: find document by hash")
	}
	return d, nil
}

// UpdateDocumentStatus moves the document to status. It returns
// ErrInvalidTransition when the current status cannot reach it.
func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus) error {
	return s.transitionDocument(ctx, "update document status", id, status,
		`UPDATE opportunity_documents SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(status), time.Now().UTC(), id, allowedFrom(status))
}

// MarkDocumentDownloaded records the stored file and moves the document to
// downloaded, clearing any previous error.
func (s *PostgresStore) MarkDocumentDownloaded(ctx context.Context, id uuid.UUID, res DownloadResult) error {
	return s.transitionDocument(ctx, "mark document downloaded", id, model.DocDownloaded,
		`UPDATE opportunity_documents
		 SET status = $1, storage_key = $2, file_name = $3, file_hash = $4, file_size = $5, mime_type = $6,
		     error_message = '', updated_at = $7
		 WHERE id = $8 AND status = ANY($9)`,
		string(model.DocDownloaded), res.StorageKey, res.FileName, res.FileHash, res.FileSize, res.MimeType,
		time.Now().UTC(), id, allowedFrom(model.DocDownloaded))
}

// SaveExtraction stores extracted text and marks the document indexed.
func (s *PostgresStore) SaveExtraction(ctx context.Context, id uuid.UUID, res ExtractionResult) error {
	return s.transitionDocument(ctx, "save extraction", id, model.DocIndexed,
		`UPDATE opportunity_documents
		 SET status = $1, extracted_text = $2, page_count = $3, ocr_used = $4, error_message = '', updated_at = $5
		 WHERE id = $6 AND status = ANY($7)`,
		string(model.DocIndexed), res.Text, res.PageCount, res.OCRUsed, time.Now().UTC(), id, allowedFrom(model.DocIndexed))
}

func (s *PostgresStore) MarkDocumentFailed(ctx context.Context, id uuid.UUID, message string) error {
	return s.transitionDocument(ctx, "mark document failed", id, model.DocFailed,
		`UPDATE opportunity_documents SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4 AND status = ANY($5)`,
		string(model.DocFailed), message, time.Now().UTC(), id, allowedFrom(model.DocFailed))
}

// RecordDocumentError sets the error message and leaves the status alone.
// An empty message clears it.
func (s *PostgresStore) RecordDocumentError(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunity_documents SET error_message = $1, updated_at = $2 WHERE id = $3`,
		message, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrap(err, "postgres: record document error")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// transitionDocument runs a status update guarded by the statuses allowed
// to reach to. When nothing changes it tells a missing row apart from a
// forbidden move.
func (s *PostgresStore) transitionDocument(ctx context.Context, op string, id uuid.UUID, to model.DocumentStatus, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrap(err, "postgres: "+op)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM opportunity_documents WHERE id = $1`, id).Scan(&current); err != nil {
		return notFound(err, "postgres: "+op)
	}
	return eris.Wrapf(ErrInvalidTransition, "postgres: %s: %s -> %s", op, current, to)
}

func allowedFrom(to model.DocumentStatus) []string {
	from := to.AllowedFrom()
	out := make([]string, len(from))
	for i, st := range from {
		out[i] = string(st)
	}
	return out
}
