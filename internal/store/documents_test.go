package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/model"
)

var documentRowColumns = []string{
	"id", "opportunity_id", "original_url", "storage_key", "file_name", "doc_type",
	"file_hash", "file_size", "mime_type", "status", "page_count", "ocr_used", "error_message",
	"created_at", "updated_at",
}

func documentRow(id, oppID uuid.UUID, status model.DocumentStatus, storageKey, hash string) []any {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []any{
		id.String(), oppID.String(), "https://pncp.gov.br/arquivos/1", storageKey, "edital.pdf", "Edital",
		hash, int64(2048), "application/pdf", string(status), 0, false, "",
		now, now,
	}
}

func TestPostgresStore_CreateDocument_DefaultsPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	oppID := uuid.New()

	mock.ExpectExec(`INSERT INTO opportunity_documents`).
		WithArgs(pgxmock.AnyArg(), oppID, "https://x/edital.pdf", "edital.pdf", "Edital", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc := &model.OpportunityDocument{OpportunityID: oppID, OriginalURL: "https://x/edital.pdf", FileName: "edital.pdf", DocType: "Edital"}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	assert.Equal(t, model.DocPending, doc.Status)
	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id, oppID := uuid.New(), uuid.New()

	cols := append(append([]string{}, documentRowColumns...), "extracted_text", "source")
	mock.ExpectQuery(`FROM opportunity_documents d JOIN opportunities o ON o.id = d.opportunity_id\s+WHERE d.id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(append(documentRow(id, oppID, model.DocDownloaded, "documents/pncp/2024/abcdef12/edital.pdf", "abcdef1234"), "texto", "pncp")...))

	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, oppID, doc.OpportunityID)
	assert.Equal(t, model.DocDownloaded, doc.Status)
	assert.Equal(t, "texto", doc.ExtractedText)
	assert.Equal(t, model.SourcePNCP, doc.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM opportunity_documents d JOIN opportunities`).WithArgs(pgxmock.AnyArg()).WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ListDocuments_WithStatuses(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	oppID := uuid.New()

	mock.ExpectQuery(`WHERE d.opportunity_id = \$1 AND d.status = ANY\(\$2\) ORDER BY d.created_at, d.id`).
		WithArgs(oppID, []string{"pending", "failed"}).
		WillReturnRows(pgxmock.NewRows(documentRowColumns).
			AddRow(documentRow(uuid.New(), oppID, model.DocPending, "", "")...).
			AddRow(documentRow(uuid.New(), oppID, model.DocFailed, "", "")...))

	docs, err := s.ListDocuments(context.Background(), oppID, model.DocPending, model.DocFailed)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, model.DocFailed, docs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPendingDocuments_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE d.status = \$1 AND d.original_url <> ''\s+ORDER BY d.created_at LIMIT \$2`).
		WithArgs("pending", 200).
		WillReturnRows(pgxmock.NewRows(documentRowColumns))

	docs, err := s.ListPendingDocuments(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDocumentByHash(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	self, other, oppID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery(`WHERE d.file_hash = \$1 AND d.id <> \$2 AND d.storage_key <> ''`).
		WithArgs("f00d", self).
		WillReturnRows(pgxmock.NewRows(documentRowColumns).
			AddRow(documentRow(other, oppID, model.DocIndexed, "documents/pncp/2024/f00d/edital.pdf", "f00d")...))

	doc, err := s.FindDocumentByHash(context.Background(), "f00d", self)
	require.NoError(t, err)
	assert.Equal(t, other, doc.ID)
	assert.Equal(t, "documents/pncp/2024/f00d/edital.pdf", doc.StorageKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDocumentDownloaded(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE opportunity_documents\s+SET status = \$1, storage_key = \$2`).
		WithArgs("downloaded", "documents/pncp/2024/abcd1234/a.pdf", "a.pdf", "abcd1234ff", int64(10), "application/pdf", pgxmock.AnyArg(), id,
			[]string{"downloading", "downloaded"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkDocumentDownloaded(context.Background(), id, DownloadResult{
		StorageKey: "documents/pncp/2024/abcd1234/a.pdf",
		FileName:   "a.pdf",
		FileHash:   "abcd1234ff",
		FileSize:   10,
		MimeType:   "application/pdf",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`SET status = \$1, extracted_text = \$2, page_count = \$3, ocr_used = \$4`).
		WithArgs("indexed", "conteúdo", 3, true, pgxmock.AnyArg(), id, []string{"extracting", "indexed"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SaveExtraction(context.Background(), id, ExtractionResult{Text: "conteúdo", PageCount: 3, OCRUsed: true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDocumentFailed_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`SET status = \$1, error_message = \$2`).
		WithArgs("failed", "No URL", pgxmock.AnyArg(), id, []string{"pending", "downloading", "extracting", "failed"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM opportunity_documents WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	err := s.MarkDocumentFailed(context.Background(), id, "No URL")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDocumentFailed_IndexedIsRejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE opportunity_documents SET status = \$1.*status = ANY\(\$5\)`).
		WithArgs("failed", "embed", pgxmock.AnyArg(), id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM opportunity_documents WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("indexed"))

	err := s.MarkDocumentFailed(context.Background(), id, "embed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "indexed -> failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDocumentStatus_Guarded(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE opportunity_documents SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = ANY\(\$4\)`).
		WithArgs("downloading", pgxmock.AnyArg(), id, []string{"pending", "downloading", "failed"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateDocumentStatus(context.Background(), id, model.DocDownloading))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDocumentError_KeepsStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE opportunity_documents SET error_message = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("rate limited", pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.RecordDocumentError(context.Background(), id, "rate limited"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountDocumentsByStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM opportunity_documents GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 4).
			AddRow("indexed", 10).
			AddRow("failed", 2))

	counts, err := s.CountDocumentsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[model.DocPending])
	assert.Equal(t, 10, counts[model.DocIndexed])
	assert.Equal(t, 2, counts[model.DocFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
