package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/model"
)

func TestPostgresStore_ReplaceChunks_RewritesIndexes(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	docID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM document_chunks WHERE document_id = \$1`).
		WithArgs(docID).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"document_chunks"}, chunkInsertColumns).WillReturnResult(3)
	mock.ExpectCommit()

	chunks := []model.DocumentChunk{
		{ChunkIndex: 7, Content: "a", TokenCount: 1},
		{ChunkIndex: 7, Content: "b", TokenCount: 1, HasEmbedding: true},
		{ChunkIndex: 9, Content: "c", TokenCount: 1, PageNumber: 2},
	}
	n, err := s.ReplaceChunks(context.Background(), docID, chunks)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, docID, c.DocumentID)
		assert.NotEqual(t, uuid.Nil, c.ID)
		assert.False(t, c.HasEmbedding)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceChunks_DeleteFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	docID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM document_chunks`).WithArgs(pgxmock.AnyArg()).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := s.ReplaceChunks(context.Background(), docID, []model.DocumentChunk{{Content: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace chunks: delete")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListUnembeddedChunks(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	docID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE document_id = \$1 AND embedding IS NULL\s+ORDER BY chunk_index`).
		WithArgs(docID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "chunk_index", "content", "token_count", "page_number", "created_at"}).
			AddRow(uuid.NewString(), docID.String(), 0, "primeiro", 800, 1, now).
			AddRow(uuid.NewString(), docID.String(), 2, "terceiro", 120, 3, now))

	chunks, err := s.ListUnembeddedChunks(context.Background(), docID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2, chunks[1].ChunkIndex)
	assert.Equal(t, docID, chunks[0].DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetChunkEmbeddings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_update_document_chunks"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{embeddingUpdate.TempTable()}, []string{"id", "embedding"}).WillReturnResult(2)
	mock.ExpectExec(`SET "embedding" = t."embedding"::vector`).WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	n, err := s.SetChunkEmbeddings(context.Background(), []ChunkEmbedding{
		{ChunkID: uuid.New(), Vector: []float32{0.1, 0.2, 0.3, 0.4}},
		{ChunkID: uuid.New(), Vector: []float32{1, 0, 0, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetChunkEmbeddings_WrongDims(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.SetChunkEmbeddings(context.Background(), []ChunkEmbedding{{ChunkID: uuid.New(), Vector: []float32{1, 2}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 2 dimensions, want 4")
	assert.NoError(t, mock.ExpectationsWereMet())
}

var scoredColumns = []string{"id", "document_id", "opportunity_id", "file_name", "chunk_index", "page_number", "content", "distance"}

func TestPostgresStore_SearchChunks_TopKOrdered(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	docID, oppID := uuid.New(), uuid.New()

	// Fifteen chunks carry embeddings; the database applies the LIMIT.
	rows := pgxmock.NewRows(scoredColumns)
	for i := 0; i < 10; i++ {
		rows.AddRow(uuid.NewString(), docID.String(), oppID.String(), "edital.pdf", i, 1, fmt.Sprintf("trecho %d", i), 0.05*float64(i))
	}
	mock.ExpectQuery(`(?s)c.embedding <=> \$1::vector AS distance.*WHERE c.embedding IS NOT NULL ORDER BY distance ASC, c.document_id, c.chunk_index LIMIT \$2`).
		WithArgs("[0.1,0.2,0.3,0.4]", 10).
		WillReturnRows(rows)

	hits, err := s.SearchChunks(context.Background(), []float32{0.1, 0.2, 0.3, 0.4}, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 10)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i].Distance, hits[i-1].Distance)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchChunks_ScopedDefaultK(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	oppID := uuid.New()

	mock.ExpectQuery(`AND d.opportunity_id = \$3 ORDER BY distance`).
		WithArgs(pgxmock.AnyArg(), 10, oppID).
		WillReturnRows(pgxmock.NewRows(scoredColumns))

	hits, err := s.SearchChunks(context.Background(), []float32{0, 0, 0, 1}, &oppID, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchChunks_WrongDims(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.SearchChunks(context.Background(), []float32{1}, nil, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query vector has 1 dimensions")
}
