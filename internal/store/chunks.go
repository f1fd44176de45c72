package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/db"
	"github.com/sells-group/licita-cli/internal/model"
)

var chunkInsertColumns = []string{"id", "document_id", "chunk_index", "content", "token_count", "page_number", "created_at"}

var embeddingUpdate = db.UpdateConfig{
	Table:   "document_chunks",
	Key:     db.Column{Name: "id", Type: "uuid"},
	Columns: []db.Column{{Name: "embedding", Type: "text", Cast: "vector"}},
}

// ReplaceChunks deletes every chunk of the document and inserts chunks in
// one transaction. Indexes are rewritten 0..n-1 in slice order.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []model.DocumentChunk) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace chunks: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return 0, eris.Wrap(err, "postgres: replace chunks: delete")
	}

	now := time.Now().UTC()
	rows := make([][]any, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.DocumentID = documentID
		c.ChunkIndex = i
		c.CreatedAt = now
		c.HasEmbedding = false
		rows[i] = []any{c.ID, documentID, c.ChunkIndex, c.Content, c.TokenCount, c.PageNumber, now}
	}

	n, err := db.CopyFrom(ctx, tx, "document_chunks", chunkInsertColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace chunks")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace chunks: commit")
	}
	return n, nil
}

// ListUnembeddedChunks returns the document's chunks whose embedding is
// still null, in index order.
func (s *PostgresStore) ListUnembeddedChunks(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, token_count, page_number, created_at
		 FROM document_chunks WHERE document_id = $1 AND embedding IS NULL
		 ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unembedded chunks")
	}
	defer rows.Close()

	var chunks []model.DocumentChunk
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount, &c.PageNumber, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: list unembedded chunks iterate")
}

// SetChunkEmbeddings writes vectors for a batch of chunks in one round trip.
func (s *PostgresStore) SetChunkEmbeddings(ctx context.Context, embeddings []ChunkEmbedding) (int64, error) {
	rows := make([][]any, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e.Vector) != s.dims {
			return 0, eris.Errorf("postgres: embedding for chunk %s has %d dimensions, want %d", e.ChunkID, len(e.Vector), s.dims)
		}
		rows = append(rows, []any{e.ChunkID, pgvector.NewVector(e.Vector).String()})
	}
	n, err := db.BulkUpdate(ctx, s.pool, embeddingUpdate, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: set chunk embeddings")
	}
	return n, nil
}

// SearchChunks ranks embedded chunks by cosine distance to query, closest
// first, optionally restricted to one opportunity.
func (s *PostgresStore) SearchChunks(ctx context.Context, query []float32, opportunityID *uuid.UUID, topK int) ([]model.ScoredChunk, error) {
	if len(query) != s.dims {
		return nil, eris.Errorf("postgres: query vector has %d dimensions, want %d", len(query), s.dims)
	}
	if topK <= 0 {
		topK = 10
	}

	sql := `SELECT c.id, c.document_id, d.opportunity_id, d.file_name, c.chunk_index, c.page_number, c.content,
	               c.embedding <=> $1::vector AS distance
	        FROM document_chunks c JOIN opportunity_documents d ON d.id = c.document_id
	        WHERE c.embedding IS NOT NULL`
	args := []any{pgvector.NewVector(query).String()}
	if opportunityID != nil {
		sql += ` AND d.opportunity_id = $3`
		args = append(args, topK, *opportunityID)
	} else {
		args = append(args, topK)
	}
	sql += ` ORDER BY distance ASC, c.document_id, c.chunk_index LIMIT $2`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search chunks")
	}
	defer rows.Close()

	var out []model.ScoredChunk
	for rows.Next() {
		var c model.ScoredChunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.OpportunityID, &c.FileName, &c.ChunkIndex,
			&c.PageNumber, &c.Content, &c.Distance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scored chunk")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search chunks iterate")
}
