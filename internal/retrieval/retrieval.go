// Package retrieval ranks document chunks against a free-text query.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/embedding"
	"github.com/sells-group/licita-cli/internal/model"
)

// DefaultTopK is used when a caller asks for zero or fewer results.
const DefaultTopK = 10

// ChunkSearcher runs the vector search.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, query []float32, opportunityID *uuid.UUID, topK int) ([]model.ScoredChunk, error)
}

// Retriever embeds queries and searches chunk vectors.
type Retriever struct {
	embedder embedding.Provider
	store    ChunkSearcher
}

// New creates a Retriever.
func New(embedder embedding.Provider, s ChunkSearcher) *Retriever {
	return &Retriever{embedder: embedder, store: s}
}

// Search returns up to topK chunks by ascending cosine distance, optionally
// scoped to one opportunity. A blank query matches nothing.
func (r *Retriever) Search(ctx context.Context, query string, opportunityID *uuid.UUID, topK int) ([]model.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vecs, err := r.embedder.Embed(ctx, []string{query}, embedding.ModeQuery)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: embed query")
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, eris.Errorf("retrieval: expected one query vector, got %d", len(vecs))
	}

	chunks, err := r.store.SearchChunks(ctx, vecs[0], opportunityID, topK)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: search chunks")
	}
	return chunks, nil
}

// Context renders chunks as the excerpt block used in analysis prompts,
// each headed by its file name and estimated page.
func Context(chunks []model.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Documento: %s, Página: %d]\n%s", c.FileName, c.PageNumber, c.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}
