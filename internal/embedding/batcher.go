package embedding

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/cost"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/store"
)

// VectorWriter persists chunk vectors.
type VectorWriter interface {
	SetChunkEmbeddings(ctx context.Context, embeddings []store.ChunkEmbedding) (int64, error)
}

// BatchFailure describes one batch whose chunks kept null embeddings.
type BatchFailure struct {
	Index    int
	ChunkIDs []uuid.UUID
	Err      error
}

// BatchReport summarizes an EmbedChunks run.
type BatchReport struct {
	Batches  int
	Embedded int
	Failed   []BatchFailure

	// Tokens counts the chunk tokens of successful batches.
	Tokens  int
	CostUSD float64
}

// Err joins the failed batches into one error, or nil when every batch
// succeeded.
func (r *BatchReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	chunks := 0
	for _, f := range r.Failed {
		chunks += len(f.ChunkIDs)
	}
	return eris.Wrapf(r.Failed[0].Err, "embedding: %d of %d batches failed (%d chunks)",
		len(r.Failed), r.Batches, chunks)
}

// Batcher embeds chunks in provider-sized batches and writes each batch as
// soon as it returns.
type Batcher struct {
	provider Provider
	writer   VectorWriter
	size     int
	costs    *cost.Calculator
}

// NewBatcher creates a Batcher. size <= 0 uses DefaultBatchSize.
func NewBatcher(p Provider, w VectorWriter, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{provider: p, writer: w, size: size, costs: cost.NewCalculator(cost.DefaultRates())}
}

// EmbedChunks embeds chunks batch by batch. A batch fails as a unit: a
// provider error, a vector count mismatch or a write error leaves all its
// chunks unembedded so a later run picks them up. Only context
// cancellation aborts the run.
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []model.DocumentChunk) (*BatchReport, error) {
	report := &BatchReport{}
	for idx, start := 0, 0; start < len(chunks); idx, start = idx+1, start+b.size {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "embedding: embed chunks")
		}
		batch := chunks[start:min(start+b.size, len(chunks))]
		report.Batches++

		n, err := b.embedBatch(ctx, batch)
		if err != nil {
			ids := make([]uuid.UUID, len(batch))
			for i, c := range batch {
				ids[i] = c.ID
			}
			report.Failed = append(report.Failed, BatchFailure{Index: idx, ChunkIDs: ids, Err: err})
			zap.L().Warn("embedding batch failed",
				zap.Int("batch", idx),
				zap.Int("chunks", len(batch)),
				zap.Error(err),
			)
			continue
		}
		report.Embedded += n
		for _, c := range batch {
			report.Tokens += c.TokenCount
		}
	}
	report.CostUSD = b.costs.Embedding(b.provider.Model(), report.Tokens)
	return report, nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch []model.DocumentChunk) (int, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	vectors, err := b.provider.Embed(ctx, texts, ModeDocument)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(batch) {
		return 0, eris.Errorf("embedding: got %d vectors for %d chunks", len(vectors), len(batch))
	}

	rows := make([]store.ChunkEmbedding, len(batch))
	for i, c := range batch {
		rows[i] = store.ChunkEmbedding{ChunkID: c.ID, Vector: vectors[i]}
	}
	n, err := b.writer.SetChunkEmbeddings(ctx, rows)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
