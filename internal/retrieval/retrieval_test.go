package retrieval

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/embedding"
	"github.com/sells-group/licita-cli/internal/model"
)

type mockEmbedder struct{ mock.Mock }

func (m *mockEmbedder) Model() string { return "mock" }

func (m *mockEmbedder) Embed(ctx context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	args := m.Called(ctx, texts, mode)
	vecs, _ := args.Get(0).([][]float32)
	return vecs, args.Error(1)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) SearchChunks(ctx context.Context, query []float32, oppID *uuid.UUID, topK int) ([]model.ScoredChunk, error) {
	args := m.Called(ctx, query, oppID, topK)
	chunks, _ := args.Get(0).([]model.ScoredChunk)
	return chunks, args.Error(1)
}

func TestSearch_UsesQueryModeAndDefaultTopK(t *testing.T) {
	ctx := context.Background()
	oppID := uuid.New()
	vec := []float32{0.1, 0.2, 0.3, 0.4}
	want := []model.ScoredChunk{{Content: "a", Distance: 0.1}, {Content: "b", Distance: 0.2}}

	emb := &mockEmbedder{}
	emb.On("Embed", ctx, []string{"atestado de capacidade técnica"}, embedding.ModeQuery).Return([][]float32{vec}, nil)
	s := &mockSearcher{}
	s.On("SearchChunks", ctx, vec, &oppID, DefaultTopK).Return(want, nil)

	got, err := New(emb, s).Search(ctx, "  atestado de capacidade técnica ", &oppID, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	emb.AssertExpectations(t)
	s.AssertExpectations(t)
}

func TestSearch_PassesTopK(t *testing.T) {
	ctx := context.Background()
	vec := []float32{1, 0, 0, 0}

	emb := &mockEmbedder{}
	emb.On("Embed", ctx, []string{"garantia"}, embedding.ModeQuery).Return([][]float32{vec}, nil)
	s := &mockSearcher{}
	s.On("SearchChunks", ctx, vec, (*uuid.UUID)(nil), 15).Return([]model.ScoredChunk{}, nil)

	_, err := New(emb, s).Search(ctx, "garantia", nil, 15)
	require.NoError(t, err)
	s.AssertExpectations(t)
}

func TestSearch_BlankQueryMatchesNothing(t *testing.T) {
	emb, s := &mockEmbedder{}, &mockSearcher{}

	chunks, err := New(emb, s).Search(context.Background(), "   ", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	emb.AssertNotCalled(t, "Embed")
	s.AssertNotCalled(t, "SearchChunks")
}

func TestSearch_Errors(t *testing.T) {
	ctx := context.Background()

	emb := &mockEmbedder{}
	emb.On("Embed", ctx, []string{"q"}, embedding.ModeQuery).Return(nil, eris.New("quota"))
	_, err := New(emb, &mockSearcher{}).Search(ctx, "q", nil, 5)
	assert.ErrorContains(t, err, "retrieval: embed query")

	emb = &mockEmbedder{}
	emb.On("Embed", ctx, []string{"q"}, embedding.ModeQuery).Return([][]float32{}, nil)
	_, err = New(emb, &mockSearcher{}).Search(ctx, "q", nil, 5)
	assert.ErrorContains(t, err, "expected one query vector, got 0")

	emb = &mockEmbedder{}
	emb.On("Embed", ctx, []string{"q"}, embedding.ModeQuery).Return([][]float32{{1}}, nil)
	s := &mockSearcher{}
	s.On("SearchChunks", ctx, []float32{1}, (*uuid.UUID)(nil), 5).Return(nil, eris.New("dims"))
	_, err = New(emb, s).Search(ctx, "q", nil, 5)
	assert.ErrorContains(t, err, "retrieval: search chunks")
}

func TestContext(t *testing.T) {
	got := Context([]model.ScoredChunk{
		{FileName: "edital.pdf", PageNumber: 1, Content: "Objeto: licenças."},
		{FileName: "termo.pdf", PageNumber: 3, Content: "Prazo de entrega: 30 dias."},
	})
	assert.Equal(t, "[Documento: edital.pdf, Página: 1]\nObjeto: licenças.\n\n---\n\n[Documento: termo.pdf, Página: 3]\nPrazo de entrega: 30 dias.", got)
	assert.Empty(t, Context(nil))
}
