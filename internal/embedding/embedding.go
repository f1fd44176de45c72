// Package embedding turns chunk and query text into fixed-dimension
// vectors.
package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
)

// Mode selects the asymmetric embedding side.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeQuery    Mode = "query"
)

const (
	DefaultModel     = "gemini-embedding-001"
	DefaultBatchSize = 100
	DefaultTimeout   = 2 * time.Minute
)

// Provider embeds a batch of texts, returning one vector per input in
// input order.
type Provider interface {
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Model() string
}

// New constructs the configured provider.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		if cfg.GeminiKey == "" {
			return nil, eris.New("embedding: gemini provider requires embedding.gemini_key")
		}
		return NewGemini(ctx, GeminiOptions{
			APIKey:     cfg.GeminiKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout(),
		})
	case "cohere":
		if cfg.CohereKey == "" {
			return nil, eris.New("embedding: cohere provider requires embedding.cohere_key")
		}
		return NewCohere(CohereOptions{APIKey: cfg.CohereKey, Model: cfg.Model, Timeout: cfg.Timeout()}), nil
	default:
		return nil, eris.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}
