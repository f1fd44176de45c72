package embedding

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/resilience"
)

const defaultCohereModel = "embed-multilingual-v3.0"

// CohereOptions configures the Cohere embedding provider.
type CohereOptions struct {
	APIKey     string
	Model      string
	HTTPClient *http.Client
	// Timeout bounds each request when HTTPClient is nil. Zero uses
	// DefaultTimeout.
	Timeout time.Duration
}

// Cohere embeds with the Cohere V2 Embed API.
type Cohere struct {
	client *cohereclient.Client
	model  string
	retry  resilience.RetryConfig
}

// NewCohere creates a Cohere provider. Models not starting with "embed-"
// fall back to the multilingual default.
func NewCohere(opts CohereOptions) *Cohere {
	model := opts.Model
	if !strings.HasPrefix(model, "embed-") {
		model = defaultCohereModel
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("cohere", "embed")
	return &Cohere{
		client: cohereclient.NewClient(
			cohereclient.WithToken(opts.APIKey),
			cohereclient.WithHTTPClient(hc),
		),
		model: model,
		retry: retry,
	}
}

// Model returns the embedding model name.
func (c *Cohere) Model() string { return c.model }

// Embed calls V2 Embed with float embeddings.
func (c *Cohere) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputType := cohere.EmbedInputTypeSearchDocument
	if mode == ModeQuery {
		inputType = cohere.EmbedInputTypeSearchQuery
	}
	req := &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          c.model,
		InputType:      inputType,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*cohere.EmbedByTypeResponse, error) {
		resp, err := c.client.V2.Embed(ctx, req)
		return resp, classifyCohere(err)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "embedding: cohere embed %d texts", len(texts))
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, eris.New("embedding: cohere returned no float embeddings")
	}

	out := make([][]float32, len(resp.Embeddings.Float))
	for i, vec := range resp.Embeddings.Float {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}

func classifyCohere(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(err, apiErr.StatusCode)
	}
	return err
}
