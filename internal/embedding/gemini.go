package embedding

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/licita-cli/internal/resilience"
)

// GeminiOptions configures the Gemini embedding provider.
type GeminiOptions struct {
	APIKey     string
	Model      string
	Dimensions int
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Gemini embeds with the Gemini API through google.golang.org/genai.
type Gemini struct {
	client *genai.Client
	model   string
	dims    int
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewGemini creates a Gemini provider. Dimensions <= 0 leaves the model
// default output size.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "embedding: create gemini client")
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("gemini", "embed")
	return &Gemini{client: client, model: model, dims: opts.Dimensions, timeout: timeout, retry: retry}, nil
}

// Model returns the embedding model name.
func (g *Gemini) Model() string { return g.model }

// Embed sends texts in one batch request.
func (g *Gemini) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: geminiTaskType(mode)}
	if g.dims > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(g.dims))
	}

	resp, err := resilience.DoVal(ctx, g.retry, resilience.WithTimeout(g.timeout, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
		return resp, classifyGenAI(err)
	}))
	if err != nil {
		return nil, eris.Wrapf(err, "embedding: gemini embed %d texts", len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e != nil {
			out[i] = e.Values
		}
	}
	return out, nil
}

func geminiTaskType(mode Mode) string {
	if mode == ModeQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// classifyGenAI marks retryable genai API errors as transient.
func classifyGenAI(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(err, apiErr.Code)
	}
	return err
}
