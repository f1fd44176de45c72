package analysis

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sells-group/licita-cli/internal/resilience"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	defaultMaxTokens   = 16000
	defaultTimeout     = 2 * time.Minute
)

// GeminiOptions configures the Gemini generation provider.
type GeminiOptions struct {
	GenerationOptions
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini generates with the Gemini API.
type Gemini struct {
	client *genai.Client
	opts   GenerationOptions
	retry  resilience.RetryConfig
}

// NewGemini creates a Gemini LLM.
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
		return nil, eris.Wrap(err, "analysis: create gemini client")
	}

	gen := opts.GenerationOptions
	if gen.Model == "" {
		gen.Model = defaultGeminiModel
	}
	if gen.MaxTokens <= 0 {
		gen.MaxTokens = defaultMaxTokens
	}
	if gen.Timeout <= 0 {
		gen.Timeout = defaultTimeout
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("gemini", "generate")
	return &Gemini{client: client, opts: gen, retry: retry}, nil
}

// Model returns the generation model name.
func (g *Gemini) Model() string { return g.opts.Model }

// Complete sends the combined prompt as one user turn.
func (g *Gemini) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(g.opts.Temperature)),
		MaxOutputTokens: int32(g.opts.MaxTokens),
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	contents := genai.Text(BuildPrompt(p.System, p.User, p.JSON))

	resp, err := resilience.DoVal(ctx, g.retry, resilience.WithTimeout(g.opts.Timeout, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, cfg)
		return resp, classifyGenAI(err)
	}))
	if err != nil {
		return nil, eris.Wrap(err, "analysis: gemini generate")
	}

	c := &Completion{Text: resp.Text(), Model: g.opts.Model}
	if resp.UsageMetadata != nil {
		c.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		c.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	zap.L().Debug("gemini completion",
		zap.String("model", c.Model),
		zap.Int("input_tokens", c.InputTokens),
		zap.Int("output_tokens", c.OutputTokens),
	)
	return c, nil
}

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
