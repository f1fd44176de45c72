package analysis

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/resilience"
	"github.com/sells-group/licita-cli/pkg/anthropic"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// Anthropic generates with the Messages API. The system prompt travels in
// the system channel; JSON mode appends the JSON-only instruction to the
// user turn.
type Anthropic struct {
	client anthropic.Client
	opts   GenerationOptions
}

// NewAnthropic wraps an anthropic.Client.
func NewAnthropic(client anthropic.Client, opts GenerationOptions) *Anthropic {
	if opts.Model == "" {
		opts.Model = defaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Anthropic{client: client, opts: opts}
}

// Model returns the generation model name.
func (a *Anthropic) Model() string { return a.opts.Model }

// Complete sends one user message.
func (a *Anthropic) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	user := p.User
	if p.JSON {
		user += "\n\n" + jsonOnly
	}
	temp := a.opts.Temperature
	req := anthropic.MessageRequest{
		Model:       a.opts.Model,
		MaxTokens:   int64(a.opts.MaxTokens),
		System:      p.System,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	}
	// The SDK retries on its own; only the overall request is bounded here.
	resp, err := resilience.WithTimeout(a.opts.Timeout, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, req)
	})(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: anthropic generate")
	}
	resp.Usage.Log(resp.Model, "analysis")

	model := resp.Model
	if model == "" {
		model = a.opts.Model
	}
	return &Completion{
		Text:         resp.Text(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		Model:        model,
	}, nil
}
