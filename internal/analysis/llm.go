// Package analysis runs the LLM stages: requirement extraction, executive
// summaries and client matching.
package analysis

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/pkg/anthropic"
)

// jsonOnly is appended to prompts that must answer with a bare JSON object.
const jsonOnly = "IMPORTANTE: Responda APENAS com JSON válido, sem markdown ou texto adicional."

// Prompt is one LLM request.
type Prompt struct {
	System string
	User   string
	// JSON asks for a bare JSON object.
	JSON bool
}

// Completion is the LLM answer and its token usage.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Tokens is the total token count of the call.
func (c *Completion) Tokens() int { return c.InputTokens + c.OutputTokens }

// LLM generates text for a prompt.
type LLM interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
	Model() string
}

// BuildPrompt combines system and user text into the single prompt sent to
// providers without a separate system channel.
func BuildPrompt(system, user string, jsonMode bool) string {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(user)
	if jsonMode {
		sb.WriteString("\n\n")
		sb.WriteString(jsonOnly)
	}
	return sb.String()
}

// GenerationOptions are the sampling parameters shared by providers.
type GenerationOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds each provider request. Zero uses defaultTimeout.
	Timeout time.Duration
}

// NewLLM constructs the configured provider.
func NewLLM(ctx context.Context, cfg config.LLMConfig) (LLM, error) {
	opts := GenerationOptions{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout(),
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		if cfg.GeminiKey == "" {
			return nil, eris.New("analysis: gemini provider requires llm.gemini_key")
		}
		return NewGemini(ctx, GeminiOptions{APIKey: cfg.GeminiKey, GenerationOptions: opts})
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, eris.New("analysis: anthropic provider requires llm.anthropic_key")
		}
		if opts.Model == "" || strings.HasPrefix(opts.Model, "gemini") {
			opts.Model = defaultAnthropicModel
		}
		return NewAnthropic(anthropic.NewClient(cfg.AnthropicKey), opts), nil
	default:
		return nil, eris.Errorf("analysis: unknown llm provider %q", cfg.Provider)
	}
}
