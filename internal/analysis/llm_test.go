package analysis

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/resilience"
	"github.com/sells-group/licita-cli/pkg/anthropic"
)

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "sys\n\n---\n\nuser", BuildPrompt("sys", "user", false))
	assert.Equal(t, "sys\n\n---\n\nuser\n\n"+jsonOnly, BuildPrompt("sys", "user", true))
}

func TestNewLLM_RequiresKeys(t *testing.T) {
	_, err := NewLLM(context.Background(), config.LLMConfig{Provider: "gemini"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.gemini_key")

	_, err = NewLLM(context.Background(), config.LLMConfig{Provider: "anthropic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.anthropic_key")

	_, err = NewLLM(context.Background(), config.LLMConfig{Provider: "openai"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestNewLLM_AnthropicReplacesGeminiModel(t *testing.T) {
	llm, err := NewLLM(context.Background(), config.LLMConfig{
		Provider:     "anthropic",
		AnthropicKey: "k",
		Model:        "gemini-2.0-flash",
	})
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, llm.Model())
}

func TestAnthropic_Complete(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.System == "sys" &&
			len(req.Messages) == 1 &&
			strings.HasSuffix(req.Messages[0].Content, jsonOnly) &&
			req.Temperature != nil && *req.Temperature == 0.1 &&
			req.MaxTokens == defaultMaxTokens
	})).Return(&anthropic.MessageResponse{
		Model:   "claude-test",
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"ok":true}`}},
		Usage:   anthropic.TokenUsage{InputTokens: 30, OutputTokens: 12},
	}, nil)

	a := NewAnthropic(client, GenerationOptions{Temperature: 0.1})
	c, err := a.Complete(context.Background(), Prompt{System: "sys", User: "user", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, c.Text)
	assert.Equal(t, "claude-test", c.Model)
	assert.Equal(t, 42, c.Tokens())
	client.AssertExpectations(t)
}

func TestAnthropic_Error(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("overloaded"))

	_, err := NewAnthropic(client, GenerationOptions{}).Complete(context.Background(), Prompt{User: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestGemini_Complete(t *testing.T) {
	var body string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"resumo\": \"ok\"}"}]}}],
			"usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 20}
		}`)) //nolint:errcheck
	}))
	defer ts.Close()

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	require.NoError(t, err)

	c, err := g.Complete(context.Background(), Prompt{System: "sys", User: "user", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"resumo": "ok"}`, c.Text)
	assert.Equal(t, 100, c.InputTokens)
	assert.Equal(t, 20, c.OutputTokens)
	assert.Equal(t, "gemini-2.0-flash", c.Model)
	assert.Contains(t, body, "application/json")
	assert.Contains(t, body, "sys")
}

func TestGemini_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	g, err := NewGemini(context.Background(), GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = g.Complete(context.Background(), Prompt{User: "u"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGemini_StalledRequestIsBounded(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(30 * time.Second):
		}
	}))
	defer ts.Close()

	g, err := NewGemini(context.Background(), GeminiOptions{
		APIKey:            "k",
		BaseURL:           ts.URL,
		GenerationOptions: GenerationOptions{Timeout: 50 * time.Millisecond},
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = g.Complete(context.Background(), Prompt{User: "u"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.GreaterOrEqual(t, int(calls.Load()), 3)
}

// stalledAnthropic blocks until the request context ends.
type stalledAnthropic struct{}

func (stalledAnthropic) CreateMessage(ctx context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAnthropic_StalledRequestIsBounded(t *testing.T) {
	a := NewAnthropic(stalledAnthropic{}, GenerationOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := a.Complete(context.Background(), Prompt{User: "u"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewLLM_CarriesTimeout(t *testing.T) {
	llm, err := NewLLM(context.Background(), config.LLMConfig{Provider: "anthropic", AnthropicKey: "k", TimeoutSecs: 45})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, llm.(*Anthropic).opts.Timeout)
}
