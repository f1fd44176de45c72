package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		LLM: map[string]ModelRate{
			"flash":     {Input: 0.10, Output: 0.40},
			"flash-pro": {Input: 1.00, Output: 8.00},
			"sonnet":    {Input: 3.00, Output: 15.00},
		},
		Embedding: map[string]float64{"embed": 0.15},
	}
}

func TestCompletion(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{name: "exact model", model: "sonnet", input: 1_000_000, output: 100_000, want: 3.00 + 1.50},
		{name: "dated model uses prefix", model: "sonnet-20250929", input: 2_000_000, want: 6.00},
		{name: "longest prefix wins", model: "flash-pro-002", input: 1_000_000, output: 1_000_000, want: 9.00},
		{name: "unknown model", model: "llama", input: 5_000_000, output: 5_000_000, want: 0},
		{name: "zero tokens", model: "flash", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Completion(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestEmbedding(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	assert.InDelta(t, 0.075, calc.Embedding("embed", 500_000), 1e-9)
	assert.InDelta(t, 0.15, calc.Embedding("embed-v2", 1_000_000), 1e-9)
	assert.Zero(t, calc.Embedding("other", 1_000_000))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()

	assert.Contains(t, r.LLM, "gemini-2.0-flash")
	assert.Contains(t, r.LLM, "claude-sonnet-4-5-20250929")
	assert.Contains(t, r.Embedding, "gemini-embedding-001")
	for model, rate := range r.LLM {
		assert.Greater(t, rate.Output, rate.Input, "output should cost more than input for %s", model)
	}
}
