// Package cost estimates provider spend for LLM and embedding calls.
package cost

import "strings"

// Rates holds per-model pricing in USD per million tokens.
type Rates struct {
	LLM       map[string]ModelRate `yaml:"llm" mapstructure:"llm"`
	Embedding map[string]float64   `yaml:"embedding" mapstructure:"embedding"`
}

// ModelRate holds token pricing for one generation model.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Completion computes the cost of one generation call. Unknown models cost
// 0. A dated model name falls back to the longest rate key it starts with.
func (c *Calculator) Completion(model string, input, output int) float64 {
	rate, ok := lookup(c.rates.LLM, model)
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Embedding computes the cost of embedding tokens with model.
func (c *Calculator) Embedding(model string, tokens int) float64 {
	perM, ok := lookup(c.rates.Embedding, model)
	if !ok {
		return 0
	}
	return (float64(tokens) / 1e6) * perM
}

func lookup[T any](rates map[string]T, model string) (T, bool) {
	if r, ok := rates[model]; ok {
		return r, true
	}
	var (
		best    T
		bestLen int
	)
	for k, r := range rates {
		if len(k) > bestLen && strings.HasPrefix(model, k) {
			best, bestLen = r, len(k)
		}
	}
	return best, bestLen > 0
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		LLM: map[string]ModelRate{
			"gemini-2.0-flash":           {Input: 0.10, Output: 0.40},
			"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Embedding: map[string]float64{
			"gemini-embedding-001":     0.15,
			"embed-multilingual-v3.0":  0.10,
			"embed-multilingual-light": 0.10,
		},
	}
}
