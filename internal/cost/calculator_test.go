package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"sonnet": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		Jina:       JinaRate{PerMTok: 0.02},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		PerCall:    map[string]float64{"cnpj": 0.001},
	}
}

func TestPrice(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name string
		u    Usage
		want float64
	}{
		{"haiku in and out", Usage{Provider: ProviderAnthropic, Model: "haiku", InputTokens: 1_000_000, OutputTokens: 100_000}, 0.80 + 0.40},
		{"sonnet in and out", Usage{Provider: ProviderAnthropic, Model: "sonnet", InputTokens: 1_000_000, OutputTokens: 100_000}, 3.00 + 1.50},
		{
			"haiku with prompt cache",
			Usage{Provider: ProviderAnthropic, Model: "haiku", InputTokens: 500_000, OutputTokens: 50_000, CacheWrite: 200_000, CacheRead: 300_000},
			0.40 + 0.20 + 0.20 + 0.024,
		},
		{"unknown model is free", Usage{Provider: ProviderAnthropic, Model: "opus-x", InputTokens: 1_000_000}, 0},
		{"jina by tokens", Usage{Provider: ProviderJina, Tokens: 500_000}, 0.01},
		{"jina ignores calls", Usage{Provider: ProviderJina, Tokens: 2150, Calls: 4}, 2150.0 / 1e6 * 0.02},
		{"perplexity single", Usage{Provider: ProviderPerplexity}, 0.005},
		{"perplexity multiple", Usage{Provider: ProviderPerplexity, Calls: 3}, 0.015},
		{"per call", Usage{Provider: "cnpj", Calls: 2}, 0.002},
		{"unpriced provider", Usage{Provider: "notion"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Price(tt.u), 1e-6)
		})
	}
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5-20250929")
	assert.Contains(t, rates.PerCall, "cnpj")

	calc := NewCalculator(rates)
	assert.InDelta(t, 0.005, calc.Price(Usage{Provider: ProviderPerplexity}), 1e-9)
	assert.Zero(t, calc.Price(Usage{Provider: "salesforce", Calls: 10}))
}
