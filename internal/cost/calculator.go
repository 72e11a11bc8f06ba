// Package cost prices paid provider calls and records them in the usage ledger.
package cost

// Provider names with a dedicated pricing model. Anything else is looked up
// in Rates.PerCall.
const (
	ProviderAnthropic  = "anthropic"
	ProviderJina       = "jina"
	ProviderPerplexity = "perplexity"
)

// Rates is the price table, in USD.
type Rates struct {
	// Anthropic is keyed by model ID; prices are per million tokens.
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaRate             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	PerCall    map[string]float64   `yaml:"per_call" mapstructure:"per_call"`
}

// ModelRate prices one model. Cache multipliers scale the input price.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaRate prices Reader calls by page tokens.
type JinaRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// PerplexityRate prices each search request.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Calculator turns Usage into dollars.
type Calculator struct {
	rates Rates
}

// NewCalculator returns a Calculator over rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Price returns the cost of u. Unknown models and unpriced providers cost 0
// so a missing rate never blocks a run.
func (c *Calculator) Price(u Usage) float64 {
	calls := float64(max(u.Calls, 1))
	switch u.Provider {
	case ProviderAnthropic:
		return c.tokens(u)
	case ProviderJina:
		return perMillion(u.Tokens) * c.rates.Jina.PerMTok
	case ProviderPerplexity:
		return c.rates.Perplexity.PerQuery * calls
	default:
		return c.rates.PerCall[u.Provider] * calls
	}
}

func (c *Calculator) tokens(u Usage) float64 {
	rate, ok := c.rates.Anthropic[u.Model]
	if !ok {
		return 0
	}
	in := perMillion(u.InputTokens) +
		perMillion(u.CacheWrite)*rate.CacheWriteMul +
		perMillion(u.CacheRead)*rate.CacheReadMul
	return in*rate.Input + perMillion(u.OutputTokens)*rate.Output
}

func perMillion(n int) float64 { return float64(n) / 1e6 }

// DefaultRates is the price table used when config supplies none.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		Jina:       JinaRate{PerMTok: 0.02},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		// Registry lookups and CRM sinks are free at current volumes; they
		// are listed so usage still counts their calls.
		PerCall: map[string]float64{
			"cnpj":       0,
			"notion":     0,
			"salesforce": 0,
		},
	}
}
