package observer

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing contains defaults for common models, keyed by the
// LiteLLM model id. Users can override or extend via
// [observer.pricing] in deepsearch.toml.
var DefaultPricing = map[string]ModelPricing{
	// OpenAI
	"openai/gpt-5.1":          {1.25, 10.00},
	"openai/gpt-5-search-api": {1.25, 10.00},
	"openai/gpt-4o":           {2.50, 10.00},
	"openai/gpt-4o-mini":      {0.15, 0.60},
	"openai/o3-mini":          {1.10, 4.40},

	// Anthropic
	"anthropic/claude-sonnet-4-5": {3.00, 15.00},
	"anthropic/claude-haiku-3-5":  {0.80, 4.00},

	// Gemini
	"gemini/gemini-2.5-flash": {0.15, 0.60},
	"gemini/gemini-2.5-pro":   {1.25, 10.00},

	// xAI
	"xai/grok-4-fast": {0.20, 0.50},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
