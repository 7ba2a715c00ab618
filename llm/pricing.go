package llm

// Price is a per-model rate in USD per million tokens.
type Price struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// PriceTable maps registered model names to their price.
type PriceTable map[string]Price

// DefaultPrices covers the models registered by default.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gemini-pro":    {InputPerMillion: 1.25, OutputPerMillion: 10.00},
		"claude-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"deepseek-chat": {InputPerMillion: 0.27, OutputPerMillion: 1.10},
	}
}

// Cost estimates the USD cost of a call. Unknown models cost nothing.
func (t PriceTable) Cost(model string, usage TokenUsage) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)*price.InputPerMillion/1e6 +
		float64(usage.CompletionTokens)*price.OutputPerMillion/1e6
}
