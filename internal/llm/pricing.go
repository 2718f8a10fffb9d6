package llm

import "github.com/helixir/report-pipeline-service/internal/domain"

// ModelPrice holds per-million-token prices in USD.
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// modelPrices is the static price table. Provider responses sometimes report
// a fully qualified model name, so lookups fall back to the requested name.
var modelPrices = map[string]ModelPrice{
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-3-sonnet-20240229":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"gpt-4o":                     {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":                {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4-turbo":                {InputPerMTok: 10.00, OutputPerMTok: 30.00},
}

// CostFor computes the USD cost of the given usage under the static price
// table. An unrecognized model name is an error, never a silent zero cost.
func CostFor(model string, usage domain.Usage) (float64, error) {
	price, ok := modelPrices[model]
	if !ok {
		return 0, &UnknownModelError{Model: model}
	}
	cost := float64(usage.InputTokens)*price.InputPerMTok/1e6 +
		float64(usage.OutputTokens)*price.OutputPerMTok/1e6
	return cost, nil
}

// SupportedModel reports whether the model has a pricing entry. Jobs naming
// unsupported models are rejected at submission rather than mid-pipeline.
func SupportedModel(model string) bool {
	_, ok := modelPrices[model]
	return ok
}
