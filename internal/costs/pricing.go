// Package costs estimates and aggregates the spend of oracle calls. Token
// counts are estimated from text length when the backend does not report
// exact usage, so figures are indicative rather than billing-grade.
package costs

import "fmt"

// ModelPrice holds USD prices per one million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

// pricing covers the models the configured backends can route to. Unknown
// models fall back to a conservative mid-tier price.
var pricing = map[string]ModelPrice{
	"gemini-2.0-flash": {Input: 0.1, Output: 0.4},
	"gemini-2.5-flash": {Input: 0.3, Output: 2.5},
	"gemini-1.5-pro":   {Input: 1.25, Output: 5.0},
}

var fallbackPrice = ModelPrice{Input: 1.0, Output: 5.0}

// Local models carry no per-token price.
var freePrice = ModelPrice{}

// PriceFor returns the price table entry for a model.
func PriceFor(provider, model string) ModelPrice {
	if provider == "ollama" {
		return freePrice
	}
	if p, ok := pricing[model]; ok {
		return p
	}
	return fallbackPrice
}

// EstimateTokens approximates token count from text length, assuming 3.5
// characters per token. That slightly overestimates plain English, which is
// the safe direction for a spend estimate.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text)*2 + 6) / 7
}

// Cost computes USD spend for a call.
func Cost(provider, model string, inputTokens, outputTokens int) float64 {
	p := PriceFor(provider, model)
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}

// FormatUSD renders a dollar amount; sub-cent values switch to a finer scale
// so short sessions do not round to zero.
func FormatUSD(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.6f", usd)
	}
	return fmt.Sprintf("$%.4f", usd)
}
