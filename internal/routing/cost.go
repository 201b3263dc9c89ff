package routing

import (
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
)

// baseCostPerToken is the blended average cost per token used for
// relative cost comparison between providers.
const baseCostPerToken = 0.000003

// minEstimatedTokens floors the token estimate for tiny or empty
// requests.
const minEstimatedTokens = 100

// EstimateTokens approximates the token count of a message list: total
// characters of all text content divided by 4, with a floor of 100.
// Non-text content blocks are ignored.
func EstimateTokens(messages []types.Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += msg.TextLength()
	}

	tokens := totalChars / 4
	if tokens < minEstimatedTokens {
		return minEstimatedTokens
	}
	return tokens
}

// EstimateCost estimates the request cost against a provider: estimated
// tokens times the base per-token cost times the provider's multiplier.
func EstimateCost(p *registry.Provider, messages []types.Message) float64 {
	return float64(EstimateTokens(messages)) * baseCostPerToken * p.CostMultiplier
}
