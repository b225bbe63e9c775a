package orchestrator

import (
	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
)

func normalizeUsage(u *adapter.Usage) adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func estimateCost(pricing config.PricingConfig, backend, model string, usage adapter.Usage) (adapter.Cost, bool) {
	entry, ok := pricingFor(pricing, backend, model)
	if !ok {
		return adapter.Cost{Currency: "USD"}, false
	}

	promptCost := (float64(usage.PromptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(usage.CompletionTokens) / 1000.0) * entry.CompletionPer1K
	return adapter.Cost{
		Currency:     "USD",
		Amount:       promptCost + completionCost,
		IsEstimate:   true,
		PricingModel: "per_1k_tokens",
	}, true
}

func pricingFor(pricing config.PricingConfig, backend, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if backendPricing, ok := pricing[backend]; ok {
		if entry, ok := backendPricing[model]; ok {
			return entry, true
		}
		if entry, ok := backendPricing["default"]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}

// withEstimatedCost fills in Cost from pricing when the backend reported
// usage but no cost.
func (o *Orchestrator) withEstimatedCost(resp *adapter.GenerationResponse) *adapter.GenerationResponse {
	if resp.Cost != nil || resp.Usage == nil {
		return resp
	}
	cost, ok := estimateCost(o.pricing, string(resp.Provider), o.resolveModel(resp.Model), normalizeUsage(resp.Usage))
	if !ok {
		return resp
	}
	return resp.WithCost(&cost)
}
