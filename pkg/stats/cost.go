package stats

import (
	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// estimateCost prices a response per 1k tokens. Responses without a split
// between prompt and completion tokens are priced entirely at the completion
// rate.
func estimateCost(pricing config.PricingConfig, resp schema.BackendResponse) (float64, bool) {
	entry, ok := pricingFor(pricing, resp.Adapter, resp.Model)
	if !ok {
		return 0, false
	}

	prompt, completion := resp.PromptTokens, resp.CompletionTokens
	if prompt == 0 && completion == 0 {
		completion = resp.TokenCount
	}
	promptCost := (float64(prompt) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(completion) / 1000.0) * entry.CompletionPer1K
	return promptCost + completionCost, true
}

func pricingFor(pricing config.PricingConfig, adapterName, model string) (config.ModelPricing, bool) {
	if pricing == nil {
		return config.ModelPricing{}, false
	}
	if adapterPricing, ok := pricing[adapterName]; ok {
		if entry, ok := adapterPricing[model]; ok {
			return entry, true
		}
		if entry, ok := adapterPricing["default"]; ok {
			return entry, true
		}
	}
	return config.ModelPricing{}, false
}
