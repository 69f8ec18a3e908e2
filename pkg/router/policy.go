package router

import (
	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// Policy decides between the primary and fallback backends.
type Policy struct {
	Threshold float64
	Primary   string
	Fallback  string
}

// NewPolicy builds a policy from routing configuration.
func NewPolicy(cfg *config.RoutingConfig) Policy {
	return Policy{
		Threshold: cfg.Threshold(),
		Primary:   cfg.Primary,
		Fallback:  cfg.Fallback,
	}
}

// Decide picks a backend. primary is nil before the primary has been tried.
// A confidence equal to the threshold is not low.
func (p Policy) Decide(intent schema.IntentResult, primary *schema.BackendResponse) schema.RoutingDecision {
	if primary == nil && intent.Confidence < p.Threshold {
		return schema.RoutingDecision{ChosenBackend: p.Fallback, Reason: schema.ReasonLowConfidenceFallback}
	}
	if primary != nil && !primary.Succeeded {
		return schema.RoutingDecision{ChosenBackend: p.Fallback, Reason: schema.ReasonPrimaryFailedFallback}
	}
	return schema.RoutingDecision{ChosenBackend: p.Primary, Reason: schema.ReasonPrimary}
}
