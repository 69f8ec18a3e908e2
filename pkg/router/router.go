package router

import (
	"context"
	"log"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// Router classifies queries and decides which backend serves them.
type Router struct {
	classifier *Classifier
	policy     Policy
	config     *config.RoutingConfig
	debug      bool
}

// RouterOption configures a Router.
type RouterOption func(*routerOptions)

type routerOptions struct {
	debug bool
	logf  func(format string, args ...any)
}

// WithDebug enables debug logging.
func WithDebug(debug bool) RouterOption {
	return func(o *routerOptions) {
		o.debug = debug
	}
}

// WithLogger overrides the router logger.
func WithLogger(logf func(format string, args ...any)) RouterOption {
	return func(o *routerOptions) {
		o.logf = logf
	}
}

// NewRouter creates a router from routing config. inv may be nil to disable
// backend classification.
func NewRouter(cfg *config.RoutingConfig, inv Invoker, opts ...RouterOption) *Router {
	o := routerOptions{logf: log.Printf}
	for _, opt := range opts {
		opt(&o)
	}
	return &Router{
		classifier: NewClassifier(cfg, inv, WithClassifierLogger(o.logf)),
		policy:     NewPolicy(cfg),
		config:     cfg,
		debug:      o.debug,
	}
}

// Classify labels text.
func (r *Router) Classify(ctx context.Context, text string) (schema.IntentResult, error) {
	result, err := r.classifier.Classify(ctx, text)
	if err == nil && r.debug {
		log.Printf("[router] classified as %s (confidence %.2f): %s", result.Label, result.Confidence, result.Reasoning)
	}
	return result, err
}

// Decide applies the fallback policy.
func (r *Router) Decide(intent schema.IntentResult, primary *schema.BackendResponse) schema.RoutingDecision {
	return r.policy.Decide(intent, primary)
}

// Policy returns the fallback policy in use.
func (r *Router) Policy() Policy {
	return r.policy
}

// Candidates returns the keyword candidates for text.
func (r *Router) Candidates(text string) []Candidate {
	return r.classifier.Rules().Candidates(text)
}

// GetRoutes returns every intent's routing configuration in canonical order.
func (r *Router) GetRoutes() []RouteInfo {
	var routes []RouteInfo
	for _, label := range schema.Labels() {
		ic, _ := r.config.Intent(label)
		routes = append(routes, RouteInfo{
			Label:         label,
			Description:   ic.Description,
			Triggers:      r.classifier.Rules().Triggers(label),
			Examples:      ic.Examples,
			ResponseStyle: ic.ResponseStyle,
			Priority:      ic.Priority,
			Primary:       r.policy.Primary,
			Fallback:      r.policy.Fallback,
		})
	}
	return routes
}
