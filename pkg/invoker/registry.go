package invoker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/supportgate/pkg/adapter"
	"github.com/zen-systems/supportgate/pkg/config"
)

// Backend is a configured adapter and model reachable under an id.
// Err is set when the adapter could not be constructed; invoking such a
// backend fails without an outbound call.
type Backend struct {
	ID      string
	Adapter adapter.Adapter
	Name    string
	Model   string
	Err     error
}

// Kind reports the adapter kind, or remote for unconstructed backends.
func (b Backend) Kind() adapter.Kind {
	if b.Adapter == nil {
		return adapter.KindRemote
	}
	return b.Adapter.Kind()
}

// Registry maps backend ids to adapters.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds id to an adapter and model.
func (r *Registry) Register(id string, a adapter.Adapter, model string) {
	b := Backend{ID: id, Adapter: a, Model: model}
	if a != nil {
		b.Name = a.Name()
	}
	r.backends[id] = b
}

// RegisterUnavailable records a backend whose adapter failed to construct.
func (r *Registry) RegisterUnavailable(id, adapterName, model string, err error) {
	r.backends[id] = Backend{ID: id, Name: adapterName, Model: model, Err: err}
}

// Lookup returns the backend bound to id.
func (r *Registry) Lookup(id string) (Backend, bool) {
	b, ok := r.backends[id]
	return b, ok
}

// IDs returns registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildRegistry constructs an adapter for every configured backend. Backends
// that cannot be constructed (usually a missing API key) are registered as
// unavailable rather than failing startup, so the other backend keeps serving.
func BuildRegistry(ctx context.Context, cfg *config.Config, aliases *config.ModelAliases) *Registry {
	reg := NewRegistry()
	rc := cfg.RoutingConfig
	for _, id := range rc.BackendIDs() {
		bc := rc.Backends[id]
		model := aliases.Resolve(bc.Model)
		a, err := NewAdapter(ctx, cfg, bc)
		if err != nil {
			reg.RegisterUnavailable(id, bc.Adapter, model, err)
			continue
		}
		reg.Register(id, a, model)
	}
	return reg
}

// NewAdapter constructs the adapter named by bc.
func NewAdapter(ctx context.Context, cfg *config.Config, bc config.BackendConfig) (adapter.Adapter, error) {
	var opts []adapter.Option
	if bc.BaseURL != "" {
		opts = append(opts, adapter.WithBaseURL(bc.BaseURL))
	}
	if bc.MaxTokens > 0 {
		opts = append(opts, adapter.WithMaxTokens(bc.MaxTokens))
	}

	switch bc.Adapter {
	case "openai", "anthropic", "google", "deepseek":
		if !cfg.HasAdapter(bc.Adapter) {
			return nil, fmt.Errorf("%s adapter unavailable: %s_API_KEY not set", bc.Adapter, strings.ToUpper(bc.Adapter))
		}
	}

	switch bc.Adapter {
	case "ollama":
		return adapter.NewOllamaAdapter(opts...), nil
	case "openai":
		return adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey, opts...)
	case "anthropic":
		return adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey, opts...)
	case "google":
		return adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey)
	case "deepseek":
		return adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey, opts...)
	case "mock":
		return adapter.NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", bc.Adapter)
	}
}
