package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/supportgate/pkg/schema"
)

// RoutingConfig holds the intent and backend routing configuration.
type RoutingConfig struct {
	Intents             map[string]IntentConfig  `yaml:"intents" toml:"intents"`
	Backends            map[string]BackendConfig `yaml:"backends" toml:"backends"`
	Primary             string                   `yaml:"primary" toml:"primary"`
	Fallback            string                   `yaml:"fallback" toml:"fallback"`
	ConfidenceThreshold *float64                 `yaml:"confidence_threshold,omitempty" toml:"confidence_threshold,omitempty"`
	TimeoutMs           int                      `yaml:"timeout_ms,omitempty" toml:"timeout_ms,omitempty"`
	Retry               RetryConfig              `yaml:"retry,omitempty" toml:"retry,omitempty"`
	Pricing             PricingConfig            `yaml:"pricing,omitempty" toml:"pricing,omitempty"`
	ClassifierBackend   string                   `yaml:"classifier_backend,omitempty" toml:"classifier_backend,omitempty"`
	EnableLLMClassifier *bool                    `yaml:"enable_llm_classifier,omitempty" toml:"enable_llm_classifier,omitempty"`
	PromptTemplate      string                   `yaml:"prompt_template,omitempty" toml:"prompt_template,omitempty"`
}

// IntentConfig describes one support category.
type IntentConfig struct {
	Description    string   `yaml:"description" toml:"description"`
	Triggers       []string `yaml:"triggers" toml:"triggers"`
	Examples       []string `yaml:"examples,omitempty" toml:"examples,omitempty"`
	Approach       string   `yaml:"approach,omitempty" toml:"approach,omitempty"`
	ResponseStyle  string   `yaml:"response_style,omitempty" toml:"response_style,omitempty"`
	Priority       string   `yaml:"priority,omitempty" toml:"priority,omitempty"`
	PromptTemplate string   `yaml:"prompt_template,omitempty" toml:"prompt_template,omitempty"`
}

// BackendConfig binds a backend id to an adapter and model.
type BackendConfig struct {
	Adapter   string `yaml:"adapter" toml:"adapter"`
	Model     string `yaml:"model" toml:"model"`
	BaseURL   string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
}

// RetryConfig defines retry and backoff behavior for a single invocation.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty" toml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty" toml:"max_backoff_ms,omitempty"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty" toml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty" toml:"completion_per_1k,omitempty"`
}

// KnownAdapters lists the adapter names a backend may reference.
var KnownAdapters = []string{"ollama", "openai", "anthropic", "google", "deepseek", "mock"}

const (
	defaultThreshold = 0.5
	defaultTimeoutMs = 30000
)

// LoadRoutingConfig reads routing configuration from a YAML or TOML file,
// chosen by extension.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg RoutingConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	applyRoutingDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the built-in configuration: a local Ollama
// primary with an OpenAI fallback.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		Intents: map[string]IntentConfig{
			string(schema.LabelTechnical): {
				Description: "Technical Support",
				Triggers: []string{
					"error", "bug", "issue", "problem", "not working", "broken", "failed", "crash", "exception",
					"how to", "how do i", "tutorial", "guide", "documentation", "api", "integration", "setup",
					"404", "500", "timeout", "connection", "authentication", "authorization", "permission",
					"code", "script", "function", "method", "library", "framework", "sdk",
					"install", "configure", "deploy", "deployment", "server", "database", "backend",
					"rate limit", "webhook", "endpoint", "request", "response", "status code",
				},
				Examples: []string{
					"How do I integrate the API?",
					"Getting 404 error when calling endpoint",
					"Authentication not working",
					"How to handle rate limiting?",
					"API documentation examples",
				},
				Approach:      "code_examples_and_documentation",
				ResponseStyle: "step_by_step",
				Priority:      "high",
			},
			string(schema.LabelBilling): {
				Description: "Billing/Account",
				Triggers: []string{
					"billing", "payment", "invoice", "subscription", "plan", "pricing", "cost", "price", "charge",
					"cancel", "cancellation", "refund", "money", "credit", "debit", "card", "paypal", "stripe",
					"upgrade", "downgrade", "tier", "premium", "basic", "pro", "enterprise",
					"account", "profile", "billing info", "payment method", "credit card",
					"trial", "free", "paid", "monthly", "yearly", "annual", "recurring", "auto-renew",
				},
				Examples: []string{
					"How much does the premium plan cost?",
					"I want to cancel my subscription",
					"Update my billing information",
					"What's included in the Pro plan?",
					"Refund policy for annual plans",
				},
				Approach:      "pricing_and_policies",
				ResponseStyle: "clear_and_concise",
				Priority:      "medium",
			},
			string(schema.LabelFeature): {
				Description: "Feature Request",
				Triggers: []string{
					"feature", "functionality", "capability", "option", "tool", "utility",
					"add", "implement", "include", "support", "enable", "provide", "offer",
					"suggest", "propose", "idea", "enhancement", "improvement", "new",
					"missing", "would like", "could you", "can you", "please add",
					"mobile", "app", "ios", "android", "dark mode", "export", "import", "sync",
					"roadmap", "timeline", "eta", "planned", "coming soon", "future",
				},
				Examples: []string{
					"Can you add dark mode?",
					"Need export to PDF functionality",
					"Request for mobile app",
					"When will you support webhooks?",
					"Add support for Python SDK",
				},
				Approach:      "roadmap_and_comparison",
				ResponseStyle: "informative_and_encouraging",
				Priority:      "low",
			},
		},
		Backends: map[string]BackendConfig{
			"local":  {Adapter: "ollama", Model: "tinyllama:1.1b", BaseURL: "http://localhost:11434"},
			"remote": {Adapter: "openai", Model: "gpt-3.5-turbo"},
			"mock":   {Adapter: "mock", Model: "mock-1"},
		},
		Primary:           "local",
		Fallback:          "remote",
		ClassifierBackend: "local",
		Pricing: PricingConfig{
			"openai": {
				"gpt-3.5-turbo": {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
			},
		},
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.ConfidenceThreshold == nil {
		threshold := defaultThreshold
		cfg.ConfidenceThreshold = &threshold
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaultTimeoutMs
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.EnableLLMClassifier == nil {
		enabled := true
		cfg.EnableLLMClassifier = &enabled
	}
	if cfg.Intents == nil {
		cfg.Intents = make(map[string]IntentConfig)
	}
}

// Threshold returns the low-confidence fallback threshold.
func (c *RoutingConfig) Threshold() float64 {
	if c == nil || c.ConfidenceThreshold == nil {
		return defaultThreshold
	}
	return *c.ConfidenceThreshold
}

// SetThreshold overrides the low-confidence fallback threshold.
func (c *RoutingConfig) SetThreshold(v float64) {
	c.ConfidenceThreshold = &v
}

// Timeout returns the per-invocation timeout.
func (c *RoutingConfig) Timeout() time.Duration {
	if c == nil || c.TimeoutMs <= 0 {
		return defaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LLMClassifierEnabled reports whether the backend classification stage runs.
func (c *RoutingConfig) LLMClassifierEnabled() bool {
	if c == nil || c.EnableLLMClassifier == nil {
		return true
	}
	return *c.EnableLLMClassifier
}

// Intent returns the configuration for label, if any.
func (c *RoutingConfig) Intent(label schema.Label) (IntentConfig, bool) {
	if c == nil {
		return IntentConfig{}, false
	}
	ic, ok := c.Intents[string(label)]
	return ic, ok
}

// BackendIDs returns configured backend ids in sorted order.
func (c *RoutingConfig) BackendIDs() []string {
	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that the configuration references only known labels,
// adapters and backends.
func (c *RoutingConfig) Validate() error {
	if c == nil {
		return errors.New("routing config is nil")
	}
	var errs []error

	for name := range c.Intents {
		if _, ok := schema.ParseLabel(name); !ok {
			errs = append(errs, fmt.Errorf("intent %q is not one of %v", name, schema.Labels()))
		}
	}
	for id, b := range c.Backends {
		if !isKnownAdapter(b.Adapter) {
			errs = append(errs, fmt.Errorf("backend %q: unknown adapter %q", id, b.Adapter))
		}
		if strings.TrimSpace(b.Model) == "" {
			errs = append(errs, fmt.Errorf("backend %q: model is required", id))
		}
	}
	if c.Primary == "" {
		errs = append(errs, errors.New("primary backend is required"))
	} else if _, ok := c.Backends[c.Primary]; !ok {
		errs = append(errs, fmt.Errorf("primary backend %q is not defined", c.Primary))
	}
	if c.Fallback == "" {
		errs = append(errs, errors.New("fallback backend is required"))
	} else if _, ok := c.Backends[c.Fallback]; !ok {
		errs = append(errs, fmt.Errorf("fallback backend %q is not defined", c.Fallback))
	}
	if c.ClassifierBackend != "" {
		if _, ok := c.Backends[c.ClassifierBackend]; !ok {
			errs = append(errs, fmt.Errorf("classifier backend %q is not defined", c.ClassifierBackend))
		}
	}
	if t := c.Threshold(); t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold %.2f outside [0,1]", t))
	}

	return errors.Join(errs...)
}

func isKnownAdapter(name string) bool {
	for _, known := range KnownAdapters {
		if known == name {
			return true
		}
	}
	return false
}
