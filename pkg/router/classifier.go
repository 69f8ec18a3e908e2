package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// ErrInvalidInput is returned for queries that are empty after trimming.
var ErrInvalidInput = errors.New("query text is empty")

const (
	// backend answers without an explicit confidence
	defaultBackendConfidence = 0.8
	// disagreement thresholds
	backendPreferThreshold = 0.7
	keywordPreferThreshold = 0.3
	disagreeConfidence     = 0.2
)

// Invoker is the subset of the model invoker the classifier needs.
type Invoker interface {
	Invoke(ctx context.Context, prompt, backendID string, timeout time.Duration) schema.BackendResponse
}

// Classifier assigns a label to query text using keyword rules and, when
// configured, a backend classification.
type Classifier struct {
	rules     *RuleSet
	invoker   Invoker
	backendID string
	timeout   time.Duration
	intents   map[string]config.IntentConfig
	logf      func(format string, args ...any)
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithClassifierLogger overrides the logger used for backend failures.
func WithClassifierLogger(logf func(format string, args ...any)) ClassifierOption {
	return func(c *Classifier) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// NewClassifier creates a classifier. The backend stage runs only when inv is
// non-nil, a classifier backend is configured and the stage is enabled.
func NewClassifier(cfg *config.RoutingConfig, inv Invoker, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		rules: NewRuleSet(cfg),
		logf:  log.Printf,
	}
	if cfg != nil {
		c.timeout = cfg.Timeout()
		c.intents = cfg.Intents
		if inv != nil && cfg.LLMClassifierEnabled() && strings.TrimSpace(cfg.ClassifierBackend) != "" {
			c.invoker = inv
			c.backendID = cfg.ClassifierBackend
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules returns the keyword rule set.
func (c *Classifier) Rules() *RuleSet {
	return c.rules
}

// Classify determines the label for text.
func (c *Classifier) Classify(ctx context.Context, text string) (schema.IntentResult, error) {
	if strings.TrimSpace(text) == "" {
		return schema.IntentResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return schema.IntentResult{}, err
	}

	keyword := c.rules.Score(text)
	if c.invoker == nil {
		return keyword, nil
	}

	resp := c.invoker.Invoke(ctx, buildClassifierPrompt(text, c.intents), c.backendID, c.timeout)
	if err := ctx.Err(); err != nil {
		return schema.IntentResult{}, err
	}
	if !resp.Succeeded {
		c.logf("[router] classifier backend %s failed (%s): %s; using keywords", c.backendID, resp.ErrorKind, resp.Error)
		return keyword, nil
	}

	backend, inVocab := parseClassifierResponse(resp.Text)
	if !inVocab {
		c.logf("[router] classifier backend %s returned unknown label; clamped to %s", c.backendID, backend.Label)
		return backend, nil
	}
	return combine(keyword, backend), nil
}

// combine merges keyword and backend results for in-vocabulary labels.
func combine(keyword, backend schema.IntentResult) schema.IntentResult {
	if keyword.Label == backend.Label {
		conf := keyword.Confidence
		if backend.Confidence > conf {
			conf = backend.Confidence
		}
		return schema.IntentResult{
			Label:      keyword.Label,
			Confidence: conf,
			Keywords:   keyword.Keywords,
			Reasoning:  fmt.Sprintf("both methods agree: %s; %s", keyword.Reasoning, backend.Reasoning),
		}
	}
	if backend.Confidence > backendPreferThreshold {
		backend.Reasoning = "backend preferred: " + backend.Reasoning
		return backend
	}
	if keyword.Confidence > keywordPreferThreshold {
		keyword.Reasoning = "keyword preferred: " + keyword.Reasoning
		return keyword
	}
	return schema.IntentResult{
		Label:      schema.LabelTechnical,
		Confidence: disagreeConfidence,
		Reasoning:  "methods disagree with low confidence; defaulting to technical",
	}
}

type classifierPick struct {
	Intent     string   `json:"intent"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// parseClassifierResponse extracts a label from a backend reply. JSON replies
// are read from the intent field; anything else is searched for a label word.
// The second return value is false when no known label was named; the result
// is then clamped to the closest label with zero confidence.
func parseClassifierResponse(content string) (schema.IntentResult, bool) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var pick classifierPick
	if err := json.Unmarshal([]byte(content), &pick); err != nil || pick.Intent == "" {
		return parseFreeText(content)
	}

	raw := normalizeToken(pick.Intent)
	if label, ok := schema.ParseLabel(raw); ok {
		conf := defaultBackendConfidence
		if pick.Confidence != nil {
			conf = schema.ClampConfidence(*pick.Confidence)
		}
		return schema.IntentResult{
			Label:      label,
			Confidence: conf,
			Reasoning:  "backend classification: " + pick.Reason,
		}, true
	}
	return clamped(pick.Intent, closestLabel(raw, raw)), false
}

// parseFreeText takes the first label, in canonical order, mentioned anywhere
// in a prose reply such as "This query is about billing."
func parseFreeText(content string) (schema.IntentResult, bool) {
	lower := strings.ToLower(content)
	for _, label := range schema.Labels() {
		if strings.Contains(lower, string(label)) {
			return schema.IntentResult{
				Label:      label,
				Confidence: defaultBackendConfidence,
				Reasoning:  "backend classification: " + content,
			}, true
		}
	}
	first := ""
	if fields := strings.Fields(content); len(fields) > 0 {
		first = fields[0]
	}
	return clamped(first, closestLabel(normalizeToken(content), normalizeToken(first))), false
}

func clamped(raw string, label schema.Label) schema.IntentResult {
	return schema.IntentResult{
		Label:      label,
		Confidence: 0,
		Reasoning:  fmt.Sprintf("backend label %q outside known set; clamped to %s", raw, label),
	}
}

// normalizeToken lowercases s and strips everything but letters, digits,
// '_' '-' and '/'.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '/':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

var labelAliases = []struct {
	alias string
	label schema.Label
}{
	{"tech", schema.LabelTechnical},
	{"support", schema.LabelTechnical},
	{"bug", schema.LabelTechnical},
	{"error", schema.LabelTechnical},
	{"payment", schema.LabelBilling},
	{"account", schema.LabelBilling},
	{"invoice", schema.LabelBilling},
	{"subscription", schema.LabelBilling},
	{"pricing", schema.LabelBilling},
	{"request", schema.LabelFeature},
	{"enhancement", schema.LabelFeature},
	{"suggestion", schema.LabelFeature},
}

// closestLabel maps an unknown label to a known one: a label or alias
// contained in text first, then the smallest edit distance from word. Ties
// resolve in canonical label order.
func closestLabel(text, word string) schema.Label {
	for _, label := range schema.Labels() {
		if text != "" && strings.Contains(text, string(label)) {
			return label
		}
	}
	for _, a := range labelAliases {
		if text != "" && strings.Contains(text, a.alias) {
			return a.label
		}
	}

	best := schema.LabelTechnical
	bestDist := -1
	for _, label := range schema.Labels() {
		d := levenshtein.ComputeDistance(word, string(label))
		if bestDist == -1 || d < bestDist {
			best, bestDist = label, d
		}
	}
	return best
}

func buildClassifierPrompt(text string, intents map[string]config.IntentConfig) string {
	var sb strings.Builder
	sb.WriteString("You are a customer support classifier. Choose the category of the query.\n")
	sb.WriteString("Return ONLY JSON: {\"intent\":\"...\",\"confidence\":0-1,\"reason\":\"...\"}.\n\n")
	sb.WriteString("Categories:\n")
	for _, label := range schema.Labels() {
		desc := ""
		if ic, ok := intents[string(label)]; ok {
			desc = ic.Description
		}
		if desc != "" {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", label, desc))
		} else {
			sb.WriteString(fmt.Sprintf("- %s\n", label))
		}
	}
	sb.WriteString("\nQuery:\n")
	sb.WriteString(text)
	sb.WriteString("\n")
	return sb.String()
}
