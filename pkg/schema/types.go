package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Label is the coarse support category assigned to a query.
type Label string

const (
	LabelTechnical Label = "technical"
	LabelBilling   Label = "billing"
	LabelFeature   Label = "feature"
)

// Labels returns the fixed label set in canonical order.
func Labels() []Label {
	return []Label{LabelTechnical, LabelBilling, LabelFeature}
}

// ParseLabel returns the label matching s exactly (case-insensitive).
func ParseLabel(s string) (Label, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range Labels() {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// Query is a single incoming support request.
type Query struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewQuery stamps text with an ID and the current time.
func NewQuery(text string) Query {
	return Query{
		ID:         uuid.New().String(),
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

// IntentResult is the classifier output for one query.
type IntentResult struct {
	Label      Label    `json:"intent"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 || c != c {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ErrorKind classifies a failed backend attempt.
type ErrorKind string

const (
	ErrorKindNone     ErrorKind = ""
	ErrorKindTimeout  ErrorKind = "upstream_timeout"
	ErrorKindUpstream ErrorKind = "upstream_error"
	ErrorKindCanceled ErrorKind = "canceled"
)

// BackendResponse is the outcome of one invocation attempt.
type BackendResponse struct {
	Text             string    `json:"text"`
	BackendID        string    `json:"backend_id"`
	Adapter          string    `json:"adapter,omitempty"`
	Model            string    `json:"model,omitempty"`
	LatencySeconds   float64   `json:"latency_seconds"`
	TokenCount       int       `json:"token_count"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	Succeeded        bool      `json:"succeeded"`
	Error            string    `json:"error,omitempty"`
	ErrorKind        ErrorKind `json:"error_kind,omitempty"`
}

// ModelUsed formats the adapter and model as "adapter:model".
func (r BackendResponse) ModelUsed() string {
	if r.Adapter == "" {
		return r.BackendID
	}
	if r.Model == "" {
		return r.Adapter
	}
	return r.Adapter + ":" + r.Model
}

// Reason explains why a backend was chosen.
type Reason string

const (
	ReasonPrimary               Reason = "primary"
	ReasonLowConfidenceFallback Reason = "low_confidence_fallback"
	ReasonPrimaryFailedFallback Reason = "primary_failed_fallback"
)

// IsFallback reports whether the reason routes to the fallback backend.
func (r Reason) IsFallback() bool {
	return r == ReasonLowConfidenceFallback || r == ReasonPrimaryFailedFallback
}

// RoutingDecision names the backend chosen for a query and why.
type RoutingDecision struct {
	ChosenBackend string `json:"chosen_backend"`
	Reason        Reason `json:"reason"`
}
