package router

import (
	"testing"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

func TestRuleSet_Score(t *testing.T) {
	rs := NewRuleSet(config.DefaultRoutingConfig())

	tests := []struct {
		name      string
		text      string
		wantLabel schema.Label
		wantConf  float64
	}{
		{name: "error and endpoint", text: "Getting 404 error when calling endpoint", wantLabel: schema.LabelTechnical, wantConf: 1},
		{name: "cancel subscription", text: "I want to cancel my subscription", wantLabel: schema.LabelBilling, wantConf: 1},
		{name: "dark mode", text: "Can you add dark mode?", wantLabel: schema.LabelFeature, wantConf: 1},
		{name: "premium plan", text: "How much does the premium plan cost?", wantLabel: schema.LabelBilling, wantConf: 1},
		{name: "no keywords", text: "hello there", wantLabel: schema.LabelTechnical, wantConf: 0.1},
		{name: "tie resolves in canonical order", text: "api pricing", wantLabel: schema.LabelTechnical, wantConf: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rs.Score(tt.text)
			if got.Label != tt.wantLabel {
				t.Errorf("Score(%q) label = %s, want %s", tt.text, got.Label, tt.wantLabel)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Score(%q) confidence = %.2f, want %.2f", tt.text, got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestRuleSet_CandidatesOrdering(t *testing.T) {
	cfg := &config.RoutingConfig{
		Intents: map[string]config.IntentConfig{
			"technical": {Triggers: []string{"alpha"}},
			"billing":   {Triggers: []string{"alpha", "beta"}},
			"sales":     {Triggers: []string{"alpha"}},
		},
	}
	rs := NewRuleSet(cfg)

	candidates := rs.Candidates("alpha beta")
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates (unknown label ignored), got %+v", candidates)
	}
	if candidates[0].Label != schema.LabelBilling || candidates[0].Score != 2 {
		t.Fatalf("unexpected top candidate: %+v", candidates[0])
	}

	result := rs.Score("alpha beta")
	if result.Confidence < 0.66 || result.Confidence > 0.67 {
		t.Fatalf("confidence = %.3f, want 2/3", result.Confidence)
	}
	if len(result.Keywords) != 2 {
		t.Fatalf("keywords = %v", result.Keywords)
	}
}

func TestRuleSet_LongerTriggersFirst(t *testing.T) {
	cfg := &config.RoutingConfig{
		Intents: map[string]config.IntentConfig{
			"billing": {Triggers: []string{"card", "credit card"}},
		},
	}
	rs := NewRuleSet(cfg)
	got := rs.Triggers(schema.LabelBilling)
	if len(got) != 2 || got[0] != "credit card" {
		t.Fatalf("triggers = %v", got)
	}
}

func TestContainsTrigger(t *testing.T) {
	tests := []struct {
		text    string
		trigger string
		want    bool
	}{
		{"the api is down", "api", true},
		{"rapid response", "api", false},
		{"apis and api", "api", true},
		{"error", "error", true},
		{"errors everywhere", "error", false},
		{"please add dark mode", "dark mode", true},
		{"anything", "", false},
	}
	for _, tt := range tests {
		if got := containsTrigger(tt.text, tt.trigger); got != tt.want {
			t.Errorf("containsTrigger(%q, %q) = %v, want %v", tt.text, tt.trigger, got, tt.want)
		}
	}
}
