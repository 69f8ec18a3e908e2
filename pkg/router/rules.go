package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

const noMatchConfidence = 0.1

// RuleSet holds the keyword triggers for each label.
type RuleSet struct {
	// triggers per label, longest first so multi-word phrases are reported first
	triggers map[schema.Label][]string
}

// NewRuleSet compiles the intent triggers from routing configuration.
// Intents with unknown labels are ignored.
func NewRuleSet(cfg *config.RoutingConfig) *RuleSet {
	rs := &RuleSet{triggers: make(map[schema.Label][]string)}
	if cfg == nil {
		return rs
	}
	for name, intent := range cfg.Intents {
		label, ok := schema.ParseLabel(name)
		if !ok {
			continue
		}
		var list []string
		for _, trig := range intent.Triggers {
			trig = strings.ToLower(strings.TrimSpace(trig))
			if trig != "" {
				list = append(list, trig)
			}
		}
		sort.SliceStable(list, func(i, j int) bool {
			return len(list[i]) > len(list[j])
		})
		rs.triggers[label] = list
	}
	return rs
}

// Candidates scores every label by the number of distinct triggers found in
// text. Labels without matches are omitted. Ordered by score, then by
// canonical label order.
func (rs *RuleSet) Candidates(text string) []Candidate {
	textLower := strings.ToLower(text)

	var candidates []Candidate
	for _, label := range schema.Labels() {
		var matched []string
		for _, trig := range rs.triggers[label] {
			if containsTrigger(textLower, trig) {
				matched = append(matched, trig)
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Label: label, Score: len(matched), Triggers: matched})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// Score classifies text by keywords alone. Confidence is the top label's
// share of all matches; no match yields technical at 0.1.
func (rs *RuleSet) Score(text string) schema.IntentResult {
	candidates := rs.Candidates(text)
	if len(candidates) == 0 {
		return schema.IntentResult{
			Label:      schema.LabelTechnical,
			Confidence: noMatchConfidence,
			Reasoning:  "no keyword matches found",
		}
	}

	total := 0
	for _, c := range candidates {
		total += c.Score
	}
	top := candidates[0]
	return schema.IntentResult{
		Label:      top.Label,
		Confidence: schema.ClampConfidence(float64(top.Score) / float64(total)),
		Keywords:   top.Triggers,
		Reasoning:  fmt.Sprintf("keyword match: %s", strings.Join(top.Triggers, ", ")),
	}
}

// Triggers returns the compiled triggers for label.
func (rs *RuleSet) Triggers(label schema.Label) []string {
	return rs.triggers[label]
}

// containsTrigger checks if the text contains the trigger phrase on word
// boundaries. Every occurrence is tried, so "apis and api" matches "api".
func containsTrigger(text, trigger string) bool {
	if trigger == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], trigger)
		if idx == -1 {
			return false
		}
		start := offset + idx
		end := start + len(trigger)

		boundedBefore := start == 0 || !isWordChar(text[start-1])
		boundedAfter := end == len(text) || !isWordChar(text[end])
		if boundedBefore && boundedAfter {
			return true
		}
		offset = start + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
