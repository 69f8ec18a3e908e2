package orchestrator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// DefaultPromptTemplate is used when neither the intent nor the routing
// config supplies one.
const DefaultPromptTemplate = `You are a helpful customer support assistant.
The customer's question was classified as {{.Intent}}{{with .Description}} ({{.}}){{end}}.
{{- with .Approach}}
Approach: {{humanize .}}.{{end}}
{{- with .ResponseStyle}}
Keep the answer {{humanize .}}.{{end}}

Customer question: {{.Query}}

Answer:`

// PromptData is the template input.
type PromptData struct {
	Query         string
	Intent        schema.Label
	Confidence    float64
	Description   string
	Approach      string
	ResponseStyle string
	Examples      []string
}

var promptFuncs = template.FuncMap{
	"humanize": func(s string) string { return strings.ReplaceAll(s, "_", " ") },
}

// prompts holds the parsed template for each label.
type prompts struct {
	byLabel map[schema.Label]*template.Template
	intents map[schema.Label]config.IntentConfig
}

func parsePrompts(cfg *config.RoutingConfig) (*prompts, error) {
	base := DefaultPromptTemplate
	if cfg != nil && strings.TrimSpace(cfg.PromptTemplate) != "" {
		base = cfg.PromptTemplate
	}

	p := &prompts{
		byLabel: make(map[schema.Label]*template.Template),
		intents: make(map[schema.Label]config.IntentConfig),
	}
	for _, label := range schema.Labels() {
		text := base
		if cfg != nil {
			if ic, ok := cfg.Intent(label); ok {
				p.intents[label] = ic
				if strings.TrimSpace(ic.PromptTemplate) != "" {
					text = ic.PromptTemplate
				}
			}
		}
		tmpl, err := template.New(string(label)).Funcs(promptFuncs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt template for %s: %w", label, err)
		}
		p.byLabel[label] = tmpl
	}
	return p, nil
}

func (p *prompts) render(intent schema.IntentResult, text string) (string, error) {
	tmpl, ok := p.byLabel[intent.Label]
	if !ok {
		tmpl = p.byLabel[schema.LabelTechnical]
	}
	ic := p.intents[intent.Label]
	data := PromptData{
		Query:         strings.TrimSpace(text),
		Intent:        intent.Label,
		Confidence:    intent.Confidence,
		Description:   ic.Description,
		Approach:      ic.Approach,
		ResponseStyle: ic.ResponseStyle,
		Examples:      ic.Examples,
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
