package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	aliases := &ModelAliases{
		Aliases: map[string]string{
			"fast": "gpt-3.5-turbo",
			"tiny": "tinyllama:1.1b",
		},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "resolve known alias", input: "fast", expected: "gpt-3.5-turbo"},
		{name: "resolve local alias", input: "tiny", expected: "tinyllama:1.1b"},
		{name: "unknown alias returns input unchanged", input: "unknown-model", expected: "unknown-model"},
		{name: "canonical model returns unchanged", input: "gpt-3.5-turbo", expected: "gpt-3.5-turbo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := aliases.Resolve(tt.input); result != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestResolve_NilAliases(t *testing.T) {
	var aliases *ModelAliases
	if result := aliases.Resolve("fast"); result != "fast" {
		t.Errorf("Resolve on nil should return input, got %q", result)
	}
}

func TestIsAlias(t *testing.T) {
	aliases := &ModelAliases{Aliases: map[string]string{"fast": "gpt-3.5-turbo"}}

	if !aliases.IsAlias("fast") {
		t.Error("IsAlias should return true for known alias")
	}
	if aliases.IsAlias("gpt-3.5-turbo") {
		t.Error("IsAlias should return false for canonical model name")
	}
}

func TestValidateModel(t *testing.T) {
	aliases := &ModelAliases{
		Providers: map[string][]string{
			"openai":    {"gpt-3.5-turbo", "gpt-4o-mini"},
			"anthropic": {"claude-sonnet-4-20250514"},
		},
	}

	tests := []struct {
		name      string
		adapter   string
		model     string
		wantError bool
	}{
		{name: "valid model for provider", adapter: "openai", model: "gpt-3.5-turbo"},
		{name: "another valid model", adapter: "anthropic", model: "claude-sonnet-4-20250514"},
		{name: "invalid model for provider", adapter: "openai", model: "claude-sonnet-4-20250514", wantError: true},
		{name: "provider without list accepts any model", adapter: "ollama", model: "qwen2.5:7b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := aliases.ValidateModel(tt.adapter, tt.model)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateModel(%q, %q) error = %v, wantError %v", tt.adapter, tt.model, err, tt.wantError)
			}
		})
	}
}

func TestLoadAliases(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "models.yaml")

	content := `aliases:
  fast: gpt-4o-mini

providers:
  openai:
    - gpt-4o-mini
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	aliases, err := LoadAliases(configPath)
	if err != nil {
		t.Fatalf("LoadAliases() error = %v", err)
	}
	if aliases.Resolve("fast") != "gpt-4o-mini" {
		t.Error("alias 'fast' should resolve to 'gpt-4o-mini'")
	}
	if got := aliases.ListProviders(); len(got) != 1 || got[0] != "openai" {
		t.Errorf("ListProviders() = %v", got)
	}
}

func TestLoadAliases_FileNotFound(t *testing.T) {
	if _, err := LoadAliases("/nonexistent/path/models.yaml"); err == nil {
		t.Error("LoadAliases should error for nonexistent file")
	}
}

func TestLoadAliasesWithFallback(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	aliases, err := LoadAliasesWithFallback()
	if err != nil {
		t.Fatalf("LoadAliasesWithFallback() error = %v", err)
	}
	if aliases.Resolve("tiny") != "tinyllama:1.1b" {
		t.Error("built-in aliases should be used without a user file")
	}

	dir := filepath.Join(home, ".supportgate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "models.yaml"), []byte("aliases:\n  tiny: qwen2.5:0.5b\n"), 0644); err != nil {
		t.Fatal(err)
	}
	aliases, err = LoadAliasesWithFallback()
	if err != nil {
		t.Fatalf("LoadAliasesWithFallback() error = %v", err)
	}
	if aliases.Resolve("tiny") != "qwen2.5:0.5b" {
		t.Error("user models.yaml should take precedence")
	}
}

func TestValidateRoutingConfig(t *testing.T) {
	aliases := &ModelAliases{
		Aliases:   map[string]string{"fast": "gpt-3.5-turbo"},
		Providers: map[string][]string{"openai": {"gpt-3.5-turbo"}},
	}

	valid := &RoutingConfig{
		Backends: map[string]BackendConfig{
			"a": {Adapter: "openai", Model: "fast"},
			"b": {Adapter: "openai", Model: "gpt-3.5-turbo"},
			"c": {Adapter: "ollama", Model: "tinyllama:1.1b"},
		},
	}
	if errs := aliases.ValidateRoutingConfig(valid); len(errs) != 0 {
		t.Errorf("expected no errors for valid config, got %v", errs)
	}

	invalid := &RoutingConfig{
		Backends: map[string]BackendConfig{
			"a": {Adapter: "openai", Model: "nonexistent-model"},
		},
	}
	if errs := aliases.ValidateRoutingConfig(invalid); len(errs) != 1 {
		t.Errorf("expected 1 error for invalid config, got %d", len(errs))
	}
}

func TestDefaultAliasesCoverDefaultBackends(t *testing.T) {
	aliases := DefaultAliases()
	if errs := aliases.ValidateRoutingConfig(DefaultRoutingConfig()); len(errs) != 0 {
		t.Fatalf("default routing config should validate against default aliases: %v", errs)
	}
}
