package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestConfigIgnoresFileAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".supportgate")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	data := []byte("api_keys:\n  openai: file-openai\nserver:\n  addr: 0.0.0.0:9000\n  rate_limit: 5\n")
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected file API keys to be ignored")
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.RateLimit != 5 || cfg.Server.Burst != 6 {
		t.Fatalf("rate limit = %v burst = %d", cfg.Server.RateLimit, cfg.Server.Burst)
	}
}

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GOOGLE_API_KEY", "env-google")
	t.Setenv("DEEPSEEK_API_KEY", "env-deepseek")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" || cfg.OpenAIAPIKey != "env-openai" || cfg.GoogleAPIKey != "env-google" || cfg.DeepSeekAPIKey != "env-deepseek" {
		t.Fatalf("expected env API keys to be used")
	}
	if !cfg.HasAdapter("openai") || cfg.APIKey("deepseek") != "env-deepseek" {
		t.Fatalf("expected keyed adapters to be available")
	}
}

func TestConfigDefaults(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != defaultAddr {
		t.Fatalf("addr = %q, want %q", cfg.Server.Addr, defaultAddr)
	}
	rc := cfg.RoutingConfig
	if rc.Primary != "local" || rc.Fallback != "remote" {
		t.Fatalf("primary/fallback = %s/%s", rc.Primary, rc.Fallback)
	}
	if rc.Threshold() != 0.5 {
		t.Fatalf("threshold = %v", rc.Threshold())
	}
	if cfg.HasAdapter("openai") {
		t.Fatal("openai should be unavailable without a key")
	}
	if !cfg.HasAdapter("ollama") {
		t.Fatal("ollama needs no key")
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)

	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")
	t.Setenv("LOCAL_MODEL_NAME", "llama3.2:3b")
	t.Setenv("OPENAI_MODEL_NAME", "gpt-4o-mini")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.65")
	t.Setenv("SUPPORTGATE_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	local := cfg.RoutingConfig.Backends["local"]
	if local.BaseURL != "http://gpu-box:11434" || local.Model != "llama3.2:3b" {
		t.Fatalf("local backend = %+v", local)
	}
	if got := cfg.RoutingConfig.Backends["remote"].Model; got != "gpt-4o-mini" {
		t.Fatalf("remote model = %q", got)
	}
	if cfg.RoutingConfig.Threshold() != 0.65 {
		t.Fatalf("threshold = %v", cfg.RoutingConfig.Threshold())
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestConfigRejectsBadThreshold(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)
	t.Setenv("CONFIDENCE_THRESHOLD", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for threshold outside [0,1]")
	}
}

func TestConfigEvidenceDefaultPath(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".supportgate")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("evidence:\n  sink: sqlite\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Evidence.Path != filepath.Join(configDir, "evidence.db") {
		t.Fatalf("evidence path = %q", cfg.Evidence.Path)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "DEEPSEEK_API_KEY",
		"OLLAMA_BASE_URL", "LOCAL_MODEL_NAME", "OPENAI_MODEL_NAME",
		"CONFIDENCE_THRESHOLD", "SUPPORTGATE_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
