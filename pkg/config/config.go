package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	Server          ServerConfig
	Evidence        EvidenceConfig
	RoutingConfig   *RoutingConfig
	ConfigDir       string
}

// FileConfig represents the structure of ~/.supportgate/config.yaml.
// API keys are only read from the environment.
type FileConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Evidence EvidenceConfig `yaml:"evidence"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// EvidenceConfig selects where per-query records are written.
type EvidenceConfig struct {
	Sink string `yaml:"sink"` // "", "file" or "sqlite"
	Path string `yaml:"path"`
}

const defaultAddr = "127.0.0.1:8080"

// Load reads configuration from config files and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	return load("")
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	return load(routingPath)
}

func load(routingPath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		Server:          fileConfig.Server,
		Evidence:        fileConfig.Evidence,
		ConfigDir:       configDir,
	}
	cfg.Server.Addr = getEnvOrDefault("SUPPORTGATE_ADDR", cfg.Server.Addr)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.Burst <= 0 {
		cfg.Server.Burst = int(cfg.Server.RateLimit) + 1
	}
	if cfg.Evidence.Sink != "" && cfg.Evidence.Path == "" {
		cfg.Evidence.Path = defaultEvidencePath(configDir, cfg.Evidence.Sink)
	}

	if routingPath == "" {
		for _, name := range []string{"routing.yaml", "routing.yml", "routing.toml"} {
			candidate := filepath.Join(configDir, name)
			if _, err := os.Stat(candidate); err == nil {
				routingPath = candidate
				break
			}
		}
	}
	if routingPath != "" {
		routing, err := LoadRoutingConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
		}
		cfg.RoutingConfig = routing
	} else {
		cfg.RoutingConfig = DefaultRoutingConfig()
	}

	if err := applyEnvOverrides(cfg.RoutingConfig); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment retarget the built-in backends
// without a routing file.
func applyEnvOverrides(rc *RoutingConfig) error {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	localModel := os.Getenv("LOCAL_MODEL_NAME")
	openaiModel := os.Getenv("OPENAI_MODEL_NAME")

	for id, b := range rc.Backends {
		switch b.Adapter {
		case "ollama":
			if baseURL != "" {
				b.BaseURL = baseURL
			}
			if localModel != "" {
				b.Model = localModel
			}
		case "openai":
			if openaiModel != "" {
				b.Model = openaiModel
			}
		}
		rc.Backends[id] = b
	}

	if raw := strings.TrimSpace(os.Getenv("CONFIDENCE_THRESHOLD")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid CONFIDENCE_THRESHOLD %q: %w", raw, err)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("CONFIDENCE_THRESHOLD %v outside [0,1]", v)
		}
		rc.SetThreshold(v)
	}
	return nil
}

// HasAdapter returns true if the adapter can be constructed with the
// current credentials.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "ollama", "mock":
		return true
	default:
		return false
	}
}

// APIKey returns the credential for a remote adapter.
func (c *Config) APIKey(name string) string {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "google":
		return c.GoogleAPIKey
	case "deepseek":
		return c.DeepSeekAPIKey
	default:
		return ""
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

func defaultEvidencePath(configDir, sink string) string {
	if sink == "sqlite" {
		return filepath.Join(configDir, "evidence.db")
	}
	return filepath.Join(configDir, "evidence")
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".supportgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
