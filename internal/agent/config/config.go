// Package config loads and persists the claw configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/claw/internal/keyring"
)

// ConfigFileName is the name of the config file inside the data directory.
const ConfigFileName = "config.yaml"

// Config holds the agent configuration
type Config struct {
	// DataDir is where sessions, skills and settings live
	DataDir string `yaml:"data_dir"`

	// Port for the local API server (claw serve)
	Port int `yaml:"port"`

	// Providers lists the configured LLM providers, in priority order
	Providers []ProviderConfig `yaml:"providers"`

	// DefaultProvider names the provider used when none is requested
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// MaxContext is the max messages loaded from a session per turn
	MaxContext int `yaml:"max_context"`
}

// ProviderConfig holds configuration for a single provider
type ProviderConfig struct {
	Name    string `yaml:"name"`               // Identifier for this provider
	Type    string `yaml:"type"`               // "openai", "anthropic", "ollama", "gemini", "custom"
	APIKey  string `yaml:"api_key,omitempty"`  // Literal key or $ENV reference
	Model   string `yaml:"model,omitempty"`    // Model to use
	BaseURL string `yaml:"base_url,omitempty"` // For ollama and custom endpoints
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:    DefaultDataDir(),
		Port:       27717,
		MaxContext: 50,
	}
}

// DefaultDataDir returns the default data directory (~/.claw).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claw"
	}
	return filepath.Join(home, ".claw")
}

// Load loads config from the data directory's config.yaml.
// A missing file is not an error; defaults are returned.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := filepath.Join(cfg.DataDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	cfg.expand()
	return cfg, nil
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.expand()
	return cfg, nil
}

// expand resolves ~ in DataDir and $ENV references in provider fields.
func (c *Config) expand() {
	if strings.HasPrefix(c.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
		c.Providers[i].BaseURL = os.ExpandEnv(c.Providers[i].BaseURL)
	}
}

// Save writes the config to the data directory's config.yaml
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.DataDir, ConfigFileName)
	return os.WriteFile(configPath, data, 0600)
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// DBPath returns the path to the SQLite session database
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "data", "claw.db")
}

// SkillsDir returns the path to the user skills directory
func (c *Config) SkillsDir() string {
	return filepath.Join(c.DataDir, "skills")
}

// GetProvider returns the provider config by name, or nil if not found
func (c *Config) GetProvider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// Default returns the provider named by DefaultProvider, falling back to
// the first configured provider.
func (c *Config) Default() *ProviderConfig {
	if c.DefaultProvider != "" {
		if p := c.GetProvider(c.DefaultProvider); p != nil {
			return p
		}
	}
	if len(c.Providers) > 0 {
		return &c.Providers[0]
	}
	return nil
}

// envKeyNames maps provider types to their conventional API key variables.
var envKeyNames = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// ResolveAPIKey returns the API key for a provider, checking the config
// value first, then the conventional environment variable, then the OS
// keychain. Ollama needs no key and always resolves to "".
func (p *ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if env, ok := envKeyNames[p.Type]; ok {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	if keyring.Available() {
		if key, err := keyring.Get(p.Name); err == nil && key != "" {
			return key
		}
	}
	return ""
}
