// Package config loads the bot configuration from a YAML file, resolves
// secrets from the environment, and applies defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akula/imgbot/internal/security"
)

// Config is the full bot configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig holds the generation service settings.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`

	// BatchCalls selects one request per run over one request per image.
	BatchCalls bool `yaml:"batch_calls"`

	// Edit endpoint field names; deployments disagree on both.
	ImageField  string `yaml:"image_field,omitempty"`
	PromptField string `yaml:"prompt_field,omitempty"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// HistoryConfig holds the run log settings. An empty path disables it.
type HistoryConfig struct {
	DBPath string `yaml:"db_path,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the file at path, resolves environment references,
// and applies defaults. Validate is left to the caller so a partially
// specified config can still be inspected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses raw YAML config bytes, resolves environment references, and
// applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.resolveEnv()
	cfg.SetDefaults()
	return &cfg, nil
}

func (c *Config) resolveEnv() {
	if c.API.APIKeyEnv != "" {
		if v := os.Getenv(c.API.APIKeyEnv); v != "" {
			c.API.APIKey = v
		}
	}
	if c.API.APIKey == "" {
		c.API.APIKey = os.Getenv("IMGBOT_API_KEY")
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = os.Getenv("IMGBOT_API_BASE_URL")
	}
}

// SetDefaults fills in defaults for anything left unset.
func (c *Config) SetDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = 300 * time.Second
	}
	if c.API.MaxAttempts == 0 {
		c.API.MaxAttempts = 3
	}
	if c.API.RetryDelay == 0 {
		c.API.RetryDelay = 2 * time.Second
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required (or set IMGBOT_API_BASE_URL)")
	}
	if err := security.ValidateBaseURL(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.APIKey == "" {
		return errors.New("api key is required (api.api_key, api.api_key_env, or IMGBOT_API_KEY)")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
