// Package config handles PersonaFlow configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./personaflow.yaml, ~/.config/personaflow/config.yaml,
// /etc/personaflow/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"personaflow.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "personaflow", "config.yaml"))
	}

	paths = append(paths, "/etc/personaflow/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all PersonaFlow configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	LLM      LLMConfig     `yaml:"llm"`
	Agent    AgentConfig   `yaml:"agent"`
	MockAPI  MockAPIConfig `yaml:"mock_api"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Store    StoreConfig   `yaml:"store"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the language model gateway settings.
type LLMConfig struct {
	// URL is the base URL of the Ollama-format generation service.
	// Required before any session may start.
	URL string `yaml:"url"`
	// Model used by persona agents for step decisions.
	Model string `yaml:"model"`
	// ReportModel used for persona generation and report synthesis.
	// Defaults to Model when empty.
	ReportModel string `yaml:"report_model"`
	// TimeoutSec bounds every gateway call (default 60).
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the gateway call ceiling as a duration.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// AgentConfig defines agent loop settings.
type AgentConfig struct {
	// MaxSteps is the default step budget per persona run (default 8).
	MaxSteps int `yaml:"max_steps"`
	// SuccessMarkers are substrings that indicate goal completion when
	// one appears in a tool observation.
	SuccessMarkers []string `yaml:"success_markers"`
}

// MockAPIConfig defines the embedded flawed target API.
type MockAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// CartDelayMs is the artificial /cart latency (default 2500).
	CartDelayMs int `yaml:"cart_delay_ms"`
}

// MQTTConfig defines the optional session event mirror.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. mqtt://broker:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default "personaflow"
}

// StoreConfig defines session storage.
type StoreConfig struct {
	// DSN for the sqlite session store. The default keeps everything
	// in process memory for the lifetime of the server.
	DSN string `yaml:"dsn"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			Model:      "gemma3:12b",
			TimeoutSec: 60,
		},
		Agent: AgentConfig{
			MaxSteps:       8,
			SuccessMarkers: []string{"Checkout successful", "ORDER CONFIRMED"},
		},
		MockAPI: MockAPIConfig{
			Enabled:     true,
			Port:        8001,
			CartDelayMs: 2500,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "personaflow",
		},
		Store: StoreConfig{
			DSN: "file:personaflow?mode=memory&cache=shared",
		},
	}
}

// Validate checks that the configuration is usable for serving sessions.
// A missing gateway URL is fatal: no session may start without one.
func (c *Config) Validate() error {
	if c.LLM.URL == "" {
		return fmt.Errorf("llm.url is not configured")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	return nil
}
