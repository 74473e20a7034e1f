// Package config provides configuration structures and loading logic for
// content safety policy sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for a policy set.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Capability CapabilityConfig `yaml:"capability"`
	Policies   []PolicySpec     `yaml:"policies"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds configuration for OpenTelemetry and Prometheus.
type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
	ServiceName    string `yaml:"service_name"`
	Environment    string `yaml:"environment"`
	MetricsAddress string `yaml:"metrics_address"`
}

// CapabilityConfig configures the language-model collaborator used by
// finder rules, explained messages and automatic language detection.
type CapabilityConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	PromptsDir  string        `yaml:"prompts_dir"`
	// BreakerFailures opens the circuit after that many consecutive failed
	// calls. Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// Enabled reports whether an endpoint is configured.
func (c CapabilityConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// APIKey resolves the key from the configured environment variable.
func (c CapabilityConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Default values applied by Load.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultAPIKeyEnv         = "OPENAI_API_KEY"
	DefaultCapabilityTimeout = 30 * time.Second
	DefaultMaxRetries        = 2
	DefaultBreakerFailures   = 5
	DefaultBreakerCooldown   = 30 * time.Second
)

// Default returns a configuration with defaults and no policies.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Capability: CapabilityConfig{
			APIKeyEnv:  DefaultAPIKeyEnv,
			Timeout:    DefaultCapabilityTimeout,
			MaxRetries: DefaultMaxRetries,

			BreakerFailures: DefaultBreakerFailures,
			BreakerCooldown: DefaultBreakerCooldown,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML (or JSON, a YAML subset) into cfg, rejecting unknown fields.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("POLIS_SAFETY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("POLIS_SAFETY_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("POLIS_SAFETY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("POLIS_SAFETY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("POLIS_SAFETY_METRICS_ADDR"); val != "" {
		cfg.Telemetry.MetricsAddress = val
	}

	if val := os.Getenv("POLIS_SAFETY_LLM_ENDPOINT"); val != "" {
		cfg.Capability.Endpoint = val
	}
	if val := os.Getenv("POLIS_SAFETY_LLM_MODEL"); val != "" {
		cfg.Capability.Model = val
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Capability.Validate(); err != nil {
		return fmt.Errorf("capability configuration: %w", err)
	}

	names := make(map[string]int, len(c.Policies))
	for i := range c.Policies {
		p := &c.Policies[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %d: %w", i, err)
		}
		key := strings.ToLower(p.DisplayName())
		if prev, ok := names[key]; ok {
			return fmt.Errorf("policy %d: duplicate name %q (also policy %d)", i, p.DisplayName(), prev)
		}
		names[key] = i
		if p.NeedsCapability() && !c.Capability.Enabled() {
			return fmt.Errorf("policy %q needs the capability endpoint to be configured", p.DisplayName())
		}
	}

	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = DefaultLogLevel
	}
	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	if strings.TrimSpace(c.Format) == "" {
		c.Format = DefaultLogFormat
	}
	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "text", "json":
		c.Format = format
		return nil
	default:
		return fmt.Errorf("invalid log format %q, supported formats: text, json", c.Format)
	}
}

// Validate performs validation of capability configuration
func (c *CapabilityConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.BreakerFailures < 0 {
		return fmt.Errorf("breaker_failures must not be negative")
	}
	if c.BreakerCooldown < 0 {
		return fmt.Errorf("breaker_cooldown must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	return nil
}
