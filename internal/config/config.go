package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/routing"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Routing   RoutingConfig    `yaml:"routing"`
	Providers []ProviderConfig `yaml:"providers"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RoutingConfig holds routing engine and health tracking configuration
type RoutingConfig struct {
	Strategy                 string        `yaml:"strategy"`
	RateLimitDetectionWindow time.Duration `yaml:"rate_limit_detection_window"`
	RateLimitThreshold       float64       `yaml:"rate_limit_threshold"`
	FallbackDelay            time.Duration `yaml:"fallback_delay"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
}

// ProviderConfig describes one upstream provider
type ProviderConfig struct {
	Name                 string            `yaml:"name"`
	BaseURL              string            `yaml:"base_url"`
	Wire                 string            `yaml:"wire"`
	PrimaryModel         string            `yaml:"primary_model"`
	SecondaryModel       string            `yaml:"secondary_model"`
	ModelOverrides       map[string]string `yaml:"model_overrides"`
	MaxRequestsPerMinute int               `yaml:"max_requests_per_minute"`
	MaxTokensPerMinute   int               `yaml:"max_tokens_per_minute"`
	CostMultiplier       float64           `yaml:"cost_multiplier"`
	Priority             int               `yaml:"priority"`
	Timeout              time.Duration     `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values. The default provider
// table covers the three standard upstreams in priority order.
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   300 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Routing = RoutingConfig{
		Strategy:                 "intelligent",
		RateLimitDetectionWindow: 60 * time.Second,
		RateLimitThreshold:       0.8,
		FallbackDelay:            time.Second,
		RequestTimeout:           120 * time.Second,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Providers = []ProviderConfig{
		{
			Name:                 "vertex",
			BaseURL:              "https://vertex-proxy.internal",
			Wire:                 "anthropic",
			PrimaryModel:         "claude-sonnet-4-20250514",
			SecondaryModel:       "claude-3-5-haiku-20241022",
			MaxRequestsPerMinute: 1000,
			MaxTokensPerMinute:   50000,
			CostMultiplier:       1.0,
			Priority:             10,
			Timeout:              120 * time.Second,
		},
		{
			Name:                 "github",
			BaseURL:              "https://models.github.ai/inference",
			Wire:                 "openai",
			PrimaryModel:         "gpt-4o",
			SecondaryModel:       "gpt-4o-mini",
			MaxRequestsPerMinute: 500,
			MaxTokensPerMinute:   100000,
			CostMultiplier:       0.8,
			Priority:             8,
			Timeout:              120 * time.Second,
		},
		{
			Name:                 "openrouter",
			BaseURL:              "https://openrouter.ai/api",
			Wire:                 "openai",
			PrimaryModel:         "anthropic/claude-3.5-sonnet",
			SecondaryModel:       "anthropic/claude-3-haiku",
			MaxRequestsPerMinute: 200,
			MaxTokensPerMinute:   80000,
			CostMultiplier:       1.2,
			Priority:             6,
			Timeout:              120 * time.Second,
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("PROXY_PORT"); port != "" {
		c.Server.Port = port
	}

	if strategy := os.Getenv("ROUTING_STRATEGY"); strategy != "" {
		c.Routing.Strategy = strategy
	}

	if window := os.Getenv("RATE_LIMIT_DETECTION_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			c.Routing.RateLimitDetectionWindow = d
		}
	}

	if threshold := os.Getenv("RATE_LIMIT_THRESHOLD"); threshold != "" {
		if f, err := strconv.ParseFloat(threshold, 64); err == nil {
			c.Routing.RateLimitThreshold = f
		}
	}

	if delay := os.Getenv("FALLBACK_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			c.Routing.FallbackDelay = d
		}
	}

	if level := os.Getenv("PROXY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("PROXY_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if _, err := routing.ParseStrategy(c.Routing.Strategy); err != nil {
		return err
	}

	if c.Routing.RateLimitThreshold <= 0 || c.Routing.RateLimitThreshold > 1 {
		return fmt.Errorf("rate limit threshold must be in (0, 1], got %v", c.Routing.RateLimitThreshold)
	}

	if c.Routing.RateLimitDetectionWindow <= 0 {
		return fmt.Errorf("rate limit detection window must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name cannot be empty", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url cannot be empty", p.Name)
		}
		if p.PrimaryModel == "" {
			return fmt.Errorf("provider %s: primary_model cannot be empty", p.Name)
		}
		switch registry.WireFormat(p.Wire) {
		case registry.WireAnthropic, registry.WireOpenAI, registry.WirePassthrough:
		default:
			return fmt.Errorf("provider %s: invalid wire format %q", p.Name, p.Wire)
		}
	}

	return nil
}

// BuildRegistry materializes the provider registry from configuration
func (c *Config) BuildRegistry() (*registry.Registry, error) {
	providers := make([]*registry.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.CostMultiplier == 0 {
			p.CostMultiplier = 1.0
		}
		providers = append(providers, &registry.Provider{
			Name:                 p.Name,
			BaseURL:              p.BaseURL,
			Wire:                 registry.WireFormat(p.Wire),
			PrimaryModel:         p.PrimaryModel,
			SecondaryModel:       p.SecondaryModel,
			ModelOverrides:       p.ModelOverrides,
			MaxRequestsPerMinute: p.MaxRequestsPerMinute,
			MaxTokensPerMinute:   p.MaxTokensPerMinute,
			CostMultiplier:       p.CostMultiplier,
			Priority:             p.Priority,
			Timeout:              p.Timeout,
		})
	}
	return registry.New(providers)
}

// ToHealthConfig converts to the health tracker configuration
func (c *Config) ToHealthConfig() health.Config {
	cfg := health.DefaultConfig()
	cfg.DetectionWindow = c.Routing.RateLimitDetectionWindow
	cfg.Threshold = c.Routing.RateLimitThreshold
	return cfg
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
