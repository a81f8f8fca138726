// ABOUTME: Configuration loading and parsing for mcp-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8000
	DefaultGRPCPort         = 8001
	DefaultTokenTTL         = time.Hour
	DefaultMaxAuthAttempts  = 3
	DefaultPBKDF2Iterations = 100_000
	DefaultMaxRequests      = 100
	DefaultWindow           = 60 * time.Second
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
	DefaultDrainTimeout     = 10 * time.Second
	DefaultHandlerTimeout   = 30 * time.Second
	DefaultMetricsPath      = "/metrics"

	// MinJWTSecretLength is the shortest accepted signing secret in bytes.
	MinJWTSecretLength = 16
)

// Rate limiting strategies.
const (
	StrategyFixedWindow = "fixed_window"
	StrategyTokenBucket = "token_bucket"
)

// Config represents the complete mcp-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" toml:"rate_limit"`
	Conversations ConversationsConfig `yaml:"conversations" toml:"conversations"`
	Shutdown      ShutdownConfig      `yaml:"shutdown" toml:"shutdown"`
	Handler       HandlerConfig       `yaml:"handler" toml:"handler"`
	Security      SecurityConfig      `yaml:"security" toml:"security"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener configuration. GRPCAddr and HTTPAddr take
// precedence over Host and the port fields when set.
type ServerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	GRPCPort int    `yaml:"grpc_port" toml:"grpc_port"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds credential database configuration. An empty path
// keeps credentials in memory.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL         time.Duration `yaml:"-" toml:"-"`
	MaxAuthAttempts  int           `yaml:"max_auth_attempts" toml:"max_auth_attempts"`
	PBKDF2Iterations int           `yaml:"pbkdf2_iterations" toml:"pbkdf2_iterations"`
	Revocation       bool          `yaml:"revocation" toml:"revocation"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// RateLimitConfig holds per-identity admission control settings
type RateLimitConfig struct {
	Strategy    string        `yaml:"strategy" toml:"strategy"`
	MaxRequests int           `yaml:"max_requests" toml:"max_requests"`
	Window      time.Duration `yaml:"-" toml:"-"`

	WindowRaw string `yaml:"window" toml:"window"`
}

// ConversationsConfig holds conversation retention settings
type ConversationsConfig struct {
	IdleTimeout   time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`
	MaxMessages   int           `yaml:"max_messages" toml:"max_messages"`

	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// ShutdownConfig holds graceful shutdown settings
type ShutdownConfig struct {
	DrainTimeout time.Duration `yaml:"-" toml:"-"`

	DrainTimeoutRaw string `yaml:"drain_timeout" toml:"drain_timeout"`
}

// HandlerConfig selects and configures the message handler variant
type HandlerConfig struct {
	Kind         string        `yaml:"kind" toml:"kind"`
	Name         string        `yaml:"name" toml:"name"`
	Capabilities []string      `yaml:"capabilities" toml:"capabilities"`
	WebhookURL   string        `yaml:"webhook_url" toml:"webhook_url"`
	Timeout      time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// SecurityConfig holds inbound content handling options
type SecurityConfig struct {
	SanitizeInput bool `yaml:"sanitize_input" toml:"sanitize_input"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes, applies defaults and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills zero-valued fields with their defaults. Durations that
// were explicitly configured as "0" keep their zero value.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = DefaultGRPCPort
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.GRPCPort))
	}

	if c.Auth.TokenTTLRaw == "" {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.MaxAuthAttempts == 0 {
		c.Auth.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if c.Auth.PBKDF2Iterations == 0 {
		c.Auth.PBKDF2Iterations = DefaultPBKDF2Iterations
	}

	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = StrategyFixedWindow
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = DefaultMaxRequests
	}
	if c.RateLimit.WindowRaw == "" {
		c.RateLimit.Window = DefaultWindow
	}

	if c.Conversations.IdleTimeoutRaw == "" {
		c.Conversations.IdleTimeout = DefaultIdleTimeout
	}
	if c.Conversations.SweepIntervalRaw == "" {
		c.Conversations.SweepInterval = DefaultSweepInterval
	}

	if c.Shutdown.DrainTimeoutRaw == "" {
		c.Shutdown.DrainTimeout = DefaultDrainTimeout
	}

	if c.Handler.Kind == "" {
		c.Handler.Kind = "echo"
	}
	if c.Handler.TimeoutRaw == "" {
		c.Handler.Timeout = DefaultHandlerTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.MaxAuthAttempts < 1 {
		return fmt.Errorf("auth.max_auth_attempts must be at least 1")
	}
	if c.Auth.PBKDF2Iterations < 1 {
		return fmt.Errorf("auth.pbkdf2_iterations must be at least 1")
	}

	switch c.RateLimit.Strategy {
	case StrategyFixedWindow, StrategyTokenBucket:
	default:
		return fmt.Errorf("rate_limit.strategy %q is not one of %s, %s", c.RateLimit.Strategy, StrategyFixedWindow, StrategyTokenBucket)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	if c.Conversations.IdleTimeout < 0 {
		return fmt.Errorf("conversations.idle_timeout must not be negative")
	}
	if c.Conversations.IdleTimeout > 0 && c.Conversations.SweepInterval <= 0 {
		return fmt.Errorf("conversations.sweep_interval must be positive when idle eviction is enabled")
	}
	if c.Conversations.MaxMessages < 0 {
		return fmt.Errorf("conversations.max_messages must not be negative")
	}
	if c.Shutdown.DrainTimeout < 0 {
		return fmt.Errorf("shutdown.drain_timeout must not be negative")
	}

	switch c.Handler.Kind {
	case "echo", "assistant":
	case "webhook":
		if c.Handler.WebhookURL == "" {
			return fmt.Errorf("handler.webhook_url is required for the webhook handler")
		}
	default:
		return fmt.Errorf("handler.kind %q is not one of echo, assistant, webhook", c.Handler.Kind)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"conversations.idle_timeout", cfg.Conversations.IdleTimeoutRaw, &cfg.Conversations.IdleTimeout},
		{"conversations.sweep_interval", cfg.Conversations.SweepIntervalRaw, &cfg.Conversations.SweepInterval},
		{"shutdown.drain_timeout", cfg.Shutdown.DrainTimeoutRaw, &cfg.Shutdown.DrainTimeout},
		{"handler.timeout", cfg.Handler.TimeoutRaw, &cfg.Handler.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
