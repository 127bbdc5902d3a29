// ABOUTME: Configuration loading and parsing for the coven-chatd gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultHTTPAddr  = "127.0.0.1:8420"
	DefaultTokenTTL  = 7 * 24 * time.Hour
	DefaultDedupeTTL = 5 * time.Minute
	DefaultDedupeMax = 100_000
	DefaultPushMode  = "snapshot"
)

// Config represents the complete coven-chatd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Live     LiveConfig     `yaml:"live"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
	// AllowSignup lets anyone create an account through the API.
	AllowSignup *bool `yaml:"allow_signup"`
}

// SignupEnabled reports whether open signup is allowed. Defaults to true.
func (a AuthConfig) SignupEnabled() bool {
	return a.AllowSignup == nil || *a.AllowSignup
}

// LiveConfig controls what live subscribers receive on each change:
// "snapshot" (full match set) or "delta" (changed records only).
type LiveConfig struct {
	PushMode string `yaml:"push_mode"`
}

// DedupeConfig bounds the window in which a repeated write is acknowledged
// as a duplicate.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	TTLRaw  string        `yaml:"ttl"`
	MaxSize int           `yaml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes, applying env expansion, defaults
// and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

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

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Live.PushMode == "" {
		c.Live.PushMode = DefaultPushMode
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeMax
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	switch c.Live.PushMode {
	case "snapshot", "delta":
	default:
		return fmt.Errorf("live.push_mode must be snapshot or delta, got %q", c.Live.PushMode)
	}
	if c.Dedupe.MaxSize < 0 {
		return errors.New("dedupe.max_entries must not be negative")
	}
	if err := validateLogging(c.Logging.Level, c.Logging.Format); err != nil {
		return err
	}
	return nil
}

func validateLogging(level, format string) error {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", level)
	}
	switch format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}

// RenderTemplate returns the starter gateway config written by
// `coven-chatd init`.
func RenderTemplate(dbPath, jwtSecret string) string {
	return fmt.Sprintf(configTemplate, dbPath, jwtSecret)
}

const configTemplate = `# coven-chatd configuration

server:
  http_addr: "127.0.0.1:8420"

database:
  path: "%s"

auth:
  # At least 32 characters. ${VAR} references are expanded from the environment.
  jwt_secret: "%s"
  token_ttl: "168h"
  allow_signup: true

live:
  # snapshot: every push carries the full match set; delta: only changed records
  push_mode: "snapshot"

dedupe:
  ttl: "5m"
  max_entries: 100000

logging:
  level: "info"
  format: "text"
`
