// ABOUTME: Configuration loading for the coven-chat terminal client
// ABOUTME: Loads TOML config with environment variable expansion

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

// ClientConfig is the coven-chat client configuration.
type ClientConfig struct {
	Gateway     GatewayConfig     `toml:"gateway"`
	Sync        SyncConfig        `toml:"sync"`
	Credentials CredentialsConfig `toml:"credentials"`
	Logging     LoggingConfig     `toml:"logging"`
}

// GatewayConfig locates the coven-chatd server.
type GatewayConfig struct {
	URL string `toml:"url"`
}

// SyncConfig selects how pushed thread batches are applied: "merge" or "replace".
type SyncConfig struct {
	Mode string `toml:"mode"`
}

// CredentialsConfig locates the saved session file. Empty means the XDG default.
type CredentialsConfig struct {
	Path string `toml:"path"`
}

// DefaultClientConfig returns the configuration used when no file exists.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Gateway: GatewayConfig{URL: "http://" + DefaultHTTPAddr},
		Sync:    SyncConfig{Mode: "merge"},
		Logging: LoggingConfig{Level: "warn"},
	}
}

// LoadClient reads the client config at path. A missing file yields the
// defaults.
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultClientConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultClientConfig()
	if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks that required config fields are present and valid.
func (c *ClientConfig) Validate() error {
	if c.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("gateway.url must use http or https scheme")
	}
	switch c.Sync.Mode {
	case "", "merge", "replace":
	default:
		return fmt.Errorf("sync.mode must be merge or replace, got %q", c.Sync.Mode)
	}
	return validateLogging(c.Logging.Level, c.Logging.Format)
}
