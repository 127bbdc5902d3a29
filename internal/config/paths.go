// ABOUTME: XDG path resolution shared by the coven-chat binaries
// ABOUTME: Config lives under $XDG_CONFIG_HOME/coven, data under $XDG_DATA_HOME/coven

package config

import (
	"os"
	"path/filepath"
)

const appDir = "coven"

// ConfigDir returns $XDG_CONFIG_HOME/coven, falling back to ~/.config/coven.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns $XDG_DATA_HOME/coven, falling back to ~/.local/share/coven.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// DefaultGatewayConfigPath is where coven-chatd looks for its YAML config.
func DefaultGatewayConfigPath() string {
	return filepath.Join(ConfigDir(), "chatd.yaml")
}

// DefaultClientConfigPath is where coven-chat looks for its TOML config.
func DefaultClientConfigPath() string {
	return filepath.Join(ConfigDir(), "chat.toml")
}

// DefaultDatabasePath is the SQLite file suggested by `coven-chatd init`.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), "chat.db")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appDir)
	}
	return filepath.Join(home, fallback, appDir)
}
