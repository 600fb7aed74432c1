// Package config handles application configuration and paths.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
)

// Config holds the application configuration
type Config struct {
	// Paths
	DataDir string `json:"dataDir" env:"MCAUTH_DATA_DIR"`

	// Auth
	MSAClientID string `json:"msaClientID" env:"MCAUTH_CLIENT_ID"`
	OAuthPort   int    `json:"oauthPort" env:"MCAUTH_OAUTH_PORT"`

	// Token refresh
	RefreshMarginMinutes int `json:"refreshMarginMinutes" env:"MCAUTH_REFRESH_MARGIN_MINUTES"`

	// Logging
	LogLevel string `json:"logLevel" env:"MCAUTH_LOG_LEVEL"`
}

const (
	DefaultMSAClientID = "c36a9fb6-4f2a-41ff-90bd-ae7cc92031eb"

	// DefaultOAuthPort must match the loopback redirect URI registered
	// with the identity application: http://localhost:5713/callback
	DefaultOAuthPort = 5713
)

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:              getDefaultDataDir(),
		MSAClientID:          DefaultMSAClientID,
		OAuthPort:            DefaultOAuthPort,
		RefreshMarginMinutes: 10,
		LogLevel:             "info",
	}
}

// Load reads config from disk, then applies environment overrides
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := filepath.Join(cfg.DataDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Environment wins over the file
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Fallback to defaults if config file had empty values
	if cfg.MSAClientID == "" {
		cfg.MSAClientID = DefaultMSAClientID
	}
	if cfg.OAuthPort == 0 {
		cfg.OAuthPort = DefaultOAuthPort
	}
	if cfg.RefreshMarginMinutes <= 0 {
		cfg.RefreshMarginMinutes = 10
	}

	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.DataDir, "config.json")
	return os.WriteFile(configPath, data, 0o644)
}

// EnsureDirs creates all required directories
func (c *Config) EnsureDirs() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// RedirectURI is the loopback redirect registered with the identity app
func (c *Config) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d/callback", c.OAuthPort)
}

func getDefaultDataDir() string {
	// Check for portable mode first
	exe, _ := os.Executable()
	portablePath := filepath.Join(filepath.Dir(exe), "data")
	if _, err := os.Stat(portablePath); err == nil {
		return portablePath
	}

	// Use XDG/platform-specific directories
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mcauth")
	}

	home, _ := os.UserHomeDir()
	switch {
	case os.Getenv("APPDATA") != "": // Windows
		return filepath.Join(os.Getenv("APPDATA"), "mcauth")
	default: // Linux/macOS
		return filepath.Join(home, ".local", "share", "mcauth")
	}
}
