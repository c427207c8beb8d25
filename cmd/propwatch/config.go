package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the optional user configuration loaded from ~/.propwatch.yaml.
type Config struct {
	Adapter string            `yaml:"adapter" default:"hci0"`
	Bus     string            `yaml:"bus" default:"system"` // system or session
	Aliases map[string]string `yaml:"aliases"`              // name -> device address
}

// loadConfig reads the config file, applying defaults for missing fields.
// A missing file is not an error; defaults apply.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".propwatch.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	defaults.SetDefaults(cfg)
	if cfg.Bus != "system" && cfg.Bus != "session" {
		return nil, fmt.Errorf("invalid bus %q in config (must be system or session)", cfg.Bus)
	}
	return cfg, nil
}

// configFromFlags loads the config and applies flag overrides.
func configFromFlags(cmd *cobra.Command) (*Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if adapter, _ := cmd.Flags().GetString("adapter"); adapter != "" {
		cfg.Adapter = adapter
	}
	return cfg, nil
}

// ResolveAddress maps a configured alias to its device address; anything
// that is not an alias is returned unchanged (uppercased MAC form).
func (c *Config) ResolveAddress(nameOrAddr string) string {
	if addr, ok := c.Aliases[nameOrAddr]; ok {
		return strings.ToUpper(addr)
	}
	return strings.ToUpper(nameOrAddr)
}

// busConnect opens the configured message bus.
func busConnect(cfg *Config) (*dbus.Conn, error) {
	if cfg.Bus == "session" {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}
