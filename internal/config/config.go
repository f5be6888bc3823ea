// Package config loads Tincan's process-level configuration: the identity
// key path, control socket port, startup log level, ignored network
// interfaces, and default STUN/TURN endpoints for VirtualLinks that don't
// get their own from the controller. Everything else a VirtualLink or
// VirtualNetwork needs arrives at runtime over the control channel, spec §6.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ipop-project/ipop-tincan-sub000/internal/control"
	"gopkg.in/yaml.v3"
)

// Config is Tincan's process configuration.
type Config struct {
	IdentityPath      string   `yaml:"identity_path"`
	ControlPort       int      `yaml:"control_port"`
	TapName           string   `yaml:"tap_name"`
	LogLevel          string   `yaml:"log_level"`
	IgnoredInterfaces []string `yaml:"ignored_interfaces"`

	STUNAddr string `yaml:"stun_addr"`
	TURNAddr string `yaml:"turn_addr"`
	TURNUser string `yaml:"turn_user"`
	TURNPass string `yaml:"turn_pass"`
}

// Default returns a Config with Tincan's built-in defaults.
func Default() *Config {
	return &Config{
		IdentityPath: "/etc/tincan/identity.key",
		ControlPort:  control.DefaultPort,
		TapName:      "tap0",
		LogLevel:     "INFO",
		STUNAddr:     "stun:stun.l.google.com:19302",
	}
}

// Load reads a YAML file at path over top of Default. A missing file is not
// an error: Tincan runs on built-in defaults until the controller overrides
// them via the control channel.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SlogLevel translates LogLevel through the same vocabulary SetLoggingLevel
// accepts at runtime, so a process started at e.g. "VERBOSE" behaves
// identically to one that received the equivalent control command later.
func (c *Config) SlogLevel() (slog.Level, error) {
	return control.ParseLoggingLevel(c.LogLevel)
}
