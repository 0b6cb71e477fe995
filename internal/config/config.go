// Package config loads the station's relaykit.yml configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level relaykit.yml configuration.
type Config struct {
	Version string        `yaml:"version"`
	Serial  SerialConfig  `yaml:"serial,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Board   BoardConfig   `yaml:"board,omitempty"`
	Binding BindingConfig `yaml:"binding,omitempty"`
	Stats   StatsConfig   `yaml:"stats,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// SerialConfig selects and tunes the serial link to the relay board.
type SerialConfig struct {
	Device   string `yaml:"device,omitempty"` // empty = autodetect
	Baud     int    `yaml:"baud,omitempty"`
	SettleMs int    `yaml:"settle_ms,omitempty"` // pause between write and read
}

// ServerConfig tunes the arbiter's TCP listener and the client side.
type ServerConfig struct {
	Addr           string `yaml:"addr,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"` // per-connection deadline
}

// BoardConfig describes the relay board itself.
type BoardConfig struct {
	Ports int `yaml:"ports,omitempty"`
}

// BindingConfig tunes port discovery and recovery.
type BindingConfig struct {
	File                string `yaml:"file,omitempty"` // persisted serial→port map
	FlashProcess        string `yaml:"flash_process,omitempty"`
	ProbeSettleSeconds  int    `yaml:"probe_settle_seconds,omitempty"`
	ProbeTimeoutSeconds int    `yaml:"probe_timeout_seconds,omitempty"`
	FreePortGapMs       int    `yaml:"free_port_gap_ms,omitempty"`
	FlashPollSeconds    int    `yaml:"flash_poll_seconds,omitempty"`
	ToggleGapSeconds    int    `yaml:"toggle_gap_seconds,omitempty"`
	BoundProbeAttempts  int    `yaml:"bound_probe_attempts,omitempty"`
	InvalidAttempts     int    `yaml:"invalid_attempts,omitempty"`
}

// StatsConfig points at the Redis instance keeping recovery statistics.
type StatsConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Build    string `yaml:"build,omitempty"` // build label for the stats row key
}

// LogConfig selects log level and optional file output.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the configuration a station gets with no relaykit.yml.
func Default() *Config {
	c := &Config{Version: "1.0"}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 9600
	}
	if c.Serial.SettleMs == 0 {
		c.Serial.SettleMs = 100
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:11222"
	}
	if c.Server.TimeoutSeconds == 0 {
		c.Server.TimeoutSeconds = 5
	}
	if c.Board.Ports == 0 {
		c.Board.Ports = 5
	}
	if c.Binding.File == "" {
		c.Binding.File = "bindings.json"
	}
	if c.Binding.ProbeSettleSeconds == 0 {
		c.Binding.ProbeSettleSeconds = 2
	}
	if c.Binding.ProbeTimeoutSeconds == 0 {
		c.Binding.ProbeTimeoutSeconds = 90
	}
	if c.Binding.FreePortGapMs == 0 {
		c.Binding.FreePortGapMs = 500
	}
	if c.Binding.FlashPollSeconds == 0 {
		c.Binding.FlashPollSeconds = 15
	}
	if c.Binding.ToggleGapSeconds == 0 {
		c.Binding.ToggleGapSeconds = 1
	}
	if c.Binding.BoundProbeAttempts == 0 {
		c.Binding.BoundProbeAttempts = 3
	}
	if c.Binding.InvalidAttempts == 0 {
		c.Binding.InvalidAttempts = 2
	}
	if c.Stats.Addr == "" {
		c.Stats.Addr = "localhost:6379"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate performs strict validation on the configuration and fills in
// defaults for anything left unset.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.SettleMs < 0 {
		return fmt.Errorf("serial.settle_ms must be positive, got %d", c.Serial.SettleMs)
	}
	if c.Server.TimeoutSeconds < 1 {
		return fmt.Errorf("server.timeout_seconds must be >= 1, got %d", c.Server.TimeoutSeconds)
	}
	if c.Board.Ports < 1 {
		return fmt.Errorf("board.ports must be >= 1, got %d", c.Board.Ports)
	}
	if c.Binding.BoundProbeAttempts < 1 {
		return fmt.Errorf("binding.bound_probe_attempts must be >= 1, got %d", c.Binding.BoundProbeAttempts)
	}
	if c.Binding.InvalidAttempts < 1 {
		return fmt.Errorf("binding.invalid_attempts must be >= 1, got %d", c.Binding.InvalidAttempts)
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'trace', 'debug', 'info', 'warn', or 'error')", c.Log.Level)
	}

	return nil
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads the configuration at path, falling back to the
// defaults when path is empty or the file does not exist. A file that
// exists but fails to parse or validate is still an error.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	config, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return config, err
}
