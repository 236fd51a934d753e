package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all proxy configuration.
type Config struct {
	Directory     string `yaml:"directory"`       // where the key record lives
	DebugLevel    int    `yaml:"debug_level"`     // 0..3
	DeviceName    string `yaml:"device_name"`     // advertised local name of the module
	ScanTimeoutMS int    `yaml:"scan_timeout_ms"` // BLE scan budget
	MaxAttempts   int    `yaml:"max_attempts"`    // request retry budget
}

// DefaultDirectory returns the default record directory.
func DefaultDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bali")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDirectory(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Directory:     DefaultDirectory(),
		DebugLevel:    0,
		DeviceName:    "ArmorD",
		ScanTimeoutMS: 1000,
		MaxAttempts:   3,
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in directory is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Directory = expandTilde(cfg.Directory)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("directory must not be empty")
	}

	if c.DebugLevel < 0 || c.DebugLevel > 3 {
		return fmt.Errorf("debug_level must be 0..3, got %d", c.DebugLevel)
	}

	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	if c.ScanTimeoutMS <= 0 {
		return fmt.Errorf("scan_timeout_ms must be > 0, got %d", c.ScanTimeoutMS)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}

	return nil
}

// ScanTimeout returns the scan budget as a duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutMS) * time.Millisecond
}

// LogLevel maps debug_level to a slog level: 0 error, 1 warn, 2 info,
// 3 debug.
func (c *Config) LogLevel() slog.Level {
	switch c.DebugLevel {
	case 1:
		return slog.LevelWarn
	case 2:
		return slog.LevelInfo
	case 3:
		return slog.LevelDebug
	default:
		return slog.LevelError
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
