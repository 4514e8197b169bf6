// Package config loads the YAML configuration file controlling store
// locations and sync tunables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "1s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the tool configuration. Zero values fall back to defaults.
type Config struct {
	// DataDir holds locks, sync state, and the session registry.
	DataDir string `yaml:"data_dir"`
	// ClaudeRoot is the transcript store root.
	ClaudeRoot string `yaml:"claude_root"`
	// CursorRoot is the bubble store root.
	CursorRoot string `yaml:"cursor_root"`
	// GroupWindow is the maximum timestamp gap when regrouping multi-part
	// turns. Tunable because tool-call latencies vary by environment.
	GroupWindow Duration `yaml:"group_window"`
	// LockStaleAfter is how old an abandoned lock must be before it is
	// reclaimed.
	LockStaleAfter Duration `yaml:"lock_stale_after"`
	// Debounce batches rapid file changes in watch mode.
	Debounce Duration `yaml:"debounce"`
	// HistorySize bounds the in-memory operation log.
	HistorySize int `yaml:"history_size"`
}

// Default returns the configuration used when no file exists.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	base := filepath.Join(home, ".session-bridge")
	return &Config{
		DataDir:        filepath.Join(base, "data"),
		ClaudeRoot:     filepath.Join(base, "claude"),
		CursorRoot:     filepath.Join(base, "cursor"),
		GroupWindow:    Duration(time.Second),
		LockStaleAfter: Duration(10 * time.Minute),
		Debounce:       Duration(500 * time.Millisecond),
		HistorySize:    100,
	}, nil
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".session-bridge", "config.yaml"), nil
}

// Load reads the config file at path (or the default location when path is
// empty). A missing file yields the defaults; fields absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LocksDir is where per-session lock files live.
func (c *Config) LocksDir() string { return filepath.Join(c.DataDir, "locks") }

// StateDir is where per-session sync state lives.
func (c *Config) StateDir() string { return filepath.Join(c.DataDir, "state") }

// RegistryDir is where the session registry lives.
func (c *Config) RegistryDir() string { return filepath.Join(c.DataDir, "registry") }
