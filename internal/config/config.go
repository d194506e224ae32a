// Package config loads the optional kiln configuration file. Everything in
// it has a built-in default, so kiln works with no file at all; the file
// exists to pin site-wide settings (history location, renderer binary, grace
// period) without repeating flags on every invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile overrides the config file discovery.
const EnvConfigFile = "KILN_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the complete kiln configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	History HistoryConfig `yaml:"history"`
	Session SessionConfig `yaml:"session"`
	Daemon  DaemonConfig  `yaml:"daemon"`

	// PathMappingRulesFile is resolved by sessions that do not pass one
	// explicitly.
	PathMappingRulesFile string `yaml:"path_mapping_rules,omitempty"`

	// Source is the file the config was loaded from, empty when running on
	// defaults.
	Source string `yaml:"-"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// HistoryConfig controls session history recording.
type HistoryConfig struct {
	// Path is the SQLite database location. "off" disables recording.
	Path string `yaml:"path"`
}

// SessionConfig controls session execution.
type SessionConfig struct {
	// GracePeriod bounds the notify-to-terminate window on cancellation.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// DaemonConfig controls the background renderer daemon.
type DaemonConfig struct {
	// StartTimeout bounds how long "daemon start" waits for readiness.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// KickExecutable overrides the renderer binary. Empty means PATH lookup.
	KickExecutable string `yaml:"kick_executable,omitempty"`
}

// Defaults returns the configuration kiln runs with when no file is present.
func Defaults() *Config {
	return &Config{
		Log:     LogConfig{Level: "INFO"},
		History: HistoryConfig{Path: defaultHistoryPath()},
		Session: SessionConfig{GracePeriod: 5 * time.Second},
		Daemon:  DaemonConfig{StartTimeout: 30 * time.Second},
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kiln-history.db")
	}
	return filepath.Join(home, ".kiln", "history.db")
}

// Discover finds the config file to load. Priority order: explicit path,
// $KILN_CONFIG, ~/.kiln/config.yaml. An empty return means run on defaults.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path := os.Getenv(EnvConfigFile); path != "" {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".kiln", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads a config file and merges it over the defaults. An empty path
// returns the defaults unchanged. An explicit path that does not exist is an
// error; a discovered one is not, because discovery already checked.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Source = path

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values. Undefined
// variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("log.level must be one of DEBUG, INFO, WARN, ERROR (got %q)", cfg.Log.Level)
	}
	if cfg.History.Path == "" {
		return fmt.Errorf("history.path is required (use \"off\" to disable recording)")
	}
	if cfg.Session.GracePeriod <= 0 {
		return fmt.Errorf("session.grace_period must be positive")
	}
	if cfg.Daemon.StartTimeout <= 0 {
		return fmt.Errorf("daemon.start_timeout must be positive")
	}
	if cfg.PathMappingRulesFile != "" {
		if _, err := os.Stat(cfg.PathMappingRulesFile); err != nil {
			return fmt.Errorf("path_mapping_rules file %q does not exist", cfg.PathMappingRulesFile)
		}
	}
	return nil
}
