// Package config holds the asset-sync configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"asset-sync/internal/agent"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// Config is the full configuration.
type Config struct {
	// Origin is the upstream serving the front-end build.
	Origin string `yaml:"origin" mapstructure:"origin"`

	// Listen is the address of the front proxy.
	Listen string `yaml:"listen" mapstructure:"listen"`

	// Manifest and CoreShell are JSON files produced by the build.
	Manifest  string `yaml:"manifest" mapstructure:"manifest"`
	CoreShell string `yaml:"core_shell" mapstructure:"core_shell"`

	Names agent.Names `yaml:"names" mapstructure:"names"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Fetch FetchConfig `yaml:"fetch" mapstructure:"fetch"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the cache backend.
type StoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Path is a directory for fs and a database file for sqlite.
	Path string `yaml:"path" mapstructure:"path"`
}

// FetchConfig tunes the network fetcher.
type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBytes    int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level   string `yaml:"level" mapstructure:"level"`
	NoColor bool   `yaml:"no_color" mapstructure:"no_color"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Manifest:  "asset-manifest.json",
		CoreShell: "core-shell.json",
		Names:     agent.DefaultNames(),
		Store: StoreConfig{
			Backend: BackendFS,
			Path:    ".asset-sync/cache",
		},
		Fetch: FetchConfig{
			Timeout:     30 * time.Second,
			UserAgent:   "asset-sync",
			MaxBytes:    64 << 20,
			Concurrency: 6,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if err := agent.CheckOrigin(c.Origin); err != nil {
		errs = append(errs, fmt.Errorf("origin %q must be an http(s) scheme://host[:port] without a path", c.Origin))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFS, BackendSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, fmt.Errorf("store.path is required for backend %q", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, fs, sqlite", c.Store.Backend))
	}
	n := c.Names
	if n.Staging == "" || n.Persistent == "" || n.ManifestStore == "" {
		errs = append(errs, errors.New("names must all be set"))
	} else if n.Staging == n.Persistent || n.Staging == n.ManifestStore || n.Persistent == n.ManifestStore {
		errs = append(errs, errors.New("names must be distinct"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if c.Fetch.Concurrency <= 0 {
		errs = append(errs, errors.New("fetch.concurrency must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
	}
	return l, nil
}

// YAML renders c as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
