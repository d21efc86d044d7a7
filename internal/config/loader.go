package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ASSET_SYNC_ORIGIN or
// ASSET_SYNC_STORE_BACKEND.
const EnvPrefix = "ASSET_SYNC"

// FileName is the config file looked up in the working directory when no
// explicit path is given.
const FileName = "asset-sync.yaml"

// Load reads the configuration. An explicit path must exist; without one,
// ./asset-sync.yaml is used when present. Environment variables override
// the file, and the file overrides defaults. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// the file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("origin", d.Origin)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("manifest", d.Manifest)
	v.SetDefault("core_shell", d.CoreShell)
	v.SetDefault("names.staging", d.Names.Staging)
	v.SetDefault("names.persistent", d.Names.Persistent)
	v.SetDefault("names.manifest_store", d.Names.ManifestStore)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.user_agent", d.Fetch.UserAgent)
	v.SetDefault("fetch.max_bytes", d.Fetch.MaxBytes)
	v.SetDefault("fetch.concurrency", d.Fetch.Concurrency)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.no_color", d.Log.NoColor)
}
