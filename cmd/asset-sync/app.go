package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"asset-sync/internal/agent"
	"asset-sync/internal/config"
	"asset-sync/internal/fetch"
	"asset-sync/internal/logging"
	"asset-sync/internal/manifest"
	"asset-sync/internal/store"
	"asset-sync/internal/store/fsstore"
	"asset-sync/internal/store/memstore"
	"asset-sync/internal/store/sqlitestore"
	"asset-sync/internal/validate"
)

// app carries the state shared by every command.
type app struct {
	configPath string
	logLevel   string
	noColor    bool

	cfg *config.Config
	log *slog.Logger
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("no-color") {
		cfg.Log.NoColor = a.noColor
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:     level,
		NoColor:   cfg.Log.NoColor,
		AddSource: level == slog.LevelDebug,
	})
	return nil
}

// requireValid is called by commands that touch the origin or the cache.
func (a *app) requireValid() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	return nil
}

// openStorage opens the configured backend. The returned func releases it.
func (a *app) openStorage() (store.Storage, func() error, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.BackendMemory:
		return memstore.New(), func() error { return nil }, nil
	case config.BackendFS:
		return fsstore.New(sc.Path), func() error { return nil }, nil
	case config.BackendSQLite:
		s, err := sqlitestore.Open(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// agentConfig reads and validates the manifest and core shell files.
func (a *app) agentConfig(s store.Storage) (agent.Config, error) {
	m, err := manifest.Load(a.cfg.Manifest)
	if err != nil {
		return agent.Config{}, fmt.Errorf("load manifest: %w", err)
	}
	if err := validate.Manifest(m); err != nil {
		return agent.Config{}, fmt.Errorf("manifest %s:\n%w", a.cfg.Manifest, err)
	}
	core, err := manifest.LoadCoreShell(a.cfg.CoreShell)
	if err != nil {
		return agent.Config{}, fmt.Errorf("load core shell: %w", err)
	}
	if err := validate.CoreShell(core, m); err != nil {
		return agent.Config{}, fmt.Errorf("core shell %s:\n%w", a.cfg.CoreShell, err)
	}

	f := fetch.NewHTTP(a.cfg.Fetch.Timeout, a.cfg.Fetch.UserAgent)
	f.MaxBytes = a.cfg.Fetch.MaxBytes
	return agent.Config{
		Origin:    a.cfg.Origin,
		Manifest:  m,
		CoreShell: core,
		Names:     a.cfg.Names,
		Storage:   s,
		Fetcher:   f,
	}, nil
}

func (a *app) agentOptions() []agent.Option {
	return []agent.Option{
		agent.WithLogger(a.log),
		agent.WithConcurrency(a.cfg.Fetch.Concurrency),
	}
}
