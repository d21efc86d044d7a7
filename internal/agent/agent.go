// Package agent implements the cache synchronization agent: an offline
// asset cache for a versioned front-end build.
//
// An Agent is built from an immutable configuration (manifest, core shell,
// origin, namespace names) and driven by four operations:
//
//   - Install: fetch the core shell into the staging namespace.
//   - Activate: reconcile the persistent namespace against the previously
//     published manifest, promote staging, publish the new manifest.
//   - Intercept: answer GET requests for manifest resources from the cache
//     (lazy fill) or, for the root document, from the network first.
//   - HandleMessage: supersede a waiting version or prefetch everything
//     still missing for offline use.
//
// Lifecycle operations (Install, Activate, HandleMessage, DownloadOffline)
// run one at a time on a per-agent task queue and Activate only succeeds
// after a completed Install. Intercept is not queued: concurrent requests
// race freely with each other and with a running reconciliation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"asset-sync/internal/fetch"
	"asset-sync/internal/manifest"
	"asset-sync/internal/store"
)

// ManifestKey is the key of the published manifest in the manifest store.
const ManifestKey = "manifest"

// Names identifies the three namespaces. They must stay stable across
// versions so that an upgrade finds the previous manifest.
type Names struct {
	Staging       string `mapstructure:"staging" yaml:"staging"`
	Persistent    string `mapstructure:"persistent" yaml:"persistent"`
	ManifestStore string `mapstructure:"manifest_store" yaml:"manifest_store"`
}

// DefaultNames returns the default namespace names.
func DefaultNames() Names {
	return Names{
		Staging:       "asset-temp-cache",
		Persistent:    "asset-app-cache",
		ManifestStore: "asset-app-manifest",
	}
}

// Config is the build-time configuration of one agent version.
type Config struct {
	// Origin is the scheme://host[:port] the resources are served from. A
	// trailing slash is dropped; a path is rejected.
	Origin    string
	Manifest  manifest.Manifest
	CoreShell manifest.CoreShell
	Names     Names
	Storage   store.Storage
	Fetcher   fetch.Fetcher
}

// Host receives the agent's requests to its hosting environment.
type Host interface {
	// SkipWaiting asks to make the agent active without waiting for the
	// clients of a previous version to go away.
	SkipWaiting(a *Agent)
	// ClaimClients asks to route already-open clients to the agent.
	ClaimClients(a *Agent)
}

type nopHost struct{}

func (nopHost) SkipWaiting(*Agent)  {}
func (nopHost) ClaimClients(*Agent) {}

// State is the lifecycle state of an agent.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithHost sets the hosting environment hooks.
func WithHost(h Host) Option {
	return func(a *Agent) {
		if h != nil {
			a.host = h
		}
	}
}

// WithConcurrency bounds parallel fetches during install and prefetch.
func WithConcurrency(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithID overrides the generated instance ID.
func WithID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.id = id
		}
	}
}

// Agent is one version of the cache synchronization agent.
type Agent struct {
	id          string
	manifestID  string
	origin      string
	manifest    manifest.Manifest
	core        manifest.CoreShell
	names       Names
	storage     store.Storage
	fetcher     fetch.Fetcher
	host        Host
	log         *slog.Logger
	concurrency int

	mu         sync.RWMutex
	state      State
	lastReport *ActivateReport

	tasks     chan task
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type task struct {
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

// New validates cfg and starts the agent's task queue. Callers must Close
// the agent when it is superseded.
func New(cfg Config, opts ...Option) (*Agent, error) {
	origin := strings.TrimRight(strings.TrimSpace(cfg.Origin), "/")
	if origin == "" {
		return nil, fmt.Errorf("agent: origin is required")
	}
	if err := CheckOrigin(origin); err != nil {
		return nil, err
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("agent: storage is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("agent: fetcher is required")
	}
	names := cfg.Names
	def := DefaultNames()
	if names.Staging == "" {
		names.Staging = def.Staging
	}
	if names.Persistent == "" {
		names.Persistent = def.Persistent
	}
	if names.ManifestStore == "" {
		names.ManifestStore = def.ManifestStore
	}
	if names.Staging == names.Persistent || names.Staging == names.ManifestStore || names.Persistent == names.ManifestStore {
		return nil, fmt.Errorf("agent: namespace names must be distinct: %+v", names)
	}

	m := cfg.Manifest.Clone()
	a := &Agent{
		id:          uuid.NewString(),
		manifestID:  m.ID(),
		origin:      origin,
		manifest:    m,
		core:        append(manifest.CoreShell(nil), cfg.CoreShell...),
		names:       names,
		storage:     cfg.Storage,
		fetcher:     cfg.Fetcher,
		host:        nopHost{},
		log:         slog.New(slog.DiscardHandler),
		concurrency: 6,
		tasks:       make(chan task),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(slog.String("agent_id", a.id), slog.String("manifest_id", a.manifestID))

	go a.loop()
	return a, nil
}

// ID returns the instance ID.
func (a *Agent) ID() string { return a.id }

// ManifestID returns the version stamp of the agent's manifest.
func (a *Agent) ManifestID() string { return a.manifestID }

// Origin returns the origin the agent manages.
func (a *Agent) Origin() string { return a.origin }

// Manifest returns a copy of the agent's manifest.
func (a *Agent) Manifest() manifest.Manifest { return a.manifest.Clone() }

// Names returns the namespace names.
func (a *Agent) Names() Names { return a.names }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()
	a.log.Debug("state change", slog.String("from", prev.String()), slog.String("to", s.String()))
}

// Status is a point-in-time view of the agent.
type Status struct {
	ID             string          `json:"id"`
	ManifestID     string          `json:"manifestId"`
	Origin         string          `json:"origin"`
	State          string          `json:"state"`
	Resources      int             `json:"resources"`
	CoreShell      int             `json:"coreShell"`
	LastActivation *ActivateReport `json:"lastActivation,omitempty"`
}

// Status reports the agent's state.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Status{
		ID:         a.id,
		ManifestID: a.manifestID,
		Origin:     a.origin,
		State:      a.state.String(),
		Resources:  len(a.manifest),
		CoreShell:  len(a.core),
	}
	if a.lastReport != nil {
		r := *a.lastReport
		st.LastActivation = &r
	}
	return st
}

// Close stops the task queue. A running lifecycle task finishes first.
// Later lifecycle calls return ErrClosed; Intercept keeps working so that a
// host can drain in-flight requests.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		close(a.quit)
		<-a.stopped
		a.setState(StateRedundant)
	})
	return nil
}

func (a *Agent) loop() {
	defer close(a.stopped)
	for {
		select {
		case t := <-a.tasks:
			t.done <- t.run(t.ctx)
		case <-a.quit:
			return
		}
	}
}

// submit runs fn on the task queue and waits for it. Once accepted a task
// runs to completion; ctx is handed to fn but does not abort the wait.
func (a *Agent) submit(ctx context.Context, fn func(context.Context) error) error {
	t := task{ctx: ctx, run: fn, done: make(chan error, 1)}
	select {
	case a.tasks <- t:
	case <-a.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-t.done
}
