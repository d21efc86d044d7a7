// Package host drives agent versions and fronts an origin over HTTP.
//
// The Controller plays the part of the hosting environment: it installs and
// activates new agent versions, swaps the active one and answers the
// agent's SkipWaiting/ClaimClients requests. The Server routes client
// requests through the active agent and proxies everything the agent
// declines to the origin.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"asset-sync/internal/agent"
)

// ErrNoAgent is returned when no agent version is active yet.
var ErrNoAgent = errors.New("host: no active agent")

// Controller owns the active agent and the one being deployed.
type Controller struct {
	log  *slog.Logger
	opts []agent.Option

	deployMu sync.Mutex

	mu          sync.RWMutex
	active      *agent.Agent
	waiting     *agent.Agent
	claimedBy   *agent.Agent
	deployments int
}

var _ agent.Host = (*Controller)(nil)

// NewController returns a controller. opts are applied to every agent it
// deploys.
func NewController(log *slog.Logger, opts ...agent.Option) *Controller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{log: log, opts: opts}
}

// SkipWaiting implements agent.Host. Deploy activates right after install,
// so the request is only recorded.
func (c *Controller) SkipWaiting(a *agent.Agent) {
	c.log.Debug("skip waiting", slog.String("agent_id", a.ID()))
}

// ClaimClients implements agent.Host.
func (c *Controller) ClaimClients(a *agent.Agent) {
	c.mu.Lock()
	c.claimedBy = a
	c.mu.Unlock()
	c.log.Debug("clients claimed", slog.String("agent_id", a.ID()))
}

// Active returns the active agent or nil.
func (c *Controller) Active() *agent.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Deploy creates an agent for cfg, installs and activates it and makes it
// the active version. If install fails the agent is discarded and the
// previous version keeps serving. An activation failure still swaps the
// new version in (its caches were reset and refill lazily); the
// *agent.ActivationError is returned alongside the agent.
func (c *Controller) Deploy(ctx context.Context, cfg agent.Config) (*agent.Agent, *agent.ActivateReport, error) {
	c.deployMu.Lock()
	defer c.deployMu.Unlock()

	opts := make([]agent.Option, 0, len(c.opts)+1)
	opts = append(opts, c.opts...)
	opts = append(opts, agent.WithHost(c))
	a, err := agent.New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	c.setWaiting(a)
	if err := a.Install(ctx); err != nil {
		c.discard(a)
		return nil, nil, err
	}
	report, err := a.Activate(ctx)
	if err != nil && !errors.Is(err, agent.ErrActivationFailed) {
		c.discard(a)
		return nil, nil, err
	}

	c.promote(a)
	c.log.Info("deployed",
		slog.String("agent_id", a.ID()),
		slog.String("manifest_id", a.ManifestID()),
	)
	return a, report, err
}

// Message forwards a control message to the active agent.
func (c *Controller) Message(ctx context.Context, msg string) error {
	a := c.Active()
	if a == nil {
		return ErrNoAgent
	}
	return a.HandleMessage(ctx, msg)
}

// Status is a snapshot of the controller.
type Status struct {
	Active      *agent.Status `json:"active,omitempty"`
	Waiting     *agent.Status `json:"waiting,omitempty"`
	Controlling bool          `json:"controlling"`
	Deployments int           `json:"deployments"`
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		Controlling: c.active != nil && c.claimedBy == c.active,
		Deployments: c.deployments,
	}
	if c.active != nil {
		s := c.active.Status()
		st.Active = &s
	}
	if c.waiting != nil {
		s := c.waiting.Status()
		st.Waiting = &s
	}
	return st
}

// Close closes every agent the controller holds.
func (c *Controller) Close() error {
	c.mu.Lock()
	active, waiting := c.active, c.waiting
	c.active, c.waiting = nil, nil
	c.mu.Unlock()
	var errs []error
	for _, a := range []*agent.Agent{active, waiting} {
		if a != nil {
			errs = append(errs, a.Close())
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) setWaiting(a *agent.Agent) {
	c.mu.Lock()
	c.waiting = a
	c.mu.Unlock()
}

func (c *Controller) discard(a *agent.Agent) {
	c.mu.Lock()
	if c.waiting == a {
		c.waiting = nil
	}
	c.mu.Unlock()
	_ = a.Close()
}

func (c *Controller) promote(a *agent.Agent) {
	c.mu.Lock()
	prev := c.active
	c.active = a
	if c.waiting == a {
		c.waiting = nil
	}
	c.deployments++
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}
