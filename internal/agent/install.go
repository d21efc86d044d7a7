package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"asset-sync/internal/resource"
	"asset-sync/internal/store"
)

// Install signals readiness to supersede any previous version, then fetches
// every core shell resource from the origin (bypassing HTTP caches) into the
// staging namespace. Install is all-or-nothing: staging is written only
// after every fetch returned a 2xx response, and on failure the staging
// namespace is deleted and the agent becomes redundant.
func (a *Agent) Install(ctx context.Context) error {
	return a.submit(ctx, a.install)
}

func (a *Agent) install(ctx context.Context) (err error) {
	if st := a.State(); st != StateParsed {
		return ErrAlreadyInstalled
	}
	ctx, span := a.startSpan(ctx, "agent.Install", attribute.Int("core_shell", len(a.core)))
	defer func() { endSpan(span, err) }()

	a.host.SkipWaiting(a)
	a.setState(StateInstalling)
	start := time.Now()

	if err := a.stage(ctx); err != nil {
		if _, derr := a.storage.Delete(context.WithoutCancel(ctx), a.names.Staging); derr != nil {
			a.log.Warn("discard staging", slog.Any("error", derr))
		}
		a.setState(StateRedundant)
		a.log.Error("install failed", slog.Any("error", err))
		return err
	}

	a.setState(StateInstalled)
	a.log.Info("installed",
		slog.Int("core_shell", len(a.core)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func (a *Agent) stage(ctx context.Context) error {
	staging, err := a.storage.Open(ctx, a.names.Staging)
	if err != nil {
		return &InstallError{Err: err}
	}

	responses := make([]*resource.Response, len(a.core))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, key := range a.core {
		g.Go(func() error {
			req := resource.NewGet(RequestURL(a.origin, key))
			req.BypassCache = true
			resp, err := a.fetcher.Fetch(gctx, req)
			if err != nil {
				return &InstallError{Key: key, Err: err}
			}
			if !resp.Complete() {
				return &InstallError{Key: key, Status: resp.Status}
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	entries := make([]store.Entry, len(a.core))
	for i, key := range a.core {
		entries[i] = store.Entry{Key: RequestURL(a.origin, key), Response: responses[i]}
	}
	if err := store.PutAll(ctx, staging, entries); err != nil {
		return &InstallError{Err: fmt.Errorf("stage: %w", err)}
	}
	return nil
}
