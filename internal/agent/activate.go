package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"asset-sync/internal/manifest"
	"asset-sync/internal/resource"
	"asset-sync/internal/store"
)

// ActivateReport summarizes one reconciliation.
type ActivateReport struct {
	FirstRun bool `json:"firstRun"`
	// Kept counts persistent entries reused because their fingerprint did
	// not change.
	Kept int `json:"kept"`
	// Evicted lists the resource keys removed from the persistent
	// namespace, in key order.
	Evicted []string `json:"evicted,omitempty"`
	// Promoted counts entries copied from staging.
	Promoted int       `json:"promoted"`
	At       time.Time `json:"at"`
}

// Activate reconciles the persistent namespace with the agent's manifest,
// promotes the staged core shell and publishes the manifest. It requires a
// completed Install.
//
// Any failure during reconciliation deletes all three namespaces so that the
// next activation takes the first-run path; the error is returned as an
// *ActivationError. The agent is activated either way and serves requests
// through lazy fill.
func (a *Agent) Activate(ctx context.Context) (*ActivateReport, error) {
	var report *ActivateReport
	err := a.submit(ctx, func(ctx context.Context) error {
		r, err := a.activate(ctx)
		report = r
		return err
	})
	return report, err
}

func (a *Agent) activate(ctx context.Context) (_ *ActivateReport, err error) {
	if st := a.State(); st != StateInstalled {
		return nil, ErrNotInstalled
	}
	ctx, span := a.startSpan(ctx, "agent.Activate")
	defer func() { endSpan(span, err) }()

	a.setState(StateActivating)
	start := time.Now()

	report, err := a.reconcile(ctx)
	if err != nil {
		a.reset(context.WithoutCancel(ctx))
		a.setState(StateActivated)
		a.log.Error("activation failed, caches reset", slog.Any("error", err))
		return nil, &ActivationError{Err: err}
	}

	report.At = time.Now().UTC()
	a.mu.Lock()
	a.lastReport = report
	a.mu.Unlock()
	a.setState(StateActivated)
	a.host.ClaimClients(a)
	span.SetAttributes(
		attribute.Bool("first_run", report.FirstRun),
		attribute.Int("kept", report.Kept),
		attribute.Int("evicted", len(report.Evicted)),
		attribute.Int("promoted", report.Promoted),
	)

	a.log.Info("activated",
		slog.Bool("first_run", report.FirstRun),
		slog.Int("kept", report.Kept),
		slog.Int("evicted", len(report.Evicted)),
		slog.Int("promoted", report.Promoted),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return report, nil
}

func (a *Agent) reconcile(ctx context.Context) (*ActivateReport, error) {
	persistent, err := a.storage.Open(ctx, a.names.Persistent)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.names.Persistent, err)
	}
	staging, err := a.storage.Open(ctx, a.names.Staging)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.names.Staging, err)
	}
	manifests, err := a.storage.Open(ctx, a.names.ManifestStore)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.names.ManifestStore, err)
	}

	prev, err := a.previousManifest(ctx, manifests)
	if err != nil {
		return nil, err
	}

	report := &ActivateReport{}
	if prev == nil {
		report.FirstRun = true
		if _, err := a.storage.Delete(ctx, a.names.Persistent); err != nil {
			return nil, fmt.Errorf("clear %s: %w", a.names.Persistent, err)
		}
		if persistent, err = a.storage.Open(ctx, a.names.Persistent); err != nil {
			return nil, fmt.Errorf("reopen %s: %w", a.names.Persistent, err)
		}
	} else if err := a.evictStale(ctx, persistent, prev, report); err != nil {
		return nil, err
	}

	n, err := store.CopyAll(ctx, persistent, staging)
	if err != nil {
		return nil, fmt.Errorf("promote staging: %w", err)
	}
	report.Promoted = n
	if _, err := a.storage.Delete(ctx, a.names.Staging); err != nil {
		return nil, fmt.Errorf("delete %s: %w", a.names.Staging, err)
	}

	// Publish last: a newer manifest is never paired with stale content.
	if err := manifests.Put(ctx, ManifestKey, manifestResponse(a.manifest)); err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}
	return report, nil
}

func (a *Agent) evictStale(ctx context.Context, persistent store.Namespace, prev manifest.Manifest, report *ActivateReport) error {
	keys, err := persistent.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", a.names.Persistent, err)
	}
	for _, reqKey := range keys {
		key := ResourceKey(a.origin, reqKey)
		curr, ok := a.manifest.Fingerprint(key)
		if ok {
			if old, seen := prev.Fingerprint(key); seen && old == curr {
				report.Kept++
				continue
			}
		}
		if _, err := persistent.Delete(ctx, reqKey); err != nil {
			return fmt.Errorf("evict %s: %w", reqKey, err)
		}
		report.Evicted = append(report.Evicted, key)
	}
	return nil
}

func (a *Agent) previousManifest(ctx context.Context, manifests store.Namespace) (manifest.Manifest, error) {
	resp, err := manifests.Match(ctx, ManifestKey)
	if err != nil {
		return nil, fmt.Errorf("read previous manifest: %w", err)
	}
	if resp == nil {
		return nil, nil
	}
	prev, err := manifest.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read previous manifest: %w", err)
	}
	return prev, nil
}

// reset deletes every namespace. Failures are logged and do not stop the
// remaining deletes.
func (a *Agent) reset(ctx context.Context) {
	var errs []error
	for _, name := range []string{a.names.Persistent, a.names.Staging, a.names.ManifestStore} {
		if _, err := a.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("cache reset incomplete", slog.Any("error", err))
	}
}

func manifestResponse(m manifest.Manifest) *resource.Response {
	return &resource.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   m.Encode(),
	}
}

// PublishedManifest returns the manifest currently held by the manifest
// store, or nil if none was published.
func PublishedManifest(ctx context.Context, s store.Storage, names Names) (manifest.Manifest, error) {
	if names.ManifestStore == "" {
		names.ManifestStore = DefaultNames().ManifestStore
	}
	ok, err := s.Has(ctx, names.ManifestStore)
	if err != nil || !ok {
		return nil, err
	}
	ns, err := s.Open(ctx, names.ManifestStore)
	if err != nil {
		return nil, err
	}
	resp, err := ns.Match(ctx, ManifestKey)
	if err != nil || resp == nil {
		return nil, err
	}
	return manifest.Parse(resp.Body)
}
