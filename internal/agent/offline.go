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

// Control messages understood by HandleMessage.
const (
	MessageSkipWaiting     = "skipWaiting"
	MessageDownloadOffline = "downloadOffline"
)

// HandleMessage dispatches a control message from a client.
func (a *Agent) HandleMessage(ctx context.Context, msg string) error {
	switch msg {
	case MessageSkipWaiting:
		return a.submit(ctx, func(context.Context) error {
			a.host.SkipWaiting(a)
			return nil
		})
	case MessageDownloadOffline:
		_, err := a.DownloadOffline(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg)
	}
}

// DownloadOffline fetches every manifest resource that is not yet in the
// persistent namespace and stores it there. It is all-or-nothing: nothing is
// stored unless every fetch returned a 2xx response. It returns the resource
// keys that were added, sorted; a second call without a manifest change adds
// nothing and performs no network requests.
func (a *Agent) DownloadOffline(ctx context.Context) ([]string, error) {
	var added []string
	err := a.submit(ctx, func(ctx context.Context) error {
		keys, err := a.downloadOffline(ctx)
		added = keys
		return err
	})
	return added, err
}

// Missing returns the manifest keys absent from the persistent namespace.
func (a *Agent) Missing(ctx context.Context) ([]string, error) {
	ns, err := a.storage.Open(ctx, a.names.Persistent)
	if err != nil {
		return nil, err
	}
	return a.missing(ctx, ns)
}

func (a *Agent) downloadOffline(ctx context.Context) (_ []string, err error) {
	ctx, span := a.startSpan(ctx, "agent.DownloadOffline")
	defer func() { endSpan(span, err) }()
	start := time.Now()
	ns, err := a.storage.Open(ctx, a.names.Persistent)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.names.Persistent, err)
	}
	missing, err := a.missing(ctx, ns)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("missing", len(missing)))
	if len(missing) == 0 {
		a.log.Debug("offline prefetch: nothing missing")
		return nil, nil
	}

	responses := make([]*resource.Response, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, key := range missing {
		g.Go(func() error {
			resp, err := a.fetcher.Fetch(gctx, resource.NewGet(RequestURL(a.origin, key)))
			if err != nil {
				return fmt.Errorf("fetch %q: %w", key, err)
			}
			if !resp.Complete() {
				return &FetchError{Key: key, Status: resp.Status}
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.log.Warn("offline prefetch failed", slog.Any("error", err))
		return nil, err
	}

	entries := make([]store.Entry, len(missing))
	for i, key := range missing {
		entries[i] = store.Entry{Key: RequestURL(a.origin, key), Response: responses[i]}
	}
	if err := store.PutAll(ctx, ns, entries); err != nil {
		return nil, fmt.Errorf("store prefetched resources: %w", err)
	}
	a.log.Info("offline prefetch",
		slog.Int("added", len(missing)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return missing, nil
}

func (a *Agent) missing(ctx context.Context, ns store.Namespace) ([]string, error) {
	keys, err := ns.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", a.names.Persistent, err)
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[ResourceKey(a.origin, k)] = true
	}
	var out []string
	for _, k := range a.manifest.Keys() {
		if !have[k] {
			out = append(out, k)
		}
	}
	return out, nil
}
