package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"asset-sync/internal/manifest"
	"asset-sync/internal/resource"
)

// Source tells where an intercepted response came from.
type Source int

const (
	// SourceNone means the agent declined the request; the caller should
	// send it to the network unchanged.
	SourceNone Source = iota
	SourceCache
	SourceNetwork
	// SourceFallback is a cached root document served because the network
	// was unreachable.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceNetwork:
		return "network"
	case SourceFallback:
		return "fallback"
	default:
		return "bypass"
	}
}

// Result is the outcome of Intercept.
type Result struct {
	Response *resource.Response
	Source   Source
	// Key is the derived resource key, set for handled requests.
	Key string
}

// Handled reports whether the agent answered the request.
func (r Result) Handled() bool { return r.Source != SourceNone }

// Intercept answers a request on behalf of the origin.
//
// Only GET requests for keys in the manifest are handled; everything else
// yields a zero Result. The root document is fetched from the network first
// and cached on every answer; the cached copy is used only when the network
// fails. Other keys are served from the persistent namespace and fetched
// (and cached on 2xx) on a miss. Network errors on a miss are returned
// unchanged.
//
// Cache entries are keyed by the canonical URL of the resource key, so
// "app.js?v=2" and "app.js" share one entry.
//
// The agent always asks the network for the complete resource: Range and
// conditional headers of the client are dropped before fetching. Serving a
// byte range or a 304 from the returned full response is up to the caller.
func (a *Agent) Intercept(ctx context.Context, req *resource.Request) (Result, error) {
	if req == nil || (req.Method != "" && req.Method != http.MethodGet) {
		return Result{}, nil
	}
	key := RequestKey(a.origin, req.URL)
	if !a.manifest.Has(key) {
		return Result{}, nil
	}
	req = fullRequest(req)
	if key == manifest.RootKey {
		return a.onlineFirst(ctx, req)
	}
	return a.cacheFirst(ctx, key, req)
}

func (a *Agent) onlineFirst(ctx context.Context, req *resource.Request) (Result, error) {
	cacheKey := RequestURL(a.origin, manifest.RootKey)
	resp, ferr := a.fetcher.Fetch(ctx, req)
	if ferr == nil {
		if resp.Status == http.StatusNotModified || resp.Status == http.StatusPartialContent {
			// Not a usable offline copy; keep the previous one.
			a.log.Debug("root not cached", slog.Int("status", resp.Status))
		} else if ns, err := a.storage.Open(ctx, a.names.Persistent); err != nil {
			a.log.Warn("open persistent", slog.Any("error", err))
		} else if err := ns.Put(ctx, cacheKey, resp); err != nil {
			a.log.Warn("cache root", slog.Any("error", err))
		}
		return Result{Response: resp, Source: SourceNetwork, Key: manifest.RootKey}, nil
	}

	ns, err := a.storage.Open(ctx, a.names.Persistent)
	if err != nil {
		return Result{}, ferr
	}
	cached, err := ns.Match(ctx, cacheKey)
	if err != nil || cached == nil {
		return Result{}, ferr
	}
	a.log.Info("serving cached root", slog.Any("fetch_error", ferr))
	return Result{Response: cached, Source: SourceFallback, Key: manifest.RootKey}, nil
}

func (a *Agent) cacheFirst(ctx context.Context, key string, req *resource.Request) (Result, error) {
	cacheKey := RequestURL(a.origin, key)
	ns, err := a.storage.Open(ctx, a.names.Persistent)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", a.names.Persistent, err)
	}
	cached, err := ns.Match(ctx, cacheKey)
	if err != nil {
		return Result{}, fmt.Errorf("match %s: %w", cacheKey, err)
	}
	if cached != nil {
		return Result{Response: cached, Source: SourceCache, Key: key}, nil
	}

	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if resp.Complete() {
		if err := ns.Put(ctx, cacheKey, resp); err != nil {
			a.log.Warn("lazy fill", slog.String("key", key), slog.Any("error", err))
		}
	}
	return Result{Response: resp, Source: SourceNetwork, Key: key}, nil
}

// clientCacheHeaders are request headers through which a client asks for a
// partial or conditional answer.
var clientCacheHeaders = []string{
	"Range",
	"If-Range",
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-Unmodified-Since",
}

// fullRequest returns req without clientCacheHeaders, copying it only when
// one is present.
func fullRequest(req *resource.Request) *resource.Request {
	found := false
	for _, h := range clientCacheHeaders {
		if req.Header.Get(h) != "" {
			found = true
			break
		}
	}
	if !found {
		return req
	}
	out := *req
	out.Header = req.Header.Clone()
	for _, h := range clientCacheHeaders {
		out.Header.Del(h)
	}
	return &out
}
