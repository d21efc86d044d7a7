// Package fetch is the network primitive used by the agent.
//
// A Fetcher returns an error only for network-level failures (connection
// refused, timeout, oversized body). HTTP error statuses are ordinary
// responses; callers decide what to do with them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"asset-sync/internal/resource"
)

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error)
}

// Func adapts a function to a Fetcher.
type Func func(ctx context.Context, req *resource.Request) (*resource.Response, error)

func (f Func) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	return f(ctx, req)
}

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 64 << 20
)

// ErrTooLarge is returned when a body exceeds the configured limit.
var ErrTooLarge = errors.New("fetch: response body too large")

// HTTP fetches over net/http.
type HTTP struct {
	Client    *http.Client
	UserAgent string
	// MaxBytes caps buffered bodies (0 = 64 MiB).
	MaxBytes int64
}

var _ Fetcher = (*HTTP)(nil)

// NewHTTP returns an HTTP fetcher with the given per-request timeout
// (0 = 30s).
func NewHTTP(timeout time.Duration, userAgent string) *HTTP {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTP{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

func (h *HTTP) Fetch(ctx context.Context, req *resource.Request) (*resource.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if h.UserAgent != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", h.UserAgent)
	}
	if req.BypassCache {
		hreq.Header.Set("Cache-Control", "no-cache")
		hreq.Header.Set("Pragma", "no-cache")
		hreq.Header.Del("If-None-Match")
		hreq.Header.Del("If-Modified-Since")
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	hresp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer hresp.Body.Close()

	limit := h.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(hresp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", req.URL, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, ErrTooLarge)
	}
	return &resource.Response{
		Status: hresp.StatusCode,
		Header: hresp.Header.Clone(),
		Body:   body,
	}, nil
}
