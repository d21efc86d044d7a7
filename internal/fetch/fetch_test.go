package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"asset-sync/internal/resource"
)

func TestHTTPFetchBypassCache(t *testing.T) {
	var gotCacheControl, gotPragma, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCacheControl = r.Header.Get("Cache-Control")
		gotPragma = r.Header.Get("Pragma")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte("main"))
	}))
	defer srv.Close()

	f := NewHTTP(time.Second, "asset-sync-test")
	req := resource.NewGet(srv.URL + "/main.dart.js")
	req.BypassCache = true
	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !resp.OK() || string(resp.Body) != "main" || resp.ContentType() != "text/javascript" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotCacheControl != "no-cache" || gotPragma != "no-cache" {
		t.Fatalf("bypass headers missing: cache-control=%q pragma=%q", gotCacheControl, gotPragma)
	}
	if gotUA != "asset-sync-test" {
		t.Fatalf("user agent got %q", gotUA)
	}
}

func TestHTTPFetchErrorStatusIsAResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	resp, err := NewHTTP(time.Second, "").Fetch(context.Background(), resource.NewGet(srv.URL+"/missing"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.OK() || resp.Status != http.StatusNotFound {
		t.Fatalf("status got %d", resp.Status)
	}
}

func TestHTTPFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewHTTP(time.Second, "").Fetch(context.Background(), resource.NewGet(url+"/")); err == nil {
		t.Fatalf("expected network error")
	}
}

func TestHTTPFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer srv.Close()

	f := NewHTTP(time.Second, "")
	f.MaxBytes = 4
	_, err := f.Fetch(context.Background(), resource.NewGet(srv.URL))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
