package host

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"asset-sync/internal/agent"
	"asset-sync/internal/fetch"
	"asset-sync/internal/manifest"
	"asset-sync/internal/store"
	"asset-sync/internal/store/memstore"
)

type testOrigin struct {
	*httptest.Server
	mu    sync.Mutex
	files   map[string]string
	hits    map[string]int
	headers map[string]http.Header
}

func newTestOrigin(t *testing.T, files map[string]string) *testOrigin {
	t.Helper()
	o := &testOrigin{files: files, hits: map[string]int{}, headers: map[string]http.Header{}}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.headers[r.URL.Path] = r.Header.Clone()
		body, ok := o.files[r.URL.Path]
		o.mu.Unlock()
		if r.Method != http.MethodGet {
			_, _ = w.Write([]byte("method " + r.Method))
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("ETag", `"`+body+`"`)
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") && r.Header.Get("Range") == "" {
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_, _ = zw.Write([]byte(body))
			_ = zw.Close()
			return
		}
		http.ServeContent(w, r, "", time.Time{}, strings.NewReader(body))
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *testOrigin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// header returns the headers of the last request the origin saw for path.
func (o *testOrigin) header(path string) http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.headers[path]
}

func agentConfig(origin string, s store.Storage, m manifest.Manifest, core ...string) agent.Config {
	return agent.Config{
		Origin:    origin,
		Manifest:  m,
		CoreShell: core,
		Storage:   s,
		Fetcher:   fetch.NewHTTP(2*time.Second, "asset-sync-test"),
	}
}

func setup(t *testing.T, files map[string]string, m manifest.Manifest, core ...string) (*testOrigin, *Controller, *httptest.Server) {
	t.Helper()
	origin := newTestOrigin(t, files)
	ctl := NewController(nil)
	t.Cleanup(func() { _ = ctl.Close() })

	if m != nil {
		if _, _, err := ctl.Deploy(context.Background(), agentConfig(origin.URL, memstore.New(), m, core...)); err != nil {
			t.Fatalf("deploy: %v", err)
		}
	}
	srv, err := NewServer(ctl, origin.URL, nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	front := httptest.NewServer(srv)
	t.Cleanup(front.Close)
	return origin, ctl, front
}

func doGet(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func doRequest(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request %s: %v", url, err)
	}
	req.Header = header
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestServerServesManifestResourcesFromCache(t *testing.T) {
	origin, _, front := setup(t,
		map[string]string{"/": "root", "/app.js": "app"},
		manifest.Manifest{"/": "h0", "app.js": "h1"}, "app.js")

	resp, body := doGet(t, front.URL+"/app.js?v=3")
	if resp.StatusCode != http.StatusOK || body != "app" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(CacheHeader); got != "cache" {
		t.Fatalf("cache header got %q", got)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("missing request id")
	}
	if n := origin.hitCount("/app.js"); n != 1 {
		t.Fatalf("origin hits for app.js got %d, want 1 (install only)", n)
	}

	resp, body = doGet(t, front.URL+"/")
	if body != "root" || resp.Header.Get(CacheHeader) != "network" {
		t.Fatalf("root got %q via %q", body, resp.Header.Get(CacheHeader))
	}
}

func TestServerAnswersRangeFromFullCachedBody(t *testing.T) {
	origin, _, front := setup(t,
		map[string]string{"/app.js": "app", "/video.bin": "0123456789"},
		manifest.Manifest{"app.js": "h1", "video.bin": "h2"}, "app.js")

	resp, body := doRequest(t, front.URL+"/video.bin", http.Header{"Range": {"bytes=0-3"}})
	if resp.StatusCode != http.StatusPartialContent || body != "0123" {
		t.Fatalf("range got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-3/10" {
		t.Fatalf("content-range got %q", got)
	}
	if got := origin.header("/video.bin").Get("Range"); got != "" {
		t.Fatalf("origin saw range %q", got)
	}

	resp, body = doGet(t, front.URL+"/video.bin")
	if resp.StatusCode != http.StatusOK || body != "0123456789" {
		t.Fatalf("full get got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(CacheHeader); got != "cache" {
		t.Fatalf("cache header got %q", got)
	}
	if n := origin.hitCount("/video.bin"); n != 1 {
		t.Fatalf("origin hits for video.bin got %d, want 1", n)
	}
}

func TestServerConditionalRootKeepsOfflineCopy(t *testing.T) {
	origin, _, front := setup(t,
		map[string]string{"/": "root", "/app.js": "app"},
		manifest.Manifest{"/": "h0", "app.js": "h1"}, "app.js")

	resp, body := doGet(t, front.URL+"/")
	if resp.StatusCode != http.StatusOK || body != "root" {
		t.Fatalf("root got %d %q", resp.StatusCode, body)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatalf("missing etag")
	}

	resp, _ = doRequest(t, front.URL+"/", http.Header{"If-None-Match": {etag}})
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional root got %d", resp.StatusCode)
	}
	if got := origin.header("/").Get("If-None-Match"); got != "" {
		t.Fatalf("origin saw If-None-Match %q", got)
	}

	origin.Close()
	resp, body = doGet(t, front.URL+"/")
	if resp.StatusCode != http.StatusOK || body != "root" {
		t.Fatalf("offline root got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get(CacheHeader); got != "fallback" {
		t.Fatalf("cache header got %q", got)
	}
}

func TestServerServesIdentityBodyToGzipClients(t *testing.T) {
	const script = "console.log('asset-sync');"
	origin, _, front := setup(t,
		map[string]string{"/app.js": script},
		manifest.Manifest{"app.js": "h1"}, "app.js")

	resp, body := doRequest(t, front.URL+"/app.js", http.Header{"Accept-Encoding": {"gzip"}})
	if resp.StatusCode != http.StatusOK || body != script {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("content-encoding got %q", got)
	}
	if !strings.Contains(origin.header("/app.js").Get("Accept-Encoding"), "gzip") {
		t.Fatalf("origin was not asked for gzip")
	}
}

func TestNewServerRejectsOriginWithPath(t *testing.T) {
	ctl := NewController(nil)
	t.Cleanup(func() { _ = ctl.Close() })
	for _, origin := range []string{"https://app.example/app", "https://app.example/app/", "app.example"} {
		if _, err := NewServer(ctl, origin, nil, nil); !errors.Is(err, agent.ErrInvalidOrigin) {
			t.Fatalf("NewServer(%q) err = %v, want ErrInvalidOrigin", origin, err)
		}
	}
}

func TestServerProxiesDeclinedRequests(t *testing.T) {
	origin, _, front := setup(t,
		map[string]string{"/app.js": "app", "/other.css": "css"},
		manifest.Manifest{"app.js": "h1"}, "app.js")

	resp, body := doGet(t, front.URL+"/other.css")
	if body != "css" {
		t.Fatalf("body got %q", body)
	}
	if got := resp.Header.Get(CacheHeader); got != "" {
		t.Fatalf("declined request carries cache header %q", got)
	}
	doGet(t, front.URL+"/other.css")
	if n := origin.hitCount("/other.css"); n != 2 {
		t.Fatalf("declined requests must reach origin every time, hits=%d", n)
	}

	post, err := http.Post(front.URL+"/app.js", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer post.Body.Close()
	b, _ := io.ReadAll(post.Body)
	if string(b) != "method POST" {
		t.Fatalf("post body got %q", b)
	}
}

func TestServerWithoutAgentProxies(t *testing.T) {
	_, _, front := setup(t, map[string]string{"/app.js": "app"}, nil)
	resp, body := doGet(t, front.URL+"/app.js")
	if resp.StatusCode != http.StatusOK || body != "app" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
}

func TestServerRootNetworkErrorIsBadGateway(t *testing.T) {
	origin, _, front := setup(t,
		map[string]string{"/": "root", "/app.js": "app"},
		manifest.Manifest{"/": "h0", "app.js": "h1"}, "app.js")
	origin.Close()

	resp, body := doGet(t, front.URL+"/")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status got %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(body), &payload); err != nil || payload["error"] == "" {
		t.Fatalf("expected json error body, got %q", body)
	}

	// Cached core shell stays available offline.
	resp, body = doGet(t, front.URL+"/app.js")
	if resp.StatusCode != http.StatusOK || body != "app" {
		t.Fatalf("offline app.js got %d %q", resp.StatusCode, body)
	}
}

func TestControlAPI(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/app.js": "app", "/a.png": "png", "/b.png": "png2"})
	ctl := NewController(nil)
	defer ctl.Close()
	s := memstore.New()

	var mu sync.Mutex
	current := manifest.Manifest{"app.js": "h1", "a.png": "h2"}
	load := func(context.Context) (agent.Config, error) {
		mu.Lock()
		defer mu.Unlock()
		return agentConfig(origin.URL, s, current, "app.js"), nil
	}
	srv, err := NewServer(ctl, origin.URL, load, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	front := httptest.NewServer(srv)
	defer front.Close()

	resp, body := doGet(t, front.URL+"/_agent/status")
	if resp.StatusCode != http.StatusOK || strings.Contains(body, `"active"`) {
		t.Fatalf("status before deploy: %d %s", resp.StatusCode, body)
	}

	post := func(path, payload string) (int, Status) {
		t.Helper()
		r, err := http.Post(front.URL+path, "application/json", bytes.NewBufferString(payload))
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		defer r.Body.Close()
		var st Status
		_ = json.NewDecoder(r.Body).Decode(&st)
		return r.StatusCode, st
	}

	if code, _ := post("/_agent/message", `{"message":"skipWaiting"}`); code != http.StatusServiceUnavailable {
		t.Fatalf("message without agent got %d", code)
	}

	code, st := post("/_agent/deploy", "")
	if code != http.StatusOK || st.Active == nil || st.Deployments != 1 || !st.Controlling {
		t.Fatalf("deploy got %d %+v", code, st)
	}
	if st.Active.LastActivation == nil || !st.Active.LastActivation.FirstRun {
		t.Fatalf("expected first-run activation report: %+v", st.Active)
	}

	if code, _ := post("/_agent/message", `{"message":"downloadOffline"}`); code != http.StatusOK {
		t.Fatalf("downloadOffline got %d", code)
	}
	if n := origin.hitCount("/a.png"); n != 1 {
		t.Fatalf("prefetch hits for a.png got %d", n)
	}
	if code, _ := post("/_agent/message", `{"message":"bogus"}`); code != http.StatusBadRequest {
		t.Fatalf("unknown message got %d", code)
	}
	if code, _ := post("/_agent/message", `not json`); code != http.StatusBadRequest {
		t.Fatalf("bad json got %d", code)
	}

	mu.Lock()
	current = manifest.Manifest{"app.js": "h1", "a.png": "h2x", "b.png": "h3"}
	mu.Unlock()
	code, st = post("/_agent/deploy", "")
	if code != http.StatusOK || st.Deployments != 2 {
		t.Fatalf("second deploy got %d %+v", code, st)
	}
	if st.Active.LastActivation.FirstRun || len(st.Active.LastActivation.Evicted) != 1 {
		t.Fatalf("expected upgrade evicting a.png: %+v", st.Active.LastActivation)
	}
}

func TestDeployInstallFailureKeepsPreviousVersion(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/app.js": "app"})
	ctl := NewController(nil)
	defer ctl.Close()
	s := memstore.New()
	ctx := context.Background()

	first, _, err := ctl.Deploy(ctx, agentConfig(origin.URL, s, manifest.Manifest{"app.js": "h1"}, "app.js"))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}

	_, _, err = ctl.Deploy(ctx, agentConfig(origin.URL, s, manifest.Manifest{"app.js": "h1", "gone.js": "h2"}, "app.js", "gone.js"))
	if err == nil {
		t.Fatalf("expected install failure")
	}
	if ctl.Active() != first {
		t.Fatalf("previous version must keep serving")
	}
	if st := ctl.Status(); st.Waiting != nil || st.Deployments != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRequestLoggingMiddlewareRecordsCacheOutcome(t *testing.T) {
	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))

	handler := requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recordOutcome(r.Context(), "cache", "app.js")
		_, _ = w.Write([]byte("ok"))
	}))

	request := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	request.Header.Set(RequestIDHeader, "req-1")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("request id not echoed")
	}
	logLine := logBuffer.String()
	for _, want := range []string{
		`msg="http request"`,
		"request_id=req-1",
		"method=GET",
		"path=/app.js",
		"status=200",
		"bytes=2",
		"cache=cache",
		"key=app.js",
		"duration_ms=",
	} {
		if !strings.Contains(logLine, want) {
			t.Fatalf("log line missing %q: %s", want, logLine)
		}
	}
}
