package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"asset-sync/internal/agent"
	"asset-sync/internal/resource"
)

// CacheHeader reports how the agent answered a request.
const CacheHeader = "X-Asset-Cache"

// Loader produces the configuration of the next agent version, typically
// by re-reading the manifest from disk.
type Loader func(ctx context.Context) (agent.Config, error)

// Server fronts the origin: manifest resources go through the active agent,
// everything else is proxied.
type Server struct {
	ctl    *Controller
	load   Loader
	origin *url.URL
	proxy  *httputil.ReverseProxy
	log    *slog.Logger
	router chi.Router
}

// NewServer returns a server for origin. load may be nil, in which case
// the deploy endpoint is disabled.
func NewServer(ctl *Controller, origin string, load Loader, log *slog.Logger) (*Server, error) {
	if err := agent.CheckOrigin(origin); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("host: origin: %w", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{ctl: ctl, load: load, origin: u, log: log}

	s.proxy = httputil.NewSingleHostReverseProxy(u)
	s.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warn("proxy", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, err)
	}

	r := chi.NewRouter()
	r.Use(requestLoggingMiddleware(log))
	r.Route("/_agent", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Post("/message", s.handleMessage)
		api.Post("/deploy", s.handleDeploy)
	})
	r.Handle("/*", http.HandlerFunc(s.handleAsset))
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	a := s.ctl.Active()
	if a == nil || r.Method != http.MethodGet {
		recordOutcome(r.Context(), agent.SourceNone.String(), "")
		s.proxy.ServeHTTP(w, r)
		return
	}

	res, err := a.Intercept(r.Context(), s.resourceRequest(r))
	if err != nil {
		recordOutcome(r.Context(), "error", "")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	recordOutcome(r.Context(), res.Source.String(), res.Key)
	if !res.Handled() {
		s.proxy.ServeHTTP(w, r)
		return
	}
	writeResource(w, r, res)
}

// resourceRequest maps an incoming request onto the origin's URL space. The
// agent drops the client's Range and conditional headers itself.
func (s *Server) resourceRequest(r *http.Request) *resource.Request {
	u := *s.origin
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery
	req := resource.NewGet(u.String())
	for k, vs := range r.Header {
		if dropRequestHeader(k) {
			continue
		}
		req.Header[k] = append([]string(nil), vs...)
	}
	return req
}

var hopHeaders = map[string]bool{
	"Accept-Encoding":     true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func dropRequestHeader(k string) bool {
	return hopHeaders[http.CanonicalHeaderKey(k)] || strings.EqualFold(k, RequestIDHeader)
}

// writeResource writes the agent's answer. A 200 goes through
// http.ServeContent so the client's Range and conditional headers are
// honored against the full body; other statuses are written as they are.
func writeResource(w http.ResponseWriter, r *http.Request, res agent.Result) {
	resp := res.Response
	h := w.Header()
	for k, vs := range resp.Header {
		ck := http.CanonicalHeaderKey(k)
		if hopHeaders[ck] || ck == "Content-Length" || ck == "Content-Encoding" || ck == "Content-Range" {
			continue
		}
		h[ck] = append([]string(nil), vs...)
	}
	h.Set(CacheHeader, res.Source.String())
	if resp.Status == http.StatusOK {
		modtime, _ := http.ParseTime(resp.Header.Get("Last-Modified"))
		http.ServeContent(w, r, "", modtime, bytes.NewReader(resp.Body))
		return
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode message: %w", err))
		return
	}
	err := s.ctl.Message(r.Context(), req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.ctl.Status())
	case errors.Is(err, agent.ErrUnknownMessage):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNoAgent):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if s.load == nil {
		writeError(w, http.StatusNotImplemented, errors.New("deploy is not configured"))
		return
	}
	cfg, err := s.load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_, report, err := s.ctl.Deploy(r.Context(), cfg)
	if err != nil && !errors.Is(err, agent.ErrActivationFailed) {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	resp := struct {
		Status
		Report *agent.ActivateReport `json:"report,omitempty"`
		Error  string                `json:"error,omitempty"`
	}{Status: s.ctl.Status(), Report: report}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
