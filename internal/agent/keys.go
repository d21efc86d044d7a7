package agent

import (
	"fmt"
	"net/url"
	"strings"

	"asset-sync/internal/manifest"
)

// versionParam is the cache-busting query suffix appended by the front end.
const versionParam = "?v="

// ResourceKey derives the logical resource key of a stored request URL:
// the origin prefix and its slash are stripped and the empty remainder
// becomes the root key. URLs outside the origin are returned unchanged and
// so never match a manifest key.
func ResourceKey(origin, rawURL string) string {
	key, ok := stripOrigin(origin, rawURL)
	if !ok {
		return rawURL
	}
	if key == "" {
		return manifest.RootKey
	}
	return key
}

// RequestKey derives the logical resource key of an incoming request. On top
// of ResourceKey it drops a trailing "?v=..." suffix and maps the bare
// origin, fragment-only navigations ("/#...") and the empty path to the
// root key.
func RequestKey(origin, rawURL string) string {
	key, ok := stripOrigin(origin, rawURL)
	if !ok {
		return rawURL
	}
	if i := strings.Index(key, versionParam); i >= 0 {
		key = key[:i]
	}
	if rawURL == origin || strings.HasPrefix(rawURL, origin+"/#") || key == "" {
		return manifest.RootKey
	}
	return key
}

// RequestURL is the canonical cache key for a logical resource key.
func RequestURL(origin, key string) string {
	if key == manifest.RootKey {
		return origin + "/"
	}
	return origin + "/" + key
}

// CheckOrigin rejects anything but an absolute http(s) origin. A base path
// ("https://cdn.example/app") is rejected: keys are derived relative to the
// origin root and incoming request paths are mapped onto it unchanged.
func CheckOrigin(origin string) error {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" ||
		u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}
	return nil
}

func stripOrigin(origin, rawURL string) (string, bool) {
	if rawURL == origin {
		return "", true
	}
	if !strings.HasPrefix(rawURL, origin+"/") {
		return "", false
	}
	return rawURL[len(origin)+1:], true
}
