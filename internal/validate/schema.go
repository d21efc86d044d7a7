// Package validate performs lightweight validation of resource manifests and
// core shell sets before an agent is built from them.
//
// Goals:
//   - Aggregate multiple issues into a single error for better UX
//   - Deterministic output (issues reported in key order)
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"asset-sync/internal/manifest"
)

// Manifest validates a resource manifest:
//
//   - Keys are non-empty and relative (only the root key starts with '/').
//   - Keys use forward slashes and contain no '..' segments.
//   - Keys contain no query ("?v=") or fragment part; those are request
//     decorations, not resources.
//   - Fingerprints are non-empty lowercase hex.
//
// The function returns nil if everything looks fine, or a single aggregated
// error describing all the issues found.
func Manifest(m manifest.Manifest) error {
	var errs errlist

	if len(m) == 0 {
		errs.add("manifest must contain at least one resource")
	}
	for _, key := range m.Keys() {
		fp := m[key]
		prefix := fmt.Sprintf("manifest[%q]", key)

		if key != manifest.RootKey {
			switch {
			case strings.TrimSpace(key) == "":
				errs.add("%s: key must be non-empty", prefix)
			case strings.HasPrefix(key, "/"):
				errs.add("%s: key must be relative (only %q may start with a slash)", prefix, manifest.RootKey)
			}
			if strings.Contains(key, `\`) {
				errs.add("%s: key must use forward slashes ('/'), found backslash", prefix)
			}
			if hasDotDot(key) {
				errs.add("%s: key must not contain '..' segments", prefix)
			}
			if strings.ContainsAny(key, "?#") {
				errs.add("%s: key must not carry a query or fragment", prefix)
			}
		}

		if !reHex.MatchString(fp) {
			errs.add("%s: fingerprint must be lowercase hex, got %q", prefix, fp)
		}
	}

	return errs.err()
}

// CoreShell validates a core shell set against its manifest:
//
//   - Every key is unique.
//   - Every key is a manifest resource.
func CoreShell(cs manifest.CoreShell, m manifest.Manifest) error {
	var errs errlist

	seen := make(map[string]struct{}, len(cs))
	for i, key := range cs {
		prefix := fmt.Sprintf("core[%d] (%s)", i, key)
		if _, dup := seen[key]; dup {
			errs.add("%s: duplicate key", prefix)
			continue
		}
		seen[key] = struct{}{}
		if !m.Has(key) {
			errs.add("%s: not present in the manifest", prefix)
		}
	}

	return errs.err()
}

// --- helpers -----------------------------------------------------------------

var reHex = regexp.MustCompile(`^[0-9a-f]+$`)

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// errlist aggregates multiple validation issues into a single error.
type errlist struct {
	msgs []string
}

func (e *errlist) add(format string, args ...any) {
	if e == nil {
		return
	}
	e.msgs = append(e.msgs, fmt.Sprintf(format, args...))
}

func (e *errlist) err() error {
	if e == nil || len(e.msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(e.msgs, "\n"))
}
