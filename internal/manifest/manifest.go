// Package manifest holds the resource manifest (resource key -> content
// fingerprint) and the core shell set of a front-end build.
//
// A manifest is produced by the build (see Build) and treated as an
// immutable value afterwards: a new deployment produces a new manifest
// wholesale.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// RootKey is the reserved resource key of the navigation entry point.
const RootKey = "/"

// Manifest maps resource keys to content fingerprints.
type Manifest map[string]string

// CoreShell is the ordered list of resource keys that must be fetched before
// an agent can serve traffic offline.
type CoreShell []string

// Parse decodes the flat JSON object form.
func Parse(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m == nil {
		m = Manifest{}
	}
	return m, nil
}

// Load reads and parses a manifest file.
func Load(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Encode returns the JSON form. encoding/json sorts map keys, so the output
// is deterministic.
func (m Manifest) Encode() []byte {
	if m == nil {
		return []byte("{}")
	}
	b, _ := json.Marshal(map[string]string(m))
	return b
}

// EncodeIndent returns an indented, deterministic JSON form with a trailing
// newline, suitable for files and diffs.
func (m Manifest) EncodeIndent() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if m == nil {
		m = Manifest{}
	}
	_ = enc.Encode(map[string]string(m))
	return buf.Bytes()
}

// Keys returns the resource keys in sorted order.
func (m Manifest) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether key is a managed resource.
func (m Manifest) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Fingerprint returns the fingerprint for key and whether it exists.
func (m Manifest) Fingerprint(key string) (string, bool) {
	fp, ok := m[key]
	return fp, ok
}

// Clone returns a copy that can be handed out without exposing m.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ID computes a canonical version stamp over the manifest entries.
// It concatenates lines "<key>:<fingerprint>\n" sorted by key and returns
// the first 16 hex chars of their SHA-256.
func (m Manifest) ID() string {
	var buf bytes.Buffer
	for _, k := range m.Keys() {
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(m[k])
		buf.WriteByte('\n')
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])[:16]
}

// LoadCoreShell reads a JSON array of resource keys.
func LoadCoreShell(path string) (CoreShell, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cs CoreShell
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, fmt.Errorf("parse core shell: %w", err)
	}
	return cs, nil
}
