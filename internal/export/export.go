// Package export writes a cache namespace to a reproducible zip archive.
//
// Layout:
//
//	manifest.json   the manifest the namespace was reconciled against (optional)
//	entries.json    one record per cached entry, sorted by URL
//	files/<key>     response bodies
//
// Timestamps and modes are fixed so the same namespace content always
// produces the same bytes.
package export

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"asset-sync/internal/manifest"
	"asset-sync/internal/store"
)

// FixedTime is the modification time of every entry (1980-01-01 UTC).
var FixedTime = time.Unix(315532800, 0).UTC()

// Entry describes one exported cache entry.
type Entry struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	SHA256      string `json:"sha256"`
	Size        int    `json:"size"`
	File        string `json:"file"`
}

// Options configures an export.
type Options struct {
	// KeyFunc maps a stored URL to its resource key. Nil keeps the URL.
	KeyFunc func(url string) string
	// Manifest is written as manifest.json when non-nil.
	Manifest manifest.Manifest
}

// Write streams the archive for ns to w.
func Write(ctx context.Context, w io.Writer, ns store.Namespace, opts Options) ([]Entry, error) {
	keys, err := ns.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: list %s: %w", ns.Name(), err)
	}

	zw := zip.NewWriter(w)
	if opts.Manifest != nil {
		if err := writeEntry(zw, "manifest.json", opts.Manifest.EncodeIndent()); err != nil {
			return nil, err
		}
	}

	used := map[string]struct{}{"manifest.json": {}, "entries.json": {}}
	entries := make([]Entry, 0, len(keys))
	for _, url := range keys {
		resp, err := ns.Match(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("export: read %s: %w", url, err)
		}
		if resp == nil {
			continue
		}
		key := url
		if opts.KeyFunc != nil {
			key = opts.KeyFunc(url)
		}
		name := uniqueName("files/"+filePath(key), used)
		if err := writeEntry(zw, name, resp.Body); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(resp.Body)
		entries = append(entries, Entry{
			URL:         url,
			Key:         key,
			Status:      resp.Status,
			ContentType: resp.ContentType(),
			SHA256:      hex.EncodeToString(sum[:]),
			Size:        len(resp.Body),
			File:        name,
		})
	}

	index, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encode entries: %w", err)
	}
	if err := writeEntry(zw, "entries.json", append(index, '\n')); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("export: finish zip: %w", err)
	}
	return entries, nil
}

// WriteFile writes the archive to path, replacing it atomically.
func WriteFile(ctx context.Context, path string, ns store.Namespace, opts Options) ([]Entry, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".export-*.zip")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	entries, err := Write(ctx, tmp, ns, opts)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	h := &zip.FileHeader{Name: name, Method: zip.Deflate}
	h.SetMode(0o644)
	h.Modified = FixedTime
	w, err := zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("export: write %s: %w", name, err)
	}
	return nil
}

// filePath turns a resource key or URL into a safe relative archive path:
// forward slashes, no scheme or drive, no "." or ".." segments, no query.
func filePath(key string) string {
	if key == manifest.RootKey {
		return "index"
	}
	s := key
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = filepath.ToSlash(s)
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	parts := strings.Split(s, "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return "index"
	}
	return strings.Join(stack, "/")
}

// uniqueName appends -1, -2, ... before the extension until name is unused.
func uniqueName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > strings.LastIndex(name, "/")+1 {
		base, ext = name[:i], name[i:]
	}
	for n := 1; ; n++ {
		alt := fmt.Sprintf("%s-%d%s", base, n, ext)
		if _, ok := used[alt]; !ok {
			used[alt] = struct{}{}
			return alt
		}
	}
}
