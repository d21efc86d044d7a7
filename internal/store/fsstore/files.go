package fsstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// loadIndex reads <dir>/index.json.
// If the file does not exist, it returns (nil, nil) so callers can treat it
// as "no such namespace" without branching on errors.
func loadIndex(dir string) (*index, error) {
	b, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var idx index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

// saveIndex writes the index atomically with entries sorted by URL.
func saveIndex(dir string, idx *index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	sort.Slice(idx.Entries, func(i, j int) bool { return idx.Entries[i].URL < idx.Entries[j].URL })
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		return err
	}
	return writeAtomic(dir, indexFileName, &buf)
}

// saveBlob stores content-addressed data under <dir>/blobs/aa/bb/<hash>.
// If the blob already exists, the call is a no-op.
func saveBlob(dir, hash string, data []byte) error {
	if !isHex(hash) || len(hash) < 6 {
		return errors.New("invalid hash for blob storage")
	}
	p := blobPath(dir, hash)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return writeAtomic(filepath.Dir(p), filepath.Base(p), bytes.NewReader(data))
}

func readBlob(dir, hash string) ([]byte, error) {
	if !isHex(hash) || len(hash) < 6 {
		return nil, errors.New("invalid hash for blob read")
	}
	return os.ReadFile(blobPath(dir, hash))
}

// blobPath returns the canonical path for a content-addressed blob.
// Layout: <dir>/blobs/aa/bb/<hash>
func blobPath(dir, hash string) string {
	h := strings.ToLower(hash)
	return filepath.Join(dir, blobsDirName, h[:2], h[2:4], h)
}

// writeAtomic streams r into a temp file next to the target and renames it
// into place.
func writeAtomic(dir, base string, r io.Reader) error {
	f, err := os.CreateTemp(dir, ".tmp-"+base+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, base))
}

// isHex checks if s is a lowercase hex string.
func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
