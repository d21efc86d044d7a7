// Package fsstore provides an on-disk store.Storage.
//
// Conventions:
//   - Each namespace lives at:   <root>/<nameKey>/
//   - Its index is stored at:    <root>/<nameKey>/index.json
//   - Bodies are stored under:   <root>/<nameKey>/blobs/aa/bb/<sha256>
//
// nameKey is a short sha256 of the namespace name, so arbitrary names map to
// safe directory names. The index is rewritten atomically (temp file +
// rename) on every mutation, so readers never observe a partially-written
// index and a crash leaves either the old or the new entry set.
//
// Each Put or Delete reads and rewrites the whole index. PutAll (used by
// store.PutAll and store.CopyAll) writes a batch with one rewrite; per-key
// mutations are meant for lazy fill and eviction, not bulk loads.
package fsstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"asset-sync/internal/resource"
	"asset-sync/internal/store"
)

const (
	indexFileName = "index.json"
	blobsDirName  = "blobs"
	formatVersion = "1"
)

// NameKey returns a short, stable directory name for a namespace name.
// We use sha256(name) and keep the first 12 hex chars.
func NameKey(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:12]
}

type indexEntry struct {
	URL    string      `json:"url"`
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Hash   string      `json:"hash"`
	Size   int         `json:"size"`
}

type index struct {
	Name          string       `json:"name"`
	FormatVersion string       `json:"formatVersion,omitempty"`
	Entries       []indexEntry `json:"entries"`
}

// Storage is rooted at a directory. A single mutex serializes mutations
// within the process; the store is not meant to be shared between processes
// that write concurrently.
type Storage struct {
	root string
	mu   sync.Mutex
}

var _ store.Storage = (*Storage)(nil)

// New returns a Storage rooted at dir. The directory is created on first write.
func New(dir string) *Storage {
	return &Storage{root: dir}
}

// Root returns the storage directory.
func (s *Storage) Root() string { return s.root }

func (s *Storage) dir(name string) string {
	return filepath.Join(s.root, NameKey(name))
}

func (s *Storage) Open(_ context.Context, name string) (store.Namespace, error) {
	if err := store.CheckName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(name)
	idx, err := loadIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if idx == nil {
		if err := saveIndex(dir, &index{Name: name, FormatVersion: formatVersion, Entries: []indexEntry{}}); err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}
	return &Namespace{s: s, name: name, dir: dir}, nil
}

func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	return true, nil
}

func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := loadIndex(s.dir(name))
	if err != nil {
		return false, err
	}
	return idx != nil, nil
}

func (s *Storage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ents, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		idx, err := loadIndex(filepath.Join(s.root, e.Name()))
		if err != nil || idx == nil {
			continue
		}
		out = append(out, idx.Name)
	}
	sort.Strings(out)
	return out, nil
}

// Namespace is a handle on one namespace directory.
type Namespace struct {
	s    *Storage
	name string
	dir  string
}

var (
	_ store.Namespace = (*Namespace)(nil)
	_ store.Batcher   = (*Namespace)(nil)
)

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Match(_ context.Context, key string) (*resource.Response, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	idx, err := loadIndex(n.dir)
	if err != nil || idx == nil {
		return nil, err
	}
	for _, e := range idx.Entries {
		if e.URL != key {
			continue
		}
		body, err := readBlob(n.dir, e.Hash)
		if err != nil {
			return nil, fmt.Errorf("read body of %s: %w", key, err)
		}
		resp := &resource.Response{Status: e.Status, Header: e.Header.Clone(), Body: body}
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		return resp, nil
	}
	return nil, nil
}

func (n *Namespace) Put(ctx context.Context, key string, resp *resource.Response) error {
	return n.PutAll(ctx, []store.Entry{{Key: key, Response: resp}})
}

// PutAll stores every entry with a single index rewrite.
func (n *Namespace) PutAll(_ context.Context, entries []store.Entry) error {
	for _, e := range entries {
		if e.Response == nil {
			return fmt.Errorf("fsstore: nil response for %s", e.Key)
		}
	}
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	idx, err := loadIndex(n.dir)
	if err != nil {
		return err
	}
	if idx == nil {
		// namespace was deleted under this handle
		return nil
	}
	pos := make(map[string]int, len(idx.Entries))
	for i, e := range idx.Entries {
		pos[e.URL] = i
	}
	var stale []string
	for _, e := range entries {
		sum := sha256.Sum256(e.Response.Body)
		hash := hex.EncodeToString(sum[:])
		if err := saveBlob(n.dir, hash, e.Response.Body); err != nil {
			return fmt.Errorf("write body of %s: %w", e.Key, err)
		}
		entry := indexEntry{URL: e.Key, Status: e.Response.Status, Header: e.Response.Header.Clone(), Hash: hash, Size: len(e.Response.Body)}
		if i, ok := pos[e.Key]; ok {
			if old := idx.Entries[i].Hash; old != hash {
				stale = append(stale, old)
			}
			idx.Entries[i] = entry
			continue
		}
		pos[e.Key] = len(idx.Entries)
		idx.Entries = append(idx.Entries, entry)
	}
	if err := saveIndex(n.dir, idx); err != nil {
		return err
	}
	for _, h := range stale {
		gcBlob(n.dir, idx, h)
	}
	return nil
}

func (n *Namespace) Delete(_ context.Context, key string) (bool, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	idx, err := loadIndex(n.dir)
	if err != nil || idx == nil {
		return false, err
	}
	for i, e := range idx.Entries {
		if e.URL != key {
			continue
		}
		idx.Entries = append(idx.Entries[:i], idx.Entries[i+1:]...)
		if err := saveIndex(n.dir, idx); err != nil {
			return false, err
		}
		gcBlob(n.dir, idx, e.Hash)
		return true, nil
	}
	return false, nil
}

func (n *Namespace) Keys(_ context.Context) ([]string, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	idx, err := loadIndex(n.dir)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, e.URL)
	}
	sort.Strings(out)
	return out, nil
}

// gcBlob removes a blob once no entry references it. Best effort: a leftover
// blob only costs disk space.
func gcBlob(dir string, idx *index, hash string) {
	for _, e := range idx.Entries {
		if e.Hash == hash {
			return
		}
	}
	_ = os.Remove(blobPath(dir, hash))
}
