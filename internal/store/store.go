// Package store defines the named cache namespaces used by the agent.
//
// A Storage holds any number of namespaces identified by name. A Namespace is
// a key/value store of request URL -> response. Backends guarantee atomic
// per-key Put and Delete; nothing spans keys.
//
// Backends:
//   - memstore   : in-process maps (tests, ephemeral hosts)
//   - fsstore    : on-disk index + content-addressed blobs
//   - sqlitestore: a single SQLite database
package store

import (
	"context"
	"errors"
	"strings"

	"asset-sync/internal/resource"
)

// ErrInvalidName is returned when a namespace name is empty or blank.
var ErrInvalidName = errors.New("store: invalid namespace name")

// Entry is one key and its response.
type Entry struct {
	Key      string
	Response *resource.Response
}

// Batcher is implemented by namespaces that store several entries with a
// single write. PutAll uses it when available.
type Batcher interface {
	PutAll(ctx context.Context, entries []Entry) error
}

// Storage is the set of named namespaces.
type Storage interface {
	// Open returns the namespace, creating it lazily if it does not exist.
	Open(ctx context.Context, name string) (Namespace, error)
	// Delete removes the namespace and all of its entries. It reports whether
	// the namespace existed.
	//
	// Handles refer to a namespace by name. Through a handle obtained before
	// the delete, reads see an empty namespace and writes are dropped while
	// the name does not exist; once Open recreates it, the handle reads and
	// writes the new namespace.
	Delete(ctx context.Context, name string) (bool, error)
	// Has reports whether the namespace exists.
	Has(ctx context.Context, name string) (bool, error)
	// Names lists existing namespaces in sorted order.
	Names(ctx context.Context) ([]string, error)
}

// Namespace is a single cache.
type Namespace interface {
	Name() string
	// Match returns the stored response for key. If nothing is stored it
	// returns (nil, nil) so callers can treat a miss without branching on
	// errors.
	Match(ctx context.Context, key string) (*resource.Response, error)
	Put(ctx context.Context, key string, resp *resource.Response) error
	// Delete reports whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys lists stored request keys in sorted order.
	Keys(ctx context.Context) ([]string, error)
}

// CheckName validates a namespace name.
func CheckName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}

// PutAll stores entries in ns, in one write when ns is a Batcher.
func PutAll(ctx context.Context, ns Namespace, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if b, ok := ns.(Batcher); ok {
		return b.PutAll(ctx, entries)
	}
	for _, e := range entries {
		if err := ns.Put(ctx, e.Key, e.Response); err != nil {
			return err
		}
	}
	return nil
}

// CopyAll copies every entry of src into dst, overwriting existing keys.
// It returns the number of entries copied.
func CopyAll(ctx context.Context, dst, src Namespace) (int, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, err
	}
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		resp, err := src.Match(ctx, k)
		if err != nil {
			return 0, err
		}
		if resp == nil {
			// deleted concurrently
			continue
		}
		entries = append(entries, Entry{Key: k, Response: resp})
	}
	if err := PutAll(ctx, dst, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
