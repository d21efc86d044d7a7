// Package memstore is an in-memory store.Storage.
package memstore

import (
	"context"
	"sort"
	"sync"

	"asset-sync/internal/resource"
	"asset-sync/internal/store"
)

// Storage keeps namespaces in process memory.
type Storage struct {
	mu  sync.RWMutex
	nss map[string]*bucket
}

var _ store.Storage = (*Storage)(nil)

func New() *Storage {
	return &Storage{nss: map[string]*bucket{}}
}

func (s *Storage) Open(_ context.Context, name string) (store.Namespace, error) {
	if err := store.CheckName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nss[name]; !ok {
		s.nss[name] = &bucket{entries: map[string]*resource.Response{}}
	}
	return &Namespace{s: s, name: name}, nil
}

func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nss[name]; !ok {
		return false, nil
	}
	delete(s.nss, name)
	return true, nil
}

func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nss[name]
	return ok, nil
}

func (s *Storage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.nss))
	for name := range s.nss {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Storage) bucket(name string) *bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nss[name]
}

type bucket struct {
	mu      sync.RWMutex
	entries map[string]*resource.Response
}

// Namespace is a handle on a namespace name. While the name is deleted the
// handle reads as empty and drops writes.
type Namespace struct {
	s    *Storage
	name string
}

var _ store.Namespace = (*Namespace)(nil)

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Match(_ context.Context, key string) (*resource.Response, error) {
	b := n.s.bucket(n.name)
	if b == nil {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	resp, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	return resp.Clone(), nil
}

func (n *Namespace) Put(_ context.Context, key string, resp *resource.Response) error {
	b := n.s.bucket(n.name)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = resp.Clone()
	return nil
}

func (n *Namespace) Delete(_ context.Context, key string) (bool, error) {
	b := n.s.bucket(n.name)
	if b == nil {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; !ok {
		return false, nil
	}
	delete(b.entries, key)
	return true, nil
}

func (n *Namespace) Keys(_ context.Context) ([]string, error) {
	b := n.s.bucket(n.name)
	if b == nil {
		return []string{}, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.entries))
	for k := range b.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
