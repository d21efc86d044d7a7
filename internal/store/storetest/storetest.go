// Package storetest holds the behavioral suite every store.Storage backend
// must pass.
package storetest

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-sync/internal/resource"
	"asset-sync/internal/store"
)

// Run exercises a fresh Storage returned by newStorage for each subtest.
func Run(t *testing.T, newStorage func(t *testing.T) store.Storage) {
	t.Helper()

	t.Run("OpenIsLazyAndIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)

		has, err := s.Has(ctx, "a")
		require.NoError(t, err)
		assert.False(t, has)

		_, err = s.Open(ctx, "a")
		require.NoError(t, err)
		_, err = s.Open(ctx, "a")
		require.NoError(t, err)

		has, err = s.Has(ctx, "a")
		require.NoError(t, err)
		assert.True(t, has)

		names, err := s.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, names)
	})

	t.Run("RejectsBlankName", func(t *testing.T) {
		_, err := newStorage(t).Open(context.Background(), "  ")
		assert.ErrorIs(t, err, store.ErrInvalidName)
	})

	t.Run("PutMatchDelete", func(t *testing.T) {
		ctx := context.Background()
		ns, err := newStorage(t).Open(ctx, "cache")
		require.NoError(t, err)

		miss, err := ns.Match(ctx, "https://x.test/a.js")
		require.NoError(t, err)
		assert.Nil(t, miss)

		resp := &resource.Response{
			Status: 200,
			Header: http.Header{"Content-Type": []string{"text/javascript"}},
			Body:   []byte("console.log(1)"),
		}
		require.NoError(t, ns.Put(ctx, "https://x.test/a.js", resp))

		// mutating the caller's copy must not leak into the store
		resp.Body[0] = 'X'

		got, err := ns.Match(ctx, "https://x.test/a.js")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 200, got.Status)
		assert.Equal(t, "text/javascript", got.ContentType())
		assert.Equal(t, "console.log(1)", string(got.Body))

		require.NoError(t, ns.Put(ctx, "https://x.test/a.js", &resource.Response{Status: 200, Body: []byte("v2")}))
		got, err = ns.Match(ctx, "https://x.test/a.js")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got.Body))

		removed, err := ns.Delete(ctx, "https://x.test/a.js")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = ns.Delete(ctx, "https://x.test/a.js")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("KeysSorted", func(t *testing.T) {
		ctx := context.Background()
		ns, err := newStorage(t).Open(ctx, "cache")
		require.NoError(t, err)
		for _, k := range []string{"https://x.test/c", "https://x.test/", "https://x.test/a"} {
			require.NoError(t, ns.Put(ctx, k, &resource.Response{Status: 200, Body: []byte(k)}))
		}
		keys, err := ns.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://x.test/", "https://x.test/a", "https://x.test/c"}, keys)
	})

	t.Run("NamespacesAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		a, err := s.Open(ctx, "a")
		require.NoError(t, err)
		b, err := s.Open(ctx, "b")
		require.NoError(t, err)

		require.NoError(t, a.Put(ctx, "k", &resource.Response{Status: 200, Body: []byte("a")}))
		got, err := b.Match(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DeleteNamespace", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		ns, err := s.Open(ctx, "gone")
		require.NoError(t, err)
		require.NoError(t, ns.Put(ctx, "k", &resource.Response{Status: 200, Body: []byte("v")}))

		existed, err := s.Delete(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, existed)
		existed, err = s.Delete(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, existed)

		has, err := s.Has(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, has)

		// a reopened namespace starts empty
		ns, err = s.Open(ctx, "gone")
		require.NoError(t, err)
		keys, err := ns.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("StaleHandleWritesAreDropped", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		ns, err := s.Open(ctx, "tmp")
		require.NoError(t, err)
		_, err = s.Delete(ctx, "tmp")
		require.NoError(t, err)

		require.NoError(t, ns.Put(ctx, "k", &resource.Response{Status: 200}))
		has, err := s.Has(ctx, "tmp")
		require.NoError(t, err)
		assert.False(t, has)
		got, err := ns.Match(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("StaleHandleFollowsRecreatedNamespace", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		stale, err := s.Open(ctx, "persistent")
		require.NoError(t, err)
		require.NoError(t, stale.Put(ctx, "old", &resource.Response{Status: 200, Body: []byte("old")}))
		_, err = s.Delete(ctx, "persistent")
		require.NoError(t, err)

		fresh, err := s.Open(ctx, "persistent")
		require.NoError(t, err)
		keys, err := stale.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)

		require.NoError(t, stale.Put(ctx, "k", &resource.Response{Status: 200, Body: []byte("v")}))
		got, err := fresh.Match(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "v", string(got.Body))
	})

	t.Run("PutAll", func(t *testing.T) {
		ctx := context.Background()
		ns, err := newStorage(t).Open(ctx, "batch")
		require.NoError(t, err)
		require.NoError(t, ns.Put(ctx, "a", &resource.Response{Status: 200, Body: []byte("old")}))

		require.NoError(t, store.PutAll(ctx, ns, []store.Entry{
			{Key: "a", Response: &resource.Response{Status: 200, Body: []byte("new")}},
			{Key: "b", Response: &resource.Response{Status: 200, Body: []byte("b")}},
			{Key: "c", Response: &resource.Response{Status: 404, Body: []byte("b")}},
		}))
		keys, err := ns.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, keys)
		got, err := ns.Match(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))
		got, err = ns.Match(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 404, got.Status)
	})

	t.Run("CopyAll", func(t *testing.T) {
		ctx := context.Background()
		s := newStorage(t)
		src, err := s.Open(ctx, "src")
		require.NoError(t, err)
		dst, err := s.Open(ctx, "dst")
		require.NoError(t, err)
		require.NoError(t, src.Put(ctx, "a", &resource.Response{Status: 200, Body: []byte("new")}))
		require.NoError(t, src.Put(ctx, "b", &resource.Response{Status: 200, Body: []byte("b")}))
		require.NoError(t, dst.Put(ctx, "a", &resource.Response{Status: 200, Body: []byte("old")}))

		n, err := store.CopyAll(ctx, dst, src)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := dst.Match(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))
	})
}
