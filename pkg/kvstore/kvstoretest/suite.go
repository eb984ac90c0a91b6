// Package kvstoretest holds the behaviour every kvstore driver must share.
// Driver packages call Run from their own tests.
package kvstoretest

import (
	"context"
	"sync"
	"testing"

	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) kvstore.Store

// Run exercises the kvstore.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing")
		require.ErrorIs(t, err, kvstore.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "@authkit/accessToken", []byte("tok-1")))
		got, err := s.Get(ctx, "@authkit/accessToken")
		require.NoError(t, err)
		require.Equal(t, "tok-1", string(got))

		require.NoError(t, s.Set(ctx, "@authkit/accessToken", []byte("tok-2")))
		got, err = s.Get(ctx, "@authkit/accessToken")
		require.NoError(t, err)
		require.Equal(t, "tok-2", string(got))
	})

	t.Run("empty value is distinct from missing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "empty", []byte{}))
		got, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "k", []byte("v")))
		require.NoError(t, s.Remove(ctx, "k"))
		require.NoError(t, s.Remove(ctx, "k"))
		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, kvstore.ErrNotFound)
	})

	t.Run("multi set and multi remove", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "unrelated", []byte("keep")))
		require.NoError(t, s.MultiSet(ctx, map[string][]byte{
			"a": []byte("1"),
			"b": []byte("2"),
			"c": []byte(`{"id":1}`),
		}))

		for k, want := range map[string]string{"a": "1", "b": "2", "c": `{"id":1}`} {
			got, err := s.Get(ctx, k)
			require.NoError(t, err, k)
			require.Equal(t, want, string(got), k)
		}

		require.NoError(t, s.MultiRemove(ctx, "a", "b", "c", "never-set"))
		for _, k := range []string{"a", "b", "c"} {
			_, err := s.Get(ctx, k)
			require.ErrorIs(t, err, kvstore.ErrNotFound, k)
		}

		got, err := s.Get(ctx, "unrelated")
		require.NoError(t, err)
		require.Equal(t, "keep", string(got))
	})

	t.Run("empty batches are no-ops", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.MultiSet(ctx, nil))
		require.NoError(t, s.MultiRemove(ctx))
	})

	t.Run("stored value is not aliased", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		v := []byte("abc")
		require.NoError(t, s.Set(ctx, "k", v))
		v[0] = 'z'

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "abc", string(got))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs <- s.MultiSet(ctx, map[string][]byte{"x": []byte("1"), "y": []byte("2")})
			}()
			go func() {
				defer wg.Done()
				errs <- s.MultiRemove(ctx, "x", "y")
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	})
}
