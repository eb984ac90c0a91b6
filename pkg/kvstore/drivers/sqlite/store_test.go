package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/sqlite"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/kvstoretest"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	t.Parallel()
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store { return newTestStore(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestPersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "kv.db")

	s, err := sqlite.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "@authkit/user", []byte(`{"id":1}`)))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Get(ctx, "@authkit/user")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1}`, string(got))
}
