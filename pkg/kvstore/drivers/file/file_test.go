package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/file"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/kvstoretest"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	t.Parallel()
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		s, err := file.Open(filepath.Join(t.TempDir(), "session.json"), slogx.Discard())
		require.NoError(t, err)
		return s
	})
}

func TestPersistsAcrossOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s, err := file.Open(path, slogx.Discard())
	require.NoError(t, err)
	require.NoError(t, s.MultiSet(ctx, map[string][]byte{
		"@authkit/accessToken":  []byte("a"),
		"@authkit/refreshToken": []byte("r"),
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := file.Open(path, slogx.Discard())
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "@authkit/refreshToken")
	require.NoError(t, err)
	require.Equal(t, "r", string(got))
}

func TestOpenRejectsCorruptDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := file.Open(path, slogx.Discard())
	require.Error(t, err)
}

func TestOpenEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := file.Open("", nil)
	require.Error(t, err)
}
