package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/aussiebroadwan/authkit/pkg/idx"
	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/postgres"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/kvstoretest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Integration tests run only when AUTHKIT_POSTGRES_DSN is set.

var tableSeq atomic.Int64

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("AUTHKIT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHKIT_POSTGRES_DSN is not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	run := idx.New().String()
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		table := fmt.Sprintf("authkit_kv_test_%s_%d", run, tableSeq.Add(1))
		s, err := postgres.New(pool, table)
		require.NoError(t, err)
		require.NoError(t, s.EnsureSchema(ctx))
		t.Cleanup(func() { _, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table) })
		return s
	})
}

func TestInvalidTableName(t *testing.T) {
	t.Parallel()

	_, err := postgres.New(nil, "kv; DROP TABLE users")
	require.Error(t, err)

	s, err := postgres.New(nil, "")
	require.NoError(t, err)
	require.NotNil(t, s)
}
