package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/authkit/pkg/kvstore"
	kvredis "github.com/aussiebroadwan/authkit/pkg/kvstore/drivers/redis"
	"github.com/aussiebroadwan/authkit/pkg/kvstore/kvstoretest"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestConformance(t *testing.T) {
	t.Parallel()
	kvstoretest.Run(t, func(t *testing.T) kvstore.Store {
		_, client := newTestRedis(t)
		return kvredis.New(client, "authkit:")
	})
}

func TestPrefix(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	s := kvredis.New(client, "app1:")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "@authkit/accessToken", []byte("tok")))

	raw, err := mr.Get("app1:@authkit/accessToken")
	require.NoError(t, err)
	require.Equal(t, "tok", raw)
	require.False(t, mr.Exists("@authkit/accessToken"))

	other := kvredis.New(client, "app2:")
	_, err = other.Get(ctx, "@authkit/accessToken")
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestDial(t *testing.T) {
	t.Parallel()

	mr, _ := newTestRedis(t)
	s, err := kvredis.Dial(context.Background(), "redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	require.True(t, mr.Exists("k"))
}
