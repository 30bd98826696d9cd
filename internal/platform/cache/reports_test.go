package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Total string `json:"total"`
}

func newTestCache(t *testing.T) (*ReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReportCache(client, time.Minute), mr
}

func TestReportCacheFetchJSON(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	key, err := c.BuildKey(ctx, "tb", "7")
	require.NoError(t, err)
	require.Equal(t, "tb:7:v1", key)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Total: "100.00"}, nil
	}

	var first, second payload
	require.NoError(t, c.FetchJSON(ctx, key, &first, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, "100.00", second.Total)
	require.True(t, mr.Exists(key))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(key))
}

func TestReportCacheBumpOrphansKeys(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	before, err := c.BuildKey(ctx, "pl", "1")
	require.NoError(t, err)
	require.NoError(t, c.Bump(ctx))
	after, err := c.BuildKey(ctx, "pl", "1")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
	require.Equal(t, "pl:1:v2", after)
}

func TestReportCacheBumpPublishes(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, BumpChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Bump(ctx))
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", msg.Payload)
}

func TestReportCacheDisabled(t *testing.T) {
	c := NewReportCache(nil, time.Minute)
	ctx := context.Background()

	key, err := c.BuildKey(ctx, "bs", "3")
	require.NoError(t, err)
	require.Equal(t, "bs:3", key)
	require.NoError(t, c.Bump(ctx))

	calls := 0
	var out payload
	for i := 0; i < 2; i++ {
		require.NoError(t, c.FetchJSON(ctx, key, &out, func(context.Context) (any, error) {
			calls++
			return payload{Total: "1"}, nil
		}))
	}
	require.Equal(t, 2, calls)
}

func TestReportCacheLoaderError(t *testing.T) {
	c, mr := newTestCache(t)
	boom := errors.New("boom")
	var out payload
	err := c.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))

	require.Error(t, c.FetchJSON(context.Background(), "k", &out, nil))
}

func TestNewFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), addr)
	require.Error(t, err)
}
