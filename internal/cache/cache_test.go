package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, zap.NewNop()), mr
}

func TestCacheGetSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestCacheSetExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheJSONRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type entry struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, c.SetJSON(ctx, "k", entry{Name: "a", Count: 2}, time.Minute))

	var got entry
	require.True(t, c.GetJSON(ctx, "k", &got))
	assert.Equal(t, entry{Name: "a", Count: 2}, got)
}

func TestCacheGetJSONDropsBrokenEntry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("k", "not-json{"))

	var got map[string]any
	assert.False(t, c.GetJSON(ctx, "k", &got))
	// The broken entry must be gone so the next write starts clean.
	assert.False(t, c.Exists(ctx, "k"))
}

func TestCacheIncrement(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// TTL is set on first increment and the window expires as a whole.
	mr.FastForward(2 * time.Minute)
	n, err = c.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCacheTTL(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.TTL(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	d, ok := c.TTL(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, time.Minute, d)
}

func TestCacheDeleteByPrefix(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "pfx:a", "1", 0))
	require.NoError(t, c.Set(ctx, "pfx:b", "2", 0))
	require.NoError(t, c.Set(ctx, "other", "3", 0))

	require.NoError(t, c.DeleteByPrefix(ctx, "pfx:"))

	assert.False(t, c.Exists(ctx, "pfx:a"))
	assert.False(t, c.Exists(ctx, "pfx:b"))
	assert.True(t, c.Exists(ctx, "other"))
}
