package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/cache"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(cache.NewWithClient(client, zap.NewNop()), zap.NewNop()), mr
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Allow(ctx, Login, "1.2.3.4")
		assert.True(t, d.Allowed, "attempt %d", i+1)
	}

	// The sixth attempt within the window is rejected and starts the block.
	d := l.Allow(ctx, Login, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 5*time.Minute, d.RetryAfter)
}

func TestLimiterBlockOutlastsWindow(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Allow(ctx, Login, "1.2.3.4")
	}

	// The counting window has rolled over but the block remains.
	mr.FastForward(2 * time.Minute)
	d := l.Allow(ctx, Login, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.LessOrEqual(t, d.RetryAfter, 5*time.Minute)

	// After the block elapses attempts count from zero again.
	mr.FastForward(5 * time.Minute)
	d = l.Allow(ctx, Login, "1.2.3.4")
	assert.True(t, d.Allowed)
}

func TestLimiterIsolatesIdentifiers(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Allow(ctx, Login, "1.2.3.4")
	}

	// A different client and a different action are unaffected.
	assert.True(t, l.Allow(ctx, Login, "5.6.7.8").Allowed)
	assert.True(t, l.Allow(ctx, PasswordReset, "1.2.3.4").Allowed)
}

func TestLimiterWindowExpiry(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow(ctx, Login, "1.2.3.4").Allowed)
	}

	// If the window expires before the limit is breached, no block is set.
	mr.FastForward(2 * time.Minute)
	assert.True(t, l.Allow(ctx, Login, "1.2.3.4").Allowed)
}

func TestLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.Allow(ctx, Login, "1.2.3.4")
	}
	require.False(t, l.Allow(ctx, Login, "1.2.3.4").Allowed)

	l.Reset(ctx, Login, "1.2.3.4")
	assert.True(t, l.Allow(ctx, Login, "1.2.3.4").Allowed)
}
