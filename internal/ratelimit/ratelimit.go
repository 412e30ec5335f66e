// Package ratelimit throttles credential endpoints with fixed windows in
// Redis. Each (action, identifier) pair gets an attempt counter scoped to a
// window; exceeding the limit sets a separate block marker that keeps the
// pair locked out after the counting window has rolled over.
//
// The limiter fails open: if Redis is unreachable the request proceeds.
// Losing throttling temporarily is preferable to locking every user out of
// login whenever the cache restarts.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/cache"
)

// Profile describes the limit applied to one protected action.
type Profile struct {
	Action string
	Max    int64         // attempts allowed per window
	Window time.Duration // counting window
	Block  time.Duration // lockout after exceeding Max
}

// Profiles for the three protected endpoints.
var (
	Login = Profile{Action: "login", Max: 5, Window: time.Minute, Block: 5 * time.Minute}

	Register = Profile{Action: "register", Max: 3, Window: time.Minute, Block: 10 * time.Minute}

	PasswordReset = Profile{Action: "password_reset", Max: 3, Window: time.Minute, Block: 10 * time.Minute}
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // how long the caller should wait; zero when allowed
}

// Limiter implements the fixed-window counters.
type Limiter struct {
	cache *cache.Cache
	log   *zap.Logger
}

// New returns a Limiter backed by the given cache.
func New(c *cache.Cache, log *zap.Logger) *Limiter {
	return &Limiter{cache: c, log: log}
}

// Allow records an attempt for (profile, identifier) and decides whether it
// may proceed. The attempt that pushes the counter past the limit is denied
// and starts the block period; the counter is dropped with it so a fresh
// window begins once the block expires.
func (l *Limiter) Allow(ctx context.Context, p Profile, identifier string) Decision {
	blockKey := cache.RateLimitBlockKey(p.Action, identifier)
	if l.cache.Exists(ctx, blockKey) {
		retry := p.Block
		if ttl, ok := l.cache.TTL(ctx, blockKey); ok {
			retry = ttl
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	countKey := cache.RateLimitKey(p.Action, identifier)
	count, err := l.cache.Increment(ctx, countKey, p.Window)
	if err != nil {
		// Fail open.
		l.log.Warn("rate limiter unavailable, allowing request",
			zap.String("action", p.Action), zap.Error(err))
		return Decision{Allowed: true}
	}

	if count > p.Max {
		if err := l.cache.Set(ctx, blockKey, "1", p.Block); err != nil {
			l.log.Warn("rate limiter could not set block marker", zap.Error(err))
		}
		if err := l.cache.Delete(ctx, countKey); err != nil {
			l.log.Warn("rate limiter could not drop counter", zap.Error(err))
		}
		return Decision{Allowed: false, RetryAfter: p.Block}
	}
	return Decision{Allowed: true}
}

// Reset clears the counter and block for (profile, identifier). Called after
// a successful login so earlier failed attempts stop counting against the
// user.
func (l *Limiter) Reset(ctx context.Context, p Profile, identifier string) {
	err := l.cache.Delete(ctx,
		cache.RateLimitKey(p.Action, identifier),
		cache.RateLimitBlockKey(p.Action, identifier),
	)
	if err != nil {
		l.log.Warn("rate limiter reset failed",
			zap.String("action", p.Action), zap.Error(err))
	}
}
