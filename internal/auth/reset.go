package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docvault-io/docvault/internal/cache"
)

// resetTokenTTL bounds how long a password-reset link stays usable.
const resetTokenTTL = 30 * time.Minute

// ResetManager issues and consumes one-time password-reset tokens. Tokens
// live only in the cache: expiry is handled by the TTL, and requesting a new
// token supersedes the previous one so at most one link per user works.
type ResetManager struct {
	cache *cache.Cache
}

// NewResetManager returns a ResetManager backed by the given cache.
func NewResetManager(c *cache.Cache) *ResetManager {
	return &ResetManager{cache: c}
}

// CreateToken issues a reset token for the user, invalidating any
// outstanding one.
func (m *ResetManager) CreateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	// Supersede the previous token if one is outstanding.
	if old, ok := m.cache.Get(ctx, cache.PasswordResetUserKey(userID)); ok {
		if err := m.cache.Delete(ctx, cache.PasswordResetKey(old)); err != nil {
			return "", err
		}
	}

	if err := m.cache.Set(ctx, cache.PasswordResetKey(token), userID.String(), resetTokenTTL); err != nil {
		return "", err
	}
	if err := m.cache.Set(ctx, cache.PasswordResetUserKey(userID), token, resetTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeToken validates a reset token and burns it. Returns the user the
// token was issued for, or ErrResetTokenInvalid if the token is unknown,
// expired, or superseded.
func (m *ResetManager) ConsumeToken(ctx context.Context, token string) (uuid.UUID, error) {
	val, ok := m.cache.Get(ctx, cache.PasswordResetKey(token))
	if !ok {
		return uuid.Nil, ErrResetTokenInvalid
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, ErrResetTokenInvalid
	}

	if err := m.cache.Delete(ctx,
		cache.PasswordResetKey(token),
		cache.PasswordResetUserKey(userID),
	); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// randomToken returns 32 bytes of cryptographic randomness, URL-safe encoded.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
