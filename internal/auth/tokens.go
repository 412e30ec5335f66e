package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/docvault-io/docvault/internal/cache"
)

// Token type claim values.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims holds the JWT claims for both access and refresh tokens.
// Standard claims (sub, iat, exp) come via jwt.RegisteredClaims; Type
// distinguishes the two token kinds so one can never stand in for the other.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

// TokenManager signs and verifies HS256 access/refresh tokens and keeps the
// per-user refresh-token binding in the cache. A user has at most one valid
// refresh token at a time: issuing a new one overwrites the binding, which
// revokes the previous token on its next use.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	cache      *cache.Cache
}

// NewTokenManager returns a TokenManager using the given HS256 signing secret.
func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration, c *cache.Cache) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		cache:      c,
	}
}

// IssuePair generates a new access/refresh token pair for the user and binds
// the refresh token in the cache, revoking any previously issued one.
func (m *TokenManager) IssuePair(ctx context.Context, userID uuid.UUID) (access, refresh string, err error) {
	access, err = m.sign(userID, tokenTypeAccess, m.accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.sign(userID, tokenTypeRefresh, m.refreshTTL)
	if err != nil {
		return "", "", err
	}

	// The binding shares the token's own expiry, so a stale binding cannot
	// outlive the token it validates.
	if err := m.cache.Set(ctx, cache.RefreshTokenKey(userID), refresh, m.refreshTTL); err != nil {
		return "", "", fmt.Errorf("auth: binding refresh token: %w", err)
	}
	return access, refresh, nil
}

// ValidateAccess verifies an access token and returns the user ID.
func (m *TokenManager) ValidateAccess(tokenString string) (uuid.UUID, error) {
	return m.validate(tokenString, tokenTypeAccess)
}

// Rotate validates a refresh token against the stored binding and, on
// success, issues a fresh pair. The old refresh token is implicitly revoked
// because the binding now holds the new one.
func (m *TokenManager) Rotate(ctx context.Context, refreshToken string) (uuid.UUID, string, string, error) {
	userID, err := m.validate(refreshToken, tokenTypeRefresh)
	if err != nil {
		return uuid.Nil, "", "", err
	}

	bound, ok := m.cache.Get(ctx, cache.RefreshTokenKey(userID))
	if !ok || bound != refreshToken {
		return uuid.Nil, "", "", ErrRefreshTokenRevoked
	}

	access, refresh, err := m.IssuePair(ctx, userID)
	if err != nil {
		return uuid.Nil, "", "", err
	}
	return userID, access, refresh, nil
}

// Revoke drops the user's refresh-token binding. Outstanding access tokens
// stay valid until they expire; the session cannot be extended afterwards.
func (m *TokenManager) Revoke(ctx context.Context, userID uuid.UUID) error {
	if err := m.cache.Delete(ctx, cache.RefreshTokenKey(userID)); err != nil {
		return fmt.Errorf("auth: revoking refresh token: %w", err)
	}
	return nil
}

func (m *TokenManager) sign(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: tokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (m *TokenManager) validate(tokenString, wantType string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			// Reject tokens signed with anything other than HMAC.
			// This prevents the "alg:none" and key confusion attacks.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrTokenExpired
		}
		return uuid.Nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != wantType {
		return uuid.Nil, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}
	return userID, nil
}
