package cache

import "github.com/google/uuid"

// Key builders for every namespace the server stores in Redis. Centralizing
// the formats here keeps invalidation and issuance from drifting apart.

// RBACPrefix is the namespace shared by all memoized permission and role
// sets. Seeding invalidates the whole prefix when the catalogue changes,
// since rewritten permission rows can affect every user at once.
const RBACPrefix = "cache:rbac:"

// PermissionsKey holds a user's flattened permission set (JSON array).
func PermissionsKey(userID uuid.UUID) string {
	return RBACPrefix + "permissions:" + userID.String()
}

// RolesKey holds a user's role list (JSON array).
func RolesKey(userID uuid.UUID) string {
	return RBACPrefix + "roles:" + userID.String()
}

// RefreshTokenKey holds the single currently-valid refresh token for a user.
// Issuing a new refresh token overwrites it, revoking the previous one.
func RefreshTokenKey(userID uuid.UUID) string {
	return "cache:user:" + userID.String() + ":refresh_token"
}

// RateLimitKey is the attempt counter for (action, identifier) within the
// current window.
func RateLimitKey(action, identifier string) string {
	return "rate_limit:" + action + ":" + identifier
}

// RateLimitBlockKey marks (action, identifier) as blocked after the limit
// was exceeded.
func RateLimitBlockKey(action, identifier string) string {
	return "rate_limit_block:" + action + ":" + identifier
}

// PasswordResetKey maps an outstanding reset token to the user it belongs to.
func PasswordResetKey(token string) string {
	return "pwreset:" + token
}

// PasswordResetUserKey maps a user to their outstanding reset token, so a new
// request can supersede the previous token.
func PasswordResetUserKey(userID uuid.UUID) string {
	return "pwreset-user:" + userID.String()
}

// OIDCStateKey holds the nonce for an in-flight OIDC login, keyed by the
// opaque state parameter.
func OIDCStateKey(state string) string {
	return "oidc:state:" + state
}
