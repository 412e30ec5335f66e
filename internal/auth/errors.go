package auth

import "errors"

// Sentinel errors returned by the auth service and token manager.
// Callers should use errors.Is for comparison; the API layer maps these to
// HTTP statuses and user-facing messages.
var (
	// ErrInvalidCredentials is returned when email/password do not match.
	// Unknown email and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUserInactive is returned when the account exists but is disabled.
	ErrUserInactive = errors.New("auth: user account is inactive")

	// ErrSSOOnly is returned on password login for an account that has no
	// local password and must authenticate through its identity provider.
	ErrSSOOnly = errors.New("auth: account uses SSO login")

	// ErrEmailExists is returned when registering with an email that is
	// already taken.
	ErrEmailExists = errors.New("auth: email already registered")

	// ErrUsernameExists is returned when registering with a username that is
	// already taken.
	ErrUsernameExists = errors.New("auth: username already taken")

	// ErrTokenExpired is returned when a JWT has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified,
	// or carries the wrong type claim.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrRefreshTokenRevoked is returned when a structurally valid refresh
	// token no longer matches the stored binding, typically because it was
	// rotated out or revoked by a logout or password change.
	ErrRefreshTokenRevoked = errors.New("auth: refresh token has been revoked")

	// ErrResetTokenInvalid is returned when a password-reset token is
	// unknown, expired, superseded, or already used.
	ErrResetTokenInvalid = errors.New("auth: password reset token invalid")

	// ErrOIDCStateMismatch is returned when the callback state parameter does
	// not match any in-flight login (CSRF protection, or the 5 minute window
	// elapsed).
	ErrOIDCStateMismatch = errors.New("auth: oidc state mismatch")

	// ErrOIDCEmailConflict is returned when the provider asserts an email
	// that belongs to an account already linked to a different identity.
	ErrOIDCEmailConflict = errors.New("auth: email belongs to a different identity")
)
