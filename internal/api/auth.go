package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/auth"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/ratelimit"
)

// AuthHandler groups the credential and session endpoints, including the
// OIDC flow. It depends on auth.Service as the single entry point for all
// auth operations.
type AuthHandler struct {
	svc         *auth.Service
	oidc        *auth.OIDCClient // nil when OIDC is not configured
	limiter     *ratelimit.Limiter
	cookies     CookieSettings
	frontendURL string
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. oidc may be nil; the OIDC
// endpoints then answer 501.
func NewAuthHandler(svc *auth.Service, oidc *auth.OIDCClient, limiter *ratelimit.Limiter, cookies CookieSettings, frontendURL string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:         svc,
		oidc:        oidc,
		limiter:     limiter,
		cookies:     cookies,
		frontendURL: frontendURL,
		logger:      logger.Named("auth_handler"),
	}
}

// tokenResponse is returned by login and refresh. The tokens are also set as
// HttpOnly cookies; the body copy serves non-browser clients.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (h *AuthHandler) newTokenResponse(access, refresh string) tokenResponse {
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(h.cookies.AccessTTL.Seconds()),
	}
}

// userResponse is the JSON representation of a user account. The password
// hash and the OIDC subject are never exposed.
type userResponse struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Username     string  `json:"username"`
	FullName     string  `json:"full_name"`
	AuthProvider string  `json:"auth_provider"`
	IsActive     bool    `json:"is_active"`
	IsVerified   bool    `json:"is_verified"`
	LastLoginAt  *string `json:"last_login_at"`
	CreatedAt    string  `json:"created_at"`
}

func userToResponse(u *db.User) userResponse {
	resp := userResponse{
		ID:           u.ID.String(),
		Email:        u.Email,
		Username:     u.Username,
		FullName:     u.FullName,
		AuthProvider: u.AuthProvider,
		IsActive:     u.IsActive,
		IsVerified:   u.IsVerified,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if u.LastLoginAt != nil {
		s := u.LastLoginAt.UTC().Format(time.RFC3339)
		resp.LastLoginAt = &s
	}
	return resp
}

// allow applies the rate-limit profile for the request's client IP. Returns
// false after writing the 429 when the caller is throttled.
func (h *AuthHandler) allow(w http.ResponseWriter, r *http.Request, p ratelimit.Profile) bool {
	d := h.limiter.Allow(r.Context(), p, clientIP(r))
	if !d.Allowed {
		ErrTooManyRequests(w, int(d.RetryAfter.Seconds()))
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Registration and login
// -----------------------------------------------------------------------------

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Register handles POST /api/v1/auth/register. Rate-limited per client IP.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, ratelimit.Register) {
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		ErrUnprocessable(w, "email is required")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 100 {
		ErrUnprocessable(w, "username must be between 3 and 100 characters")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		ErrUnprocessable(w, "password must be between 8 and 128 characters")
		return
	}

	user, err := h.svc.Register(r.Context(), req.Email, req.Username, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			ErrBadRequest(w, "Email already registered")
		case errors.Is(err, auth.ErrUsernameExists):
			ErrBadRequest(w, "Username already taken")
		default:
			h.logger.Error("registration failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	Created(w, userToResponse(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login. Rate-limited per client IP; a
// successful login clears the IP's failed-attempt counter.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, ratelimit.Login) {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		ErrUnprocessable(w, "email and password are required")
		return
	}

	_, access, refresh, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			errJSON(w, http.StatusUnauthorized, "Invalid email or password", "invalid_credentials")
		case errors.Is(err, auth.ErrUserInactive):
			ErrForbidden(w, "Account is deactivated")
		case errors.Is(err, auth.ErrSSOOnly):
			ErrBadRequest(w, "Please use SSO to login")
		default:
			h.logger.Error("login failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	h.limiter.Reset(r.Context(), ratelimit.Login, clientIP(r))
	h.cookies.setAuthCookies(w, access, refresh)
	Ok(w, h.newTokenResponse(access, refresh))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/v1/auth/refresh. The refresh token comes from
// the cookie when present, else from the request body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		token = cookie.Value
	}
	if token == "" {
		var req refreshRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		errJSON(w, http.StatusUnauthorized, "No refresh token provided", "unauthorized")
		return
	}

	access, refresh, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenRevoked):
			errJSON(w, http.StatusUnauthorized, "Refresh token has been revoked", "token_revoked")
		case errors.Is(err, auth.ErrTokenExpired):
			errJSON(w, http.StatusUnauthorized, "Refresh token has expired", "token_expired")
		case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrUserInactive):
			errJSON(w, http.StatusUnauthorized, "Invalid refresh token", "unauthorized")
		default:
			h.logger.Error("token refresh failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	h.cookies.setAuthCookies(w, access, refresh)
	Ok(w, h.newTokenResponse(access, refresh))
}

// Logout handles POST /api/v1/auth/logout. Drops the refresh binding so the
// outstanding refresh token cannot be used again, and clears both cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	if err := h.svc.Logout(r.Context(), user.ID); err != nil {
		h.logger.Warn("logout error", zap.Error(err))
	}

	h.cookies.clearAuthCookies(w)
	Message(w, "Successfully logged out")
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}
	Ok(w, userToResponse(user))
}

// -----------------------------------------------------------------------------
// Password management
// -----------------------------------------------------------------------------

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /api/v1/auth/change-password. A successful
// change revokes the refresh binding, forcing re-login everywhere.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		ErrUnauthorized(w)
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.NewPassword) < 8 || len(req.NewPassword) > 128 {
		ErrUnprocessable(w, "new password must be between 8 and 128 characters")
		return
	}

	err := h.svc.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSSOOnly):
			ErrBadRequest(w, "Cannot change password for SSO users")
		case errors.Is(err, auth.ErrInvalidCredentials):
			ErrBadRequest(w, "Current password is incorrect")
		default:
			h.logger.Error("password change failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	Message(w, "Password changed successfully")
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset handles POST /api/v1/auth/password/reset. Always
// answers success so the endpoint cannot be used to probe for accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, ratelimit.PasswordReset) {
		return
	}

	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		ErrUnprocessable(w, "email is required")
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		// Still answer success; the failure is ours, not the caller's.
		h.logger.Error("password reset request failed", zap.Error(err))
	}

	Message(w, "If the email exists, a password reset link has been sent")
}

type passwordResetConfirm struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ConfirmPasswordReset handles POST /api/v1/auth/password/reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirm
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		ErrUnprocessable(w, "token is required")
		return
	}
	if len(req.NewPassword) < 8 || len(req.NewPassword) > 128 {
		ErrUnprocessable(w, "new password must be between 8 and 128 characters")
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrResetTokenInvalid) {
			ErrBadRequest(w, "Invalid or expired reset token")
			return
		}
		h.logger.Error("password reset failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	Message(w, "Password has been reset successfully")
}

// -----------------------------------------------------------------------------
// OIDC flow
// -----------------------------------------------------------------------------

// OIDCAuthorize handles GET /api/v1/oidc/authorize. Redirects the browser
// to the identity provider; the state parameter is bound in the cache for
// the callback to verify.
func (h *AuthHandler) OIDCAuthorize(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		ErrNotImplemented(w, "OIDC is not enabled")
		return
	}

	authURL, err := h.oidc.AuthURL(r.Context())
	if err != nil {
		h.logger.Error("failed to build OIDC authorization URL", zap.Error(err))
		ErrBadRequest(w, "OIDC provider unavailable")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// OIDCCallback handles GET /api/v1/oidc/callback. Verifies state and the
// ID token, resolves or provisions the account, sets the auth cookies and
// sends the browser back to the frontend.
func (h *AuthHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		ErrNotImplemented(w, "OIDC is not enabled")
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		ErrBadRequest(w, "missing code or state parameter")
		return
	}

	identity, err := h.oidc.HandleCallback(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrOIDCStateMismatch) {
			ErrBadRequest(w, "Invalid or expired OIDC state")
			return
		}
		h.logger.Error("OIDC callback failed", zap.Error(err))
		ErrBadRequest(w, "OIDC authentication failed")
		return
	}

	_, access, refresh, err := h.svc.LoginOIDC(r.Context(), identity)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserInactive):
			ErrForbidden(w, "Account is deactivated")
		case errors.Is(err, auth.ErrOIDCEmailConflict):
			ErrBadRequest(w, "Email already linked to a different identity provider")
		default:
			h.logger.Error("OIDC login failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	h.cookies.setAuthCookies(w, access, refresh)
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}
