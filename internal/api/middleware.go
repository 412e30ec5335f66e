package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/audit"
	"github.com/docvault-io/docvault/internal/auth"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
)

// contextKey is an unexported type for context keys defined in this package.
// Using a custom type prevents collisions with keys defined in other packages.
type contextKey int

const (
	// contextKeyUser is the context key under which the authenticated
	// *db.User is stored after successful token validation.
	contextKeyUser contextKey = iota
)

// Authenticate validates the access token (from the access_token cookie if
// present, else from the Authorization Bearer header), loads the user, and
// stores it in the request context. A missing or invalid credential yields
// 401; a valid credential for a deactivated account yields 403.
func Authenticate(tokens *auth.TokenManager, store *repository.Store, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				ErrUnauthorized(w)
				return
			}

			userID, err := tokens.ValidateAccess(token)
			if err != nil {
				ErrUnauthorized(w)
				return
			}

			user, err := store.Users.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					ErrUnauthorized(w)
					return
				}
				log.Error("failed to load authenticated user", zap.Error(err))
				ErrInternal(w)
				return
			}
			if !user.IsActive {
				ErrForbidden(w, "Account is deactivated")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthenticate is the non-failing variant of Authenticate: it
// attaches the user to the context when a valid access token for an active
// account is presented, and otherwise lets the request through anonymously.
// Handlers behind it must treat a nil userFromCtx as "not logged in".
func OptionalAuthenticate(tokens *auth.TokenManager, store *repository.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := tokens.ValidateAccess(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			user, err := store.Users.GetByID(r.Context(), userID)
			if err != nil || !user.IsActive {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest extracts the access token. Cookie wins over header so
// browser sessions keep working when a stale Authorization header is sent.
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RequirePermission allows the request through only when the authenticated
// user holds (resource, action) at the required scope or broader. Must run
// after Authenticate. The 403 detail names the missing permission, matching
// what the evaluator checked.
func RequirePermission(evaluator *rbac.Service, resource, action string, scope rbac.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromCtx(r.Context())
			if user == nil {
				// Should never happen if Authenticate runs first.
				ErrUnauthorized(w)
				return
			}

			ok, err := evaluator.HasPermission(r.Context(), user.ID, resource, action, scope)
			if err != nil {
				ErrInternal(w)
				return
			}
			if !ok {
				ErrForbidden(w, "Permission denied: "+resource+":"+action+":"+string(scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger returns a chi-compatible middleware that logs each request
// with method, path, status and byte count. Chi's middleware.RequestID is
// expected to run first so the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// userFromCtx retrieves the user stored by the Authenticate middleware.
// Returns nil if the request is unauthenticated.
func userFromCtx(ctx context.Context) *db.User {
	user, _ := ctx.Value(contextKeyUser).(*db.User)
	return user
}

// clientIP returns the originating client address: the first entry of
// X-Forwarded-For when present, else the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestOrigin captures the attribution recorded alongside audited changes.
func requestOrigin(r *http.Request) audit.Origin {
	return audit.Origin{IP: clientIP(r), UserAgent: r.UserAgent()}
}
