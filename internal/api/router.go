package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/auth"
	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/metrics"
	"github.com/docvault-io/docvault/internal/ratelimit"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
	"github.com/docvault-io/docvault/internal/search"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	Store   *repository.Store
	DB      *gorm.DB
	Cache   *cache.Cache
	Auth    *auth.Service
	OIDC    *auth.OIDCClient // nil when OIDC is not configured
	RBAC    *rbac.Service
	Search  *search.Engine // nil when the database has no FTS support
	Limiter *ratelimit.Limiter
	Logger  *zap.Logger

	// Cookies controls the Domain/Secure/SameSite attributes and lifetimes
	// of the auth cookies.
	Cookies CookieSettings

	// CORSOrigins is the allow-list for browser clients. Empty disables CORS.
	CORSOrigins []string

	// FrontendURL is where the OIDC callback redirects after login.
	FrontendURL string
}

// NewRouter builds and returns the fully configured Chi router.
// Resources live under /api/v1; /healthz and /metrics are served at the root.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	// Request metrics by route pattern.
	r.Use(metrics.Middleware)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.Auth, cfg.OIDC, cfg.Limiter, cfg.Cookies, cfg.FrontendURL, cfg.Logger)
	roleHandler := NewRoleHandler(cfg.Store, cfg.RBAC, cfg.Logger)
	permissionHandler := NewPermissionHandler(cfg.Store, cfg.Logger)
	userHandler := NewUserHandler(cfg.Store, cfg.RBAC, cfg.Logger)
	documentHandler := NewDocumentHandler(cfg.Store, cfg.RBAC, cfg.Logger)
	searchHandler := NewSearchHandler(cfg.Search, cfg.RBAC, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.DB, cfg.Cache, cfg.Logger)

	r.Get("/healthz", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Post("/auth/password/reset", authHandler.RequestPasswordReset)
			r.Post("/auth/password/reset/confirm", authHandler.ConfirmPasswordReset)

			// OIDC flow is public: the user is not authenticated yet.
			r.Get("/oidc/authorize", authHandler.OIDCAuthorize)
			r.Get("/oidc/callback", authHandler.OIDCCallback)
		})

		// --- Authenticated routes (valid JWT required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Auth.TokenManager(), cfg.Store, cfg.Logger))

			// Session
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/change-password", authHandler.ChangePassword)

			// Role management
			r.With(RequirePermission(cfg.RBAC, "roles", "read", rbac.ScopeAll)).
				Get("/roles", roleHandler.List)
			r.With(RequirePermission(cfg.RBAC, "roles", "create", rbac.ScopeAll)).
				Post("/roles", roleHandler.Create)
			r.With(RequirePermission(cfg.RBAC, "roles", "read", rbac.ScopeAll)).
				Get("/roles/{id}", roleHandler.Get)
			r.With(RequirePermission(cfg.RBAC, "roles", "update", rbac.ScopeAll)).
				Put("/roles/{id}", roleHandler.Update)
			r.With(RequirePermission(cfg.RBAC, "roles", "delete", rbac.ScopeAll)).
				Delete("/roles/{id}", roleHandler.Delete)
			r.With(RequirePermission(cfg.RBAC, "roles", "update", rbac.ScopeAll)).
				Post("/roles/{id}/permissions", roleHandler.AssignPermissions)
			r.With(RequirePermission(cfg.RBAC, "roles", "update", rbac.ScopeAll)).
				Delete("/roles/{id}/permissions/{permID}", roleHandler.RemovePermission)

			// Permission catalogue
			r.With(RequirePermission(cfg.RBAC, "permissions", "read", rbac.ScopeAll)).
				Get("/permissions", permissionHandler.List)

			// User directory and role assignment
			r.With(RequirePermission(cfg.RBAC, "users", "read", rbac.ScopeAll)).
				Get("/users", userHandler.List)
			r.With(RequirePermission(cfg.RBAC, "users", "read", rbac.ScopeAll)).
				Get("/users/{id}/roles", userHandler.GetRoles)
			r.With(RequirePermission(cfg.RBAC, "users", "update", rbac.ScopeAll)).
				Post("/users/{id}/roles", userHandler.AssignRole)
			r.With(RequirePermission(cfg.RBAC, "users", "update", rbac.ScopeAll)).
				Delete("/users/{id}/roles/{roleID}", userHandler.RemoveRole)
			r.With(RequirePermission(cfg.RBAC, "users", "update", rbac.ScopeAll)).
				Post("/users/bulk/roles", userHandler.BulkAssignRole)

			// Documents. List and per-object access scope themselves inside
			// the handler; create only needs the own-scope grant.
			r.Get("/documents", documentHandler.List)
			r.With(RequirePermission(cfg.RBAC, "documents", "create", rbac.ScopeOwn)).
				Post("/documents", documentHandler.Create)
			r.Get("/documents/{id}", documentHandler.Get)
			r.Put("/documents/{id}", documentHandler.Update)
			r.Delete("/documents/{id}", documentHandler.Delete)

			// Search
			r.With(RequirePermission(cfg.RBAC, "documents", "read", rbac.ScopeOwn)).
				Post("/search", searchHandler.Search)
			r.With(RequirePermission(cfg.RBAC, "documents", "read", rbac.ScopeOwn)).
				Get("/search/suggestions", searchHandler.Suggestions)
		})
	})

	return r
}
