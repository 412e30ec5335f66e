package api

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/db"
)

// HealthHandler reports liveness of the server and its backing stores.
type HealthHandler struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(database *gorm.DB, c *cache.Cache, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     database,
		cache:  c,
		logger: logger.Named("health_handler"),
	}
}

// Check handles GET /healthz. Both the database and the cache must answer a
// ping; a failure of either returns 503.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{"database": "ok", "cache": "ok"}

	if err := db.Ping(r.Context(), h.db); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unreachable"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		h.logger.Warn("cache health check failed", zap.Error(err))
		checks["cache"] = "unreachable"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, envelope{"status": status, "checks": checks})
}
