package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/repository"
)

// PermissionHandler serves the read-only permission catalogue. Guarded with
// permissions:read:all in the router.
type PermissionHandler struct {
	store  *repository.Store
	logger *zap.Logger
}

// NewPermissionHandler creates a new PermissionHandler.
func NewPermissionHandler(store *repository.Store, logger *zap.Logger) *PermissionHandler {
	return &PermissionHandler{
		store:  store,
		logger: logger.Named("permission_handler"),
	}
}

// List handles GET /api/v1/permissions.
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.Permissions.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list permissions", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]permissionResponse, len(perms))
	for i := range perms {
		items[i] = permissionToResponse(&perms[i])
	}
	Ok(w, envelope{"items": items, "total": len(items)})
}
