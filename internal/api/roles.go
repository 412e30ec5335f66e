package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
)

// RoleHandler groups the role management endpoints. Routes are guarded with
// roles:{create,read,update,delete}:all in the router.
type RoleHandler struct {
	store  *repository.Store
	rbac   *rbac.Service
	logger *zap.Logger
}

// NewRoleHandler creates a new RoleHandler.
func NewRoleHandler(store *repository.Store, rbacSvc *rbac.Service, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{
		store:  store,
		rbac:   rbacSvc,
		logger: logger.Named("role_handler"),
	}
}

// permissionResponse is the JSON representation of a permission.
type permissionResponse struct {
	ID          string `json:"id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Scope       string `json:"scope"`
	Description string `json:"description"`
}

func permissionToResponse(p *db.Permission) permissionResponse {
	return permissionResponse{
		ID:          p.ID.String(),
		Resource:    p.Resource,
		Action:      p.Action,
		Scope:       p.Scope,
		Description: p.Description,
	}
}

// roleResponse is the JSON representation of a role with its grants.
type roleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system"`
	CreatedAt   string               `json:"created_at"`
	Permissions []permissionResponse `json:"permissions"`
}

func roleToResponse(role *db.Role) roleResponse {
	perms := make([]permissionResponse, len(role.Permissions))
	for i := range role.Permissions {
		perms[i] = permissionToResponse(&role.Permissions[i])
	}
	return roleResponse{
		ID:          role.ID.String(),
		Name:        role.Name,
		Description: role.Description,
		IsSystem:    role.IsSystem,
		CreatedAt:   role.CreatedAt.UTC().Format(time.RFC3339),
		Permissions: perms,
	}
}

// List handles GET /api/v1/roles. The role catalogue is small; no
// pagination.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.Roles.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list roles", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]roleResponse, len(roles))
	for i := range roles {
		items[i] = roleToResponse(&roles[i])
	}
	Ok(w, envelope{"items": items, "total": len(items)})
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create handles POST /api/v1/roles.
func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		ErrUnprocessable(w, "name is required")
		return
	}

	actor := userFromCtx(r.Context())
	role, err := h.rbac.CreateRole(r.Context(), &actor.ID, req.Name, req.Description, requestOrigin(r))
	if err != nil {
		if errors.Is(err, rbac.ErrRoleExists) {
			ErrBadRequest(w, "Role with this name already exists")
			return
		}
		h.logger.Error("failed to create role", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, roleToResponse(role))
}

// Get handles GET /api/v1/roles/{id}. The response includes the role's
// permission list.
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.Roles.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get role", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, roleToResponse(role))
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Update handles PUT /api/v1/roles/{id}.
func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	actor := userFromCtx(r.Context())
	role, err := h.rbac.UpdateRole(r.Context(), &actor.ID, id, req.Name, req.Description, requestOrigin(r))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			ErrNotFound(w)
		case errors.Is(err, rbac.ErrRoleExists):
			ErrBadRequest(w, "Role with this name already exists")
		default:
			h.logger.Error("failed to update role", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	// Reload to include the permission list.
	role, err = h.store.Roles.GetByID(r.Context(), role.ID)
	if err != nil {
		h.logger.Error("failed to reload role", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, roleToResponse(role))
}

// Delete handles DELETE /api/v1/roles/{id}.
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	actor := userFromCtx(r.Context())
	if err := h.rbac.DeleteRole(r.Context(), &actor.ID, id, requestOrigin(r)); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			ErrNotFound(w)
		case errors.Is(err, rbac.ErrSystemRole):
			ErrBadRequest(w, "Cannot delete system roles")
		default:
			h.logger.Error("failed to delete role", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	Message(w, "Role deleted successfully")
}

type assignPermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

// AssignPermissions handles POST /api/v1/roles/{id}/permissions. Attaches
// every listed permission; a permission already held is a no-op.
func (h *RoleHandler) AssignPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req assignPermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.PermissionIDs) == 0 {
		ErrUnprocessable(w, "permission_ids is required")
		return
	}

	if _, err := h.store.Roles.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get role", zap.Error(err))
		ErrInternal(w)
		return
	}

	actor := userFromCtx(r.Context())
	origin := requestOrigin(r)
	for _, permID := range req.PermissionIDs {
		if err := h.rbac.AssignPermission(r.Context(), &actor.ID, id, permID, origin); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				ErrNotFound(w)
				return
			}
			h.logger.Error("failed to assign permission", zap.Error(err))
			ErrInternal(w)
			return
		}
	}

	role, err := h.store.Roles.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload role", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, roleToResponse(role))
}

// RemovePermission handles DELETE /api/v1/roles/{id}/permissions/{permID}.
func (h *RoleHandler) RemovePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	permID, ok := parseUUID(w, r, "permID")
	if !ok {
		return
	}

	actor := userFromCtx(r.Context())
	if err := h.rbac.RemovePermission(r.Context(), &actor.ID, id, permID, requestOrigin(r)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to remove permission", zap.Error(err))
		ErrInternal(w)
		return
	}

	role, err := h.store.Roles.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload role", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, roleToResponse(role))
}
