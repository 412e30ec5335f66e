package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
)

// UserHandler groups the user directory and role-assignment endpoints. All
// routes are permission-guarded in the router: users:read:all for reads,
// users:update:all for role changes.
type UserHandler struct {
	store  *repository.Store
	rbac   *rbac.Service
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *repository.Store, rbacSvc *rbac.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		store:  store,
		rbac:   rbacSvc,
		logger: logger.Named("user_handler"),
	}
}

// roleBrief is the compact role representation embedded in user payloads.
type roleBrief struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `json:"is_system"`
}

func rolesToBrief(roles []db.Role) []roleBrief {
	out := make([]roleBrief, len(roles))
	for i, r := range roles {
		out[i] = roleBrief{
			ID:          r.ID.String(),
			Name:        r.Name,
			Description: r.Description,
			IsSystem:    r.IsSystem,
		}
	}
	return out
}

// userListItem is one row of the user directory.
type userListItem struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Username   string      `json:"username"`
	FullName   string      `json:"full_name"`
	IsActive   bool        `json:"is_active"`
	IsVerified bool        `json:"is_verified"`
	CreatedAt  string      `json:"created_at"`
	Roles      []roleBrief `json:"roles"`
}

// List handles GET /api/v1/users. Supports search over email/username plus
// page/page_size pagination.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, page, pageSize := paginationOpts(r)

	users, total, err := h.store.Users.List(r.Context(), repository.UserListOptions{
		ListOptions: opts,
		Search:      r.URL.Query().Get("search"),
	})
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]userListItem, len(users))
	for i := range users {
		roles, err := h.store.Users.GetRoles(r.Context(), users[i].ID)
		if err != nil {
			h.logger.Error("failed to load user roles", zap.Error(err))
			ErrInternal(w)
			return
		}
		items[i] = userListItem{
			ID:         users[i].ID.String(),
			Email:      users[i].Email,
			Username:   users[i].Username,
			FullName:   users[i].FullName,
			IsActive:   users[i].IsActive,
			IsVerified: users[i].IsVerified,
			CreatedAt:  users[i].CreatedAt.UTC().Format(time.RFC3339),
			Roles:      rolesToBrief(roles),
		}
	}

	Ok(w, newListResponse(items, total, page, pageSize))
}

// userRolesResponse is returned by the role-assignment endpoints.
type userRolesResponse struct {
	UserID string      `json:"user_id"`
	Roles  []roleBrief `json:"roles"`
}

func (h *UserHandler) respondUserRoles(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	roles, err := h.store.Users.GetRoles(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load user roles", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, userRolesResponse{UserID: userID.String(), Roles: rolesToBrief(roles)})
}

// GetRoles handles GET /api/v1/users/{id}/roles.
func (h *UserHandler) GetRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.store.Users.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get user", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.respondUserRoles(w, r, id)
}

type assignRoleRequest struct {
	RoleID uuid.UUID `json:"role_id"`
}

// AssignRole handles POST /api/v1/users/{id}/roles.
func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleID == uuid.Nil {
		ErrUnprocessable(w, "role_id is required")
		return
	}

	if _, err := h.store.Users.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get user", zap.Error(err))
		ErrInternal(w)
		return
	}

	role, err := h.store.Roles.GetByID(r.Context(), req.RoleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get role", zap.Error(err))
		ErrInternal(w)
		return
	}

	// Granting twice is refused rather than silently absorbed, so admin
	// tooling notices the stale view it acted on.
	held, err := h.store.Users.GetRoles(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load user roles", zap.Error(err))
		ErrInternal(w)
		return
	}
	for _, existing := range held {
		if existing.ID == role.ID {
			ErrBadRequest(w, "User already has the '"+role.Name+"' role")
			return
		}
	}

	actor := userFromCtx(r.Context())
	if err := h.rbac.AssignRole(r.Context(), &actor.ID, id, role.ID, requestOrigin(r)); err != nil {
		h.logger.Error("failed to assign role", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.respondUserRoles(w, r, id)
}

// RemoveRole handles DELETE /api/v1/users/{id}/roles/{roleID}.
func (h *UserHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := parseUUID(w, r, "roleID")
	if !ok {
		return
	}

	actor := userFromCtx(r.Context())
	if err := h.rbac.RemoveRole(r.Context(), &actor.ID, id, roleID, requestOrigin(r)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to remove role", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.respondUserRoles(w, r, id)
}

type bulkAssignRequest struct {
	RoleID  uuid.UUID   `json:"role_id"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

// BulkAssignRole handles POST /api/v1/users/bulk/roles. Users that do not
// exist are skipped; the response reports how many assignments were made.
func (h *UserHandler) BulkAssignRole(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleID == uuid.Nil || len(req.UserIDs) == 0 {
		ErrUnprocessable(w, "role_id and user_ids are required")
		return
	}

	role, err := h.store.Roles.GetByID(r.Context(), req.RoleID)
	if err != nil {
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

	assigned := 0
	for _, userID := range req.UserIDs {
		if _, err := h.store.Users.GetByID(r.Context(), userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			h.logger.Error("failed to get user for bulk assignment", zap.Error(err))
			ErrInternal(w)
			return
		}
		if err := h.rbac.AssignRole(r.Context(), &actor.ID, userID, role.ID, origin); err != nil {
			h.logger.Error("failed to assign role in bulk",
				zap.String("user_id", userID.String()), zap.Error(err))
			ErrInternal(w)
			return
		}
		assigned++
	}

	Message(w, "Role assigned to "+strconv.Itoa(assigned)+" users")
}
