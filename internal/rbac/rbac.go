// Package rbac implements role-based access control: the permission
// evaluator with resource/action wildcards and the own<team<all scope
// hierarchy, cache-backed permission sets, role and grant management with
// audit records, and the seed/bootstrap routines that give a fresh database
// its system roles and first administrator.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/audit"
	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/repository"
)

// permissionsCacheTTL bounds how stale a cached permission set may get if an
// invalidation is missed.
const permissionsCacheTTL = 5 * time.Minute

// Wildcard matches any resource or action in a permission. Scopes have no
// wildcard; the hierarchy is the wildcard.
const Wildcard = "*"

// Scope is a permission's reach. Higher scopes satisfy checks for lower ones.
type Scope string

const (
	ScopeOwn  Scope = "own"
	ScopeTeam Scope = "team"
	ScopeAll  Scope = "all"
)

var scopeRank = map[Scope]int{
	ScopeOwn:  0,
	ScopeTeam: 1,
	ScopeAll:  2,
}

// Sentinel errors for RBAC management operations.
var (
	// ErrInvalidScope is returned for a scope outside own/team/all.
	ErrInvalidScope = errors.New("rbac: invalid scope")

	// ErrRoleExists is returned when creating a role whose name is taken.
	ErrRoleExists = errors.New("rbac: role name already exists")

	// ErrSystemRole is returned when deleting a seeded system role.
	ErrSystemRole = errors.New("rbac: system roles cannot be deleted")
)

// ParseScope validates a scope string.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if _, ok := scopeRank[scope]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	return scope, nil
}

// CachedPermission is the cache representation of a permission. Kept
// separate from db.Permission so the cache payload is stable against model
// changes.
type CachedPermission struct {
	ID       string `json:"id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Scope    string `json:"scope"`
}

// CachedRole is the cache representation of a role membership.
type CachedRole struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `json:"is_system"`
}

// Service evaluates permissions and manages roles and grants.
type Service struct {
	store *repository.Store
	cache *cache.Cache
	log   *zap.Logger
}

// NewService wires the RBAC service.
func NewService(store *repository.Store, c *cache.Cache, log *zap.Logger) *Service {
	return &Service{store: store, cache: c, log: log}
}

// GetUserPermissions returns the user's flattened permission set, from the
// cache when warm, otherwise resolved with a single join query and cached
// for permissionsCacheTTL.
func (s *Service) GetUserPermissions(ctx context.Context, userID uuid.UUID) ([]CachedPermission, error) {
	key := cache.PermissionsKey(userID)

	var cached []CachedPermission
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	perms, err := s.store.Permissions.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]CachedPermission, 0, len(perms))
	for _, p := range perms {
		out = append(out, CachedPermission{
			ID:       p.ID.String(),
			Resource: p.Resource,
			Action:   p.Action,
			Scope:    p.Scope,
		})
	}

	if err := s.cache.SetJSON(ctx, key, out, permissionsCacheTTL); err != nil {
		s.log.Warn("failed to cache permission set", zap.Error(err))
	}
	return out, nil
}

// GetUserRoles returns the user's roles, cached like GetUserPermissions.
func (s *Service) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]CachedRole, error) {
	key := cache.RolesKey(userID)

	var cached []CachedRole
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	roles, err := s.store.Users.GetRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]CachedRole, 0, len(roles))
	for _, r := range roles {
		out = append(out, CachedRole{
			ID:          r.ID.String(),
			Name:        r.Name,
			Description: r.Description,
			IsSystem:    r.IsSystem,
		})
	}

	if err := s.cache.SetJSON(ctx, key, out, permissionsCacheTTL); err != nil {
		s.log.Warn("failed to cache role set", zap.Error(err))
	}
	return out, nil
}

// HasPermission reports whether the user holds (resource, action) at the
// required scope or broader. A permission matches if its resource and action
// equal the requested ones or are the wildcard, and its scope ranks at least
// as high as the required scope.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, resource, action string, required Scope) (bool, error) {
	perms, err := s.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}

	need := scopeRank[required]
	for _, p := range perms {
		if p.Resource != resource && p.Resource != Wildcard {
			continue
		}
		if p.Action != action && p.Action != Wildcard {
			continue
		}
		if scopeRank[Scope(p.Scope)] >= need {
			return true, nil
		}
	}
	return false, nil
}

// Check names one (resource, action, scope) requirement for the any/all
// evaluators.
type Check struct {
	Resource string
	Action   string
	Scope    Scope
}

// HasAnyPermission reports whether at least one of the checks passes.
func (s *Service) HasAnyPermission(ctx context.Context, userID uuid.UUID, checks ...Check) (bool, error) {
	for _, c := range checks {
		ok, err := s.HasPermission(ctx, userID, c.Resource, c.Action, c.Scope)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether every check passes.
func (s *Service) HasAllPermissions(ctx context.Context, userID uuid.UUID, checks ...Check) (bool, error) {
	for _, c := range checks {
		ok, err := s.HasPermission(ctx, userID, c.Resource, c.Action, c.Scope)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// HasRole reports whether the user holds the named role.
func (s *Service) HasRole(ctx context.Context, userID uuid.UUID, roleName string) (bool, error) {
	roles, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (s *Service) HasAnyRole(ctx context.Context, userID uuid.UUID, roleNames ...string) (bool, error) {
	roles, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		for _, name := range roleNames {
			if r.Name == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// IsSuperAdmin reports whether the user holds the Super Admin role.
func (s *Service) IsSuperAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.HasRole(ctx, userID, superAdminRoleName)
}

// IsAdmin reports whether the user holds an administrative role.
func (s *Service) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.HasAnyRole(ctx, userID, adminRoleName, superAdminRoleName)
}

// InvalidateUser drops the user's cached permission and role sets.
func (s *Service) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	err := s.cache.Delete(ctx,
		cache.PermissionsKey(userID),
		cache.RolesKey(userID),
	)
	if err != nil {
		// The TTL caps how long the stale set can survive.
		s.log.Warn("failed to invalidate rbac cache",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// invalidateRoleHolders drops the cached sets of every user holding the role.
func (s *Service) invalidateRoleHolders(ctx context.Context, roleID uuid.UUID) {
	users, err := s.store.Users.ListWithRole(ctx, roleID)
	if err != nil {
		s.log.Warn("failed to enumerate role holders for invalidation",
			zap.String("role_id", roleID.String()), zap.Error(err))
		return
	}
	for _, u := range users {
		s.InvalidateUser(ctx, u.ID)
	}
}

// -----------------------------------------------------------------------------
// Role management (audited)
// -----------------------------------------------------------------------------

// AssignRole grants a role to a user and records the change. Granting a role
// the user already holds is a no-op.
func (s *Service) AssignRole(ctx context.Context, actorID *uuid.UUID, userID, roleID uuid.UUID, origin audit.Origin) error {
	role, err := s.store.Roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Users.AssignRole(ctx, userID, roleID, actorID); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionRoleAssigned,
			EntityType:   "user",
			EntityID:     &userID,
			TargetUserID: &userID,
			RoleID:       &roleID,
			Details:      map[string]any{"role_id": roleID.String(), "role_name": role.Name},
			IPAddress:    origin.IP,
			UserAgent:    origin.UserAgent,
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}

	s.InvalidateUser(ctx, userID)
	return nil
}

// RemoveRole revokes a role from a user and records the change.
func (s *Service) RemoveRole(ctx context.Context, actorID *uuid.UUID, userID, roleID uuid.UUID, origin audit.Origin) error {
	role, err := s.store.Roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Users.RemoveRole(ctx, userID, roleID); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionRoleRemoved,
			EntityType:   "user",
			EntityID:     &userID,
			TargetUserID: &userID,
			RoleID:       &roleID,
			Details:      map[string]any{"role_id": roleID.String(), "role_name": role.Name},
			IPAddress:    origin.IP,
			UserAgent:    origin.UserAgent,
		})
	})
	if err != nil {
		return err
	}

	s.InvalidateUser(ctx, userID)
	return nil
}

// CreateRole creates a custom (non-system) role.
func (s *Service) CreateRole(ctx context.Context, actorID *uuid.UUID, name, description string, origin audit.Origin) (*db.Role, error) {
	if _, err := s.store.Roles.GetByName(ctx, name); err == nil {
		return nil, ErrRoleExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	role := &db.Role{Name: name, Description: description}
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Roles.Create(ctx, role); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionRoleCreated,
			EntityType: "role",
			EntityID:   &role.ID,
			RoleID:     &role.ID,
			Details:    map[string]any{"name": name},
			IPAddress:  origin.IP,
			UserAgent:  origin.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole changes a role's name and/or description. The audit entry
// records the before/after of each changed field. Holders are invalidated so
// cached role sets pick up the rename.
func (s *Service) UpdateRole(ctx context.Context, actorID *uuid.UUID, roleID uuid.UUID, name, description *string, origin audit.Origin) (*db.Role, error) {
	role, err := s.store.Roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}

	details := map[string]any{}
	if name != nil && *name != role.Name {
		if _, err := s.store.Roles.GetByName(ctx, *name); err == nil {
			return nil, ErrRoleExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		details["name"] = map[string]string{"from": role.Name, "to": *name}
		role.Name = *name
	}
	if description != nil && *description != role.Description {
		details["description"] = map[string]string{"from": role.Description, "to": *description}
		role.Description = *description
	}
	if len(details) == 0 {
		return role, nil
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Roles.Update(ctx, role); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionRoleUpdated,
			EntityType: "role",
			EntityID:   &roleID,
			RoleID:     &roleID,
			Details:    details,
			IPAddress:  origin.IP,
			UserAgent:  origin.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateRoleHolders(ctx, roleID)
	return role, nil
}

// DeleteRole removes a custom role. System roles are refused.
func (s *Service) DeleteRole(ctx context.Context, actorID *uuid.UUID, roleID uuid.UUID, origin audit.Origin) error {
	role, err := s.store.Roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	// Capture holders before the cascade removes the assignments; invalidate
	// only once the delete has committed.
	holders, err := s.store.Users.ListWithRole(ctx, roleID)
	if err != nil {
		s.log.Warn("failed to enumerate role holders for invalidation",
			zap.String("role_id", roleID.String()), zap.Error(err))
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Roles.Delete(ctx, roleID); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionRoleDeleted,
			EntityType: "role",
			EntityID:   &roleID,
			RoleID:     &roleID,
			Details:    map[string]any{"name": role.Name},
			IPAddress:  origin.IP,
			UserAgent:  origin.UserAgent,
		})
	})
	if err != nil {
		return err
	}

	for _, u := range holders {
		s.InvalidateUser(ctx, u.ID)
	}
	return nil
}

// AssignPermission grants a permission to a role and invalidates every
// holder's cached set.
func (s *Service) AssignPermission(ctx context.Context, actorID *uuid.UUID, roleID, permissionID uuid.UUID, origin audit.Origin) error {
	perm, err := s.store.Permissions.GetByID(ctx, permissionID)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Roles.AssignPermission(ctx, roleID, permissionID); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionPermissionAssigned,
			EntityType: "role",
			EntityID:   &roleID,
			RoleID:     &roleID,
			Details: map[string]any{
				"permission_id": permissionID.String(),
				"permission":    perm.Resource + ":" + perm.Action + ":" + perm.Scope,
			},
			IPAddress: origin.IP,
			UserAgent: origin.UserAgent,
		})
	})
	if err != nil {
		return err
	}

	s.invalidateRoleHolders(ctx, roleID)
	return nil
}

// RemovePermission revokes a permission from a role and invalidates every
// holder's cached set.
func (s *Service) RemovePermission(ctx context.Context, actorID *uuid.UUID, roleID, permissionID uuid.UUID, origin audit.Origin) error {
	perm, err := s.store.Permissions.GetByID(ctx, permissionID)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Roles.RemovePermission(ctx, roleID, permissionID); err != nil {
			return err
		}
		return audit.Record(ctx, tx, audit.Entry{
			ActorID:    actorID,
			Action:     audit.ActionPermissionRemoved,
			EntityType: "role",
			EntityID:   &roleID,
			RoleID:     &roleID,
			Details: map[string]any{
				"permission_id": permissionID.String(),
				"permission":    perm.Resource + ":" + perm.Action + ":" + perm.Scope,
			},
			IPAddress: origin.IP,
			UserAgent: origin.UserAgent,
		})
	})
	if err != nil {
		return err
	}

	s.invalidateRoleHolders(ctx, roleID)
	return nil
}
