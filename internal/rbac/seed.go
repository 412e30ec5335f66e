package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/repository"
)

// seedPermission is one catalogue entry.
type seedPermission struct {
	resource    string
	action      string
	scope       Scope
	description string
}

// seedRole defines a system role and its grant patterns. A pattern with a
// wildcard action grants every catalogue permission for that resource; the
// full (*, *) pattern grants the whole catalogue.
type seedRole struct {
	name        string
	description string
	patterns    [][3]string // resource, action, scope
}

// defaultPermissions is the permission catalogue installed on first start.
var defaultPermissions = []seedPermission{
	{"users", "create", ScopeAll, "Create new users"},
	{"users", "read", ScopeOwn, "Read own user profile"},
	{"users", "read", ScopeAll, "Read all users"},
	{"users", "update", ScopeOwn, "Update own user profile"},
	{"users", "update", ScopeAll, "Update any user"},
	{"users", "delete", ScopeAll, "Delete users"},

	{"roles", "create", ScopeAll, "Create new roles"},
	{"roles", "read", ScopeAll, "Read all roles"},
	{"roles", "update", ScopeAll, "Update roles"},
	{"roles", "delete", ScopeAll, "Delete roles"},

	{"permissions", "read", ScopeAll, "Read all permissions"},

	{"documents", "create", ScopeOwn, "Create own documents"},
	{"documents", "read", ScopeOwn, "Read own documents"},
	{"documents", "read", ScopeTeam, "Read team documents"},
	{"documents", "read", ScopeAll, "Read all documents"},
	{"documents", "update", ScopeOwn, "Update own documents"},
	{"documents", "update", ScopeTeam, "Update team documents"},
	{"documents", "update", ScopeAll, "Update all documents"},
	{"documents", "delete", ScopeOwn, "Delete own documents"},
	{"documents", "delete", ScopeAll, "Delete all documents"},

	{"labels", "create", ScopeOwn, "Create own labels"},
	{"labels", "read", ScopeOwn, "Read own labels"},
	{"labels", "read", ScopeAll, "Read all labels"},
	{"labels", "update", ScopeOwn, "Update own labels"},
	{"labels", "update", ScopeAll, "Update all labels"},
	{"labels", "delete", ScopeOwn, "Delete own labels"},
	{"labels", "delete", ScopeAll, "Delete all labels"},

	{"watch_folders", "create", ScopeOwn, "Create own watch folders"},
	{"watch_folders", "read", ScopeOwn, "Read own watch folders"},
	{"watch_folders", "read", ScopeAll, "Read all watch folders"},
	{"watch_folders", "update", ScopeOwn, "Update own watch folders"},
	{"watch_folders", "update", ScopeAll, "Update all watch folders"},
	{"watch_folders", "delete", ScopeOwn, "Delete own watch folders"},
	{"watch_folders", "delete", ScopeAll, "Delete all watch folders"},

	{"system", Wildcard, ScopeAll, "Full system access (wildcard)"},
}

// defaultRoles are the five system roles.
var defaultRoles = []seedRole{
	{
		name:        "Super Admin",
		description: "Full system access with all permissions",
		patterns:    [][3]string{{Wildcard, Wildcard, string(ScopeAll)}},
	},
	{
		name:        "Admin",
		description: "Administrative access to manage users, roles, and system settings",
		patterns: [][3]string{
			{"users", Wildcard, string(ScopeAll)},
			{"roles", Wildcard, string(ScopeAll)},
			{"permissions", "read", string(ScopeAll)},
			{"documents", Wildcard, string(ScopeAll)},
			{"labels", Wildcard, string(ScopeAll)},
			{"watch_folders", Wildcard, string(ScopeAll)},
		},
	},
	{
		name:        "Manager",
		description: "Team management with access to team resources",
		patterns: [][3]string{
			{"users", "read", string(ScopeAll)},
			{"documents", "create", string(ScopeOwn)},
			{"documents", "read", string(ScopeTeam)},
			{"documents", "update", string(ScopeTeam)},
			{"documents", "delete", string(ScopeOwn)},
			{"labels", "create", string(ScopeOwn)},
			{"labels", "read", string(ScopeAll)},
			{"labels", "update", string(ScopeOwn)},
			{"labels", "delete", string(ScopeOwn)},
			{"watch_folders", "create", string(ScopeOwn)},
			{"watch_folders", "read", string(ScopeOwn)},
			{"watch_folders", "update", string(ScopeOwn)},
			{"watch_folders", "delete", string(ScopeOwn)},
		},
	},
	{
		name:        "User",
		description: "Standard user with access to own resources",
		patterns: [][3]string{
			{"users", "read", string(ScopeOwn)},
			{"users", "update", string(ScopeOwn)},
			{"documents", "create", string(ScopeOwn)},
			{"documents", "read", string(ScopeOwn)},
			{"documents", "update", string(ScopeOwn)},
			{"documents", "delete", string(ScopeOwn)},
			{"labels", "create", string(ScopeOwn)},
			{"labels", "read", string(ScopeOwn)},
			{"labels", "update", string(ScopeOwn)},
			{"labels", "delete", string(ScopeOwn)},
		},
	},
	{
		name:        "Viewer",
		description: "Read-only access to own resources",
		patterns: [][3]string{
			{"users", "read", string(ScopeOwn)},
			{"documents", "read", string(ScopeOwn)},
			{"labels", "read", string(ScopeOwn)},
		},
	},
}

// Seed installs the default permission catalogue and system roles. It is
// idempotent: existing rows are kept and missing grants are added, so it can
// run on every startup and after catalogue upgrades.
//
// If the catalogue did change, every memoized permission set may be stale,
// so the whole RBAC cache namespace is flushed after commit. A nil cache
// skips the flush.
func Seed(ctx context.Context, store *repository.Store, c *cache.Cache, log *zap.Logger) error {
	changed := false
	err := store.Transaction(ctx, func(tx *repository.Store) error {
		byTriple, permsChanged, err := seedPermissions(ctx, tx, log)
		if err != nil {
			return err
		}
		rolesChanged, err := seedRoles(ctx, tx, byTriple, log)
		if err != nil {
			return err
		}
		changed = permsChanged || rolesChanged
		return nil
	})
	if err != nil {
		return err
	}

	if changed && c != nil {
		if err := c.DeleteByPrefix(ctx, cache.RBACPrefix); err != nil {
			log.Warn("failed to flush rbac cache after seeding", zap.Error(err))
		}
	}
	return nil
}

func seedPermissions(ctx context.Context, tx *repository.Store, log *zap.Logger) (map[[3]string]*db.Permission, bool, error) {
	byTriple := make(map[[3]string]*db.Permission, len(defaultPermissions))
	changed := false

	for _, sp := range defaultPermissions {
		perm, err := tx.Permissions.GetByTriple(ctx, sp.resource, sp.action, string(sp.scope))
		if errors.Is(err, repository.ErrNotFound) {
			perm = &db.Permission{
				Resource:    sp.resource,
				Action:      sp.action,
				Scope:       string(sp.scope),
				Description: sp.description,
			}
			if err := tx.Permissions.Create(ctx, perm); err != nil {
				return nil, false, err
			}
			changed = true
			log.Debug("seeded permission",
				zap.String("permission", sp.resource+":"+sp.action+":"+string(sp.scope)))
		} else if err != nil {
			return nil, false, err
		}
		byTriple[[3]string{sp.resource, sp.action, string(sp.scope)}] = perm
	}
	return byTriple, changed, nil
}

func seedRoles(ctx context.Context, tx *repository.Store, byTriple map[[3]string]*db.Permission, log *zap.Logger) (bool, error) {
	changed := false

	for _, sr := range defaultRoles {
		role, err := tx.Roles.GetByName(ctx, sr.name)
		if errors.Is(err, repository.ErrNotFound) {
			role = &db.Role{Name: sr.name, Description: sr.description, IsSystem: true}
			if err := tx.Roles.Create(ctx, role); err != nil {
				return false, err
			}
			changed = true
			log.Info("seeded role", zap.String("role", sr.name))
		} else if err != nil {
			return false, err
		}

		held, err := tx.Roles.GetPermissions(ctx, role.ID)
		if err != nil {
			return false, err
		}
		heldIDs := make(map[uuid.UUID]bool, len(held))
		for _, p := range held {
			heldIDs[p.ID] = true
		}

		for _, perm := range expandPatterns(sr.patterns, byTriple) {
			if heldIDs[perm.ID] {
				continue
			}
			if err := tx.Roles.AssignPermission(ctx, role.ID, perm.ID); err != nil {
				return false, fmt.Errorf("rbac: granting %s:%s:%s to %s: %w",
					perm.Resource, perm.Action, perm.Scope, sr.name, err)
			}
			changed = true
		}
	}
	return changed, nil
}

// expandPatterns resolves grant patterns against the catalogue.
func expandPatterns(patterns [][3]string, byTriple map[[3]string]*db.Permission) []*db.Permission {
	seen := make(map[[3]string]bool)
	var out []*db.Permission

	add := func(key [3]string, perm *db.Permission) {
		if !seen[key] {
			seen[key] = true
			out = append(out, perm)
		}
	}

	for _, pat := range patterns {
		resource, action := pat[0], pat[1]
		switch {
		case resource == Wildcard && action == Wildcard:
			for key, perm := range byTriple {
				add(key, perm)
			}
		case action == Wildcard:
			for key, perm := range byTriple {
				if key[0] == resource {
					add(key, perm)
				}
			}
		default:
			key := [3]string{resource, action, pat[2]}
			if perm, ok := byTriple[key]; ok {
				add(key, perm)
			}
		}
	}
	return out
}
