package rbac

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docvault-io/docvault/internal/audit"
	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/repository"
)

func newTestService(t *testing.T) (*Service, *repository.Store, *miniredis.Miniredis) {
	t.Helper()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	store := repository.NewStore(database)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewWithClient(client, zap.NewNop())

	return NewService(store, c, zap.NewNop()), store, mr
}

func createUser(t *testing.T, store *repository.Store, email string) *db.User {
	t.Helper()
	u := &db.User{Email: email, Username: email[:len(email)-len("@example.com")], IsActive: true}
	require.NoError(t, store.Users.Create(context.Background(), u))
	return u
}

func createPermission(t *testing.T, store *repository.Store, resource, action, scope string) *db.Permission {
	t.Helper()
	p := &db.Permission{Resource: resource, Action: action, Scope: scope}
	require.NoError(t, store.Permissions.Create(context.Background(), p))
	return p
}

func createRoleWith(t *testing.T, store *repository.Store, name string, perms ...*db.Permission) *db.Role {
	t.Helper()
	r := &db.Role{Name: name}
	require.NoError(t, store.Roles.Create(context.Background(), r))
	for _, p := range perms {
		require.NoError(t, store.Roles.AssignPermission(context.Background(), r.ID, p.ID))
	}
	return r
}

func TestParseScope(t *testing.T) {
	for _, valid := range []string{"own", "team", "all"} {
		s, err := ParseScope(valid)
		require.NoError(t, err)
		assert.Equal(t, Scope(valid), s)
	}
	_, err := ParseScope("global")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestHasPermissionScopeHierarchy(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "scope@example.com")
	team := createPermission(t, store, "documents", "read", "team")
	role := createRoleWith(t, store, "Reader", team)
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	cases := []struct {
		required Scope
		want     bool
	}{
		{ScopeOwn, true},
		{ScopeTeam, true},
		{ScopeAll, false},
	}
	for _, tc := range cases {
		ok, err := svc.HasPermission(ctx, user.ID, "documents", "read", tc.required)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "required scope %s", tc.required)
	}

	// Different action or resource never matches.
	ok, err := svc.HasPermission(ctx, user.ID, "documents", "delete", ScopeOwn)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.HasPermission(ctx, user.ID, "labels", "read", ScopeOwn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionWildcards(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "wild@example.com")
	super := createPermission(t, store, Wildcard, Wildcard, "all")
	role := createRoleWith(t, store, "Root", super)
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	ok, err := svc.HasPermission(ctx, user.ID, "anything", "whatever", ScopeAll)
	require.NoError(t, err)
	assert.True(t, ok)

	actionWild := createUser(t, store, "resadmin@example.com")
	docsAll := createPermission(t, store, "documents", Wildcard, "all")
	docsRole := createRoleWith(t, store, "DocAdmin", docsAll)
	require.NoError(t, store.Users.AssignRole(ctx, actionWild.ID, docsRole.ID, nil))

	ok, err = svc.HasPermission(ctx, actionWild.ID, "documents", "delete", ScopeAll)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasPermission(ctx, actionWild.ID, "labels", "read", ScopeOwn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUserPermissionsCaches(t *testing.T) {
	svc, store, mr := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "cached@example.com")
	perm := createPermission(t, store, "documents", "read", "own")
	role := createRoleWith(t, store, "Reader", perm)
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	perms, err := svc.GetUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.True(t, mr.Exists(cache.PermissionsKey(user.ID)))

	// A second read is served from the cache: revoking behind its back
	// does not change the answer until invalidation.
	require.NoError(t, store.Roles.RemovePermission(ctx, role.ID, perm.ID))
	perms, err = svc.GetUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 1)

	svc.InvalidateUser(ctx, user.ID)
	perms, err = svc.GetUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestAssignRoleAuditsAndInvalidates(t *testing.T) {
	svc, store, mr := newTestService(t)
	ctx := context.Background()

	actor := createUser(t, store, "actor@example.com")
	user := createUser(t, store, "member@example.com")
	perm := createPermission(t, store, "documents", "read", "own")
	role := createRoleWith(t, store, "Reader", perm)

	// Warm the cache with the empty set.
	_, err := svc.GetUserPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.PermissionsKey(user.ID)))

	origin := audit.Origin{IP: "1.2.3.4", UserAgent: "curl/8.5"}
	require.NoError(t, svc.AssignRole(ctx, &actor.ID, user.ID, role.ID, origin))
	assert.False(t, mr.Exists(cache.PermissionsKey(user.ID)))

	ok, err := svc.HasPermission(ctx, user.ID, "documents", "read", ScopeOwn)
	require.NoError(t, err)
	assert.True(t, ok)

	logs, _, err := store.Audit.List(ctx, repository.AuditListOptions{ListOptions: repository.ListOptions{Limit: 10}, Action: audit.ActionRoleAssigned})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, actor.ID, *logs[0].ActorID)
	assert.Equal(t, user.ID, *logs[0].TargetUserID)
	assert.Equal(t, role.ID, *logs[0].RoleID)
	assert.Equal(t, "Reader", logs[0].Details["role_name"])
	assert.Equal(t, "1.2.3.4", logs[0].IPAddress)
	assert.Equal(t, "curl/8.5", logs[0].UserAgent)

	// Re-assigning is a silent no-op and writes no second entry.
	require.NoError(t, svc.AssignRole(ctx, &actor.ID, user.ID, role.ID, origin))
	logs, _, err = store.Audit.List(ctx, repository.AuditListOptions{ListOptions: repository.ListOptions{Limit: 10}, Action: audit.ActionRoleAssigned})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRemoveRole(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "member@example.com")
	role := createRoleWith(t, store, "Reader")
	require.NoError(t, svc.AssignRole(ctx, nil, user.ID, role.ID, audit.Origin{}))

	require.NoError(t, svc.RemoveRole(ctx, nil, user.ID, role.ID, audit.Origin{}))
	roles, err := svc.GetUserRoles(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)

	// Removing an assignment the user does not hold fails.
	err = svc.RemoveRole(ctx, nil, user.ID, role.ID, audit.Origin{})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRole(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, nil, "Editors", "Can edit documents", audit.Origin{})
	require.NoError(t, err)
	assert.False(t, role.IsSystem)

	_, err = svc.CreateRole(ctx, nil, "Editors", "", audit.Origin{})
	assert.ErrorIs(t, err, ErrRoleExists)

	logs, _, err := store.Audit.List(ctx, repository.AuditListOptions{ListOptions: repository.ListOptions{Limit: 10}, Action: audit.ActionRoleCreated})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, role.ID, *logs[0].RoleID)
}

func TestUpdateRoleRecordsDiffs(t *testing.T) {
	svc, store, mr := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, nil, "Editors", "old", audit.Origin{})
	require.NoError(t, err)

	// A holder's cached role set must not survive the rename.
	holder := createUser(t, store, "member@example.com")
	require.NoError(t, store.Users.AssignRole(ctx, holder.ID, role.ID, nil))
	_, err = svc.GetUserRoles(ctx, holder.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.RolesKey(holder.ID)))

	newName := "Writers"
	updated, err := svc.UpdateRole(ctx, nil, role.ID, &newName, nil, audit.Origin{})
	require.NoError(t, err)
	assert.Equal(t, "Writers", updated.Name)
	assert.False(t, mr.Exists(cache.RolesKey(holder.ID)))

	roles, err := svc.GetUserRoles(ctx, holder.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Writers", roles[0].Name)

	logs, _, err := store.Audit.List(ctx, repository.AuditListOptions{ListOptions: repository.ListOptions{Limit: 10}, Action: audit.ActionRoleUpdated})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	diff, ok := logs[0].Details["name"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Editors", diff["from"])
	assert.Equal(t, "Writers", diff["to"])

	// A no-change update writes no entry.
	_, err = svc.UpdateRole(ctx, nil, role.ID, &newName, nil, audit.Origin{})
	require.NoError(t, err)
	logs, _, err = store.Audit.List(ctx, repository.AuditListOptions{ListOptions: repository.ListOptions{Limit: 10}, Action: audit.ActionRoleUpdated})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestDeleteRoleRefusesSystemRoles(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	system := &db.Role{Name: "Super Admin", IsSystem: true}
	require.NoError(t, store.Roles.Create(ctx, system))
	assert.ErrorIs(t, svc.DeleteRole(ctx, nil, system.ID, audit.Origin{}), ErrSystemRole)

	custom, err := svc.CreateRole(ctx, nil, "Editors", "", audit.Origin{})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRole(ctx, nil, custom.ID, audit.Origin{}))
	_, err = store.Roles.GetByID(ctx, custom.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteRoleInvalidatesHolders(t *testing.T) {
	svc, store, mr := newTestService(t)
	ctx := context.Background()

	perm := createPermission(t, store, "documents", "read", "own")
	role, err := svc.CreateRole(ctx, nil, "Readers", "", audit.Origin{})
	require.NoError(t, err)
	require.NoError(t, store.Roles.AssignPermission(ctx, role.ID, perm.ID))

	holder := createUser(t, store, "member@example.com")
	require.NoError(t, store.Users.AssignRole(ctx, holder.ID, role.ID, nil))

	ok, err := svc.HasPermission(ctx, holder.ID, "documents", "read", ScopeOwn)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists(cache.PermissionsKey(holder.ID)))

	require.NoError(t, svc.DeleteRole(ctx, nil, role.ID, audit.Origin{}))
	assert.False(t, mr.Exists(cache.PermissionsKey(holder.ID)))

	ok, err = svc.HasPermission(ctx, holder.ID, "documents", "read", ScopeOwn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissionGrantInvalidatesHolders(t *testing.T) {
	svc, store, mr := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "member@example.com")
	perm := createPermission(t, store, "documents", "delete", "all")
	role := createRoleWith(t, store, "Cleanup")
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	ok, err := svc.HasPermission(ctx, user.ID, "documents", "delete", ScopeAll)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, mr.Exists(cache.PermissionsKey(user.ID)))

	// Granting to the role drops every holder's cached set, so the next
	// check sees the new permission immediately.
	require.NoError(t, svc.AssignPermission(ctx, nil, role.ID, perm.ID, audit.Origin{}))
	assert.False(t, mr.Exists(cache.PermissionsKey(user.ID)))

	ok, err = svc.HasPermission(ctx, user.ID, "documents", "delete", ScopeAll)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.RemovePermission(ctx, nil, role.ID, perm.ID, audit.Origin{}))
	ok, err = svc.HasPermission(ctx, user.ID, "documents", "delete", ScopeAll)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasRole(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "member@example.com")
	role := createRoleWith(t, store, "Reader")
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	ok, err := svc.HasRole(ctx, user.ID, "Reader")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasRole(ctx, user.ID, "Admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasAnyRole(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "member@example.com")
	role := createRoleWith(t, store, "Admin")
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	ok, err := svc.HasAnyRole(ctx, user.ID, "Viewer", "Admin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAnyRole(ctx, user.ID, "Viewer", "Manager")
	require.NoError(t, err)
	assert.False(t, ok)

	// Admin counts as admin but not superadmin.
	ok, err = svc.IsAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsSuperAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	user := createUser(t, store, "member@example.com")
	read := createPermission(t, store, "documents", "read", "own")
	role := createRoleWith(t, store, "Reader", read)
	require.NoError(t, store.Users.AssignRole(ctx, user.ID, role.ID, nil))

	held := Check{Resource: "documents", Action: "read", Scope: ScopeOwn}
	missing := Check{Resource: "documents", Action: "delete", Scope: ScopeOwn}

	ok, err := svc.HasAnyPermission(ctx, user.ID, missing, held)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAnyPermission(ctx, user.ID, missing)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.HasAllPermissions(ctx, user.ID, held)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAllPermissions(ctx, user.ID, held, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasPermissionUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	ok, err := svc.HasPermission(context.Background(), uuid.New(), "documents", "read", ScopeOwn)
	require.NoError(t, err)
	assert.False(t, ok)
}
