package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docvault-io/docvault/internal/auth"
	"github.com/docvault-io/docvault/internal/cache"
	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/ratelimit"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
)

type testEnv struct {
	t     *testing.T
	srv   *httptest.Server
	store *repository.Store
	rbac  *rbac.Service
	mr    *miniredis.Miniredis
}

// newTestEnv stands up the full router over in-memory sqlite and miniredis,
// with the default catalogue seeded.
func newTestEnv(t *testing.T) *testEnv {
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

	require.NoError(t, rbac.Seed(context.Background(), store, c, zap.NewNop()))

	tokens := auth.NewTokenManager(strings.Repeat("s", 32), 30*time.Minute, 24*time.Hour, c)
	authSvc := auth.NewService(store, tokens, auth.NewResetManager(c), nil, zap.NewNop())
	rbacSvc := rbac.NewService(store, c, zap.NewNop())

	router := NewRouter(RouterConfig{
		Store:   store,
		DB:      database,
		Cache:   c,
		Auth:    authSvc,
		RBAC:    rbacSvc,
		Limiter: ratelimit.New(c, zap.NewNop()),
		Logger:  zap.NewNop(),
		Cookies: CookieSettings{
			SameSite:   http.SameSiteLaxMode,
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		FrontendURL: "http://localhost:3000",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, store: store, rbac: rbacSvc, mr: mr}
}

// do sends a JSON request with an optional bearer token and decodes the JSON
// response body into a map.
func (e *testEnv) do(method, path, token string, body any) (*http.Response, map[string]any) {
	e.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.srv.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) register(email, username, password string) map[string]any {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": email, "username": username, "password": password,
	})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode, "register %s: %v", email, body)
	return body
}

func (e *testEnv) login(email, password string) string {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": email, "password": password,
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode, "login %s: %v", email, body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(e.t, token)
	return token
}

// loginAdmin bootstraps the superadmin account and logs it in.
func (e *testEnv) loginAdmin() string {
	e.t.Helper()
	require.NoError(e.t, rbac.Bootstrap(context.Background(), e.store,
		"root@example.com", "rootpass123", zap.NewNop()))
	return e.login("root@example.com", "rootpass123")
}

func errMessage(body map[string]any) string {
	if errObj, ok := body["error"].(map[string]any); ok {
		msg, _ := errObj["message"].(string)
		return msg
	}
	return ""
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	// With the cache gone the endpoint must flip to 503.
	e.mr.Close()
	resp, body = e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t)

	body := e.register("alice@example.com", "alice", "password123")
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, true, body["is_active"])

	resp, body := e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "alice@example.com", "username": "alice2", "password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Email already registered", errMessage(body))

	resp, _ = e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", body["token_type"])
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])

	// Tokens are also delivered as HttpOnly cookies.
	names := map[string]bool{}
	for _, c := range resp.Cookies() {
		names[c.Name] = true
		assert.True(t, c.HttpOnly, "cookie %s must be HttpOnly", c.Name)
	}
	assert.True(t, names["access_token"])
	assert.True(t, names["refresh_token"])

	token, _ := body["access_token"].(string)
	resp, body = e.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "local", body["auth_provider"])
	assert.Equal(t, false, body["is_verified"])
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "short@example.com", "username": "short", "password": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Unknown fields are rejected, not ignored.
	resp, _ = e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "x@example.com", "username": "xuser", "password": "password123",
		"role": "Super Admin",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Over the 128-character cap is a validation failure, not a server error.
	resp, _ = e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "long@example.com", "username": "longpass",
		"password": strings.Repeat("p", 129),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Long but within the cap works end to end, including a later login.
	// The rejected attempts above used up the registration window.
	e.mr.FastForward(2 * time.Minute)
	passphrase := strings.Repeat("correct horse battery staple ", 4)
	e.register("phrase@example.com", "phrase", passphrase)
	e.login("phrase@example.com", passphrase)
}

func TestRefreshRotation(t *testing.T) {
	e := newTestEnv(t)
	e.register("bob@example.com", "bob", "password123")

	resp, body := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "bob@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	oldRefresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, oldRefresh)

	resp, body = e.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": oldRefresh,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newRefresh, _ := body["refresh_token"].(string)
	assert.NotEqual(t, oldRefresh, newRefresh)

	// Rotation invalidates the previous token.
	resp, body = e.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": oldRefresh,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Refresh token has been revoked", errMessage(body))
}

func TestLogoutRevokesRefresh(t *testing.T) {
	e := newTestEnv(t)
	e.register("carol@example.com", "carol", "password123")

	resp, body := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "carol@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)

	resp, body = e.do(http.MethodPost, "/api/v1/auth/logout", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Successfully logged out", body["message"])

	resp, _ = e.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{
		"refresh_token": refresh,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRateLimit(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 5; i++ {
		resp, _ := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email": "nobody@example.com", "password": "wrong-password",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
	}

	resp, body := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email": "nobody@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.NotEmpty(t, errMessage(body))
}

func TestUnauthenticated(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/documents", "/api/v1/roles"} {
		resp, _ := e.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp, _ := e.do(http.MethodGet, "/api/v1/auth/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInactiveAccountRejected(t *testing.T) {
	e := newTestEnv(t)
	e.register("dora@example.com", "dora", "password123")
	token := e.login("dora@example.com", "password123")

	user, err := e.store.Users.GetByEmail(context.Background(), "dora@example.com")
	require.NoError(t, err)
	user.IsActive = false
	require.NoError(t, e.store.Users.Update(context.Background(), user))

	resp, body := e.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Account is deactivated", errMessage(body))
}

func TestPermissionDenied(t *testing.T) {
	e := newTestEnv(t)
	e.register("eve@example.com", "eve", "password123")
	token := e.login("eve@example.com", "password123")

	resp, body := e.do(http.MethodGet, "/api/v1/users", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission denied: users:read:all", errMessage(body))

	resp, _ = e.do(http.MethodGet, "/api/v1/roles", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminRoleManagement(t *testing.T) {
	e := newTestEnv(t)
	admin := e.loginAdmin()

	resp, body := e.do(http.MethodGet, "/api/v1/roles", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["total"])

	resp, body = e.do(http.MethodGet, "/api/v1/permissions", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 35, body["total"])

	resp, body = e.do(http.MethodPost, "/api/v1/roles", admin, map[string]any{
		"name": "Auditor", "description": "Read-only reviewer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roleID, _ := body["id"].(string)
	require.NotEmpty(t, roleID)
	assert.Equal(t, false, body["is_system"])

	resp, body = e.do(http.MethodPost, "/api/v1/roles", admin, map[string]any{
		"name": "Auditor",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Role with this name already exists", errMessage(body))

	// Attach a permission from the catalogue.
	perm, err := e.store.Permissions.GetByTriple(context.Background(), "documents", "read", "all")
	require.NoError(t, err)
	resp, body = e.do(http.MethodPost, "/api/v1/roles/"+roleID+"/permissions", admin, map[string]any{
		"permission_ids": []string{perm.ID.String()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	perms, _ := body["permissions"].([]any)
	require.Len(t, perms, 1)

	resp, body = e.do(http.MethodDelete, "/api/v1/roles/"+roleID+"/permissions/"+perm.ID.String(), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	perms, _ = body["permissions"].([]any)
	assert.Empty(t, perms)

	resp, body = e.do(http.MethodDelete, "/api/v1/roles/"+roleID, admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Role deleted successfully", body["message"])

	// System roles are protected.
	userRole, err := e.store.Roles.GetByName(context.Background(), "User")
	require.NoError(t, err)
	resp, body = e.do(http.MethodDelete, "/api/v1/roles/"+userRole.ID.String(), admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Cannot delete system roles", errMessage(body))
}

func TestUserRoleAssignment(t *testing.T) {
	e := newTestEnv(t)
	admin := e.loginAdmin()
	e.register("frank@example.com", "frank", "password123")

	user, err := e.store.Users.GetByEmail(context.Background(), "frank@example.com")
	require.NoError(t, err)
	viewer, err := e.store.Roles.GetByName(context.Background(), "Viewer")
	require.NoError(t, err)

	resp, body := e.do(http.MethodGet, "/api/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"]) // superadmin + frank

	resp, body = e.do(http.MethodPost, "/api/v1/users/"+user.ID.String()+"/roles", admin, map[string]any{
		"role_id": viewer.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roles, _ := body["roles"].([]any)
	assert.Len(t, roles, 2) // default User role + Viewer

	resp, body = e.do(http.MethodPost, "/api/v1/users/"+user.ID.String()+"/roles", admin, map[string]any{
		"role_id": viewer.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "User already has the 'Viewer' role", errMessage(body))

	resp, body = e.do(http.MethodDelete, "/api/v1/users/"+user.ID.String()+"/roles/"+viewer.ID.String(), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roles, _ = body["roles"].([]any)
	assert.Len(t, roles, 1)

	resp, body = e.do(http.MethodPost, "/api/v1/users/bulk/roles", admin, map[string]any{
		"role_id":  viewer.ID.String(),
		"user_ids": []string{user.ID.String(), "4f9df5f5-0000-4000-8000-000000000000"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Role assigned to 1 users", body["message"])
}

func TestDocumentOwnership(t *testing.T) {
	e := newTestEnv(t)
	e.register("grace@example.com", "grace", "password123")
	e.register("henry@example.com", "henry", "password123")
	grace := e.login("grace@example.com", "password123")
	henry := e.login("henry@example.com", "password123")

	resp, body := e.do(http.MethodPost, "/api/v1/documents", grace, map[string]any{
		"title":   "Quarterly report",
		"content": "Numbers are up.",
		"meta":    map[string]any{"quarter": "Q3"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	docID, _ := body["id"].(string)
	require.NotEmpty(t, docID)

	// Owner sees the document, the other user does not.
	resp, body = e.do(http.MethodGet, "/api/v1/documents/"+docID, grace, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Quarterly report", body["title"])

	resp, _ = e.do(http.MethodGet, "/api/v1/documents/"+docID, henry, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(http.MethodGet, "/api/v1/documents", henry, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])

	resp, body = e.do(http.MethodGet, "/api/v1/documents", grace, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 1, body["pages"])

	// An all-scope reader reaches everything.
	admin := e.loginAdmin()
	resp, _ = e.do(http.MethodGet, "/api/v1/documents/"+docID, admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(http.MethodPut, "/api/v1/documents/"+docID, henry, map[string]any{
		"title": "Hijacked",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(http.MethodPut, "/api/v1/documents/"+docID, grace, map[string]any{
		"title": "Quarterly report v2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Quarterly report v2", body["title"])

	resp, _ = e.do(http.MethodDelete, "/api/v1/documents/"+docID, henry, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(http.MethodDelete, "/api/v1/documents/"+docID, grace, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(http.MethodGet, "/api/v1/documents/"+docID, grace, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentValidation(t *testing.T) {
	e := newTestEnv(t)
	e.register("iris@example.com", "iris", "password123")
	token := e.login("iris@example.com", "password123")

	resp, _ := e.do(http.MethodPost, "/api/v1/documents", token, map[string]any{
		"content": "no title",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// A malformed ID can never reference anything.
	resp, _ = e.do(http.MethodGet, "/api/v1/documents/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchUnavailableWithoutFTS(t *testing.T) {
	e := newTestEnv(t)
	e.register("judy@example.com", "judy", "password123")
	token := e.login("judy@example.com", "password123")

	resp, _ := e.do(http.MethodPost, "/api/v1/search", token, map[string]any{
		"query": "report",
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = e.do(http.MethodGet, "/api/v1/search/suggestions?q=rep", token, nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestOIDCDisabled(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(http.MethodGet, "/api/v1/oidc/authorize", "", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	e := newTestEnv(t)
	e.register("kate@example.com", "kate", "password123")

	// The response is identical whether or not the account exists.
	resp, body := e.do(http.MethodPost, "/api/v1/auth/password/reset", "", map[string]any{
		"email": "kate@example.com",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "If the email exists, a password reset link has been sent", body["message"])

	resp, body = e.do(http.MethodPost, "/api/v1/auth/password/reset", "", map[string]any{
		"email": "ghost@example.com",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "If the email exists, a password reset link has been sent", body["message"])

	resp, body = e.do(http.MethodPost, "/api/v1/auth/password/reset/confirm", "", map[string]any{
		"token": "bogus", "new_password": "password456",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid or expired reset token", errMessage(body))
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	e.register("liam@example.com", "liam", "password123")
	token := e.login("liam@example.com", "password123")

	resp, body := e.do(http.MethodPost, "/api/v1/auth/change-password", token, map[string]any{
		"current_password": "wrong", "new_password": "password456",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Current password is incorrect", errMessage(body))

	resp, body = e.do(http.MethodPost, "/api/v1/auth/change-password", token, map[string]any{
		"current_password": "password123", "new_password": "password456",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Password changed successfully", body["message"])

	e.login("liam@example.com", "password456")
}
