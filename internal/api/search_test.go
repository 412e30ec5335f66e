package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/rbac"
)

// authedRequest builds a request as the Authenticate middleware would have
// left it, with the user resolved into the context.
func authedRequest(u *db.User) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", nil)
	return r.WithContext(context.WithValue(r.Context(), contextKeyUser, u))
}

// Without documents:read:all, any owner filter the caller supplies is
// replaced with their own ID. Search and Suggestions both resolve their
// owner scope through scopeFilters, so this guards both endpoints.
func TestSearchScopePinsOwner(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	h := NewSearchHandler(nil, e.rbac, zap.NewNop())

	e.register("carol@example.com", "carol", "password123")
	carol, err := e.store.Users.GetByEmail(ctx, "carol@example.com")
	require.NoError(t, err)

	foreign := uuid.New()

	// A supplied owner filter is overwritten, not merged.
	filters, err := h.scopeFilters(authedRequest(carol), &searchFiltersRequest{OwnerID: &foreign})
	require.NoError(t, err)
	require.NotNil(t, filters.OwnerID)
	assert.Equal(t, carol.ID, *filters.OwnerID)

	// Absent filters are pinned too, and the rest of the filter set survives.
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	filters, err = h.scopeFilters(authedRequest(carol), &searchFiltersRequest{DateFrom: &from})
	require.NoError(t, err)
	require.NotNil(t, filters.OwnerID)
	assert.Equal(t, carol.ID, *filters.OwnerID)
	require.NotNil(t, filters.DateFrom)
	assert.True(t, from.Equal(*filters.DateFrom))

	// The nil-filter form used by Suggestions pins the same way.
	filters, err = h.scopeFilters(authedRequest(carol), nil)
	require.NoError(t, err)
	require.NotNil(t, filters.OwnerID)
	assert.Equal(t, carol.ID, *filters.OwnerID)
}

func TestSearchScopeAllReaderKeepsFilter(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	h := NewSearchHandler(nil, e.rbac, zap.NewNop())

	require.NoError(t, rbac.Bootstrap(ctx, e.store, "root@example.com", "rootpass123", zap.NewNop()))
	admin, err := e.store.Users.GetByEmail(ctx, "root@example.com")
	require.NoError(t, err)

	// An all-scope reader keeps the owner filter they asked for.
	foreign := uuid.New()
	filters, err := h.scopeFilters(authedRequest(admin), &searchFiltersRequest{OwnerID: &foreign})
	require.NoError(t, err)
	require.NotNil(t, filters.OwnerID)
	assert.Equal(t, foreign, *filters.OwnerID)

	// Or searches unscoped when they supply none.
	filters, err = h.scopeFilters(authedRequest(admin), nil)
	require.NoError(t, err)
	assert.Nil(t, filters.OwnerID)
}
