package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/search"
)

// SearchHandler exposes full-text search and suggestions. When the server
// runs on a database without FTS support the engine is nil and both
// endpoints answer 501.
type SearchHandler struct {
	engine *search.Engine
	rbac   *rbac.Service
	logger *zap.Logger
}

// NewSearchHandler creates a new SearchHandler. engine may be nil.
func NewSearchHandler(engine *search.Engine, rbacSvc *rbac.Service, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		engine: engine,
		rbac:   rbacSvc,
		logger: logger.Named("search_handler"),
	}
}

type searchFiltersRequest struct {
	OwnerID     *uuid.UUID     `json:"owner_id"`
	DateFrom    *time.Time     `json:"date_from"`
	DateTo      *time.Time     `json:"date_to"`
	MetaFilters map[string]any `json:"meta_filters"`
}

type searchRequest struct {
	Query    string                `json:"query"`
	Mode     string                `json:"mode"`
	Filters  *searchFiltersRequest `json:"filters"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// searchResponse extends the list envelope with the echoed query and the
// mode the engine actually ran.
type searchResponse struct {
	listResponse
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// scopeFilters converts the request filters and pins the owner filter to the
// current user unless they can read everything.
func (h *SearchHandler) scopeFilters(r *http.Request, req *searchFiltersRequest) (search.Filters, error) {
	var filters search.Filters
	if req != nil {
		filters = search.Filters{
			OwnerID:  req.OwnerID,
			DateFrom: req.DateFrom,
			DateTo:   req.DateTo,
			Meta:     req.MetaFilters,
		}
	}

	user := userFromCtx(r.Context())
	canReadAll, err := h.rbac.HasPermission(r.Context(), user.ID, "documents", "read", rbac.ScopeAll)
	if err != nil {
		return filters, err
	}
	if !canReadAll {
		ownerID := user.ID
		filters.OwnerID = &ownerID
	}
	return filters, nil
}

// Search handles POST /api/v1/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		ErrNotImplemented(w, "Full-text search is not available on this deployment")
		return
	}

	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Query == "" {
		ErrUnprocessable(w, "query is required")
		return
	}
	if len(req.Query) > 1000 {
		ErrUnprocessable(w, "query must be at most 1000 characters")
		return
	}

	filters, err := h.scopeFilters(r, req.Filters)
	if err != nil {
		h.logger.Error("failed to resolve search scope", zap.Error(err))
		ErrInternal(w)
		return
	}

	mode := search.ParseMode(req.Mode)
	results, total, err := h.engine.Search(r.Context(), req.Query, mode, filters, req.Page, req.PageSize)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			ErrBadRequest(w, "Invalid query syntax")
			return
		}
		h.logger.Error("search failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	Ok(w, searchResponse{
		listResponse: newListResponse(results, total, page, pageSize),
		Query:        req.Query,
		Mode:         string(mode),
	})
}

type suggestionsResponse struct {
	Suggestions []search.Suggestion `json:"suggestions"`
}

// Suggestions handles GET /api/v1/search/suggestions.
func (h *SearchHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		ErrNotImplemented(w, "Full-text search is not available on this deployment")
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		ErrUnprocessable(w, "q is required")
		return
	}
	if len(q) > 100 {
		ErrUnprocessable(w, "q must be at most 100 characters")
		return
	}
	limit := queryInt(r, "limit", 10)
	if limit < 1 || limit > 50 {
		limit = 10
	}

	filters, err := h.scopeFilters(r, nil)
	if err != nil {
		h.logger.Error("failed to resolve search scope", zap.Error(err))
		ErrInternal(w)
		return
	}

	suggestions, err := h.engine.Suggest(r.Context(), q, limit, filters.OwnerID)
	if err != nil {
		h.logger.Error("suggestions failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	if suggestions == nil {
		suggestions = []search.Suggestion{}
	}
	Ok(w, suggestionsResponse{Suggestions: suggestions})
}
