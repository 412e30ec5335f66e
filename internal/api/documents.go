package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/docvault-io/docvault/internal/db"
	"github.com/docvault-io/docvault/internal/rbac"
	"github.com/docvault-io/docvault/internal/repository"
)

// DocumentHandler groups the document CRUD endpoints. Listing and per-object
// access follow the scope model: holders of the all-scope permission reach
// every document, own-scope holders only their own.
type DocumentHandler struct {
	store  *repository.Store
	rbac   *rbac.Service
	logger *zap.Logger
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(store *repository.Store, rbacSvc *rbac.Service, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:  store,
		rbac:   rbacSvc,
		logger: logger.Named("document_handler"),
	}
}

// documentResponse is the JSON representation of a document.
type documentResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	OwnerID   string         `json:"owner_id"`
	Meta      map[string]any `json:"meta"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func documentToResponse(d *db.Document) documentResponse {
	return documentResponse{
		ID:        d.ID.String(),
		Title:     d.Title,
		Content:   d.Content,
		OwnerID:   d.OwnerID.String(),
		Meta:      d.Meta,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// canAll reports whether the current user holds (documents, action) at the
// all scope.
func (h *DocumentHandler) canAll(r *http.Request, action string) (bool, error) {
	user := userFromCtx(r.Context())
	return h.rbac.HasPermission(r.Context(), user.ID, "documents", action, rbac.ScopeAll)
}

// List handles GET /api/v1/documents. all-scope readers see everything;
// own-scope readers see their documents only.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, page, pageSize := paginationOpts(r)

	listOpts := repository.DocumentListOptions{ListOptions: opts}
	canReadAll, err := h.canAll(r, "read")
	if err != nil {
		ErrInternal(w)
		return
	}
	if !canReadAll {
		ownerID := userFromCtx(r.Context()).ID
		listOpts.OwnerID = &ownerID
	}

	docs, total, err := h.store.Documents.List(r.Context(), listOpts)
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]documentResponse, len(docs))
	for i := range docs {
		items[i] = documentToResponse(&docs[i])
	}
	Ok(w, newListResponse(items, total, page, pageSize))
}

type createDocumentRequest struct {
	Title   string         `json:"title"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta"`
}

// Create handles POST /api/v1/documents. Guarded with documents:create:own
// in the router; the creator becomes the owner.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		ErrUnprocessable(w, "title is required")
		return
	}
	if len(req.Title) > 500 {
		ErrUnprocessable(w, "title must be at most 500 characters")
		return
	}

	doc := &db.Document{
		Title:   req.Title,
		Content: req.Content,
		OwnerID: userFromCtx(r.Context()).ID,
		Meta:    req.Meta,
	}
	if err := h.store.Documents.Create(r.Context(), doc); err != nil {
		h.logger.Error("failed to create document", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, documentToResponse(doc))
}

// getAuthorized loads the document and enforces (documents, action): the
// all scope reaches any document, otherwise the caller must own it.
func (h *DocumentHandler) getAuthorized(w http.ResponseWriter, r *http.Request, action string) *db.Document {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return nil
	}

	doc, err := h.store.Documents.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return nil
		}
		h.logger.Error("failed to get document", zap.Error(err))
		ErrInternal(w)
		return nil
	}

	canAll, err := h.canAll(r, action)
	if err != nil {
		ErrInternal(w)
		return nil
	}
	if !canAll && doc.OwnerID != userFromCtx(r.Context()).ID {
		ErrForbidden(w, "Permission denied: documents:"+action+":own")
		return nil
	}
	return doc
}

// Get handles GET /api/v1/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc := h.getAuthorized(w, r, "read")
	if doc == nil {
		return
	}
	Ok(w, documentToResponse(doc))
}

type updateDocumentRequest struct {
	Title   *string         `json:"title"`
	Content *string         `json:"content"`
	Meta    *map[string]any `json:"meta"`
}

// Update handles PUT /api/v1/documents/{id}.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	doc := h.getAuthorized(w, r, "update")
	if doc == nil {
		return
	}

	var req updateDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Title != nil {
		if *req.Title == "" {
			ErrUnprocessable(w, "title cannot be empty")
			return
		}
		if len(*req.Title) > 500 {
			ErrUnprocessable(w, "title must be at most 500 characters")
			return
		}
		doc.Title = *req.Title
	}
	if req.Content != nil {
		doc.Content = *req.Content
	}
	if req.Meta != nil {
		doc.Meta = *req.Meta
	}

	if err := h.store.Documents.Update(r.Context(), doc); err != nil {
		h.logger.Error("failed to update document", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, documentToResponse(doc))
}

// Delete handles DELETE /api/v1/documents/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc := h.getAuthorized(w, r, "delete")
	if doc == nil {
		return
	}

	if err := h.store.Documents.Delete(r.Context(), doc.ID); err != nil {
		h.logger.Error("failed to delete document", zap.Error(err))
		ErrInternal(w)
		return
	}

	Message(w, "Document deleted successfully")
}
