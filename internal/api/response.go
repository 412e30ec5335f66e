// Package api implements the HTTP REST layer. It uses chi as the router and
// exposes all resources under /api/v1, with /healthz and /metrics at the
// root. Authentication runs as middleware on every route except the public
// auth endpoints; fine-grained access is enforced per route through the RBAC
// evaluator.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docvault-io/docvault/internal/repository"
)

// envelope is the JSON wrapper for error responses:
//
//	{"error": {"message": "...", "code": "..."}}
//
// Success payloads are returned bare; list endpoints use listResponse.
type envelope map[string]any

// listResponse is the shape of every paginated collection.
type listResponse struct {
	Items    any   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Pages    int   `json:"pages"`
}

func newListResponse(items any, total int64, page, pageSize int) listResponse {
	pages := 1
	if total > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return listResponse{Items: items, Total: total, Page: page, PageSize: pageSize, Pages: pages}
}

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the bare payload.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, payload)
}

// Created writes a 201 Created response with the bare payload.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, payload)
}

// messageResponse is the body for operations that only acknowledge.
type messageResponse struct {
	Message string `json:"message"`
}

// Message writes a 200 OK with {"message": ...}.
func Message(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusOK, messageResponse{Message: msg})
}

// errorResponse is the shape of the "error" object in error responses.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// errJSON writes a JSON error response. Code is a machine-readable string
// (e.g. "not_found", "validation_error") for frontend branching.
func errJSON(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, envelope{
		"error": errorResponse{
			Message: message,
			Code:    code,
		},
	})
}

// ErrBadRequest writes a 400 for requests refused by a business rule.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, "bad_request")
}

// ErrUnauthorized writes a 401 Unauthorized error response.
func ErrUnauthorized(w http.ResponseWriter) {
	errJSON(w, http.StatusUnauthorized, "authentication required", "unauthorized")
}

// ErrForbidden writes a 403 with the given detail message.
func ErrForbidden(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusForbidden, message, "forbidden")
}

// ErrNotFound writes a 404 Not Found error response.
func ErrNotFound(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "resource not found", "not_found")
}

// ErrUnprocessable writes a 422 for bodies that do not match the schema.
func ErrUnprocessable(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusUnprocessableEntity, message, "validation_error")
}

// ErrTooManyRequests writes a 429 with a Retry-After header in seconds.
func ErrTooManyRequests(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	errJSON(w, http.StatusTooManyRequests, "too many requests, try again later", "rate_limited")
}

// ErrNotImplemented writes a 501 for features invoked while unconfigured.
func ErrNotImplemented(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusNotImplemented, message, "not_configured")
}

// ErrInternal writes a 500 Internal Server Error response.
// The internal error detail is intentionally not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred", "internal_error")
}

// decodeJSON decodes the request body into dst. Returns false and writes a
// 422 if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrUnprocessable(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseUUID reads a UUID path parameter. Returns false and writes a 404 if
// the value does not parse; a malformed ID can never reference anything.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		ErrNotFound(w)
		return uuid.Nil, false
	}
	return id, true
}

// paginationOpts reads page/page_size query parameters with the shared
// defaults and cap, returning repository options plus the resolved values.
func paginationOpts(r *http.Request) (repository.ListOptions, int, int) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "page_size", 10)
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return repository.ListOptions{Limit: pageSize, Offset: (page - 1) * pageSize}, page, pageSize
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
