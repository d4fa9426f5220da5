// Package handler implements the HTTP handlers for the keygate API.
package handler

import (
	"context"
	"net/http"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
)

// KeyRegistry is the subset of the API key registry the HTTP layer needs.
// Every call carries the raw Authorization header; the registry resolves the
// caller itself.
type KeyRegistry interface {
	Authenticate(ctx context.Context, authorization string) (*model.Principal, error)
	Create(ctx context.Context, name, authorization string) (*model.NewKey, error)
	List(ctx context.Context, authorization string) []model.KeySummary
	Revoke(ctx context.Context, id, authorization string) error
}

// APIKeyHandler serves the /api-keys endpoints.
type APIKeyHandler struct {
	registry KeyRegistry
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(registry KeyRegistry) *APIKeyHandler {
	return &APIKeyHandler{registry: registry}
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// Create issues a new key for the caller. The plaintext key is in this
// response and nowhere else. An unreadable body is only reported to an
// authenticated caller; everyone else gets 401.
// POST /api-keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")

	var req createKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		if _, authErr := h.registry.Authenticate(r.Context(), auth); authErr != nil {
			status, msg := classifyServiceError(authErr)
			writeError(w, status, msg)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	nk, err := h.registry.Create(r.Context(), req.Name, auth)
	if err != nil {
		status, msg := classifyServiceError(err)
		writeError(w, status, msg)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, nk)
}

// List returns the caller's active keys. It always answers 200; an
// unauthenticated caller or an unavailable store yields an empty array.
// GET /api-keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys := h.registry.List(r.Context(), r.Header.Get("Authorization"))
	writeJSON(w, http.StatusOK, keys)
}

// Revoke revokes one of the caller's keys.
// DELETE /api-keys?id=<key-id>
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := queryString(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'id' is required")
		return
	}

	if err := h.registry.Revoke(r.Context(), id, r.Header.Get("Authorization")); err != nil {
		status, msg := classifyServiceError(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, model.SuccessResponse{Success: true})
}

// Self describes the API key that authenticated the request. It must be
// mounted behind middleware.RequireAPIKey.
// GET /api-keys/self
func (h *APIKeyHandler) Self(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, key)
}
