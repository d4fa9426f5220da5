package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// maxBodyBytes bounds every JSON request body accepted by the API.
const maxBodyBytes = 64 << 10

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// queryString extracts a trimmed string query parameter.
func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// classifyServiceError maps a registry error to an HTTP status code and a
// client-safe message. Validation messages are passed through; everything
// else gets a fixed message so internals never reach the response.
func classifyServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "API key not found"
	case errors.Is(err, service.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrUpstream):
		return http.StatusServiceUnavailable, "Key store unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
