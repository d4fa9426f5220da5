package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

type contextKeyAuth string

const (
	// APIKeyContextKey is the context key for the verified API key.
	APIKeyContextKey contextKeyAuth = "api_key"
)

// DefaultAPIKeyHeader is the header RequireAPIKey reads when none is set.
const DefaultAPIKeyHeader = "X-API-Key"

// KeyVerifier checks a presented API key.
type KeyVerifier interface {
	Verify(ctx context.Context, rawKey string) (*model.StoredKey, error)
}

// RequireAPIKey returns an HTTP middleware that admits requests carrying a
// valid, unrevoked API key in header. On success the stored key (without
// its digest) is attached to the request context; otherwise a 401 JSON
// error is written.
func RequireAPIKey(verifier KeyVerifier, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(header)
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "API key required. Provide the "+header+" header.")
				return
			}

			key, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				if errors.Is(err, service.ErrUpstream) {
					writeAuthError(w, http.StatusServiceUnavailable, "Key store unavailable")
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			key.KeyHash = ""

			ctx := context.WithValue(r.Context(), APIKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKey extracts the verified API key from the context. Returns nil if
// the request did not pass RequireAPIKey.
func GetAPIKey(ctx context.Context) *model.StoredKey {
	if k, ok := ctx.Value(APIKeyContextKey).(*model.StoredKey); ok {
		return k
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
