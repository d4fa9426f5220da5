package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether the key store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readyTimeout bounds the store ping behind /readyz.
const readyTimeout = 2 * time.Second

// SystemHandler serves the liveness and readiness probes.
type SystemHandler struct {
	store Pinger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store Pinger) *SystemHandler {
	return &SystemHandler{store: store}
}

// Healthz is a liveness probe. Returns 200 while the process is running.
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz returns 200 when the key store answers a ping and 503 otherwise.
// GET /readyz
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"store":  "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
}
