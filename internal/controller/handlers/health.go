package handlers

import (
	"net/http"

	"moltstudio/internal/apperr"
)

// Healthz is a liveness probe.
// It returns 200 OK if the server is running.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz is a readiness probe.
// It checks that the database answers.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.respondError(w, r, apperr.Unavailable("Database unavailable").WithCause(err))
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}
