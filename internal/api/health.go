package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SystemHandler serves the Factory's liveness endpoint, unrelated to caller
// identity or admin guarding.
type SystemHandler struct{}

func (h SystemHandler) Register(r chi.Router) {
	r.Get("/healthz", h.health)
}

func (h SystemHandler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
