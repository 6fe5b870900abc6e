package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ingest routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ingest", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/runs", h.HandleRuns)
	})
}
