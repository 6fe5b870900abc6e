package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all position state routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/positions", func(r chi.Router) {
		r.Get("/active", h.HandleActivePositions)
		r.Get("/state", h.HandleGetPosition)
	})
}
