package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rankings routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rankings", func(r chi.Router) {
		r.Get("/companies", h.HandleCompanies)
		r.Get("/managers", h.HandleManagers)
	})
	r.Get("/summary", h.HandleSummary)
}
