package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all registry routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/registry", func(r chi.Router) {
		r.Get("/countries", h.HandleListCountries)
		r.Get("/countries/{code}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetCountry(w, r, chi.URLParam(r, "code"))
		})
		r.Get("/companies/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetCompany(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/managers/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetManager(w, r, chi.URLParam(r, "id"))
		})
	})
}
