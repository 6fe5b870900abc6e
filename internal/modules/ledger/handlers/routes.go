package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/batches", h.HandleListBatches)
		r.Get("/batches/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetBatch(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/records", h.HandleListRecords)
		r.Get("/summary", h.HandleSummary)
	})
}
