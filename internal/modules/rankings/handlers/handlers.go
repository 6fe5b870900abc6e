// Package handlers provides HTTP handlers for ranking and summary queries.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/rankings"
)

// Handler handles rankings HTTP requests
type Handler struct {
	service *rankings.Service
	log     zerolog.Logger
}

// NewHandler creates a new rankings handler
func NewHandler(service *rankings.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "rankings").Logger(),
	}
}

// HandleCompanies handles GET /api/rankings/companies
//
// Query params: country (optional), limit (default 10), as_of (optional
// date). Without as_of the ranking reads the live state table; with as_of it
// runs against a reconstruction of that date.
func (h *Handler) HandleCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	country := q.Get("country")
	asOf := q.Get("as_of")
	limit := limitParam(r, rankings.DefaultLimit)

	var companies []rankings.CompanyAggregate
	var err error
	if asOf != "" {
		companies, err = h.service.CompaniesAsOf(r.Context(), country, limit, asOf)
	} else {
		companies, err = h.service.Companies(r.Context(), country, limit)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidQuery):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrUnknownCountry):
			http.Error(w, "Unknown country", http.StatusNotFound)
		default:
			h.log.Error().Err(err).Msg("Failed to rank companies")
			http.Error(w, "Failed to rank companies", http.StatusInternalServerError)
		}
		return
	}

	meta := map[string]interface{}{
		"count":     len(companies),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if asOf != "" {
		meta["as_of"] = asOf
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     companies,
		"metadata": meta,
	})
}

// HandleManagers handles GET /api/rankings/managers
//
// Query params: country (optional), limit (default 10), as_of (optional
// date).
func (h *Handler) HandleManagers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	country := q.Get("country")
	asOf := q.Get("as_of")
	limit := limitParam(r, rankings.DefaultLimit)

	var managers []rankings.ManagerAggregate
	var err error
	if asOf != "" {
		managers, err = h.service.ManagersAsOf(r.Context(), country, limit, asOf)
	} else {
		managers, err = h.service.Managers(r.Context(), country, limit)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidQuery):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrUnknownCountry):
			http.Error(w, "Unknown country", http.StatusNotFound)
		default:
			h.log.Error().Err(err).Msg("Failed to rank managers")
			http.Error(w, "Failed to rank managers", http.StatusInternalServerError)
		}
		return
	}

	meta := map[string]interface{}{
		"count":     len(managers),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if asOf != "" {
		meta["as_of"] = asOf
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     managers,
		"metadata": meta,
	})
}

// HandleSummary handles GET /api/summary
// Query params: country (optional)
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")

	summary, err := h.service.Summary(r.Context(), country)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCountry) {
			http.Error(w, "Unknown country", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to build summary")
		http.Error(w, "Failed to build summary", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": summary,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func limitParam(r *http.Request, fallback int) int {
	limit := fallback
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
