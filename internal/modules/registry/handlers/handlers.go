// Package handlers provides HTTP handlers for registry lookups.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
)

// Handler handles registry HTTP requests
type Handler struct {
	service *registry.Service
	log     zerolog.Logger
}

// NewHandler creates a new registry handler
func NewHandler(service *registry.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "registry").Logger(),
	}
}

// HandleListCountries handles GET /api/registry/countries
func (h *Handler) HandleListCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.service.Countries(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list countries")
		http.Error(w, "Failed to list countries", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data": countries,
		"metadata": map[string]interface{}{
			"count":     len(countries),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetCountry handles GET /api/registry/countries/{code}
func (h *Handler) HandleGetCountry(w http.ResponseWriter, r *http.Request, code string) {
	country, err := h.service.Country(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCountry) {
			http.Error(w, "Country not onboarded", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("code", code).Msg("Failed to get country")
		http.Error(w, "Failed to get country", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": country,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetCompany handles GET /api/registry/companies/{id}
func (h *Handler) HandleGetCompany(w http.ResponseWriter, r *http.Request, id string) {
	company, err := h.service.Company(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Company not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get company")
		http.Error(w, "Failed to get company", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": company,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetManager handles GET /api/registry/managers/{id}
func (h *Handler) HandleGetManager(w http.ResponseWriter, r *http.Request, id string) {
	manager, err := h.service.Manager(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Manager not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get manager")
		http.Error(w, "Failed to get manager", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": manager,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
