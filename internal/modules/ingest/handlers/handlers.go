// Package handlers provides HTTP handlers for batch submission and ingest
// run history.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/ingest"
)

// Handler handles ingest HTTP requests
type Handler struct {
	service *ingest.Service
	log     zerolog.Logger
}

// NewHandler creates a new ingest handler
func NewHandler(service *ingest.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ingest").Logger(),
	}
}

// HandleSubmit handles POST /api/ingest
// Body: a SubmitRequest. Responds 201 with the reconciliation result, or the
// mapped domain status when the batch is refused.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req ingest.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("country", req.CountryID).Msg("Failed to ingest batch")
			http.Error(w, "Failed to ingest batch", status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRuns handles GET /api/ingest/runs
// Query params: country (optional), limit (default 50)
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.service.Runs(r.Context(), country, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list ingest runs")
		http.Error(w, "Failed to list ingest runs", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": runs,
		"metadata": map[string]interface{}{
			"count":     len(runs),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// statusFor maps pipeline failures onto HTTP statuses: malformed queries to
// 400, unknown references to 404, ordering conflicts to 409, domain-rule
// rejections to 422.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownCountry), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOutOfOrderBatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRecord), errors.Is(err, domain.ErrInconsistentSourceMode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
