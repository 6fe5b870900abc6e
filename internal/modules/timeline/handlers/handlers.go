// Package handlers provides HTTP handlers for temporal reconstruction.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
)

// Handler handles timeline HTTP requests
type Handler struct {
	engine *timeline.Engine
	log    zerolog.Logger
}

// NewHandler creates a new timeline handler
func NewHandler(engine *timeline.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With().Str("handler", "timeline").Logger(),
	}
}

// HandleSeries handles GET /api/series
// Query params: from, to (or timeframe: 1w|1m|3m|6m|1y), bucketing
// (daily|weekly), country, company, manager. Long ranges bucket weekly.
func (h *Handler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from := q.Get("from")
	to := q.Get("to")
	bucketing := domain.Bucketing(q.Get("bucketing"))

	if tf := q.Get("timeframe"); tf != "" {
		tfFrom, tfTo, tfBucketing, err := timeline.ResolveTimeframe(tf, domain.Today())
		if err != nil {
			http.Error(w, "Unknown timeframe", http.StatusBadRequest)
			return
		}
		from, to = tfFrom, tfTo
		if bucketing == "" {
			bucketing = tfBucketing
		}
	}
	if from == "" || to == "" {
		http.Error(w, "Missing from/to range or timeframe", http.StatusBadRequest)
		return
	}
	bucketing = timeline.ResolveBucketing(bucketing, from, to)

	filter := timeline.Filter{
		CountryID: q.Get("country"),
		CompanyID: q.Get("company"),
		ManagerID: q.Get("manager"),
	}

	series, err := h.engine.SeriesOver(r.Context(), filter, from, to, bucketing)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidQuery):
			http.Error(w, "Invalid series query", http.StatusBadRequest)
		case errors.Is(err, domain.ErrUnknownCountry):
			http.Error(w, "Unknown country", http.StatusNotFound)
		default:
			h.log.Error().Err(err).Msg("Failed to reconstruct series")
			http.Error(w, "Failed to reconstruct series", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": series,
		"metadata": map[string]interface{}{
			"points":    len(series.Points),
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
