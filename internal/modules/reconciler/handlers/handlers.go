// Package handlers provides HTTP handlers for position state reads.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
)

// Handler handles position state HTTP requests
type Handler struct {
	service  *reconciler.Service
	engine   *timeline.Engine
	registry *registry.Service
	log      zerolog.Logger
}

// NewHandler creates a new positions handler
func NewHandler(
	service *reconciler.Service,
	engine *timeline.Engine,
	registrySvc *registry.Service,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:  service,
		engine:   engine,
		registry: registrySvc,
		log:      log.With().Str("handler", "positions").Logger(),
	}
}

// HandleActivePositions handles GET /api/positions/active
//
// Without as_of it reads the live state table. With as_of it reconstructs
// the active set from the ledger; both paths apply the same transition
// rules, so as_of set to today matches the live answer.
func (h *Handler) HandleActivePositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	country := q.Get("country")
	asOf := q.Get("as_of")

	if asOf != "" {
		h.activeAsOf(w, r, country, asOf)
		return
	}

	limit := 100
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if s := q.Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}

	positions, err := h.service.ActivePositions(r.Context(), country, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list active positions")
		http.Error(w, "Failed to list active positions", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": positions,
		"metadata": map[string]interface{}{
			"count":     len(positions),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) activeAsOf(w http.ResponseWriter, r *http.Request, country, asOf string) {
	ctx := r.Context()
	active, err := h.engine.ActiveAsOf(ctx, timeline.Filter{CountryID: country}, asOf)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidQuery):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrUnknownCountry):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.log.Error().Err(err).Str("as_of", asOf).Msg("Failed to reconstruct active set")
			http.Error(w, "Failed to reconstruct active set", http.StatusInternalServerError)
		}
		return
	}

	companyIDs := make([]string, 0, len(active))
	managerIDs := make([]string, 0, len(active))
	for i := range active {
		companyIDs = append(companyIDs, active[i].Key.CompanyID)
		managerIDs = append(managerIDs, active[i].Key.ManagerID)
	}
	companyNames, err := h.registry.CompanyNames(ctx, companyIDs)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to resolve company names")
		http.Error(w, "Failed to resolve names", http.StatusInternalServerError)
		return
	}
	managerNames, err := h.registry.ManagerNames(ctx, managerIDs)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to resolve manager names")
		http.Error(w, "Failed to resolve names", http.StatusInternalServerError)
		return
	}

	rows := make([]reconciler.ActivePositionRow, 0, len(active))
	for i := range active {
		p := &active[i]
		rows = append(rows, reconciler.ActivePositionRow{
			CountryID:       p.Key.CountryID,
			CompanyID:       p.Key.CompanyID,
			CompanyName:     companyNames[p.Key.CompanyID],
			ManagerID:       p.Key.ManagerID,
			ManagerName:     managerNames[p.Key.ManagerID],
			PositionSize:    p.Size,
			ActiveSinceDate: p.SinceDate,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": rows,
		"metadata": map[string]interface{}{
			"count":     len(rows),
			"as_of":     asOf,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetPosition handles GET /api/positions/state
//
// Requires country, company and manager query parameters naming one key.
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := domain.PositionKey{
		CountryID: q.Get("country"),
		CompanyID: q.Get("company"),
		ManagerID: q.Get("manager"),
	}
	if key.CountryID == "" || key.CompanyID == "" || key.ManagerID == "" {
		http.Error(w, "country, company and manager are required", http.StatusBadRequest)
		return
	}

	state, err := h.service.State(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Position not tracked", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("key", key.String()).Msg("Failed to get position state")
		http.Error(w, "Failed to get position state", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": state,
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
