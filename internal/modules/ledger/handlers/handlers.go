// Package handlers provides HTTP handlers for ledger reads.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
)

// Handler handles ledger HTTP requests. The ledger is read-only over HTTP;
// writes go through the ingest endpoint.
type Handler struct {
	repo *ledger.Repository
	log  zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(repo *ledger.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleListBatches handles GET /api/ledger/batches
func (h *Handler) HandleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	country := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country")))

	batches, err := h.repo.RecentBatches(r.Context(), country, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list batches")
		http.Error(w, "Failed to list batches", http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []domain.Batch{}
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"batches": batches,
			"count":   len(batches),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetBatch handles GET /api/ledger/batches/{id}
//
// Returns the batch row together with its records in ordering-key order.
func (h *Handler) HandleGetBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	if batchID == "" {
		http.Error(w, "Batch ID is required", http.StatusBadRequest)
		return
	}

	batch, err := h.repo.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Batch not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to get batch")
		http.Error(w, "Failed to get batch", http.StatusInternalServerError)
		return
	}

	records, err := h.repo.GetBatchRecords(r.Context(), batch.Seq)
	if err != nil {
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to get batch records")
		http.Error(w, "Failed to get batch records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.DisclosureRecord{}
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"batch":   batch,
			"records": records,
		},
		"metadata": map[string]interface{}{
			"count":     len(records),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleListRecords handles GET /api/ledger/records
//
// Filters: country, company, manager, through (inclusive date upper bound).
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if limitStr := q.Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	through := q.Get("through")
	if through != "" {
		if _, err := domain.ParseDate(through); err != nil {
			http.Error(w, "Invalid through date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	filter := ledger.RecordFilter{
		CountryID:   strings.ToUpper(strings.TrimSpace(q.Get("country"))),
		CompanyID:   strings.TrimSpace(q.Get("company")),
		ManagerID:   strings.TrimSpace(q.Get("manager")),
		ThroughDate: through,
	}

	records, err := h.repo.ListRecords(r.Context(), filter, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list records")
		http.Error(w, "Failed to list records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.DisclosureRecord{}
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"records": records,
			"count":   len(records),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleSummary handles GET /api/ledger/summary
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalRecords, err := h.repo.CountRecords(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count records")
		http.Error(w, "Failed to query ledger summary", http.StatusInternalServerError)
		return
	}
	totalBatches, err := h.repo.CountBatches(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count batches")
		http.Error(w, "Failed to query ledger summary", http.StatusInternalServerError)
		return
	}
	latestDate, err := h.repo.LatestDisclosureDate(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get latest disclosure date")
		http.Error(w, "Failed to query ledger summary", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"total_records":          totalRecords,
			"total_batches":          totalBatches,
			"latest_disclosure_date": latestDate,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
