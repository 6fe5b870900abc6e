// Package server provides the HTTP server and routing for Shortwatch.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/shortwatch/shortwatch/internal/database"
)

// handleHealth handles health check requests. An unreachable database
// degrades the whole service.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	databases := make(map[string]string, 3)
	healthy := true

	for _, db := range []*database.DB{s.container.LedgerDB, s.container.StateDB, s.container.CacheDB} {
		if err := db.HealthCheck(r.Context()); err != nil {
			databases[db.Name()] = "unreachable"
			healthy = false
		} else {
			databases[db.Name()] = "ok"
		}
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"version":   "1.0.0",
		"service":   "shortwatch",
		"databases": databases,
	}

	status := http.StatusOK
	if !healthy {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
