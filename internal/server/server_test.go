package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))

	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "shortwatch", response["service"])

	databases, ok := response["databases"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", databases["ledger"])
	assert.Equal(t, "ok", databases["state"])
	assert.Equal(t, "ok", databases["cache"])
}

// TestRouteRegistration walks the mounted API surface with an empty data
// directory and checks each route responds with its expected status.
func TestRouteRegistration(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/registry/countries", "", http.StatusOK},
		{http.MethodGet, "/api/registry/countries/GB", "", http.StatusOK},
		{http.MethodGet, "/api/registry/countries/XX", "", http.StatusNotFound},
		{http.MethodGet, "/api/positions/active", "", http.StatusOK},
		{http.MethodGet, "/api/ledger/batches", "", http.StatusOK},
		{http.MethodGet, "/api/ledger/summary", "", http.StatusOK},
		{http.MethodGet, "/api/rankings/companies", "", http.StatusOK},
		{http.MethodGet, "/api/rankings/companies?as_of=2024-01-05", "", http.StatusOK},
		{http.MethodGet, "/api/rankings/managers", "", http.StatusOK},
		{http.MethodGet, "/api/rankings/managers?as_of=not-a-date", "", http.StatusBadRequest},
		{http.MethodGet, "/api/summary", "", http.StatusOK},
		{http.MethodGet, "/api/series", "", http.StatusBadRequest},
		{http.MethodGet, "/api/ingest/runs", "", http.StatusOK},
		{http.MethodPost, "/api/ingest", "{not json", http.StatusBadRequest},
		{http.MethodGet, "/api/system/status", "", http.StatusOK},
		{http.MethodGet, "/api/nope", "", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			var req *http.Request
			if tc.body != "" {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tc.method, tc.path, nil)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestEventsStreamRejectsNonGet(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/events/stream", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	// chi returns 405 for an unmatched method on a registered pattern
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
