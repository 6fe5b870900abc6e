package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "countries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadCountryRegistry tests parsing, defaults, and ordering of the
// jurisdiction registry
func TestLoadCountryRegistry(t *testing.T) {
	path := writeRegistry(t, `
countries:
  - code: GB
    name: United Kingdom
    source_mode: event_log
  - code: DE
    name: Germany
    source_mode: snapshot
    threshold: 0.4
  - code: NO
    name: Norway
    source_mode: snapshot
    inactive: true
`)

	countries, err := LoadCountryRegistry(path)
	require.NoError(t, err)
	require.Len(t, countries, 3)

	assert.Equal(t, "GB", countries[0].Code)
	assert.Equal(t, DefaultThreshold, countries[0].Threshold, "threshold defaults when omitted")
	assert.Equal(t, "event_log", countries[0].SourceMode)

	assert.Equal(t, 0.4, countries[1].Threshold)
	assert.False(t, countries[1].Inactive)

	assert.True(t, countries[2].Inactive)
}

// TestLoadCountryRegistryRejectsBadEntries tests registry validation
func TestLoadCountryRegistryRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty file", "countries: []\n"},
		{"missing name", "countries:\n  - code: GB\n    source_mode: event_log\n"},
		{"unknown mode", "countries:\n  - code: GB\n    name: UK\n    source_mode: feed\n"},
		{"duplicate code", "countries:\n  - code: GB\n    name: UK\n    source_mode: event_log\n  - code: GB\n    name: UK again\n    source_mode: event_log\n"},
		{"negative threshold", "countries:\n  - code: GB\n    name: UK\n    source_mode: event_log\n    threshold: -1\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeRegistry(t, c.content)
			_, err := LoadCountryRegistry(path)
			assert.Error(t, err)
		})
	}
}

// TestLoadCountryRegistryMissingFile tests the not-found path
func TestLoadCountryRegistryMissingFile(t *testing.T) {
	_, err := LoadCountryRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
