package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDisclosureRecordValidate tests the ledger boundary checks
func TestDisclosureRecordValidate(t *testing.T) {
	valid := DisclosureRecord{
		EventID:        "ev-1",
		DisclosureDate: "2024-01-01",
		CountryID:      "GB",
		CompanyID:      "co-1",
		ManagerID:      "mgr-1",
		PositionSize:   1.25,
		SourceMode:     SourceModeEventLog,
	}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(r *DisclosureRecord)
	}{
		{"missing event id", func(r *DisclosureRecord) { r.EventID = "" }},
		{"missing country", func(r *DisclosureRecord) { r.CountryID = "" }},
		{"missing company", func(r *DisclosureRecord) { r.CompanyID = "" }},
		{"missing manager", func(r *DisclosureRecord) { r.ManagerID = "" }},
		{"bad date", func(r *DisclosureRecord) { r.DisclosureDate = "01/01/2024" }},
		{"negative size", func(r *DisclosureRecord) { r.PositionSize = -0.1 }},
		{"size above 100", func(r *DisclosureRecord) { r.PositionSize = 100.01 }},
		{"unknown mode", func(r *DisclosureRecord) { r.SourceMode = "rss" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := valid
			c.mutate(&r)
			err := r.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRecord))
		})
	}
}

// TestPositionKey tests key derivation and rendering
func TestPositionKey(t *testing.T) {
	r := DisclosureRecord{CountryID: "DE", CompanyID: "co-9", ManagerID: "mgr-4"}
	key := r.Key()
	assert.Equal(t, PositionKey{CountryID: "DE", CompanyID: "co-9", ManagerID: "mgr-4"}, key)
	assert.Equal(t, "DE/co-9/mgr-4", key.String())
}

// TestSourceModeValid tests mode validation
func TestSourceModeValid(t *testing.T) {
	assert.True(t, SourceModeEventLog.Valid())
	assert.True(t, SourceModeSnapshot.Valid())
	assert.False(t, SourceMode("").Valid())
	assert.False(t, SourceMode("push").Valid())
}

// TestBucketingValid tests bucketing validation
func TestBucketingValid(t *testing.T) {
	assert.True(t, BucketingDaily.Valid())
	assert.True(t, BucketingWeekly.Valid())
	assert.False(t, Bucketing("monthly").Valid())
}
