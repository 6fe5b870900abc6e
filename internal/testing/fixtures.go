package testing

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
)

// SilentLogger returns a disabled zerolog logger for tests.
func SilentLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// NewEventLogRecord builds an event-log disclosure record with sensible
// defaults for tests.
func NewEventLogRecord(eventID, date, countryID, companyID, managerID string, size float64) domain.DisclosureRecord {
	return domain.DisclosureRecord{
		EventID:        eventID,
		DisclosureDate: date,
		CountryID:      countryID,
		CompanyID:      companyID,
		ManagerID:      managerID,
		PositionSize:   size,
		SourceMode:     domain.SourceModeEventLog,
		CompanyName:    "Company " + companyID,
		ManagerName:    "Manager " + managerID,
	}
}

// NewSnapshotRecord builds a snapshot disclosure record with sensible
// defaults for tests.
func NewSnapshotRecord(eventID, date, countryID, companyID, managerID string, size float64) domain.DisclosureRecord {
	rec := NewEventLogRecord(eventID, date, countryID, companyID, managerID, size)
	rec.SourceMode = domain.SourceModeSnapshot
	return rec
}

// EventIDs generates n distinct event ids with a shared prefix.
func EventIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%03d", prefix, i+1)
	}
	return ids
}
