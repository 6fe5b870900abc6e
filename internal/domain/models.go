// Package domain provides core domain models and types.
package domain

import "fmt"

// SourceMode describes how a jurisdiction's regulator publishes disclosures.
type SourceMode string

const (
	// SourceModeEventLog sources report individual disclosure changes,
	// including explicit closures (a record below the threshold).
	SourceModeEventLog SourceMode = "event_log"
	// SourceModeSnapshot sources report the complete current active set on
	// each pull, with no explicit closure events.
	SourceModeSnapshot SourceMode = "snapshot"
)

// Valid reports whether the mode is one of the known source modes.
func (m SourceMode) Valid() bool {
	return m == SourceModeEventLog || m == SourceModeSnapshot
}

// DisclosureRecord is a single normalized disclosure event. Records are
// immutable once appended to the ledger.
//
// CompanyName, ManagerName and ISIN are display metadata resolved upstream;
// they ride along so the reference registry can be kept current, but they
// never participate in reconciliation.
type DisclosureRecord struct {
	EventID        string     `json:"event_id"`
	DisclosureDate string     `json:"disclosure_date"` // YYYY-MM-DD
	CountryID      string     `json:"country_id"`
	CompanyID      string     `json:"company_id"`
	ManagerID      string     `json:"manager_id"`
	PositionSize   float64    `json:"position_size"` // percent of issued capital, 0-100
	SourceMode     SourceMode `json:"source_mode"`
	BatchID        string     `json:"ingestion_batch_id"`
	CompanyName    string     `json:"company_name,omitempty"`
	ManagerName    string     `json:"manager_name,omitempty"`
	ISIN           string     `json:"isin,omitempty"`

	// EventSeq and BatchSeq are assigned by the ledger at append time and
	// form the tie-breaking tail of the ordering key
	// (disclosure_date, batch_seq, event_seq). Zero until appended.
	EventSeq int64 `json:"-"`
	BatchSeq int64 `json:"-"`
}

// Key returns the position identity of the record.
func (r *DisclosureRecord) Key() PositionKey {
	return PositionKey{CountryID: r.CountryID, CompanyID: r.CompanyID, ManagerID: r.ManagerID}
}

// Validate checks the fields every ledger entry must carry. A failure means
// the whole batch is rejected, so the message names the offending record.
func (r *DisclosureRecord) Validate() error {
	if r.EventID == "" {
		return fmt.Errorf("%w: missing event_id", ErrInvalidRecord)
	}
	if r.CountryID == "" || r.CompanyID == "" || r.ManagerID == "" {
		return fmt.Errorf("%w: record %s missing identifiers", ErrInvalidRecord, r.EventID)
	}
	if _, err := ParseDate(r.DisclosureDate); err != nil {
		return fmt.Errorf("%w: record %s has invalid disclosure_date %q", ErrInvalidRecord, r.EventID, r.DisclosureDate)
	}
	if r.PositionSize < 0 || r.PositionSize > 100 {
		return fmt.Errorf("%w: record %s has position_size %.4f outside [0,100]", ErrInvalidRecord, r.EventID, r.PositionSize)
	}
	if !r.SourceMode.Valid() {
		return fmt.Errorf("%w: record %s has unknown source_mode %q", ErrInvalidRecord, r.EventID, r.SourceMode)
	}
	return nil
}

// PositionKey identifies a short position: one manager shorting one company
// in one jurisdiction. Comparable, usable as a map key.
type PositionKey struct {
	CountryID string `json:"country_id"`
	CompanyID string `json:"company_id"`
	ManagerID string `json:"manager_id"`
}

// String renders the key for logs and cache keys.
func (k PositionKey) String() string {
	return k.CountryID + "/" + k.CompanyID + "/" + k.ManagerID
}

// PositionState is the derived, mutable state of one PositionKey. One row per
// key, owned exclusively by the reconciler, never deleted. LatestDate tracks
// the disclosure date of the newest applied record (or implicit closure), and
// LastSeenBatchSeq the ledger sequence of the newest applied batch; both back
// the idempotence and ordering guards.
type PositionState struct {
	Key              PositionKey `json:"position_key"`
	LatestEventID    string      `json:"latest_event_id"`
	CurrentSize      float64     `json:"current_size"`
	IsActive         bool        `json:"is_active"`
	ActiveSinceDate  string      `json:"active_since_date,omitempty"` // empty while closed
	LatestDate       string      `json:"latest_date"`
	LastSeenBatchSeq int64       `json:"last_seen_batch_seq"`
}

// Batch is the ledger's view of one ingestion batch. Seq is assigned at
// append time and is strictly increasing, so it orders batches the way UUIDs
// cannot. MinDate/MaxDate span the disclosure dates inside the batch; for
// snapshot batches the two are equal.
type Batch struct {
	Seq         int64      `json:"batch_seq"`
	BatchID     string     `json:"batch_id"`
	CountryID   string     `json:"country_id"`
	SourceMode  SourceMode `json:"source_mode"`
	MinDate     string     `json:"min_date"`
	MaxDate     string     `json:"max_date"`
	RecordCount int        `json:"record_count"`
	AppendedAt  string     `json:"appended_at"`
}

// ActivePosition is one entry of an active set: either the current one from
// PositionState or a reconstructed one as of a historical date.
type ActivePosition struct {
	Key       PositionKey `json:"position_key"`
	Size      float64     `json:"size"`
	SinceDate string      `json:"since_date,omitempty"`
}

// Bucketing selects the series resolution.
type Bucketing string

const (
	BucketingDaily  Bucketing = "daily"
	BucketingWeekly Bucketing = "weekly"
)

// Valid reports whether the bucketing is one of the known resolutions.
func (b Bucketing) Valid() bool {
	return b == BucketingDaily || b == BucketingWeekly
}
