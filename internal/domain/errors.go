package domain

import "errors"

// Sentinel errors for the ingestion and reconciliation boundary. Callers
// match with errors.Is; wrapped messages carry the specifics.
var (
	// ErrInvalidRecord rejects a malformed record at the ledger boundary.
	// Batch-level: one bad record fails the whole batch, nothing is appended.
	ErrInvalidRecord = errors.New("invalid disclosure record")

	// ErrInconsistentSourceMode rejects a batch whose declared source mode
	// differs from the country's registered mode. A country's mode is fixed
	// at onboarding, never inferred per batch.
	ErrInconsistentSourceMode = errors.New("inconsistent source mode")

	// ErrOutOfOrderBatch rejects a batch older than the newest batch already
	// applied for its country. Recoverable: the caller may re-queue it after
	// earlier batches land, or trigger a full replay.
	ErrOutOfOrderBatch = errors.New("out of order batch")

	// ErrUnknownCountry rejects input for a jurisdiction missing from the
	// country registry.
	ErrUnknownCountry = errors.New("unknown country")

	// ErrNotFound reports a lookup miss for registry entities.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuery rejects a malformed read request, such as an inverted
	// date range or an unknown bucketing.
	ErrInvalidQuery = errors.New("invalid query")
)
