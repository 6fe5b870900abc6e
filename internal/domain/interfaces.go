package domain

import "context"

// SourceAdapter is the boundary to the per-jurisdiction scraping and parsing
// collaborators. An adapter fetches one regulator's publication and returns
// normalized records; fetching, file formats, and entity resolution all live
// behind this interface.
type SourceAdapter interface {
	// CountryID returns the jurisdiction this adapter feeds.
	CountryID() string

	// Fetch pulls the source once and returns normalized records. For
	// snapshot-mode sources the slice is the complete active set as of the
	// pull; for event-log sources it contains the changes since the last
	// pull. Empty slices are valid (a snapshot of nothing closes everything).
	Fetch(ctx context.Context) ([]DisclosureRecord, error)
}
