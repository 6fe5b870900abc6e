// Package ledger owns the append-only disclosure event store. Records are
// immutable once appended; every downstream view is derived from here.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/domain"
)

// AppendRequest is one ingestion batch to be appended.
type AppendRequest struct {
	BatchID    string
	CountryID  string
	SourceMode domain.SourceMode
	// SnapshotDate is the pull date for snapshot batches. Every record in a
	// snapshot batch must carry this date, and it is the date implicit
	// closures are stamped with. Ignored for event-log batches.
	SnapshotDate string
	Records      []domain.DisclosureRecord
}

// RecordFilter narrows ledger sweeps. Zero values mean "no constraint".
type RecordFilter struct {
	CountryID   string
	CompanyID   string
	ManagerID   string
	ThroughDate string // inclusive upper bound on disclosure_date
}

// Repository provides access to the disclosure ledger.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ledger repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ledger").Logger(),
	}
}

// Append validates and appends one batch atomically. Either every record
// becomes visible together with the batch row, or nothing does. Returns the
// stored batch with its ledger-assigned sequence.
func (r *Repository) Append(ctx context.Context, req AppendRequest) (*domain.Batch, error) {
	if err := r.validate(&req); err != nil {
		return nil, err
	}

	// A country's mode is fixed by its history; a batch that disagrees is
	// rejected before anything is written.
	lastMode, err := r.lastSourceMode(ctx, req.CountryID)
	if err != nil {
		return nil, err
	}
	if lastMode != "" && lastMode != req.SourceMode {
		return nil, fmt.Errorf("%w: country %s has %s history, batch declares %s",
			domain.ErrInconsistentSourceMode, req.CountryID, lastMode, req.SourceMode)
	}

	minDate, maxDate := req.SnapshotDate, req.SnapshotDate
	if req.SourceMode == domain.SourceModeEventLog {
		minDate, maxDate = dateSpan(req.Records)
	}

	batch := &domain.Batch{
		BatchID:     req.BatchID,
		CountryID:   req.CountryID,
		SourceMode:  req.SourceMode,
		MinDate:     minDate,
		MaxDate:     maxDate,
		RecordCount: len(req.Records),
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ingestion_batches (batch_id, country_id, source_mode, min_date, max_date, record_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, batch.BatchID, batch.CountryID, string(batch.SourceMode), batch.MinDate, batch.MaxDate, batch.RecordCount)
		if err != nil {
			return fmt.Errorf("failed to insert batch row: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read batch sequence: %w", err)
		}
		batch.Seq = seq

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO disclosures (
				event_id, batch_seq, batch_id, country_id, company_id, manager_id,
				disclosure_date, position_size, source_mode, company_name, manager_name, isin
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare disclosure insert: %w", err)
		}
		defer stmt.Close()

		for i := range req.Records {
			rec := &req.Records[i]
			_, err := stmt.ExecContext(ctx,
				rec.EventID, batch.Seq, batch.BatchID, rec.CountryID, rec.CompanyID, rec.ManagerID,
				rec.DisclosureDate, rec.PositionSize, string(rec.SourceMode),
				nullString(rec.CompanyName), nullString(rec.ManagerName), nullString(rec.ISIN),
			)
			if err != nil {
				if strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return fmt.Errorf("%w: event %s already ledgered", domain.ErrInvalidRecord, rec.EventID)
				}
				return fmt.Errorf("failed to insert disclosure %s: %w", rec.EventID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Str("batch_id", batch.BatchID).
		Str("country", batch.CountryID).
		Str("mode", string(batch.SourceMode)).
		Int("records", batch.RecordCount).
		Int64("seq", batch.Seq).
		Msg("Batch appended")

	return batch, nil
}

// validate applies the ledger boundary checks. Batch-level: the first bad
// record fails the whole batch.
func (r *Repository) validate(req *AppendRequest) error {
	if req.BatchID == "" || req.CountryID == "" {
		return fmt.Errorf("%w: batch missing batch_id or country_id", domain.ErrInvalidRecord)
	}
	if !req.SourceMode.Valid() {
		return fmt.Errorf("%w: batch declares unknown source_mode %q", domain.ErrInvalidRecord, req.SourceMode)
	}

	switch req.SourceMode {
	case domain.SourceModeSnapshot:
		// Empty snapshots are meaningful: everything open gets closed.
		if _, err := domain.ParseDate(req.SnapshotDate); err != nil {
			return fmt.Errorf("%w: snapshot batch needs a valid snapshot_date: %v", domain.ErrInvalidRecord, err)
		}
	case domain.SourceModeEventLog:
		if len(req.Records) == 0 {
			return fmt.Errorf("%w: event-log batch carries no records", domain.ErrInvalidRecord)
		}
	}

	seen := make(map[string]bool, len(req.Records))
	for i := range req.Records {
		rec := &req.Records[i]
		if err := rec.Validate(); err != nil {
			return err
		}
		if rec.CountryID != req.CountryID {
			return fmt.Errorf("%w: record %s is for %s inside a %s batch",
				domain.ErrInvalidRecord, rec.EventID, rec.CountryID, req.CountryID)
		}
		if rec.SourceMode != req.SourceMode {
			return fmt.Errorf("%w: record %s declares %s inside a %s batch",
				domain.ErrInvalidRecord, rec.EventID, rec.SourceMode, req.SourceMode)
		}
		if req.SourceMode == domain.SourceModeSnapshot && rec.DisclosureDate != req.SnapshotDate {
			return fmt.Errorf("%w: record %s dated %s inside a snapshot of %s",
				domain.ErrInvalidRecord, rec.EventID, rec.DisclosureDate, req.SnapshotDate)
		}
		if seen[rec.EventID] {
			return fmt.Errorf("%w: event %s appears twice in batch", domain.ErrInvalidRecord, rec.EventID)
		}
		seen[rec.EventID] = true
	}
	return nil
}

// lastSourceMode returns the mode of the country's newest batch, or "" when
// the country has no history yet.
func (r *Repository) lastSourceMode(ctx context.Context, countryID string) (domain.SourceMode, error) {
	var mode string
	err := r.db.QueryRowContext(ctx, `
		SELECT source_mode FROM ingestion_batches
		WHERE country_id = ?
		ORDER BY batch_seq DESC LIMIT 1
	`, countryID).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query batch history for %s: %w", countryID, err)
	}
	return domain.SourceMode(mode), nil
}

// GetBatch returns one batch by its external id.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT batch_seq, batch_id, country_id, source_mode, min_date, max_date, record_count, appended_at
		FROM ingestion_batches WHERE batch_id = ?
	`, batchID)
	return scanBatch(row)
}

// ListBatches returns a country's batches in apply order starting after the
// given sequence. Used by the reconciler's replay path.
func (r *Repository) ListBatches(ctx context.Context, countryID string, afterSeq int64) ([]domain.Batch, error) {
	query := `
		SELECT batch_seq, batch_id, country_id, source_mode, min_date, max_date, record_count, appended_at
		FROM ingestion_batches WHERE batch_seq > ?`
	args := []interface{}{afterSeq}
	if countryID != "" {
		query += " AND country_id = ?"
		args = append(args, countryID)
	}
	query += " ORDER BY batch_seq"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		b, err := scanBatchRows(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// GetBatchRecords returns a batch's records in ordering-key order.
func (r *Repository) GetBatchRecords(ctx context.Context, batchSeq int64) ([]domain.DisclosureRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectRecords+`
		WHERE batch_seq = ?
		ORDER BY disclosure_date, batch_seq, event_seq
	`, batchSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch records: %w", err)
	}
	defer rows.Close()

	var records []domain.DisclosureRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// StreamOrdered walks matching records in the ledger ordering key
// (disclosure_date, batch_seq, event_seq), invoking fn for each. fn returning
// an error stops the walk; the reconstruction sweep uses this for
// cooperative cancellation.
func (r *Repository) StreamOrdered(ctx context.Context, f RecordFilter, fn func(*domain.DisclosureRecord) error) error {
	query := selectRecords + " WHERE 1=1"
	args := []interface{}{}

	if f.CountryID != "" {
		query += " AND country_id = ?"
		args = append(args, f.CountryID)
	}
	if f.CompanyID != "" {
		query += " AND company_id = ?"
		args = append(args, f.CompanyID)
	}
	if f.ManagerID != "" {
		query += " AND manager_id = ?"
		args = append(args, f.ManagerID)
	}
	if f.ThroughDate != "" {
		query += " AND disclosure_date <= ?"
		args = append(args, f.ThroughDate)
	}
	query += " ORDER BY disclosure_date, batch_seq, event_seq"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query ledger sweep: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SnapshotBatchDates returns, in apply order, the (batch_seq, snapshot date)
// pairs of a country's snapshot batches through the given date. The sweep
// needs these because an empty snapshot leaves no disclosure rows yet still
// closes positions. An empty throughDate means the whole ledger.
func (r *Repository) SnapshotBatchDates(ctx context.Context, countryID, throughDate string) ([]domain.Batch, error) {
	query := `
		SELECT batch_seq, batch_id, country_id, source_mode, min_date, max_date, record_count, appended_at
		FROM ingestion_batches
		WHERE source_mode = 'snapshot'`
	args := []interface{}{}
	if throughDate != "" {
		query += " AND max_date <= ?"
		args = append(args, throughDate)
	}
	if countryID != "" {
		query += " AND country_id = ?"
		args = append(args, countryID)
	}
	query += " ORDER BY max_date, batch_seq"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		b, err := scanBatchRows(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// RecentBatches returns batches newest first, optionally narrowed to one
// country. Feeds the ledger read API.
func (r *Repository) RecentBatches(ctx context.Context, countryID string, limit int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT batch_seq, batch_id, country_id, source_mode, min_date, max_date, record_count, appended_at
		FROM ingestion_batches`
	args := []interface{}{}
	if countryID != "" {
		query += " WHERE country_id = ?"
		args = append(args, countryID)
	}
	query += " ORDER BY batch_seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		b, err := scanBatchRows(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// ListRecords returns matching records in ordering-key order, capped at limit.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter, limit int) ([]domain.DisclosureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := selectRecords + " WHERE 1=1"
	args := []interface{}{}

	if f.CountryID != "" {
		query += " AND country_id = ?"
		args = append(args, f.CountryID)
	}
	if f.CompanyID != "" {
		query += " AND company_id = ?"
		args = append(args, f.CompanyID)
	}
	if f.ManagerID != "" {
		query += " AND manager_id = ?"
		args = append(args, f.ManagerID)
	}
	if f.ThroughDate != "" {
		query += " AND disclosure_date <= ?"
		args = append(args, f.ThroughDate)
	}
	query += " ORDER BY disclosure_date, batch_seq, event_seq LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	defer rows.Close()

	var records []domain.DisclosureRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountBatches returns the total number of ledgered batches.
func (r *Repository) CountBatches(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingestion_batches").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return n, nil
}

// LatestDisclosureDate returns the newest disclosure date in the ledger, ""
// when empty. Feeds the global summary.
func (r *Repository) LatestDisclosureDate(ctx context.Context) (string, error) {
	var date sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT MAX(disclosure_date) FROM disclosures").Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest disclosure date: %w", err)
	}
	return date.String, nil
}

// CountRecords returns the total number of ledger entries.
func (r *Repository) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM disclosures").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count disclosures: %w", err)
	}
	return n, nil
}

const selectRecords = `
	SELECT event_seq, event_id, batch_seq, batch_id, country_id, company_id, manager_id,
	       disclosure_date, position_size, source_mode, company_name, manager_name, isin
	FROM disclosures`

func scanRecord(rows *sql.Rows) (*domain.DisclosureRecord, error) {
	var rec domain.DisclosureRecord
	var mode string
	var companyName, managerName, isin sql.NullString

	err := rows.Scan(
		&rec.EventSeq, &rec.EventID, &rec.BatchSeq, &rec.BatchID,
		&rec.CountryID, &rec.CompanyID, &rec.ManagerID,
		&rec.DisclosureDate, &rec.PositionSize, &mode,
		&companyName, &managerName, &isin,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan disclosure row: %w", err)
	}
	rec.SourceMode = domain.SourceMode(mode)
	rec.CompanyName = companyName.String
	rec.ManagerName = managerName.String
	rec.ISIN = isin.String
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var b domain.Batch
	var mode string
	err := row.Scan(&b.Seq, &b.BatchID, &b.CountryID, &mode, &b.MinDate, &b.MaxDate, &b.RecordCount, &b.AppendedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch row: %w", err)
	}
	b.SourceMode = domain.SourceMode(mode)
	return &b, nil
}

func scanBatchRows(rows *sql.Rows) (*domain.Batch, error) {
	return scanBatch(rows)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// dateSpan returns the min and max disclosure dates across records.
func dateSpan(records []domain.DisclosureRecord) (string, string) {
	if len(records) == 0 {
		return "", ""
	}
	min, max := records[0].DisclosureDate, records[0].DisclosureDate
	for i := range records[1:] {
		d := records[i+1].DisclosureDate
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}
