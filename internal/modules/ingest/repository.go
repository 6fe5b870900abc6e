// Package ingest drives disclosure batches through the full pipeline:
// ledger append, reconciliation, entity bookkeeping. Every attempt leaves a
// run row so operators can see why a feed stalled without grepping logs.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Run statuses. A rejected run broke a domain rule (invalid record, wrong
// source mode, out-of-order batch); a failed run hit infrastructure trouble.
const (
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Run is one recorded ingest attempt.
type Run struct {
	ID          int64  `json:"id"`
	CountryID   string `json:"country_id"`
	BatchID     string `json:"batch_id,omitempty"`
	Status      string `json:"status"`
	Records     int    `json:"records"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

// Repository persists ingest run history in the state database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ingest run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "ingest").Logger(),
	}
}

// RecordRun stores one run outcome and fills in its assigned id.
func (r *Repository) RecordRun(ctx context.Context, run *Run) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (country_id, batch_id, status, records, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.CountryID, nullString(run.BatchID), run.Status, run.Records,
		nullString(run.Error), run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to record ingest run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ingest run id: %w", err)
	}
	return nil
}

// ListRuns returns run history newest-first. An empty countryID covers every
// country; limit <= 0 falls back to 50.
func (r *Repository) ListRuns(ctx context.Context, countryID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, country_id, batch_id, status, records, error, started_at, completed_at
		FROM ingest_runs`
	args := []interface{}{}
	if countryID != "" {
		query += " WHERE country_id = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(countryID)))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var batchID, errText sql.NullString
		if err := rows.Scan(&run.ID, &run.CountryID, &batchID, &run.Status,
			&run.Records, &errText, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		run.BatchID = batchID.String
		run.Error = errText.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRuns returns per-status run counts for the system status endpoint.
func (r *Repository) CountRuns(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM ingest_runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count ingest runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan ingest run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
