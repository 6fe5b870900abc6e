// Package reconciler maintains the authoritative position state. It applies
// ledgered batches through the shared transition rules, one country at a
// time, and keeps a per-batch watermark so replays and retries stay
// idempotent.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/domain"
)

// Watermark is the newest applied batch for one country. Zero value means
// the country has no applied history.
type Watermark struct {
	MaxSeq  int64
	MaxDate string
}

// ActivePositionRow is one live open position joined with display names.
type ActivePositionRow struct {
	CountryID       string  `json:"country_id"`
	CompanyID       string  `json:"company_id"`
	CompanyName     string  `json:"company_name"`
	ManagerID       string  `json:"manager_id"`
	ManagerName     string  `json:"manager_name"`
	PositionSize    float64 `json:"position_size"`
	ActiveSinceDate string  `json:"active_since_date"`
	LatestDate      string  `json:"latest_date"`
	LatestEventID   string  `json:"latest_event_id"`
}

// Repository persists the reconciler's projection in the state database.
type Repository struct {
	stateDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a new reconciler repository
func NewRepository(stateDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		stateDB: stateDB,
		log:     log.With().Str("repo", "reconciler").Logger(),
	}
}

// IsApplied reports whether a ledger batch has already been absorbed.
func (r *Repository) IsApplied(ctx context.Context, batchSeq int64) (bool, error) {
	var n int
	err := r.stateDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM applied_batches WHERE batch_seq = ?", batchSeq).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check applied batch %d: %w", batchSeq, err)
	}
	return n > 0, nil
}

// CountryWatermark returns the newest applied batch for a country.
func (r *Repository) CountryWatermark(ctx context.Context, countryID string) (*Watermark, error) {
	var wm Watermark
	var seq sql.NullInt64
	var date sql.NullString
	err := r.stateDB.QueryRowContext(ctx, `
		SELECT MAX(batch_seq), MAX(batch_date) FROM applied_batches WHERE country_id = ?
	`, countryID).Scan(&seq, &date)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermark for %s: %w", countryID, err)
	}
	wm.MaxSeq = seq.Int64
	wm.MaxDate = date.String
	return &wm, nil
}

// CountryStates loads every tracked position of a country keyed for
// in-memory application.
func (r *Repository) CountryStates(ctx context.Context, countryID string) (map[domain.PositionKey]*domain.PositionState, error) {
	rows, err := r.stateDB.QueryContext(ctx, selectState+" WHERE country_id = ?", countryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load states for %s: %w", countryID, err)
	}
	defer rows.Close()

	states := make(map[domain.PositionKey]*domain.PositionState)
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states[st.Key] = st
	}
	return states, rows.Err()
}

// GetState returns the tracked state for one key, or domain.ErrNotFound for
// a key no batch has ever mentioned.
func (r *Repository) GetState(ctx context.Context, key domain.PositionKey) (*domain.PositionState, error) {
	row := r.stateDB.QueryRowContext(ctx,
		selectState+" WHERE country_id = ? AND company_id = ? AND manager_id = ?",
		key.CountryID, key.CompanyID, key.ManagerID)

	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("position %s: %w", key, domain.ErrNotFound)
		}
		return nil, err
	}
	return st, nil
}

// CommitBatch writes the touched states and the applied-batch marker in one
// transaction. The projection and its watermark move together or not at all.
func (r *Repository) CommitBatch(ctx context.Context, batch *domain.Batch, touched []*domain.PositionState) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return database.WithTransaction(r.stateDB, func(tx *sql.Tx) error {
		for _, st := range touched {
			if err := upsertState(ctx, tx, st, now); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO applied_batches (batch_seq, batch_id, country_id, batch_date)
			VALUES (?, ?, ?, ?)
		`, batch.Seq, batch.BatchID, batch.CountryID, batch.MaxDate)
		if err != nil {
			return fmt.Errorf("failed to mark batch %s applied: %w", batch.BatchID, err)
		}
		return nil
	})
}

// ReplaceAll swaps the whole projection for a freshly replayed one, marking
// every given batch applied. Used by full rebuilds.
func (r *Repository) ReplaceAll(ctx context.Context, states []*domain.PositionState, batches []domain.Batch) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return database.WithTransaction(r.stateDB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM position_state"); err != nil {
			return fmt.Errorf("failed to clear position state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM applied_batches"); err != nil {
			return fmt.Errorf("failed to clear applied batches: %w", err)
		}
		for _, st := range states {
			if err := upsertState(ctx, tx, st, now); err != nil {
				return err
			}
		}
		for i := range batches {
			b := &batches[i]
			_, err := tx.ExecContext(ctx, `
				INSERT INTO applied_batches (batch_seq, batch_id, country_id, batch_date)
				VALUES (?, ?, ?, ?)
			`, b.Seq, b.BatchID, b.CountryID, b.MaxDate)
			if err != nil {
				return fmt.Errorf("failed to mark batch %s applied: %w", b.BatchID, err)
			}
		}
		return nil
	})
}

// ActivePositions lists live open positions, largest first, joined with
// display names. limit <= 0 means no limit.
func (r *Repository) ActivePositions(ctx context.Context, countryID string, limit, offset int) ([]ActivePositionRow, error) {
	query := `
		SELECT ps.country_id, ps.company_id, COALESCE(c.name, ps.company_id),
		       ps.manager_id, COALESCE(m.name, ps.manager_id),
		       ps.current_size, COALESCE(ps.active_since_date, ''), ps.latest_date, ps.latest_event_id
		FROM position_state ps
		LEFT JOIN companies c ON c.id = ps.company_id
		LEFT JOIN managers m ON m.id = ps.manager_id
		WHERE ps.is_active = 1`
	args := []interface{}{}
	if countryID != "" {
		query += " AND ps.country_id = ?"
		args = append(args, countryID)
	}
	query += " ORDER BY ps.current_size DESC, ps.country_id, ps.company_id, ps.manager_id"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := r.stateDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active positions: %w", err)
	}
	defer rows.Close()

	positions := make([]ActivePositionRow, 0)
	for rows.Next() {
		var p ActivePositionRow
		err := rows.Scan(&p.CountryID, &p.CompanyID, &p.CompanyName,
			&p.ManagerID, &p.ManagerName,
			&p.PositionSize, &p.ActiveSinceDate, &p.LatestDate, &p.LatestEventID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// StateCounts returns how many positions are tracked and how many of those
// are currently open.
func (r *Repository) StateCounts(ctx context.Context) (tracked, active int64, err error) {
	err = r.stateDB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM position_state
	`).Scan(&tracked, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count position states: %w", err)
	}
	return tracked, active, nil
}

// ActiveCount returns the number of open positions in one country.
func (r *Repository) ActiveCount(ctx context.Context, countryID string) (int64, error) {
	var n int64
	err := r.stateDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM position_state WHERE country_id = ? AND is_active = 1", countryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active positions: %w", err)
	}
	return n, nil
}

// AppliedBatches returns how many ledger batches the projection has absorbed.
func (r *Repository) AppliedBatches(ctx context.Context) (int64, error) {
	var n int64
	if err := r.stateDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM applied_batches").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count applied batches: %w", err)
	}
	return n, nil
}

const selectState = `
	SELECT country_id, company_id, manager_id, latest_event_id, current_size,
	       is_active, COALESCE(active_since_date, ''), latest_date, last_seen_batch_seq
	FROM position_state`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (*domain.PositionState, error) {
	var st domain.PositionState
	err := row.Scan(&st.Key.CountryID, &st.Key.CompanyID, &st.Key.ManagerID,
		&st.LatestEventID, &st.CurrentSize, &st.IsActive,
		&st.ActiveSinceDate, &st.LatestDate, &st.LastSeenBatchSeq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan position state: %w", err)
	}
	return &st, nil
}

func upsertState(ctx context.Context, tx *sql.Tx, st *domain.PositionState, now string) error {
	var since interface{}
	if st.ActiveSinceDate != "" {
		since = st.ActiveSinceDate
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO position_state (
			country_id, company_id, manager_id, latest_event_id, current_size,
			is_active, active_since_date, latest_date, last_seen_batch_seq, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(country_id, company_id, manager_id) DO UPDATE SET
			latest_event_id = excluded.latest_event_id,
			current_size = excluded.current_size,
			is_active = excluded.is_active,
			active_since_date = excluded.active_since_date,
			latest_date = excluded.latest_date,
			last_seen_batch_seq = excluded.last_seen_batch_seq,
			updated_at = excluded.updated_at
	`, st.Key.CountryID, st.Key.CompanyID, st.Key.ManagerID, st.LatestEventID, st.CurrentSize,
		st.IsActive, since, st.LatestDate, st.LastSeenBatchSeq, now)
	if err != nil {
		return fmt.Errorf("failed to upsert state %s: %w", st.Key, err)
	}
	return nil
}
