// Package rankings aggregates active positions into most-shorted company and
// most-active manager leaderboards, reading either the live state table or a
// ledger reconstruction at a past date. Global totals run through the same
// aggregation as filtered ones; the only difference is the country predicate.
package rankings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// CompanyAggregate is one row of the most-shorted ranking: every active
// position in a company summed across managers.
type CompanyAggregate struct {
	CompanyID     string  `json:"company_id"`
	Name          string  `json:"name"`
	TotalSize     float64 `json:"total_size"`
	PositionCount int     `json:"position_count"`
	AverageSize   float64 `json:"average_size"`
	LatestDate    string  `json:"latest_date"`
	WeekDelta     float64 `json:"week_delta"`
}

// ManagerAggregate is one row of the manager ranking, ordered by how many
// distinct companies the manager holds short.
type ManagerAggregate struct {
	ManagerID    string  `json:"manager_id"`
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	CompanyCount int     `json:"company_count"`
	TotalSize    float64 `json:"total_size"`
}

// Repository reads ranking aggregates from the state database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new rankings repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rankings").Logger(),
	}
}

// CompanyAggregates groups active positions by company, largest summed size
// first with the display name breaking ties. countryID "" spans every
// jurisdiction; limit <= 0 returns all rows.
func (r *Repository) CompanyAggregates(ctx context.Context, countryID string, limit int) ([]CompanyAggregate, error) {
	query := `
		SELECT ps.company_id,
		       COALESCE(c.name, ps.company_id) AS name,
		       SUM(ps.current_size) AS total_size,
		       COUNT(*) AS position_count,
		       AVG(ps.current_size) AS average_size,
		       MAX(ps.latest_date) AS latest_date
		FROM position_state ps
		LEFT JOIN companies c ON c.id = ps.company_id
		WHERE ps.is_active = 1`
	args := make([]interface{}, 0, 2)
	if countryID != "" {
		query += " AND ps.country_id = ?"
		args = append(args, countryID)
	}
	query += " GROUP BY ps.company_id ORDER BY total_size DESC, name ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query company aggregates: %w", err)
	}
	defer rows.Close()

	aggregates := make([]CompanyAggregate, 0)
	for rows.Next() {
		var a CompanyAggregate
		if err := rows.Scan(&a.CompanyID, &a.Name, &a.TotalSize, &a.PositionCount, &a.AverageSize, &a.LatestDate); err != nil {
			return nil, fmt.Errorf("failed to scan company aggregate: %w", err)
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, rows.Err()
}

// ManagerAggregates groups active positions by manager, widest company
// spread first with the display name breaking ties.
func (r *Repository) ManagerAggregates(ctx context.Context, countryID string, limit int) ([]ManagerAggregate, error) {
	query := `
		SELECT ps.manager_id,
		       COALESCE(m.name, ps.manager_id) AS name,
		       COALESCE(m.slug, '') AS slug,
		       COUNT(DISTINCT ps.company_id) AS company_count,
		       SUM(ps.current_size) AS total_size
		FROM position_state ps
		LEFT JOIN managers m ON m.id = ps.manager_id
		WHERE ps.is_active = 1`
	args := make([]interface{}, 0, 2)
	if countryID != "" {
		query += " AND ps.country_id = ?"
		args = append(args, countryID)
	}
	query += " GROUP BY ps.manager_id ORDER BY company_count DESC, name ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query manager aggregates: %w", err)
	}
	defer rows.Close()

	aggregates := make([]ManagerAggregate, 0)
	for rows.Next() {
		var a ManagerAggregate
		if err := rows.Scan(&a.ManagerID, &a.Name, &a.Slug, &a.CompanyCount, &a.TotalSize); err != nil {
			return nil, fmt.Errorf("failed to scan manager aggregate: %w", err)
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, rows.Err()
}

// ActiveSizes returns every active position size for distribution stats.
func (r *Repository) ActiveSizes(ctx context.Context, countryID string) ([]float64, error) {
	query := "SELECT current_size FROM position_state WHERE is_active = 1"
	args := make([]interface{}, 0, 1)
	if countryID != "" {
		query += " AND country_id = ?"
		args = append(args, countryID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sizes: %w", err)
	}
	defer rows.Close()

	sizes := make([]float64, 0)
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan active size: %w", err)
		}
		sizes = append(sizes, s)
	}
	return sizes, rows.Err()
}
