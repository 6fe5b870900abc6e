// Package registry maintains the reference data behind every disclosure:
// the onboarded jurisdictions with their source modes and thresholds, and
// the companies and managers discovered opportunistically from batches.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/database"
	"github.com/shortwatch/shortwatch/internal/domain"
)

// Country is an onboarded jurisdiction. SourceMode and Threshold are fixed
// configuration; batches are checked against them, never the other way.
type Country struct {
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	SourceMode domain.SourceMode `json:"source_mode"`
	Threshold  float64           `json:"threshold"`
	IsActive   bool              `json:"is_active"`
	UpdatedAt  string            `json:"updated_at"`
}

// Company is a disclosed-against issuer. Name and ISIN arrive as optional
// attributes on disclosure records; the latest non-empty value wins.
type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ISIN      string `json:"isin,omitempty"`
	CountryID string `json:"country_id"`
}

// Manager is a disclosing position holder. The slug is derived from the
// name and is not unique across managers.
type Manager struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Repository persists registry reference data in the state database.
type Repository struct {
	stateDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a new registry repository
func NewRepository(stateDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		stateDB: stateDB,
		log:     log.With().Str("repo", "registry").Logger(),
	}
}

// UpsertCountry inserts or refreshes a jurisdiction row.
func (r *Repository) UpsertCountry(ctx context.Context, c *Country) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.stateDB.ExecContext(ctx, `
		INSERT INTO countries (code, name, source_mode, threshold, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			source_mode = excluded.source_mode,
			threshold = excluded.threshold,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, c.Code, c.Name, string(c.SourceMode), c.Threshold, c.IsActive, now)
	if err != nil {
		return fmt.Errorf("failed to upsert country %s: %w", c.Code, err)
	}
	return nil
}

// GetCountry returns a jurisdiction by code. Lookups against codes that were
// never onboarded fail with domain.ErrUnknownCountry.
func (r *Repository) GetCountry(ctx context.Context, code string) (*Country, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	row := r.stateDB.QueryRowContext(ctx, `
		SELECT code, name, source_mode, threshold, is_active, updated_at
		FROM countries WHERE code = ?
	`, code)

	c, err := scanCountry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("country %q: %w", code, domain.ErrUnknownCountry)
		}
		return nil, fmt.Errorf("failed to query country %s: %w", code, err)
	}
	return c, nil
}

// ListCountries returns all onboarded jurisdictions ordered by code.
func (r *Repository) ListCountries(ctx context.Context) ([]Country, error) {
	rows, err := r.stateDB.QueryContext(ctx, `
		SELECT code, name, source_mode, threshold, is_active, updated_at
		FROM countries ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	defer rows.Close()

	countries := make([]Country, 0)
	for rows.Next() {
		c, err := scanCountry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		countries = append(countries, *c)
	}
	return countries, rows.Err()
}

// UpsertEntities records the companies and managers referenced by a batch.
// Missing display names fall back to the identifier on first sight and are
// replaced once a batch carries the real name. Never downgrades a known
// name back to the identifier.
func (r *Repository) UpsertEntities(ctx context.Context, records []domain.DisclosureRecord) error {
	if len(records) == 0 {
		return nil
	}

	type companySeen struct {
		name      string
		isin      string
		countryID string
	}
	companies := make(map[string]companySeen)
	managers := make(map[string]string)

	for i := range records {
		rec := &records[i]
		co := companies[rec.CompanyID]
		if rec.CompanyName != "" {
			co.name = rec.CompanyName
		}
		if rec.ISIN != "" {
			co.isin = rec.ISIN
		}
		co.countryID = rec.CountryID
		companies[rec.CompanyID] = co

		if rec.ManagerName != "" {
			managers[rec.ManagerID] = rec.ManagerName
		} else if _, ok := managers[rec.ManagerID]; !ok {
			managers[rec.ManagerID] = ""
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return database.WithTransaction(r.stateDB, func(tx *sql.Tx) error {
		for id, co := range companies {
			var err error
			if co.name == "" {
				// Identifier stands in until a batch names the company.
				_, err = tx.ExecContext(ctx, `
					INSERT INTO companies (id, name, isin, country_id, updated_at)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET
						isin = COALESCE(excluded.isin, isin),
						country_id = excluded.country_id,
						updated_at = excluded.updated_at
				`, id, id, nullString(co.isin), co.countryID, now)
			} else {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO companies (id, name, isin, country_id, updated_at)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET
						name = excluded.name,
						isin = COALESCE(excluded.isin, isin),
						country_id = excluded.country_id,
						updated_at = excluded.updated_at
				`, id, co.name, nullString(co.isin), co.countryID, now)
			}
			if err != nil {
				return fmt.Errorf("failed to upsert company %s: %w", id, err)
			}
		}

		for id, name := range managers {
			var err error
			if name == "" {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO managers (id, name, slug, updated_at)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
				`, id, id, Slugify(id), now)
			} else {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO managers (id, name, slug, updated_at)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET
						name = excluded.name,
						slug = excluded.slug,
						updated_at = excluded.updated_at
				`, id, name, Slugify(name), now)
			}
			if err != nil {
				return fmt.Errorf("failed to upsert manager %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetManager returns a manager by identifier.
func (r *Repository) GetManager(ctx context.Context, id string) (*Manager, error) {
	row := r.stateDB.QueryRowContext(ctx, `
		SELECT id, name, slug FROM managers WHERE id = ?
	`, id)

	var m Manager
	if err := row.Scan(&m.ID, &m.Name, &m.Slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("manager %q: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query manager %s: %w", id, err)
	}
	return &m, nil
}

// GetCompany returns a company by identifier.
func (r *Repository) GetCompany(ctx context.Context, id string) (*Company, error) {
	row := r.stateDB.QueryRowContext(ctx, `
		SELECT id, name, isin, country_id FROM companies WHERE id = ?
	`, id)

	var c Company
	var isin sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &isin, &c.CountryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("company %q: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query company %s: %w", id, err)
	}
	c.ISIN = isin.String
	return &c, nil
}

// CompanyNames returns display names for the given company ids. Ids the
// registry never saw fall back to the id itself.
func (r *Repository) CompanyNames(ctx context.Context, ids []string) (map[string]string, error) {
	return r.namesFor(ctx, "companies", ids)
}

// ManagerNames returns display names for the given manager ids.
func (r *Repository) ManagerNames(ctx context.Context, ids []string) (map[string]string, error) {
	return r.namesFor(ctx, "managers", ids)
}

func (r *Repository) namesFor(ctx context.Context, table string, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = id
	}
	if len(ids) == 0 {
		return names, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.stateDB.QueryContext(ctx,
		fmt.Sprintf("SELECT id, name FROM %s WHERE id IN (%s)", table, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s names: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan %s name: %w", table, err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// EntityCounts returns the number of known companies and managers.
func (r *Repository) EntityCounts(ctx context.Context) (companies, managers int64, err error) {
	if err = r.stateDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`).Scan(&companies); err != nil {
		return 0, 0, fmt.Errorf("failed to count companies: %w", err)
	}
	if err = r.stateDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM managers`).Scan(&managers); err != nil {
		return 0, 0, fmt.Errorf("failed to count managers: %w", err)
	}
	return companies, managers, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCountry(row rowScanner) (*Country, error) {
	var c Country
	var mode string
	if err := row.Scan(&c.Code, &c.Name, &mode, &c.Threshold, &c.IsActive, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.SourceMode = domain.SourceMode(mode)
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
