package registry

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/domain"
)

// Service wraps registry lookups and the startup sync from the YAML file.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new registry service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "registry").Logger(),
	}
}

// Sync mirrors the YAML registry into the countries table. Runs at startup
// so handlers and the reconciler read one source of truth.
func (s *Service) Sync(ctx context.Context, countries []config.CountryConfig) error {
	for _, cc := range countries {
		c := &Country{
			Code:       strings.ToUpper(strings.TrimSpace(cc.Code)),
			Name:       cc.Name,
			SourceMode: domain.SourceMode(cc.SourceMode),
			Threshold:  cc.Threshold,
			IsActive:   !cc.Inactive,
		}
		if err := s.repo.UpsertCountry(ctx, c); err != nil {
			return fmt.Errorf("failed to sync country %s: %w", cc.Code, err)
		}
	}
	s.log.Info().Int("countries", len(countries)).Msg("Country registry synced")
	return nil
}

// Country returns the jurisdiction config for an onboarded country code.
func (s *Service) Country(ctx context.Context, code string) (*Country, error) {
	return s.repo.GetCountry(ctx, code)
}

// Countries returns all onboarded jurisdictions.
func (s *Service) Countries(ctx context.Context) ([]Country, error) {
	return s.repo.ListCountries(ctx)
}

// RecordEntities captures the companies and managers a batch references so
// reads can resolve display names. Callers on the ingest path treat failures
// as non-fatal; a later batch backfills any missed name.
func (s *Service) RecordEntities(ctx context.Context, records []domain.DisclosureRecord) error {
	return s.repo.UpsertEntities(ctx, records)
}

// Manager returns a manager by identifier.
func (s *Service) Manager(ctx context.Context, id string) (*Manager, error) {
	return s.repo.GetManager(ctx, id)
}

// Company returns a company by identifier.
func (s *Service) Company(ctx context.Context, id string) (*Company, error) {
	return s.repo.GetCompany(ctx, id)
}

// EntityCounts returns how many companies and managers the registry knows.
func (s *Service) EntityCounts(ctx context.Context) (companies, managers int64, err error) {
	return s.repo.EntityCounts(ctx)
}

// CompanyNames resolves display names for company ids, falling back to the
// id for anything unknown.
func (s *Service) CompanyNames(ctx context.Context, ids []string) (map[string]string, error) {
	return s.repo.CompanyNames(ctx, ids)
}

// ManagerNames resolves display names for manager ids.
func (s *Service) ManagerNames(ctx context.Context, ids []string) (map[string]string, error) {
	return s.repo.ManagerNames(ctx, ids)
}

// Slugify derives a URL-safe slug from a display name. Two managers with
// the same name produce the same slug; the identifier stays the unique key.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastDash := true // Suppress a leading dash
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}
