package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwatch/shortwatch/internal/domain"
	swtest "github.com/shortwatch/shortwatch/internal/testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(swtest.NewStateDB(t), swtest.SilentLogger())
}

// TestUpsertCountry tests insert and refresh of a jurisdiction
func TestUpsertCountry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.UpsertCountry(ctx, &Country{
		Code: "GB", Name: "United Kingdom",
		SourceMode: domain.SourceModeEventLog, Threshold: 0.5, IsActive: true,
	})
	require.NoError(t, err)

	got, err := repo.GetCountry(ctx, "gb")
	require.NoError(t, err)
	assert.Equal(t, "GB", got.Code, "lookup normalizes case")
	assert.Equal(t, domain.SourceModeEventLog, got.SourceMode)
	assert.InDelta(t, 0.5, got.Threshold, 1e-9)
	assert.True(t, got.IsActive)

	// Refresh with a new threshold
	err = repo.UpsertCountry(ctx, &Country{
		Code: "GB", Name: "United Kingdom",
		SourceMode: domain.SourceModeEventLog, Threshold: 0.2, IsActive: false,
	})
	require.NoError(t, err)

	got, err = repo.GetCountry(ctx, "GB")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.Threshold, 1e-9)
	assert.False(t, got.IsActive)

	_, err = repo.GetCountry(ctx, "XX")
	assert.True(t, errors.Is(err, domain.ErrUnknownCountry))
}

// TestListCountries tests ordering by code
func TestListCountries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, code := range []string{"SE", "DE", "GB"} {
		err := repo.UpsertCountry(ctx, &Country{
			Code: code, Name: code, SourceMode: domain.SourceModeSnapshot, Threshold: 0.5, IsActive: true,
		})
		require.NoError(t, err)
	}

	countries, err := repo.ListCountries(ctx)
	require.NoError(t, err)
	require.Len(t, countries, 3)
	assert.Equal(t, "DE", countries[0].Code)
	assert.Equal(t, "GB", countries[1].Code)
	assert.Equal(t, "SE", countries[2].Code)
}

// TestUpsertEntities tests opportunistic discovery from disclosure records
func TestUpsertEntities(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// First batch names nothing
	anon := swtest.NewEventLogRecord("ev-1", "2024-01-01", "GB", "co-1", "mgr-1", 1)
	anon.CompanyName = ""
	anon.ManagerName = ""
	require.NoError(t, repo.UpsertEntities(ctx, []domain.DisclosureRecord{anon}))

	co, err := repo.GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, "co-1", co.Name, "identifier stands in for a missing name")

	mgr, err := repo.GetManager(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", mgr.Name)

	// A later batch carries display names and an ISIN
	named := swtest.NewEventLogRecord("ev-2", "2024-01-02", "GB", "co-1", "mgr-1", 1.5)
	named.CompanyName = "Acme Retail plc"
	named.ManagerName = "Marshall Wace LLP"
	named.ISIN = "GB0001234567"
	require.NoError(t, repo.UpsertEntities(ctx, []domain.DisclosureRecord{named}))

	co, err = repo.GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Retail plc", co.Name)
	assert.Equal(t, "GB0001234567", co.ISIN)
	assert.Equal(t, "GB", co.CountryID)

	mgr, err = repo.GetManager(ctx, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, "Marshall Wace LLP", mgr.Name)
	assert.Equal(t, "marshall-wace-llp", mgr.Slug)

	// A nameless follow-up must not downgrade the known name
	again := swtest.NewEventLogRecord("ev-3", "2024-01-03", "GB", "co-1", "mgr-1", 2)
	again.CompanyName = ""
	again.ManagerName = ""
	again.ISIN = ""
	require.NoError(t, repo.UpsertEntities(ctx, []domain.DisclosureRecord{again}))

	co, err = repo.GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Retail plc", co.Name)
	assert.Equal(t, "GB0001234567", co.ISIN, "known ISIN survives a blank")

	companies, managers, err := repo.EntityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), companies)
	assert.Equal(t, int64(1), managers)
}

// TestGetEntityNotFound tests the not-found sentinels
func TestGetEntityNotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetCompany(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = repo.GetManager(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
