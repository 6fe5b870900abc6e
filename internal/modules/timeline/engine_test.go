package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/cache"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	swtest "github.com/shortwatch/shortwatch/internal/testing"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Repository) {
	t.Helper()
	log := swtest.SilentLogger()

	ledgerRepo := ledger.NewRepository(swtest.NewLedgerDB(t), log)
	regSvc := registry.NewService(registry.NewRepository(swtest.NewStateDB(t), log), log)
	err := regSvc.Sync(context.Background(), []config.CountryConfig{
		{Code: "GB", Name: "United Kingdom", SourceMode: "event_log", Threshold: 0.5},
		{Code: "SE", Name: "Sweden", SourceMode: "snapshot", Threshold: 0.5},
	})
	require.NoError(t, err)

	return NewEngine(ledgerRepo, regSvc, log), ledgerRepo
}

func mustAppend(t *testing.T, repo *ledger.Repository, req ledger.AppendRequest) {
	t.Helper()
	_, err := repo.Append(context.Background(), req)
	require.NoError(t, err)
}

// TestSeriesDailyCarryForward tests a snapshot country series: the position
// stays visible every day until the pull that drops it
func TestSeriesDailyCarryForward(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "s1", CountryID: "SE", SourceMode: domain.SourceModeSnapshot,
		SnapshotDate: "2024-03-01",
		Records: []domain.DisclosureRecord{
			swtest.NewSnapshotRecord("sv-1", "2024-03-01", "SE", "co-B", "mgr-1", 2.0),
		},
	})
	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "s2", CountryID: "SE", SourceMode: domain.SourceModeSnapshot,
		SnapshotDate: "2024-03-08",
	})

	series, err := engine.SeriesOver(ctx, Filter{CountryID: "SE"}, "2024-03-01", "2024-03-09", domain.BucketingDaily)
	require.NoError(t, err)
	require.Len(t, series.Points, 9)

	for i, p := range series.Points {
		date := domain.AddDays("2024-03-01", i)
		assert.Equal(t, date, p.Date)
		if date < "2024-03-08" {
			assert.Equal(t, 1, p.ActiveCount, "day %s carries the position forward", date)
			assert.InDelta(t, 2.0, p.TotalSize, 1e-9)
			assert.InDelta(t, 2.0, p.AverageSize, 1e-9)
		} else {
			assert.Zero(t, p.ActiveCount, "day %s is after the empty pull", date)
			assert.Zero(t, p.TotalSize)
		}
	}
}

// TestSeriesEventLog tests transitions landing on their dates for an
// event-log country
func TestSeriesEventLog(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b1", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-01-02", "GB", "co-1", "mgr-1", 1.0),
			swtest.NewEventLogRecord("ev-2", "2024-01-04", "GB", "co-2", "mgr-2", 0.8),
			swtest.NewEventLogRecord("ev-3", "2024-01-06", "GB", "co-1", "mgr-1", 0.2),
		},
	})

	series, err := engine.SeriesOver(ctx, Filter{CountryID: "GB"}, "2024-01-01", "2024-01-07", domain.BucketingDaily)
	require.NoError(t, err)
	require.Len(t, series.Points, 7)

	wantCounts := []int{0, 1, 1, 2, 2, 1, 1}
	for i, p := range series.Points {
		assert.Equal(t, wantCounts[i], p.ActiveCount, "active count on %s", p.Date)
	}
	assert.InDelta(t, 1.8, series.Points[3].TotalSize, 1e-9)
	assert.InDelta(t, 0.9, series.Points[3].AverageSize, 1e-9)
	assert.InDelta(t, 0.8, series.Points[6].TotalSize, 1e-9, "only the second position survives the closure")
}

// TestSeriesCompanyFilter tests narrowing a series to one company
func TestSeriesCompanyFilter(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b1", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-01-02", "GB", "co-1", "mgr-1", 1.0),
			swtest.NewEventLogRecord("ev-2", "2024-01-02", "GB", "co-2", "mgr-2", 0.8),
		},
	})

	series, err := engine.SeriesOver(ctx, Filter{CountryID: "GB", CompanyID: "co-2"},
		"2024-01-01", "2024-01-03", domain.BucketingDaily)
	require.NoError(t, err)
	assert.Equal(t, 0, series.Points[0].ActiveCount)
	assert.Equal(t, 1, series.Points[1].ActiveCount)
	assert.InDelta(t, 0.8, series.Points[2].TotalSize, 1e-9)
}

// TestSeriesAcrossCountries tests aggregation without a country filter
func TestSeriesAcrossCountries(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b1", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-03-01", "GB", "co-1", "mgr-1", 1.0),
		},
	})
	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "s1", CountryID: "SE", SourceMode: domain.SourceModeSnapshot,
		SnapshotDate: "2024-03-02",
		Records: []domain.DisclosureRecord{
			swtest.NewSnapshotRecord("sv-1", "2024-03-02", "SE", "co-B", "mgr-1", 2.0),
		},
	})

	series, err := engine.SeriesOver(ctx, Filter{}, "2024-03-01", "2024-03-03", domain.BucketingDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, series.Points[0].ActiveCount)
	assert.Equal(t, 2, series.Points[1].ActiveCount)
	assert.InDelta(t, 3.0, series.Points[2].TotalSize, 1e-9)
	assert.InDelta(t, 1.5, series.Points[2].AverageSize, 1e-9)
}

// TestSeriesWeekly tests ISO week-end sampling
func TestSeriesWeekly(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	// 2024-01-01 is a Monday.
	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b1", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-01-03", "GB", "co-1", "mgr-1", 1.0),
			swtest.NewEventLogRecord("ev-2", "2024-01-10", "GB", "co-1", "mgr-1", 0.1),
		},
	})

	series, err := engine.SeriesOver(ctx, Filter{CountryID: "GB"}, "2024-01-01", "2024-01-20", domain.BucketingWeekly)
	require.NoError(t, err)
	require.Len(t, series.Points, 3)
	assert.Equal(t, "2024-01-07", series.Points[0].Date)
	assert.Equal(t, "2024-01-14", series.Points[1].Date)
	assert.Equal(t, "2024-01-20", series.Points[2].Date, "partial final week samples at the range end")

	assert.Equal(t, 1, series.Points[0].ActiveCount)
	assert.Equal(t, 0, series.Points[1].ActiveCount, "the mid-week closure shows at the next sample")
	assert.Equal(t, 0, series.Points[2].ActiveCount)
}

// TestSeriesValidation tests range and bucketing checks
func TestSeriesValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SeriesOver(ctx, Filter{}, "2024-02-01", "2024-01-01", domain.BucketingDaily)
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))

	_, err = engine.SeriesOver(ctx, Filter{}, "not-a-date", "2024-01-01", domain.BucketingDaily)
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))

	_, err = engine.SeriesOver(ctx, Filter{}, "2024-01-01", "2024-02-01", domain.Bucketing("hourly"))
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))

	_, err = engine.StatesAsOf(ctx, Filter{CountryID: "XX"}, "2024-01-01")
	assert.True(t, errors.Is(err, domain.ErrUnknownCountry))
}

// TestActiveAsOfOrdering tests deterministic ordering of the active set
func TestActiveAsOfOrdering(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b1", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-01-01", "GB", "co-b", "mgr-1", 1.0),
			swtest.NewEventLogRecord("ev-2", "2024-01-01", "GB", "co-a", "mgr-1", 1.0),
			swtest.NewEventLogRecord("ev-3", "2024-01-01", "GB", "co-c", "mgr-1", 2.5),
		},
	})

	active, err := engine.ActiveAsOf(ctx, Filter{CountryID: "GB"}, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "co-c", active[0].Key.CompanyID, "largest first")
	assert.Equal(t, "co-a", active[1].Key.CompanyID, "ties break on the key")
	assert.Equal(t, "co-b", active[2].Key.CompanyID)
}

// TestBucketDates tests the bucket generators
func TestBucketDates(t *testing.T) {
	daily := BucketDates("2024-01-30", "2024-02-02", domain.BucketingDaily)
	assert.Equal(t, []string{"2024-01-30", "2024-01-31", "2024-02-01", "2024-02-02"}, daily)

	weekly := BucketDates("2024-01-01", "2024-01-20", domain.BucketingWeekly)
	assert.Equal(t, []string{"2024-01-07", "2024-01-14", "2024-01-20"}, weekly)

	// Year boundary: the ISO week of 2024-12-30 ends on 2025-01-05.
	turn := BucketDates("2024-12-30", "2025-01-10", domain.BucketingWeekly)
	assert.Equal(t, []string{"2025-01-05", "2025-01-10"}, turn)

	single := BucketDates("2024-05-05", "2024-05-05", domain.BucketingWeekly)
	assert.Equal(t, []string{"2024-05-05"}, single)
}

// TestResolveBucketing tests the auto-weekly fallback for long ranges
func TestResolveBucketing(t *testing.T) {
	assert.Equal(t, domain.BucketingDaily, ResolveBucketing("", "2024-01-01", "2024-02-01"))
	assert.Equal(t, domain.BucketingDaily, ResolveBucketing("daily", "2024-01-01", "2024-02-01"))
	assert.Equal(t, domain.BucketingWeekly, ResolveBucketing("weekly", "2024-01-01", "2024-02-01"))
	assert.Equal(t, domain.BucketingWeekly, ResolveBucketing("daily", "2024-01-01", "2024-12-01"),
		"long ranges sample weekly no matter what was asked")
}

// TestResolveTimeframe tests the shorthand aliases
func TestResolveTimeframe(t *testing.T) {
	from, to, bucketing, err := ResolveTimeframe("1m", "2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-16", from)
	assert.Equal(t, "2024-06-15", to)
	assert.Equal(t, domain.BucketingDaily, bucketing)

	from, _, bucketing, err = ResolveTimeframe("1y", "2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, "2023-06-16", from)
	assert.Equal(t, domain.BucketingWeekly, bucketing)

	_, _, _, err = ResolveTimeframe("2d", "2024-06-15")
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))
}

// TestSeriesCaching tests that repeated queries serve the stored result
// until invalidation and recompute after it
func TestSeriesCaching(t *testing.T) {
	engine, ledgerRepo := newTestEngine(t)
	ctx := context.Background()

	resultCache := cache.New(swtest.NewCacheDB(t), time.Minute, swtest.SilentLogger())
	engine.SetCache(resultCache)

	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b1", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-01-02", "GB", "co-1", "mgr-1", 1.0),
		},
	})

	first, err := engine.SeriesOver(ctx, Filter{CountryID: "GB"}, "2024-01-01", "2024-01-03", domain.BucketingDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Points[2].ActiveCount)

	// New ledger data without invalidation: the cached result still serves.
	mustAppend(t, ledgerRepo, ledger.AppendRequest{
		BatchID: "b2", CountryID: "GB", SourceMode: domain.SourceModeEventLog,
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-2", "2024-01-03", "GB", "co-2", "mgr-2", 0.9),
		},
	})
	stale, err := engine.SeriesOver(ctx, Filter{CountryID: "GB"}, "2024-01-01", "2024-01-03", domain.BucketingDaily)
	require.NoError(t, err)
	assert.Equal(t, first.Points, stale.Points)

	require.NoError(t, resultCache.InvalidateCountry(ctx, "GB"))

	fresh, err := engine.SeriesOver(ctx, Filter{CountryID: "GB"}, "2024-01-01", "2024-01-03", domain.BucketingDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Points[2].ActiveCount)
}
