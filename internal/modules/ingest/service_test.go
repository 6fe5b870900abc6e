package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwatch/shortwatch/internal/config"
	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/events"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
	swtest "github.com/shortwatch/shortwatch/internal/testing"
)

// fakeAdapter serves canned records for one country.
type fakeAdapter struct {
	country string
	records []domain.DisclosureRecord
	err     error
}

func (f *fakeAdapter) CountryID() string { return f.country }

func (f *fakeAdapter) Fetch(ctx context.Context) ([]domain.DisclosureRecord, error) {
	return f.records, f.err
}

type ingestStack struct {
	ledger *ledger.Repository
	recon  *reconciler.Service
	svc    *Service
}

func newIngestStack(t *testing.T) *ingestStack {
	t.Helper()
	log := swtest.SilentLogger()

	ledgerRepo := ledger.NewRepository(swtest.NewLedgerDB(t), log)
	stateDB := swtest.NewStateDB(t)
	regSvc := registry.NewService(registry.NewRepository(stateDB, log), log)
	engine := timeline.NewEngine(ledgerRepo, regSvc, log)
	recon := reconciler.NewService(reconciler.NewRepository(stateDB, log), ledgerRepo, regSvc, engine, log)
	svc := NewService(NewRepository(stateDB, log), ledgerRepo, recon, regSvc, log)

	err := regSvc.Sync(context.Background(), []config.CountryConfig{
		{Code: "GB", Name: "United Kingdom", SourceMode: "event_log", Threshold: 0.5},
		{Code: "SE", Name: "Sweden", SourceMode: "snapshot", Threshold: 0.5},
	})
	require.NoError(t, err)

	return &ingestStack{ledger: ledgerRepo, recon: recon, svc: svc}
}

// TestSubmitAppliesBatch tests the full path from submission to position state
func TestSubmitAppliesBatch(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	reconciled := make(chan *events.Event, 1)
	bus := events.NewBus(swtest.SilentLogger())
	bus.Subscribe(events.BatchReconciled, func(e *events.Event) { reconciled <- e })
	ts.svc.SetBus(bus)

	result, err := ts.svc.Submit(ctx, SubmitRequest{
		CountryID: "GB",
		BatchID:   "gb-1",
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-03-01", "GB", "co-1", "mgr-1", 0.8),
			swtest.NewEventLogRecord("ev-2", "2024-03-01", "GB", "co-2", "mgr-1", 1.1),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "gb-1", result.BatchID)
	assert.Equal(t, 2, result.Opened)
	assert.Equal(t, 2, result.RecordsApplied)

	n, err := ts.ledger.CountRecords(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	active, err := ts.recon.ActivePositions(ctx, "GB", 100, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	runs, err := ts.svc.Runs(ctx, "GB", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, "gb-1", runs[0].BatchID)
	assert.Equal(t, 2, runs[0].Records)

	select {
	case e := <-reconciled:
		assert.Equal(t, events.BatchReconciled, e.Type)
		assert.Equal(t, "gb-1", e.Data["batch_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected a BATCH_RECONCILED event")
	}
}

// TestSubmitGeneratesBatchID tests that omitted batch ids are assigned
func TestSubmitGeneratesBatchID(t *testing.T) {
	ts := newIngestStack(t)

	result, err := ts.svc.Submit(context.Background(), SubmitRequest{
		CountryID: "GB",
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-03-01", "GB", "co-1", "mgr-1", 0.8),
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.BatchID)
}

// TestSubmitStampsBatchFields tests that country and mode cascade onto records
func TestSubmitStampsBatchFields(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	rec := swtest.NewEventLogRecord("ev-1", "2024-03-01", "", "co-1", "mgr-1", 0.8)
	rec.SourceMode = ""

	result, err := ts.svc.Submit(ctx, SubmitRequest{
		CountryID: "gb",
		BatchID:   "gb-1",
		Records:   []domain.DisclosureRecord{rec},
	})
	require.NoError(t, err)
	assert.Equal(t, "GB", result.CountryID)

	records, err := ts.ledger.GetBatchRecords(ctx, result.BatchSeq)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "GB", records[0].CountryID)
	assert.Equal(t, domain.SourceModeEventLog, records[0].SourceMode)
	assert.Equal(t, "gb-1", records[0].BatchID)
}

// TestSubmitUnknownCountry tests rejection of unregistered countries
func TestSubmitUnknownCountry(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	_, err := ts.svc.Submit(ctx, SubmitRequest{
		CountryID: "XX",
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-03-01", "XX", "co-1", "mgr-1", 0.8),
		},
	})
	require.ErrorIs(t, err, domain.ErrUnknownCountry)

	runs, err := ts.svc.Runs(ctx, "XX", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRejected, runs[0].Status)
	assert.Contains(t, runs[0].Error, "XX")
}

// TestSubmitModeMismatchKeepsLedgerClean tests that a wrong-mode batch is
// refused before anything is written
func TestSubmitModeMismatchKeepsLedgerClean(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	_, err := ts.svc.Submit(ctx, SubmitRequest{
		CountryID:    "GB",
		SourceMode:   domain.SourceModeSnapshot,
		SnapshotDate: "2024-03-01",
		Records: []domain.DisclosureRecord{
			swtest.NewSnapshotRecord("ev-1", "2024-03-01", "GB", "co-1", "mgr-1", 0.8),
		},
	})
	require.ErrorIs(t, err, domain.ErrInconsistentSourceMode)

	n, err := ts.ledger.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	runs, err := ts.svc.Runs(ctx, "GB", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRejected, runs[0].Status)
}

// TestSubmitOutOfOrderBatchStaysLedgered tests that an ordering rejection
// still leaves the batch in the ledger for a later replay
func TestSubmitOutOfOrderBatchStaysLedgered(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	failed := make(chan *events.Event, 1)
	bus := events.NewBus(swtest.SilentLogger())
	bus.Subscribe(events.IngestFailed, func(e *events.Event) { failed <- e })
	ts.svc.SetBus(bus)

	_, err := ts.svc.Submit(ctx, SubmitRequest{
		CountryID: "GB",
		BatchID:   "gb-1",
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-1", "2024-03-10", "GB", "co-1", "mgr-1", 0.8),
		},
	})
	require.NoError(t, err)

	_, err = ts.svc.Submit(ctx, SubmitRequest{
		CountryID: "GB",
		BatchID:   "gb-2",
		Records: []domain.DisclosureRecord{
			swtest.NewEventLogRecord("ev-2", "2024-03-05", "GB", "co-2", "mgr-1", 1.0),
		},
	})
	require.ErrorIs(t, err, domain.ErrOutOfOrderBatch)

	// The records made it into the ledger even though reconciliation refused
	// the batch; a rebuild absorbs them.
	n, err := ts.ledger.CountRecords(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	runs, err := ts.svc.Runs(ctx, "GB", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, StatusRejected, runs[0].Status)
	assert.Equal(t, "gb-2", runs[0].BatchID)

	select {
	case e := <-failed:
		assert.Equal(t, "gb-2", e.Data["batch_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("expected an INGEST_FAILED event")
	}

	_, err = ts.recon.Rebuild(ctx)
	require.NoError(t, err)
	active, err := ts.recon.ActivePositions(ctx, "GB", 100, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

// TestPullCountry tests adapter-driven ingestion
func TestPullCountry(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	ts.svc.RegisterAdapter(&fakeAdapter{
		country: "SE",
		records: []domain.DisclosureRecord{
			swtest.NewSnapshotRecord("sv-1", "2024-04-02", "SE", "co-9", "mgr-9", 0.9),
		},
	})

	result, err := ts.svc.PullCountry(ctx, "se")
	require.NoError(t, err)
	assert.Equal(t, "SE", result.CountryID)
	assert.Equal(t, 1, result.Opened)

	batch, err := ts.ledger.GetBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-02", batch.MaxDate, "snapshot date inferred from records")

	runs, err := ts.svc.Runs(ctx, "SE", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
}

// TestPullCountryFetchFailure tests that a broken feed records a failed run
func TestPullCountryFetchFailure(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	ts.svc.RegisterAdapter(&fakeAdapter{country: "GB", err: errors.New("upstream 503")})

	_, err := ts.svc.PullCountry(ctx, "GB")
	require.Error(t, err)

	runs, err := ts.svc.Runs(ctx, "GB", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "upstream 503")
}

// TestPullCountryWithoutAdapter tests the missing-adapter error path
func TestPullCountryWithoutAdapter(t *testing.T) {
	ts := newIngestStack(t)

	_, err := ts.svc.PullCountry(context.Background(), "GB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source adapter")
}

// TestPullAllIsolatesCountries tests that one failing feed does not block
// the others
func TestPullAllIsolatesCountries(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	ts.svc.RegisterAdapter(&fakeAdapter{country: "GB", err: errors.New("boom")})
	ts.svc.RegisterAdapter(&fakeAdapter{
		country: "SE",
		records: []domain.DisclosureRecord{
			swtest.NewSnapshotRecord("sv-1", "2024-04-02", "SE", "co-9", "mgr-9", 0.9),
		},
	})

	err := ts.svc.PullAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")

	active, err := ts.recon.ActivePositions(ctx, "SE", 100, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1, "the healthy feed still landed")
}

// TestRunsNewestFirst tests run history ordering and the country filter
func TestRunsNewestFirst(t *testing.T) {
	ts := newIngestStack(t)
	ctx := context.Background()

	for i, id := range swtest.EventIDs("ev", 3) {
		_, err := ts.svc.Submit(ctx, SubmitRequest{
			CountryID: "GB",
			Records: []domain.DisclosureRecord{
				swtest.NewEventLogRecord(id, domain.AddDays("2024-03-01", i), "GB", "co-1", "mgr-1", 0.8),
			},
		})
		require.NoError(t, err)
	}

	runs, err := ts.svc.Runs(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID)

	runs, err = ts.svc.Runs(ctx, "se", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
