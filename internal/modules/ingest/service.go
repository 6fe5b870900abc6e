package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/events"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/telemetry"
)

// SubmitRequest is one batch of disclosures pushed through the pipeline.
// Batch-level fields cascade onto records that leave them empty; a record
// that disagrees with its batch is rejected at the ledger boundary.
type SubmitRequest struct {
	CountryID    string                    `json:"country_id"`
	BatchID      string                    `json:"batch_id,omitempty"`
	SourceMode   domain.SourceMode         `json:"source_mode,omitempty"`
	SnapshotDate string                    `json:"snapshot_date,omitempty"`
	Records      []domain.DisclosureRecord `json:"records"`
}

// Service owns the ingest pipeline. Registered source adapters feed the
// scheduled pulls; the HTTP submit path feeds the same pipeline directly.
type Service struct {
	repo     *Repository
	ledger   *ledger.Repository
	recon    *reconciler.Service
	registry *registry.Service
	bus      *events.Bus
	metrics  *telemetry.Metrics
	log      zerolog.Logger

	mu       sync.RWMutex
	adapters map[string]domain.SourceAdapter
}

// NewService creates a new ingest service
func NewService(
	repo *Repository,
	ledgerRepo *ledger.Repository,
	recon *reconciler.Service,
	registrySvc *registry.Service,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledgerRepo,
		recon:    recon,
		registry: registrySvc,
		adapters: make(map[string]domain.SourceAdapter),
		log:      log.With().Str("service", "ingest").Logger(),
	}
}

// SetBus wires the event bus (for dependency injection).
func (s *Service) SetBus(bus *events.Bus) {
	s.bus = bus
}

// SetMetrics wires the telemetry registry.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// RegisterAdapter makes a country's feed available to scheduled pulls.
// Re-registering a country replaces its adapter.
func (s *Service) RegisterAdapter(a domain.SourceAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[strings.ToUpper(a.CountryID())] = a
}

// Submit runs one batch through append, reconcile and entity bookkeeping.
// The country's registry entry is the authority on source mode; a mismatch
// fails here, before anything reaches the ledger.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*reconciler.Result, error) {
	started := time.Now().UTC()

	country, err := s.registry.Country(ctx, req.CountryID)
	if err != nil {
		return nil, s.fail(ctx, strings.ToUpper(strings.TrimSpace(req.CountryID)), req.BatchID, started, len(req.Records), err)
	}

	mode := req.SourceMode
	if mode == "" {
		mode = country.SourceMode
	}
	if mode != country.SourceMode {
		err := fmt.Errorf("%w: batch declares %s, country %s is registered as %s",
			domain.ErrInconsistentSourceMode, mode, country.Code, country.SourceMode)
		return nil, s.fail(ctx, country.Code, req.BatchID, started, len(req.Records), err)
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	for i := range req.Records {
		rec := &req.Records[i]
		rec.BatchID = batchID
		if rec.CountryID == "" {
			rec.CountryID = country.Code
		}
		if rec.SourceMode == "" {
			rec.SourceMode = mode
		}
	}

	batch, err := s.ledger.Append(ctx, ledger.AppendRequest{
		BatchID:      batchID,
		CountryID:    country.Code,
		SourceMode:   mode,
		SnapshotDate: req.SnapshotDate,
		Records:      req.Records,
	})
	if err != nil {
		return nil, s.fail(ctx, country.Code, batchID, started, len(req.Records), err)
	}

	result, err := s.recon.Reconcile(ctx, batch.BatchID)
	if err != nil {
		// The batch is ledgered but unapplied. A replay picks it up once the
		// blocking condition clears; the run row carries the reason until then.
		return nil, s.fail(ctx, country.Code, batchID, started, batch.RecordCount, err)
	}

	// A failed name upsert never voids the ledgered batch; the next batch
	// naming the same entities backfills it.
	if err := s.registry.RecordEntities(ctx, req.Records); err != nil {
		s.log.Warn().Err(err).Str("batch_id", batch.BatchID).Msg("Failed to record batch entities")
	}

	run := &Run{
		CountryID:   country.Code,
		BatchID:     batch.BatchID,
		Status:      StatusCompleted,
		Records:     batch.RecordCount,
		StartedAt:   started.Format(time.RFC3339),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.repo.RecordRun(ctx, run); err != nil {
		s.log.Warn().Err(err).Str("batch_id", batch.BatchID).Msg("Failed to record ingest run")
	}
	s.observeRun(country.Code, StatusCompleted, batch.RecordCount)
	if s.bus != nil {
		s.bus.EmitTyped("ingest", &events.BatchReconciledData{
			BatchID:   result.BatchID,
			CountryID: result.CountryID,
			Records:   result.RecordsApplied,
			Opened:    result.Opened,
			Reopened:  result.Reopened,
			Amended:   result.Amended,
			Closed:    result.Closed + result.ImplicitClosures,
		})
	}

	return result, nil
}

// PullCountry fetches one country's feed through its registered adapter and
// submits the result as a batch. Snapshot pulls that return nothing are
// still submitted: an empty snapshot closes every open position.
func (s *Service) PullCountry(ctx context.Context, countryID string) (*reconciler.Result, error) {
	country, err := s.registry.Country(ctx, countryID)
	if err != nil {
		return nil, err
	}
	adapter := s.adapter(country.Code)
	if adapter == nil {
		return nil, fmt.Errorf("no source adapter registered for %s", country.Code)
	}

	started := time.Now().UTC()
	records, err := adapter.Fetch(ctx)
	if err != nil {
		return nil, s.fail(ctx, country.Code, "", started, 0, fmt.Errorf("failed to fetch %s feed: %w", country.Code, err))
	}

	req := SubmitRequest{
		CountryID:  country.Code,
		SourceMode: country.SourceMode,
		Records:    records,
	}
	if country.SourceMode == domain.SourceModeSnapshot {
		req.SnapshotDate = snapshotDate(records)
	}
	return s.Submit(ctx, req)
}

// PullAll pulls every active country that has an adapter, in code order.
// Countries are isolated: one failing feed never blocks the others.
func (s *Service) PullAll(ctx context.Context) error {
	countries, err := s.registry.Countries(ctx)
	if err != nil {
		return err
	}

	var pulled, failed int
	for i := range countries {
		c := &countries[i]
		if !c.IsActive || s.adapter(c.Code) == nil {
			continue
		}
		pulled++
		if _, err := s.PullCountry(ctx, c.Code); err != nil {
			failed++
			s.log.Error().Err(err).Str("country", c.Code).Msg("Feed pull failed")
		}
	}

	s.log.Info().Int("pulled", pulled).Int("failed", failed).Msg("Feed pull sweep finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d feed pulls failed", failed, pulled)
	}
	return nil
}

// Runs returns recorded run history, newest first.
func (s *Service) Runs(ctx context.Context, countryID string, limit int) ([]Run, error) {
	return s.repo.ListRuns(ctx, countryID, limit)
}

// AdapterCountries lists the countries with registered adapters, sorted.
func (s *Service) AdapterCountries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.adapters))
	for code := range s.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (s *Service) adapter(countryID string) domain.SourceAdapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adapters[strings.ToUpper(countryID)]
}

// fail records the run, emits the failure event, and returns err unchanged.
func (s *Service) fail(ctx context.Context, countryID, batchID string, started time.Time, records int, err error) error {
	status := StatusFailed
	if isRejection(err) {
		status = StatusRejected
	}

	run := &Run{
		CountryID:   countryID,
		BatchID:     batchID,
		Status:      status,
		Records:     records,
		Error:       err.Error(),
		StartedAt:   started.Format(time.RFC3339),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if rerr := s.repo.RecordRun(ctx, run); rerr != nil {
		s.log.Warn().Err(rerr).Str("country", countryID).Msg("Failed to record ingest run")
	}
	s.observeRun(countryID, status, 0)
	if s.bus != nil {
		s.bus.EmitTyped("ingest", &events.IngestFailedData{
			CountryID: countryID,
			BatchID:   batchID,
			Status:    status,
			Error:     err.Error(),
		})
	}
	s.log.Error().Err(err).Str("country", countryID).Str("status", status).Msg("Ingest failed")
	return err
}

func (s *Service) observeRun(countryID, status string, records int) {
	if s.metrics == nil {
		return
	}
	s.metrics.IngestRuns.WithLabelValues(countryID, status).Inc()
	if records > 0 {
		s.metrics.RecordsAppended.WithLabelValues(countryID).Add(float64(records))
	}
}

// isRejection reports whether the error is a domain rule firing rather than
// infrastructure trouble.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidRecord) ||
		errors.Is(err, domain.ErrInconsistentSourceMode) ||
		errors.Is(err, domain.ErrOutOfOrderBatch) ||
		errors.Is(err, domain.ErrUnknownCountry)
}

// snapshotDate infers a snapshot batch's pull date from its records. An
// empty pull is stamped with today: it asserts nothing is open as of now.
func snapshotDate(records []domain.DisclosureRecord) string {
	if len(records) == 0 {
		return domain.Today()
	}
	max := records[0].DisclosureDate
	for i := range records[1:] {
		if d := records[i+1].DisclosureDate; d > max {
			max = d
		}
	}
	return max
}
