package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/events"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
	"github.com/shortwatch/shortwatch/internal/telemetry"
)

// CacheInvalidator drops derived read results when the projection moves.
type CacheInvalidator interface {
	InvalidateCountry(ctx context.Context, countryID string) error
	InvalidateAll(ctx context.Context) error
}

// Result reports what one batch application changed.
type Result struct {
	BatchID          string `json:"batch_id"`
	BatchSeq         int64  `json:"batch_seq"`
	CountryID        string `json:"country_id"`
	AlreadyApplied   bool   `json:"already_applied"`
	RecordsApplied   int    `json:"records_applied"`
	Opened           int    `json:"opened"`
	Reopened         int    `json:"reopened"`
	Amended          int    `json:"amended"`
	Closed           int    `json:"closed"`
	ImplicitClosures int    `json:"implicit_closures"`
}

func (r *Result) tally(tr domain.Transition) {
	switch tr {
	case domain.TransitionOpened:
		r.Opened++
	case domain.TransitionReopened:
		r.Reopened++
	case domain.TransitionAmended:
		r.Amended++
	case domain.TransitionClosed:
		r.Closed++
	}
}

// RebuildResult reports a full replay of the ledger into a fresh projection.
type RebuildResult struct {
	Countries       int              `json:"countries"`
	BatchesApplied  int              `json:"batches_applied"`
	Positions       int              `json:"positions"`
	ActivePositions int              `json:"active_positions"`
	Mismatches      int              `json:"mismatches"`
	PerCountry      []CountryRebuild `json:"per_country"`
	DurationMS      int64            `json:"duration_ms"`
}

// CountryRebuild reports the replay outcome for one country, including how
// many rows disagree with the projection it replaced.
type CountryRebuild struct {
	CountryID       string `json:"country_id"`
	Positions       int    `json:"positions"`
	ActivePositions int    `json:"active_positions"`
	Mismatches      int    `json:"mismatches"`
}

// Service applies ledgered batches to the position state. All writes to the
// projection go through here, serialized per country.
type Service struct {
	repo     *Repository
	ledger   *ledger.Repository
	registry *registry.Service
	timeline *timeline.Engine
	cache    CacheInvalidator
	bus      *events.Bus
	metrics  *telemetry.Metrics
	log      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new reconciler service
func NewService(
	repo *Repository,
	ledgerRepo *ledger.Repository,
	registrySvc *registry.Service,
	engine *timeline.Engine,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledgerRepo,
		registry: registrySvc,
		timeline: engine,
		locks:    make(map[string]*sync.Mutex),
		log:      log.With().Str("service", "reconciler").Logger(),
	}
}

// SetCacheInvalidator wires the result cache (for dependency injection).
func (s *Service) SetCacheInvalidator(cache CacheInvalidator) {
	s.cache = cache
}

// SetBus wires the event bus (for dependency injection).
func (s *Service) SetBus(bus *events.Bus) {
	s.bus = bus
}

// SetMetrics wires the telemetry registry.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Reconcile applies one ledgered batch to the position state. Reapplying an
// already-absorbed batch is a no-op; a batch arriving behind the country's
// watermark fails with domain.ErrOutOfOrderBatch and changes nothing.
func (s *Service) Reconcile(ctx context.Context, batchID string) (*Result, error) {
	batch, err := s.ledger.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	country, err := s.registry.Country(ctx, batch.CountryID)
	if err != nil {
		return nil, err
	}
	if batch.SourceMode != country.SourceMode {
		s.observeBatch(batch, "rejected")
		return nil, fmt.Errorf("%w: batch %s declares %s, country %s is registered as %s",
			domain.ErrInconsistentSourceMode, batch.BatchID, batch.SourceMode, country.Code, country.SourceMode)
	}

	// One writer per country. Batches for different countries apply
	// concurrently; within a country everything is sequential.
	lock := s.countryLock(batch.CountryID)
	lock.Lock()
	defer lock.Unlock()

	applied, err := s.repo.IsApplied(ctx, batch.Seq)
	if err != nil {
		return nil, err
	}
	if applied {
		s.log.Debug().Str("batch_id", batch.BatchID).Msg("Batch already applied, nothing to do")
		s.observeBatch(batch, "duplicate")
		return &Result{BatchID: batch.BatchID, BatchSeq: batch.Seq, CountryID: batch.CountryID, AlreadyApplied: true}, nil
	}

	wm, err := s.repo.CountryWatermark(ctx, batch.CountryID)
	if err != nil {
		return nil, err
	}
	if err := checkOrder(batch, wm); err != nil {
		s.observeBatch(batch, "rejected")
		return nil, err
	}

	records, err := s.ledger.GetBatchRecords(ctx, batch.Seq)
	if err != nil {
		return nil, err
	}
	states, err := s.repo.CountryStates(ctx, batch.CountryID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		BatchID:        batch.BatchID,
		BatchSeq:       batch.Seq,
		CountryID:      batch.CountryID,
		RecordsApplied: len(records),
	}
	touched := make(map[domain.PositionKey]*domain.PositionState)

	// Records arrive in ordering-key order and are applied one by one, so a
	// batch that opens and then amends the same key lands exactly as a
	// replay would land it.
	for i := range records {
		rec := &records[i]
		key := rec.Key()
		st, ok := states[key]
		if !ok {
			st = domain.NewPositionState(key)
			states[key] = st
		}
		result.tally(domain.ApplyRecord(st, rec, country.Threshold))
		touched[key] = st
	}

	if batch.SourceMode == domain.SourceModeSnapshot {
		listed := make(map[domain.PositionKey]bool, len(records))
		for i := range records {
			listed[records[i].Key()] = true
		}
		for key, st := range states {
			if listed[key] {
				continue
			}
			if domain.ApplyImplicitClosure(st, batch.MaxDate, batch.Seq) == domain.TransitionClosed {
				touched[key] = st
				result.ImplicitClosures++
			}
		}
	}

	changed := make([]*domain.PositionState, 0, len(touched))
	for _, st := range touched {
		changed = append(changed, st)
	}
	if err := s.repo.CommitBatch(ctx, batch, changed); err != nil {
		return nil, err
	}

	s.invalidateCountry(ctx, batch.CountryID)
	s.observeBatch(batch, "applied")
	s.observeResult(ctx, result)

	s.log.Info().
		Str("batch_id", batch.BatchID).
		Str("country", batch.CountryID).
		Int("records", result.RecordsApplied).
		Int("opened", result.Opened).
		Int("reopened", result.Reopened).
		Int("amended", result.Amended).
		Int("closed", result.Closed).
		Int("implicit_closures", result.ImplicitClosures).
		Msg("Batch reconciled")

	return result, nil
}

// Rebuild discards the projection and replays the entire ledger through the
// reconstruction engine. This is the recovery path for out-of-order batches:
// the replay weaves late arrivals into date order, which incremental
// application cannot. The result counts, per country, the rows that disagree
// with the projection being replaced.
func (s *Service) Rebuild(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()

	countries, err := s.registry.Countries(ctx)
	if err != nil {
		return nil, err
	}

	// Hold every country lock for the duration; ListCountries orders by
	// code, so concurrent rebuilds acquire in the same order.
	locks := make([]*sync.Mutex, 0, len(countries))
	for i := range countries {
		locks = append(locks, s.countryLock(countries[i].Code))
	}
	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	known := make(map[string]bool, len(countries))
	for i := range countries {
		known[countries[i].Code] = true
	}

	var states []*domain.PositionState
	perCountry := make([]CountryRebuild, 0, len(countries))
	activeCount := 0
	mismatches := 0
	for i := range countries {
		code := countries[i].Code
		previous, err := s.repo.CountryStates(ctx, code)
		if err != nil {
			return nil, err
		}
		replayed, err := s.timeline.StatesAsOf(ctx, timeline.Filter{CountryID: code}, "")
		if err != nil {
			return nil, fmt.Errorf("failed to replay %s: %w", code, err)
		}
		entry := CountryRebuild{CountryID: code}
		for _, st := range replayed {
			states = append(states, st)
			entry.Positions++
			if st.IsActive {
				entry.ActivePositions++
				activeCount++
			}
		}
		entry.Mismatches = countMismatches(previous, replayed)
		mismatches += entry.Mismatches
		perCountry = append(perCountry, entry)
	}

	batches, err := s.ledger.ListBatches(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	appliedBatches := make([]domain.Batch, 0, len(batches))
	for i := range batches {
		if !known[batches[i].CountryID] {
			s.log.Warn().
				Str("batch_id", batches[i].BatchID).
				Str("country", batches[i].CountryID).
				Msg("Ledger holds batches for an unregistered country, skipped in rebuild")
			continue
		}
		appliedBatches = append(appliedBatches, batches[i])
	}

	if err := s.repo.ReplaceAll(ctx, states, appliedBatches); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Cache invalidation after rebuild failed")
		} else if s.bus != nil {
			s.bus.EmitTyped("reconciler", &events.CacheInvalidatedData{Scope: "all"})
		}
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		for i := range perCountry {
			s.metrics.ActivePositions.WithLabelValues(perCountry[i].CountryID).Set(float64(perCountry[i].ActivePositions))
		}
	}

	result := &RebuildResult{
		Countries:       len(countries),
		BatchesApplied:  len(appliedBatches),
		Positions:       len(states),
		ActivePositions: activeCount,
		Mismatches:      mismatches,
		PerCountry:      perCountry,
		DurationMS:      time.Since(start).Milliseconds(),
	}
	if s.bus != nil {
		s.bus.EmitTyped("reconciler", &events.RebuildCompletedData{
			Countries:       result.Countries,
			BatchesApplied:  result.BatchesApplied,
			Positions:       result.Positions,
			ActivePositions: result.ActivePositions,
			DurationMS:      result.DurationMS,
		})
	}
	s.log.Info().
		Int("countries", result.Countries).
		Int("batches", result.BatchesApplied).
		Int("positions", result.Positions).
		Int("active", result.ActivePositions).
		Int("mismatches", result.Mismatches).
		Int64("duration_ms", result.DurationMS).
		Msg("Projection rebuilt from ledger")

	return result, nil
}

// State returns the tracked state for one position key.
func (s *Service) State(ctx context.Context, key domain.PositionKey) (*domain.PositionState, error) {
	return s.repo.GetState(ctx, key)
}

// ActivePositions lists the live open positions.
func (s *Service) ActivePositions(ctx context.Context, countryID string, limit, offset int) ([]ActivePositionRow, error) {
	return s.repo.ActivePositions(ctx, countryID, limit, offset)
}

// checkOrder enforces per-country apply ordering against the watermark.
// Snapshot pulls must carry strictly newer dates than anything applied; two
// snapshots of the same day cannot be sequenced against each other. Event
// logs may continue on the watermark date itself but never start before it.
func checkOrder(batch *domain.Batch, wm *Watermark) error {
	if batch.Seq < wm.MaxSeq {
		return fmt.Errorf("%w: batch %s (seq %d) arrives behind already-applied seq %d",
			domain.ErrOutOfOrderBatch, batch.BatchID, batch.Seq, wm.MaxSeq)
	}
	if wm.MaxDate == "" {
		return nil
	}
	switch batch.SourceMode {
	case domain.SourceModeSnapshot:
		if batch.MaxDate <= wm.MaxDate {
			return fmt.Errorf("%w: snapshot %s dated %s at or before applied date %s",
				domain.ErrOutOfOrderBatch, batch.BatchID, batch.MaxDate, wm.MaxDate)
		}
	case domain.SourceModeEventLog:
		if batch.MinDate < wm.MaxDate {
			return fmt.Errorf("%w: batch %s starts %s, before applied date %s",
				domain.ErrOutOfOrderBatch, batch.BatchID, batch.MinDate, wm.MaxDate)
		}
	}
	return nil
}

// countMismatches diffs a country's replayed rows against the projection they
// replace. Rows present on only one side count, as do rows whose activity or
// size changed. An empty previous projection reports zero: there is nothing
// to disagree with.
func countMismatches(previous map[domain.PositionKey]*domain.PositionState, replayed map[domain.PositionKey]*domain.PositionState) int {
	if len(previous) == 0 {
		return 0
	}
	mismatches := 0
	seen := make(map[domain.PositionKey]bool, len(replayed))
	for _, st := range replayed {
		seen[st.Key] = true
		prev, ok := previous[st.Key]
		if !ok || prev.IsActive != st.IsActive || prev.CurrentSize != st.CurrentSize {
			mismatches++
		}
	}
	for key := range previous {
		if !seen[key] {
			mismatches++
		}
	}
	return mismatches
}

func (s *Service) countryLock(countryID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[countryID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[countryID] = lock
	}
	return lock
}

func (s *Service) invalidateCountry(ctx context.Context, countryID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateCountry(ctx, countryID); err != nil {
		s.log.Warn().Err(err).Str("country", countryID).Msg("Cache invalidation failed")
		return
	}
	if s.bus != nil {
		s.bus.EmitTyped("reconciler", &events.CacheInvalidatedData{CountryID: countryID, Scope: "country"})
	}
}

func (s *Service) observeBatch(batch *domain.Batch, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.BatchesReconciled.WithLabelValues(batch.CountryID, string(batch.SourceMode), outcome).Inc()
}

func (s *Service) observeResult(ctx context.Context, result *Result) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues("opened").Add(float64(result.Opened))
	s.metrics.Transitions.WithLabelValues("reopened").Add(float64(result.Reopened))
	s.metrics.Transitions.WithLabelValues("amended").Add(float64(result.Amended))
	s.metrics.Transitions.WithLabelValues("closed").Add(float64(result.Closed + result.ImplicitClosures))
	if n, err := s.repo.ActiveCount(ctx, result.CountryID); err == nil {
		s.metrics.ActivePositions.WithLabelValues(result.CountryID).Set(float64(n))
	}
}
