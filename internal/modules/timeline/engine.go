// Package timeline reconstructs position state at arbitrary past dates by
// replaying the ledger in its ordering key. The replay applies the exact
// transition rules the reconciler applies batch by batch, so a reconstruction
// "as of today" and the live state table always agree.
package timeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/cache"
	"github.com/shortwatch/shortwatch/internal/modules/ledger"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
)

// ResultCache stores finished reconstructions between reconciles. Replays
// are deterministic over an unchanged ledger, so a cached result is exact
// until the next commit invalidates it.
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Put(ctx context.Context, key string, value interface{}) error
}

// Filter narrows a reconstruction. Zero values mean "no constraint".
type Filter struct {
	CountryID string
	CompanyID string
	ManagerID string
}

// SeriesPoint is the aggregate active set at one bucket date. Buckets
// between transitions carry the prior state forward; values are observed,
// never interpolated.
type SeriesPoint struct {
	Date        string  `json:"date"`
	ActiveCount int     `json:"active_count"`
	TotalSize   float64 `json:"total_size"`
	AverageSize float64 `json:"average_size"`
}

// Series is a reconstructed time series over a date range.
type Series struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Bucketing domain.Bucketing `json:"bucketing"`
	Points    []SeriesPoint    `json:"points"`
}

// Engine runs ledger replays. It holds no mutable state of its own; every
// call reconstructs from the ledger.
type Engine struct {
	ledger   *ledger.Repository
	registry *registry.Service
	cache    ResultCache
	log      zerolog.Logger
}

// NewEngine creates a new reconstruction engine
func NewEngine(ledgerRepo *ledger.Repository, registrySvc *registry.Service, log zerolog.Logger) *Engine {
	return &Engine{
		ledger:   ledgerRepo,
		registry: registrySvc,
		log:      log.With().Str("service", "timeline").Logger(),
	}
}

// SetCache enables result caching for ActiveAsOf and SeriesOver. StatesAsOf
// stays uncached; the rebuild path must always read the ledger directly.
func (e *Engine) SetCache(c ResultCache) {
	e.cache = c
}

// cachedGet consults the cache, treating errors as misses.
func (e *Engine) cachedGet(ctx context.Context, key string, dest interface{}) bool {
	if e.cache == nil {
		return false
	}
	hit, err := e.cache.Get(ctx, key, dest)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}
	return hit
}

// cachedPut stores a result, logging rather than propagating failures.
func (e *Engine) cachedPut(ctx context.Context, key string, value interface{}) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(ctx, key, value); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// StatesAsOf replays matching ledger history through the end of asOf and
// returns the resulting per-key states. An empty asOf replays everything;
// that is the full-rebuild path.
func (e *Engine) StatesAsOf(ctx context.Context, f Filter, asOf string) (map[domain.PositionKey]*domain.PositionState, error) {
	if asOf != "" {
		if _, err := domain.ParseDate(asOf); err != nil {
			return nil, fmt.Errorf("%w: as_of %q is not a date", domain.ErrInvalidQuery, asOf)
		}
	}

	countries, err := e.resolveCountries(ctx, f)
	if err != nil {
		return nil, err
	}

	states := make(map[domain.PositionKey]*domain.PositionState)
	for i := range countries {
		c := &countries[i]
		err := e.sweepCountry(ctx, c, f, asOf, nil, nil, states)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct %s: %w", c.Code, err)
		}
	}
	return states, nil
}

// ActiveAsOf returns the active set as of the end of the given date, largest
// positions first.
func (e *Engine) ActiveAsOf(ctx context.Context, f Filter, asOf string) ([]domain.ActivePosition, error) {
	key := cache.Key(f.CountryID, "active", f.CompanyID, f.ManagerID, asOf)
	var cached []domain.ActivePosition
	if e.cachedGet(ctx, key, &cached) {
		return cached, nil
	}

	states, err := e.StatesAsOf(ctx, f, asOf)
	if err != nil {
		return nil, err
	}

	active := make([]domain.ActivePosition, 0)
	for _, st := range states {
		if !st.IsActive {
			continue
		}
		active = append(active, domain.ActivePosition{
			Key:       st.Key,
			Size:      st.CurrentSize,
			SinceDate: st.ActiveSinceDate,
		})
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Size != active[j].Size {
			return active[i].Size > active[j].Size
		}
		return active[i].Key.String() < active[j].Key.String()
	})

	e.cachedPut(ctx, key, active)
	return active, nil
}

// SeriesOver reconstructs the aggregate series for a date range in a single
// replay per country. Each bucket reports the state at the end of its date.
func (e *Engine) SeriesOver(ctx context.Context, f Filter, from, to string, bucketing domain.Bucketing) (*Series, error) {
	if _, err := domain.ParseDate(from); err != nil {
		return nil, fmt.Errorf("%w: from %q is not a date", domain.ErrInvalidQuery, from)
	}
	if _, err := domain.ParseDate(to); err != nil {
		return nil, fmt.Errorf("%w: to %q is not a date", domain.ErrInvalidQuery, to)
	}
	if from > to {
		return nil, fmt.Errorf("%w: range %s..%s is inverted", domain.ErrInvalidQuery, from, to)
	}
	if !bucketing.Valid() {
		return nil, fmt.Errorf("%w: unknown bucketing %q", domain.ErrInvalidQuery, bucketing)
	}

	key := cache.Key(f.CountryID, "series", f.CompanyID, f.ManagerID, from, to, string(bucketing))
	var cached Series
	if e.cachedGet(ctx, key, &cached) {
		return &cached, nil
	}

	countries, err := e.resolveCountries(ctx, f)
	if err != nil {
		return nil, err
	}

	buckets := BucketDates(from, to, bucketing)
	points := make([]SeriesPoint, len(buckets))
	for i := range buckets {
		points[i].Date = buckets[i]
	}

	for i := range countries {
		c := &countries[i]
		states := make(map[domain.PositionKey]*domain.PositionState)
		emit := func(bucket int) error {
			n, total := tallyActive(states)
			points[bucket].ActiveCount += n
			points[bucket].TotalSize += total
			return nil
		}
		if err := e.sweepCountry(ctx, c, f, to, buckets, emit, states); err != nil {
			return nil, fmt.Errorf("failed to reconstruct %s: %w", c.Code, err)
		}
	}

	for i := range points {
		if points[i].ActiveCount > 0 {
			points[i].AverageSize = points[i].TotalSize / float64(points[i].ActiveCount)
		}
	}

	series := &Series{From: from, To: to, Bucketing: bucketing, Points: points}
	e.cachedPut(ctx, key, series)
	return series, nil
}

// resolveCountries expands the filter into the jurisdictions to replay.
// Paused countries still replay; their history remains part of the record.
func (e *Engine) resolveCountries(ctx context.Context, f Filter) ([]registry.Country, error) {
	if f.CountryID != "" {
		c, err := e.registry.Country(ctx, f.CountryID)
		if err != nil {
			return nil, err
		}
		return []registry.Country{*c}, nil
	}
	return e.registry.Countries(ctx)
}

// sweepCountry replays one country's slice of the ledger in ordering-key
// order, mutating states. checkpoints, when given, is an ascending list of
// dates; emit(i) fires once the sweep holds the end-of-day state for
// checkpoints[i]. through bounds the replay, "" meaning the whole ledger.
func (e *Engine) sweepCountry(
	ctx context.Context,
	country *registry.Country,
	f Filter,
	through string,
	checkpoints []string,
	emit func(i int) error,
	states map[domain.PositionKey]*domain.PositionState,
) error {
	ci := 0
	// flushBefore emits every checkpoint the sweep has fully passed, i.e.
	// those strictly before the group date about to be applied.
	flushBefore := func(date string) error {
		for ci < len(checkpoints) && checkpoints[ci] < date {
			if err := emit(ci); err != nil {
				return err
			}
			ci++
		}
		return nil
	}

	apply := func(rec *domain.DisclosureRecord) {
		key := rec.Key()
		st, ok := states[key]
		if !ok {
			st = domain.NewPositionState(key)
			states[key] = st
		}
		domain.ApplyRecord(st, rec, country.Threshold)
	}

	switch country.SourceMode {
	case domain.SourceModeSnapshot:
		// Snapshot countries replay batch by batch: each pull's records,
		// then implicit closures for open positions the pull no longer
		// lists. Empty pulls carry no records but still close.
		snaps, err := e.ledger.SnapshotBatchDates(ctx, country.Code, through)
		if err != nil {
			return err
		}
		for i := range snaps {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := &snaps[i]
			if err := flushBefore(b.MaxDate); err != nil {
				return err
			}

			records, err := e.ledger.GetBatchRecords(ctx, b.Seq)
			if err != nil {
				return err
			}
			seen := make(map[domain.PositionKey]bool, len(records))
			for j := range records {
				rec := &records[j]
				if f.CompanyID != "" && rec.CompanyID != f.CompanyID {
					continue
				}
				if f.ManagerID != "" && rec.ManagerID != f.ManagerID {
					continue
				}
				apply(rec)
				seen[rec.Key()] = true
			}
			for key, st := range states {
				if !seen[key] {
					domain.ApplyImplicitClosure(st, b.MaxDate, b.Seq)
				}
			}
		}

	case domain.SourceModeEventLog:
		err := e.ledger.StreamOrdered(ctx, ledger.RecordFilter{
			CountryID:   country.Code,
			CompanyID:   f.CompanyID,
			ManagerID:   f.ManagerID,
			ThroughDate: through,
		}, func(rec *domain.DisclosureRecord) error {
			if err := flushBefore(rec.DisclosureDate); err != nil {
				return err
			}
			apply(rec)
			return nil
		})
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("country %s has unknown source_mode %q", country.Code, country.SourceMode)
	}

	// Remaining checkpoints sit at or past the last group; the final state
	// carries forward into them.
	for ci < len(checkpoints) {
		if err := emit(ci); err != nil {
			return err
		}
		ci++
	}
	return nil
}

func tallyActive(states map[domain.PositionKey]*domain.PositionState) (int, float64) {
	n := 0
	total := 0.0
	for _, st := range states {
		if st.IsActive {
			n++
			total += st.CurrentSize
		}
	}
	return n, total
}
