package rankings

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/shortwatch/shortwatch/internal/domain"
	"github.com/shortwatch/shortwatch/internal/modules/cache"
	"github.com/shortwatch/shortwatch/internal/modules/registry"
	"github.com/shortwatch/shortwatch/internal/modules/timeline"
)

// DefaultLimit is the ranking depth when the caller asks for none.
const DefaultLimit = 10

// ResultCache stores computed rankings between reconciles.
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Put(ctx context.Context, key string, value interface{}) error
}

// Summary is the aggregate view of the active position set. Its totals come
// from the same queries the rankings run; a summary is a ranking with no
// limit and no ordering consumed.
type Summary struct {
	CountryID       string  `json:"country_id,omitempty"`
	Companies       int     `json:"companies"`
	Managers        int     `json:"managers"`
	ActivePositions int     `json:"active_positions"`
	TotalSize       float64 `json:"total_size"`
	MeanSize        float64 `json:"mean_size"`
	StdDevSize      float64 `json:"stddev_size"`
	LargestSize     float64 `json:"largest_size"`
	LatestDate      string  `json:"latest_date"`
}

// Service produces ranking and summary views.
type Service struct {
	repo     *Repository
	registry *registry.Service
	timeline *timeline.Engine
	cache    ResultCache
	log      zerolog.Logger
}

// NewService creates a new rankings service
func NewService(repo *Repository, registrySvc *registry.Service, engine *timeline.Engine, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registrySvc,
		timeline: engine,
		log:      log.With().Str("service", "rankings").Logger(),
	}
}

// SetCache enables result caching.
func (s *Service) SetCache(c ResultCache) {
	s.cache = c
}

// Companies returns the most-shorted companies: active positions grouped by
// company, ranked by summed size. Week deltas compare against the
// reconstructed state seven days before today.
func (s *Service) Companies(ctx context.Context, countryID string, limit int) ([]CompanyAggregate, error) {
	countryID, err := s.resolveCountry(ctx, countryID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	anchor := domain.Today()
	key := cache.Key(countryID, "companies", strconv.Itoa(limit), anchor)
	var cached []CompanyAggregate
	if s.cachedGet(ctx, key, &cached) {
		return cached, nil
	}

	aggregates, err := s.repo.CompanyAggregates(ctx, countryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank companies: %w", err)
	}

	priorTotals, err := s.weekAgoTotals(ctx, countryID, anchor)
	if err != nil {
		return nil, err
	}
	for i := range aggregates {
		aggregates[i].WeekDelta = aggregates[i].TotalSize - priorTotals[aggregates[i].CompanyID]
	}

	s.cachedPut(ctx, key, aggregates)
	return aggregates, nil
}

// CompaniesAsOf ranks companies against a reconstruction of the active set at
// the end of asOf. Grouping and ordering match Companies, so asOf set to
// today returns the live ranking. The week delta compares against seven days
// before asOf.
func (s *Service) CompaniesAsOf(ctx context.Context, countryID string, limit int, asOf string) ([]CompanyAggregate, error) {
	countryID, err := s.resolveCountry(ctx, countryID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if asOf == "" {
		asOf = domain.Today()
	}

	key := cache.Key(countryID, "companies_asof", strconv.Itoa(limit), asOf)
	var cached []CompanyAggregate
	if s.cachedGet(ctx, key, &cached) {
		return cached, nil
	}

	states, err := s.timeline.StatesAsOf(ctx, timeline.Filter{CountryID: countryID}, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct rankings as of %s: %w", asOf, err)
	}

	byCompany := make(map[string]*CompanyAggregate)
	for _, st := range states {
		if !st.IsActive {
			continue
		}
		a, ok := byCompany[st.Key.CompanyID]
		if !ok {
			a = &CompanyAggregate{CompanyID: st.Key.CompanyID}
			byCompany[st.Key.CompanyID] = a
		}
		a.TotalSize += st.CurrentSize
		a.PositionCount++
		if st.LatestDate > a.LatestDate {
			a.LatestDate = st.LatestDate
		}
	}

	ids := make([]string, 0, len(byCompany))
	for id := range byCompany {
		ids = append(ids, id)
	}
	names, err := s.registry.CompanyNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve company names: %w", err)
	}
	priorTotals, err := s.weekAgoTotals(ctx, countryID, asOf)
	if err != nil {
		return nil, err
	}

	aggregates := make([]CompanyAggregate, 0, len(byCompany))
	for id, a := range byCompany {
		a.Name = names[id]
		a.AverageSize = a.TotalSize / float64(a.PositionCount)
		a.WeekDelta = a.TotalSize - priorTotals[id]
		aggregates = append(aggregates, *a)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].TotalSize != aggregates[j].TotalSize {
			return aggregates[i].TotalSize > aggregates[j].TotalSize
		}
		if aggregates[i].Name != aggregates[j].Name {
			return aggregates[i].Name < aggregates[j].Name
		}
		return aggregates[i].CompanyID < aggregates[j].CompanyID
	})
	if len(aggregates) > limit {
		aggregates = aggregates[:limit]
	}

	s.cachedPut(ctx, key, aggregates)
	return aggregates, nil
}

// Managers returns managers ranked by how many distinct companies they hold
// short positions in.
func (s *Service) Managers(ctx context.Context, countryID string, limit int) ([]ManagerAggregate, error) {
	countryID, err := s.resolveCountry(ctx, countryID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	key := cache.Key(countryID, "managers", strconv.Itoa(limit))
	var cached []ManagerAggregate
	if s.cachedGet(ctx, key, &cached) {
		return cached, nil
	}

	aggregates, err := s.repo.ManagerAggregates(ctx, countryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank managers: %w", err)
	}
	for i := range aggregates {
		if aggregates[i].Slug == "" {
			aggregates[i].Slug = registry.Slugify(aggregates[i].Name)
		}
	}

	s.cachedPut(ctx, key, aggregates)
	return aggregates, nil
}

// ManagersAsOf ranks managers against a reconstruction of the active set at
// the end of asOf, ordered like Managers. Slugs are derived from the resolved
// names; the registry computes stored slugs the same way.
func (s *Service) ManagersAsOf(ctx context.Context, countryID string, limit int, asOf string) ([]ManagerAggregate, error) {
	countryID, err := s.resolveCountry(ctx, countryID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if asOf == "" {
		asOf = domain.Today()
	}

	key := cache.Key(countryID, "managers_asof", strconv.Itoa(limit), asOf)
	var cached []ManagerAggregate
	if s.cachedGet(ctx, key, &cached) {
		return cached, nil
	}

	states, err := s.timeline.StatesAsOf(ctx, timeline.Filter{CountryID: countryID}, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct rankings as of %s: %w", asOf, err)
	}

	held := make(map[string]map[string]bool)
	totals := make(map[string]float64)
	for _, st := range states {
		if !st.IsActive {
			continue
		}
		id := st.Key.ManagerID
		if held[id] == nil {
			held[id] = make(map[string]bool)
		}
		held[id][st.Key.CompanyID] = true
		totals[id] += st.CurrentSize
	}

	ids := make([]string, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	names, err := s.registry.ManagerNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manager names: %w", err)
	}

	aggregates := make([]ManagerAggregate, 0, len(held))
	for id, companies := range held {
		name := names[id]
		aggregates = append(aggregates, ManagerAggregate{
			ManagerID:    id,
			Name:         name,
			Slug:         registry.Slugify(name),
			CompanyCount: len(companies),
			TotalSize:    totals[id],
		})
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].CompanyCount != aggregates[j].CompanyCount {
			return aggregates[i].CompanyCount > aggregates[j].CompanyCount
		}
		if aggregates[i].Name != aggregates[j].Name {
			return aggregates[i].Name < aggregates[j].Name
		}
		return aggregates[i].ManagerID < aggregates[j].ManagerID
	})
	if len(aggregates) > limit {
		aggregates = aggregates[:limit]
	}

	s.cachedPut(ctx, key, aggregates)
	return aggregates, nil
}

// Summary aggregates the whole active set, for one country or globally.
func (s *Service) Summary(ctx context.Context, countryID string) (*Summary, error) {
	countryID, err := s.resolveCountry(ctx, countryID)
	if err != nil {
		return nil, err
	}

	key := cache.Key(countryID, "summary")
	var cached Summary
	if s.cachedGet(ctx, key, &cached) {
		return &cached, nil
	}

	companies, err := s.repo.CompanyAggregates(ctx, countryID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate companies: %w", err)
	}
	managers, err := s.repo.ManagerAggregates(ctx, countryID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate managers: %w", err)
	}
	sizes, err := s.repo.ActiveSizes(ctx, countryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active sizes: %w", err)
	}

	summary := &Summary{
		CountryID: countryID,
		Companies: len(companies),
		Managers:  len(managers),
	}
	for i := range companies {
		summary.ActivePositions += companies[i].PositionCount
		summary.TotalSize += companies[i].TotalSize
		if companies[i].LatestDate > summary.LatestDate {
			summary.LatestDate = companies[i].LatestDate
		}
	}
	if len(sizes) > 0 {
		summary.MeanSize = stat.Mean(sizes, nil)
		summary.LargestSize = floats.Max(sizes)
	}
	// Sample standard deviation needs at least two observations.
	if len(sizes) > 1 {
		summary.StdDevSize = stat.StdDev(sizes, nil)
	}

	s.cachedPut(ctx, key, summary)
	return summary, nil
}

// weekAgoTotals reconstructs per-company summed sizes as of seven days
// before the anchor date.
func (s *Service) weekAgoTotals(ctx context.Context, countryID, anchor string) (map[string]float64, error) {
	weekAgo := domain.AddDays(anchor, -7)
	prior, err := s.timeline.ActiveAsOf(ctx, timeline.Filter{CountryID: countryID}, weekAgo)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct totals as of %s: %w", weekAgo, err)
	}
	totals := make(map[string]float64, len(prior))
	for _, p := range prior {
		totals[p.Key.CompanyID] += p.Size
	}
	return totals, nil
}

// resolveCountry normalizes an optional country filter against the registry.
func (s *Service) resolveCountry(ctx context.Context, countryID string) (string, error) {
	if countryID == "" {
		return "", nil
	}
	c, err := s.registry.Country(ctx, countryID)
	if err != nil {
		return "", err
	}
	return c.Code, nil
}

func (s *Service) cachedGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}
	return hit
}

func (s *Service) cachedPut(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, key, value); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
