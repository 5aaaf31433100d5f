// Package query is the read-only facade over aggregated and raw market data.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/aggregation"
	"github.com/ternarybob/stockpulse/internal/services/cache"
	"github.com/ternarybob/stockpulse/internal/services/metrics"
	"github.com/ternarybob/stockpulse/internal/services/status"
	"github.com/ternarybob/stockpulse/internal/services/validation"
)

// ErrCompanyNotFound is returned when a company has no records in the range
var ErrCompanyNotFound = errors.New("no records for company in the requested range")

// Service answers read requests, caching aggregate results
type Service struct {
	records     interfaces.RecordStorage
	runs        interfaces.IngestionRunStorage
	aggregation *aggregation.Service
	calc        *metrics.Calculator
	cache       *cache.Service
	status      *status.Service
	sectors     *validation.SectorRegistry
	logger      arbor.ILogger
}

// NewService creates the query facade. statusService may be nil.
func NewService(
	records interfaces.RecordStorage,
	runs interfaces.IngestionRunStorage,
	aggregationService *aggregation.Service,
	calc *metrics.Calculator,
	cacheService *cache.Service,
	statusService *status.Service,
	logger arbor.ILogger,
) *Service {
	return &Service{
		records:     records,
		runs:        runs,
		aggregation: aggregationService,
		calc:        calc,
		cache:       cacheService,
		status:      statusService,
		logger:      logger,
	}
}

// WithSectors resolves sector names in requests through registry, so any spelling
// or alias the ingestion side accepts addresses the same stored sector
func (s *Service) WithSectors(registry *validation.SectorRegistry) *Service {
	s.sectors = registry
	return s
}

// canonicalSector maps a requested sector onto its stored name, leaving unknown names as given
func (s *Service) canonicalSector(sector string) string {
	sector = strings.TrimSpace(sector)
	if s.sectors == nil {
		return sector
	}
	if canonical, ok := s.sectors.Lookup(sector); ok {
		return canonical
	}
	return sector
}

// GetSectorSummary returns the summary of one sector over r
func (s *Service) GetSectorSummary(ctx context.Context, sector string, r models.DateRange) (*models.SectorSummary, error) {
	sector = s.canonicalSector(sector)
	key := fmt.Sprintf("summary|%s|%s", sector, r)
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) (*models.SectorSummary, error) {
		return s.aggregation.Summarize(ctx, sector, r)
	})
}

// GetSectorSummaries returns the summaries of all sectors over r
func (s *Service) GetSectorSummaries(ctx context.Context, r models.DateRange) ([]*models.SectorSummary, error) {
	key := fmt.Sprintf("summaries|%s", r)
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) ([]*models.SectorSummary, error) {
		return s.aggregation.SummarizeAll(ctx, r)
	})
}

// GetSectorOverviews returns the compact per-sector period view
func (s *Service) GetSectorOverviews(ctx context.Context, r models.DateRange) ([]models.SectorOverview, error) {
	key := fmt.Sprintf("overview|%s", r)
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) ([]models.SectorOverview, error) {
		return s.aggregation.SectorOverviews(ctx, r)
	})
}

// GetCompanyPeriodPrices returns one aggregated row per company for the period
func (s *Service) GetCompanyPeriodPrices(ctx context.Context, r models.DateRange, period string, limit int) ([]models.CompanyPeriodPrices, error) {
	key := fmt.Sprintf("period-prices|%s|%s|%d", r, period, limit)
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) ([]models.CompanyPeriodPrices, error) {
		return s.aggregation.CompanyPeriodPrices(ctx, r, period, limit)
	})
}

// GetDailyPrices returns the stored records of one company with their metrics, ordered by date.
// Metrics use the company's full history before the range.
func (s *Service) GetDailyPrices(ctx context.Context, companyID string, r models.DateRange) (*models.CompanyPrices, error) {
	records, err := s.records.Find(ctx, interfaces.RecordQuery{
		CompanyID: companyID,
		Range:     models.DateRange{To: r.To},
	})
	if err != nil {
		return nil, err
	}

	series := metrics.GroupByCompany(records)[companyID]
	computed := s.calc.Compute(series)

	prices := &models.CompanyPrices{
		CompanyID: companyID,
		Range:     r,
		Days:      []models.DailyPrice{},
	}
	for i, record := range series {
		if !r.ContainsDay(record.Day) {
			continue
		}
		prices.Sector = record.Sector
		prices.Days = append(prices.Days, models.DailyPrice{Record: record, Metrics: computed[i]})
	}

	if len(prices.Days) == 0 {
		return nil, ErrCompanyNotFound
	}
	return prices, nil
}

// GetHealth reports record count and last ingestion time. Storage failures are
// reported in the result, not returned.
func (s *Service) GetHealth(ctx context.Context) *models.Health {
	health := &models.Health{Status: models.HealthOK}
	if s.status != nil {
		health.AppState = string(s.status.GetState())
	}

	count, err := s.records.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed to count records")
		health.Status = models.HealthError
		health.Error = err.Error()
		return health
	}
	health.RecordCount = count
	health.DataLoaded = count > 0
	if count == 0 {
		health.Status = models.HealthEmpty
	}

	if s.runs != nil {
		latest, err := s.runs.LatestRun(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Health check failed to read run log")
			health.Status = models.HealthError
			health.Error = err.Error()
			return health
		}
		if latest != nil {
			finished := latest.FinishedAt
			health.LastIngestionTimestamp = &finished
		}
	}

	return health
}

// ListRuns returns the most recent ingestion runs
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*models.IngestionRun, error) {
	if s.runs == nil {
		return []*models.IngestionRun{}, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

// Sectors lists the sectors present in the store
func (s *Service) Sectors(ctx context.Context) ([]string, error) {
	return cache.GetOrLoad(ctx, s.cache, "sectors", s.records.Sectors)
}
