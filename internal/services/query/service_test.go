package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/aggregation"
	"github.com/ternarybob/stockpulse/internal/services/cache"
	"github.com/ternarybob/stockpulse/internal/services/metrics"
	"github.com/ternarybob/stockpulse/internal/services/validation"
)

// MockRecordStorage is a mock implementation of RecordStorage
type MockRecordStorage struct {
	mock.Mock
}

func (m *MockRecordStorage) Insert(ctx context.Context, record *models.StockRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRecordStorage) Get(ctx context.Context, companyID, day string) (*models.StockRecord, error) {
	args := m.Called(ctx, companyID, day)
	if record, ok := args.Get(0).(*models.StockRecord); ok {
		return record, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStorage) Find(ctx context.Context, query interfaces.RecordQuery) ([]*models.StockRecord, error) {
	args := m.Called(ctx, query)
	if records, ok := args.Get(0).([]*models.StockRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStorage) Sectors(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if sectors, ok := args.Get(0).([]string); ok {
		return sectors, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStorage) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockRunStorage is a mock implementation of IngestionRunStorage
type MockRunStorage struct {
	mock.Mock
}

func (m *MockRunStorage) SaveRun(ctx context.Context, run *models.IngestionRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockRunStorage) GetRun(ctx context.Context, id string) (*models.IngestionRun, error) {
	args := m.Called(ctx, id)
	if run, ok := args.Get(0).(*models.IngestionRun); ok {
		return run, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRunStorage) ListRuns(ctx context.Context, limit int) ([]*models.IngestionRun, error) {
	args := m.Called(ctx, limit)
	if runs, ok := args.Get(0).([]*models.IngestionRun); ok {
		return runs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRunStorage) LatestRun(ctx context.Context) (*models.IngestionRun, error) {
	args := m.Called(ctx)
	if run, ok := args.Get(0).(*models.IngestionRun); ok {
		return run, args.Error(1)
	}
	return nil, args.Error(1)
}

func record(company, sector, day string, closePrice int64) *models.StockRecord {
	t, _ := time.Parse(models.DayLayout, day)
	c := decimal.NewFromInt(closePrice)
	return &models.StockRecord{
		CompanyID:         company,
		Sector:            sector,
		TradeDate:         t,
		Day:               day,
		Open:              c,
		High:              c,
		Low:               c,
		Close:             c,
		Volume:            10,
		SharesOutstanding: 1000,
	}
}

func newTestService(records *MockRecordStorage, runs *MockRunStorage) *Service {
	logger := arbor.NewLogger()
	calc := metrics.NewCalculator(30, 4)
	return NewService(
		records,
		runs,
		aggregation.NewService(records, calc, logger, 2),
		calc,
		cache.NewService(&common.CacheConfig{Enabled: true, TTL: "1m", MaxEntries: 16}, logger),
		nil,
		logger,
	)
}

func TestGetDailyPrices_EndToEndScenario(t *testing.T) {
	records := new(MockRecordStorage)
	records.On("Find", mock.Anything, interfaces.RecordQuery{CompanyID: "AAA"}).Return([]*models.StockRecord{
		record("AAA", "Tech", "2024-01-01", 100),
		record("AAA", "Tech", "2024-01-02", 102),
		record("AAA", "Tech", "2024-01-03", 101),
	}, nil)

	svc := newTestService(records, new(MockRunStorage))

	prices, err := svc.GetDailyPrices(context.Background(), "AAA", models.DateRange{})
	require.NoError(t, err)
	require.Len(t, prices.Days, 3)
	assert.Equal(t, "Tech", prices.Sector)

	assert.Equal(t, 100000.0, prices.Days[0].Metrics.MarketCap.Float64)
	assert.InDelta(t, 0.02, prices.Days[1].Metrics.DailyReturn.Float64, 1e-12)
	require.True(t, prices.Days[2].Metrics.Volatility.Valid)
	assert.InDelta(t, 0.0210746, prices.Days[2].Metrics.Volatility.Float64, 1e-6)
}

func TestGetDailyPrices_RangeAndNotFound(t *testing.T) {
	records := new(MockRecordStorage)
	to, _ := time.Parse(models.DayLayout, "2024-01-02")
	records.On("Find", mock.Anything, interfaces.RecordQuery{CompanyID: "AAA", Range: models.DateRange{To: to}}).Return([]*models.StockRecord{
		record("AAA", "Tech", "2024-01-01", 100),
		record("AAA", "Tech", "2024-01-02", 102),
	}, nil)
	records.On("Find", mock.Anything, interfaces.RecordQuery{CompanyID: "ZZZ"}).Return([]*models.StockRecord{}, nil)

	svc := newTestService(records, new(MockRunStorage))

	r, err := models.NewDateRange("2024-01-02", "2024-01-02")
	require.NoError(t, err)
	prices, err := svc.GetDailyPrices(context.Background(), "AAA", r)
	require.NoError(t, err)
	require.Len(t, prices.Days, 1)
	assert.True(t, prices.Days[0].Metrics.DailyReturn.Valid, "previous day outside the range still feeds the return")

	_, err = svc.GetDailyPrices(context.Background(), "ZZZ", models.DateRange{})
	assert.ErrorIs(t, err, ErrCompanyNotFound)
}

func TestGetSectorSummary_IsCached(t *testing.T) {
	records := new(MockRecordStorage)
	records.On("Find", mock.Anything, interfaces.RecordQuery{Sector: "Tech"}).Return([]*models.StockRecord{
		record("AAA", "Tech", "2024-01-01", 100),
	}, nil).Once()

	svc := newTestService(records, new(MockRunStorage))

	first, err := svc.GetSectorSummary(context.Background(), "Tech", models.DateRange{})
	require.NoError(t, err)
	second, err := svc.GetSectorSummary(context.Background(), "Tech", models.DateRange{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	records.AssertNumberOfCalls(t, "Find", 1)

	svc.cache.Invalidate()
	records.On("Find", mock.Anything, interfaces.RecordQuery{Sector: "Tech"}).Return([]*models.StockRecord{
		record("AAA", "Tech", "2024-01-01", 100),
		record("BBB", "Tech", "2024-01-01", 50),
	}, nil).Once()

	third, err := svc.GetSectorSummary(context.Background(), "Tech", models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 2, third.CompanyCount)
}

func TestGetSectorSummary_ResolvesSectorSpelling(t *testing.T) {
	records := new(MockRecordStorage)
	records.On("Find", mock.Anything, interfaces.RecordQuery{Sector: "Technology"}).Return([]*models.StockRecord{
		record("AAA", "Technology", "2024-01-01", 100),
	}, nil).Once()

	registry := validation.NewSectorRegistry(nil, false)
	registry.Register("Technology")
	svc := newTestService(records, new(MockRunStorage)).WithSectors(registry)

	for _, spelling := range []string{"technology", " TECHNOLOGY ", "Technology"} {
		summary, err := svc.GetSectorSummary(context.Background(), spelling, models.DateRange{})
		require.NoError(t, err, spelling)
		assert.Equal(t, "Technology", summary.Sector, spelling)
	}
	records.AssertNumberOfCalls(t, "Find", 1)
}

func TestGetSectorSummary_NoData(t *testing.T) {
	records := new(MockRecordStorage)
	records.On("Find", mock.Anything, mock.Anything).Return([]*models.StockRecord{}, nil)

	svc := newTestService(records, new(MockRunStorage))
	_, err := svc.GetSectorSummary(context.Background(), "Tech", models.DateRange{})
	assert.ErrorIs(t, err, aggregation.ErrNoData)
}

func TestGetHealth(t *testing.T) {
	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ok", func(t *testing.T) {
		records := new(MockRecordStorage)
		runs := new(MockRunStorage)
		records.On("Count", mock.Anything).Return(3, nil)
		runs.On("LatestRun", mock.Anything).Return(&models.IngestionRun{ID: "r1", FinishedAt: finished}, nil)

		health := newTestService(records, runs).GetHealth(context.Background())
		assert.Equal(t, models.HealthOK, health.Status)
		assert.Equal(t, 3, health.RecordCount)
		assert.True(t, health.DataLoaded)
		require.NotNil(t, health.LastIngestionTimestamp)
		assert.Equal(t, finished, *health.LastIngestionTimestamp)
	})

	t.Run("empty", func(t *testing.T) {
		records := new(MockRecordStorage)
		runs := new(MockRunStorage)
		records.On("Count", mock.Anything).Return(0, nil)
		runs.On("LatestRun", mock.Anything).Return(nil, nil)

		health := newTestService(records, runs).GetHealth(context.Background())
		assert.Equal(t, models.HealthEmpty, health.Status)
		assert.False(t, health.DataLoaded)
		assert.Nil(t, health.LastIngestionTimestamp)
	})

	t.Run("error", func(t *testing.T) {
		records := new(MockRecordStorage)
		records.On("Count", mock.Anything).Return(0, &models.StorageError{Op: "count", Err: errors.New("closed")})

		health := newTestService(records, new(MockRunStorage)).GetHealth(context.Background())
		assert.Equal(t, models.HealthError, health.Status)
		assert.Contains(t, health.Error, "closed")
	})
}
