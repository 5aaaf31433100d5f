package handlers

import (
	"context"
	"io"

	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/report"
)

// MarketQuerier answers the read-only market data endpoints.
type MarketQuerier interface {
	GetSectorSummary(ctx context.Context, sector string, r models.DateRange) (*models.SectorSummary, error)
	GetSectorSummaries(ctx context.Context, r models.DateRange) ([]*models.SectorSummary, error)
	GetSectorOverviews(ctx context.Context, r models.DateRange) ([]models.SectorOverview, error)
	GetCompanyPeriodPrices(ctx context.Context, r models.DateRange, period string, limit int) ([]models.CompanyPeriodPrices, error)
	GetDailyPrices(ctx context.Context, companyID string, r models.DateRange) (*models.CompanyPrices, error)
	Sectors(ctx context.Context) ([]string, error)
}

// HealthReporter reports store health.
type HealthReporter interface {
	GetHealth(ctx context.Context) *models.Health
}

// RunLister lists recent ingestion runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]*models.IngestionRun, error)
}

// ReaderIngester ingests an uploaded CSV body.
type ReaderIngester interface {
	IngestReader(ctx context.Context, name string, r io.Reader) (*models.IngestionReport, error)
}

// IngestionTrigger re-ingests the configured sources.
type IngestionTrigger interface {
	RunNow(ctx context.Context) (*models.IngestionReport, error)
}

// ReportRenderer renders the sector report.
type ReportRenderer interface {
	Render(ctx context.Context, r models.DateRange, label, format string) (*report.Document, error)
}
