// Package aggregation builds sector summaries from stored records and derived metrics.
// It only reads from the store.
package aggregation

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/guregu/null/v6"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/metrics"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// ErrNoData is returned when nothing is stored for the requested sector and range
var ErrNoData = errors.New("no records for the requested sector and range")

// minCommonDays is the overlap two return series need for a correlation
const minCommonDays = 2

// Service is the aggregation engine
type Service struct {
	records interfaces.RecordStorage
	calc    *metrics.Calculator
	logger  arbor.ILogger
	workers int
}

// NewService creates the aggregation engine
func NewService(records interfaces.RecordStorage, calc *metrics.Calculator, logger arbor.ILogger, workers int) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		records: records,
		calc:    calc,
		logger:  logger,
		workers: workers,
	}
}

// companySeries is one company's records and metrics restricted to the range
type companySeries struct {
	companyID string
	records   []*models.StockRecord
	metrics   []*models.CompanyMetrics
}

// load reads every record up to the end of r so volatility sees the history before the range
func (s *Service) load(ctx context.Context, query interfaces.RecordQuery, r models.DateRange) ([]*models.StockRecord, error) {
	query.Range = models.DateRange{To: r.To}
	return s.records.Find(ctx, query)
}

// series computes metrics per company and cuts each series down to r.
// Companies without days in r are dropped.
func (s *Service) series(records []*models.StockRecord, r models.DateRange) []companySeries {
	grouped := metrics.GroupByCompany(records)

	companies := make([]string, 0, len(grouped))
	for company := range grouped {
		companies = append(companies, company)
	}
	sort.Strings(companies)

	out := make([]companySeries, 0, len(companies))
	for _, company := range companies {
		recs := grouped[company]
		computed := s.calc.Compute(recs)

		cs := companySeries{companyID: company}
		for i, rec := range recs {
			if r.ContainsDay(rec.Day) {
				cs.records = append(cs.records, rec)
				cs.metrics = append(cs.metrics, computed[i])
			}
		}
		if len(cs.records) > 0 {
			out = append(out, cs)
		}
	}
	return out
}

// Summarize builds the summary of one sector over r
func (s *Service) Summarize(ctx context.Context, sector string, r models.DateRange) (*models.SectorSummary, error) {
	records, err := s.load(ctx, interfaces.RecordQuery{Sector: sector}, r)
	if err != nil {
		return nil, err
	}

	summary, err := s.summarize(ctx, sector, records, r)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, ErrNoData
	}
	return summary, nil
}

// SummarizeAll builds one summary per sector with records in r, ordered by sector name.
// Sectors are computed concurrently. On cancellation nothing is returned.
func (s *Service) SummarizeAll(ctx context.Context, r models.DateRange) ([]*models.SectorSummary, error) {
	records, err := s.load(ctx, interfaces.RecordQuery{}, r)
	if err != nil {
		return nil, err
	}

	bySector := make(map[string][]*models.StockRecord)
	for _, rec := range records {
		bySector[rec.Sector] = append(bySector[rec.Sector], rec)
	}

	sectors := make([]string, 0, len(bySector))
	for sector := range bySector {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)

	results := make([]*models.SectorSummary, len(sectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, sector := range sectors {
		i, sector := i, sector
		g.Go(func() error {
			summary, err := s.summarize(gctx, sector, bySector[sector], r)
			if err != nil {
				return err
			}
			results[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]*models.SectorSummary, 0, len(results))
	for _, summary := range results {
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}

	s.logger.Debug().
		Str("range", r.String()).
		Int("sectors", len(summaries)).
		Msg("Summarized all sectors")

	return summaries, nil
}

// summarize returns nil when no company of the sector has records in r
func (s *Service) summarize(ctx context.Context, sector string, records []*models.StockRecord, r models.DateRange) (*models.SectorSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series := s.series(records, r)
	if len(series) == 0 {
		return nil, nil
	}

	summary := &models.SectorSummary{
		Sector:    sector,
		Range:     r,
		Companies: make([]models.CompanySnapshot, 0, len(series)),
	}

	var pe, yield, vol, closes, caps []null.Float
	for _, cs := range series {
		snapshot := snapshotOf(cs)
		summary.Companies = append(summary.Companies, snapshot)
		summary.RecordCount += snapshot.Records
		summary.TradingVolumeTotal += snapshot.TotalVolume
		caps = append(caps, snapshot.MarketCap)

		for _, m := range cs.metrics {
			pe = append(pe, m.PERatio)
			yield = append(yield, m.DividendYield)
			vol = append(vol, m.Volatility)
			closes = append(closes, null.FloatFrom(m.Close))
		}
	}

	summary.CompanyCount = len(series)
	summary.AggregateMarketCap = sum(caps)
	summary.MeanPERatio = metrics.Mean(pe)
	summary.MeanDividendYield = metrics.Mean(yield)
	summary.MeanVolatility = metrics.Mean(vol)
	summary.AverageClose = metrics.Mean(closes)

	correlation, err := s.correlate(ctx, series)
	if err != nil {
		return nil, err
	}
	summary.Correlation = correlation

	return summary, nil
}

func snapshotOf(cs companySeries) models.CompanySnapshot {
	var pe, yield, vol []null.Float
	snapshot := models.CompanySnapshot{
		CompanyID: cs.companyID,
		Records:   len(cs.records),
	}
	for _, m := range cs.metrics {
		pe = append(pe, m.PERatio)
		yield = append(yield, m.DividendYield)
		vol = append(vol, m.Volatility)
		snapshot.TotalVolume += m.Volume
	}

	latest := cs.metrics[len(cs.metrics)-1]
	snapshot.LatestDay = latest.Day
	snapshot.MarketCap = latest.MarketCap
	snapshot.MeanPERatio = metrics.Mean(pe)
	snapshot.MeanYield = metrics.Mean(yield)
	snapshot.MeanVolatility = metrics.Mean(vol)
	return snapshot
}

// sum adds the non-null values; null when there are none
func sum(values []null.Float) null.Float {
	valid := metrics.Valid(values)
	if len(valid) == 0 {
		return null.Float{}
	}
	total := 0.0
	for _, v := range valid {
		total += v
	}
	return null.FloatFrom(total)
}

// correlate builds the Pearson matrix of daily returns over the range.
// Rows are computed concurrently and the whole matrix is discarded on cancellation.
func (s *Service) correlate(ctx context.Context, series []companySeries) (models.CorrelationMatrix, error) {
	n := len(series)
	matrix := models.CorrelationMatrix{
		Companies: make([]string, n),
		Values:    make([][]null.Float, n),
	}

	returns := make([]map[string]float64, n)
	for i, cs := range series {
		matrix.Companies[i] = cs.companyID
		matrix.Values[i] = make([]null.Float, n)

		returns[i] = make(map[string]float64, len(cs.metrics))
		for _, m := range cs.metrics {
			if m.DailyReturn.Valid {
				returns[i][m.Day] = m.DailyReturn.Float64
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if len(returns[i]) >= minCommonDays {
				matrix.Values[i][i] = null.FloatFrom(1)
			}
			for j := i + 1; j < n; j++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				cell := Pearson(returns[i], returns[j])
				matrix.Values[i][j] = cell
				matrix.Values[j][i] = cell
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.CorrelationMatrix{}, err
	}
	// errgroup only reports handler errors; a cancel after the last row still counts
	if err := ctx.Err(); err != nil {
		return models.CorrelationMatrix{}, err
	}

	return matrix, nil
}

// Pearson correlates two day-keyed return series over their common days.
// Null with fewer than two common days or when either side has no variance.
func Pearson(a, b map[string]float64) null.Float {
	days := make([]string, 0, len(a))
	for day := range a {
		if _, ok := b[day]; ok {
			days = append(days, day)
		}
	}
	if len(days) < minCommonDays {
		return null.Float{}
	}
	sort.Strings(days)

	x := make([]float64, len(days))
	y := make([]float64, len(days))
	for i, day := range days {
		x[i] = a[day]
		y[i] = b[day]
	}

	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return null.Float{}
	}
	// Clamp float noise so identical series read as exactly 1
	return null.FloatFrom(math.Max(-1, math.Min(1, c)))
}
