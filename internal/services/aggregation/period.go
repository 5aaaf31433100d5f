package aggregation

import (
	"context"
	"sort"

	"github.com/guregu/null/v6"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/metrics"
	"gonum.org/v1/gonum/stat"
)

// SectorOverviews returns avg close, total volume and avg volatility per sector over r.
// Sectors without volume are dropped; the rest are ordered by total volume, highest first.
func (s *Service) SectorOverviews(ctx context.Context, r models.DateRange) ([]models.SectorOverview, error) {
	records, err := s.load(ctx, interfaces.RecordQuery{}, r)
	if err != nil {
		return nil, err
	}

	type acc struct {
		closes []float64
		vol    []null.Float
		volume int64
	}
	bySector := make(map[string]*acc)

	for _, cs := range s.series(records, r) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, rec := range cs.records {
			a, ok := bySector[rec.Sector]
			if !ok {
				a = &acc{}
				bySector[rec.Sector] = a
			}
			a.closes = append(a.closes, cs.metrics[i].Close)
			a.vol = append(a.vol, cs.metrics[i].Volatility)
			a.volume += rec.Volume
		}
	}

	overviews := make([]models.SectorOverview, 0, len(bySector))
	for sector, a := range bySector {
		if a.volume == 0 {
			continue
		}
		overviews = append(overviews, models.SectorOverview{
			Sector:        sector,
			AvgClose:      stat.Mean(a.closes, nil),
			TotalVolume:   a.volume,
			AvgVolatility: metrics.Mean(a.vol),
		})
	}

	sort.Slice(overviews, func(i, j int) bool {
		if overviews[i].TotalVolume != overviews[j].TotalVolume {
			return overviews[i].TotalVolume > overviews[j].TotalVolume
		}
		return overviews[i].Sector < overviews[j].Sector
	})

	return overviews, nil
}

// CompanyPeriodPrices collapses each company's days in r into one row labelled period.
// Rows are ordered by summed market cap, highest first, and cut to limit when limit > 0.
func (s *Service) CompanyPeriodPrices(ctx context.Context, r models.DateRange, period string, limit int) ([]models.CompanyPeriodPrices, error) {
	records, err := s.load(ctx, interfaces.RecordQuery{}, r)
	if err != nil {
		return nil, err
	}

	var rows []models.CompanyPeriodPrices
	for _, cs := range s.series(records, r) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// A company that changed sector gets one row per sector
		bySector := make(map[string]*companySeries)
		var order []string
		for i, rec := range cs.records {
			part, ok := bySector[rec.Sector]
			if !ok {
				part = &companySeries{companyID: cs.companyID}
				bySector[rec.Sector] = part
				order = append(order, rec.Sector)
			}
			part.records = append(part.records, rec)
			part.metrics = append(part.metrics, cs.metrics[i])
		}

		for _, sector := range order {
			rows = append(rows, periodRow(bySector[sector], sector, period))
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].MarketCap != rows[j].MarketCap {
			return rows[i].MarketCap > rows[j].MarketCap
		}
		return rows[i].CompanyID < rows[j].CompanyID
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func periodRow(cs *companySeries, sector, period string) models.CompanyPeriodPrices {
	n := len(cs.records)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	var vol, pe, caps []null.Float
	trends := make([]string, 0, n)

	row := models.CompanyPeriodPrices{
		CompanyID: cs.companyID,
		Sector:    sector,
		Period:    period,
	}

	for i, rec := range cs.records {
		m := cs.metrics[i]
		open[i] = rec.Open.InexactFloat64()
		high[i] = rec.High.InexactFloat64()
		low[i] = rec.Low.InexactFloat64()
		closes[i] = m.Close
		row.Volume += rec.Volume
		vol = append(vol, m.Volatility)
		pe = append(pe, m.PERatio)
		caps = append(caps, m.MarketCap)
		trends = append(trends, rec.Trend)
	}

	row.Open = stat.Mean(open, nil)
	row.High = stat.Mean(high, nil)
	row.Low = stat.Mean(low, nil)
	row.Close = stat.Mean(closes, nil)
	row.Volatility = metrics.Mean(vol)
	row.PERatio = metrics.Mean(pe)
	row.MarketCap = sum(caps).Float64
	row.Trend = ModalTrend(trends)
	return row
}

// ModalTrend returns the most frequent non-empty trend, ties broken alphabetically,
// Neutral when none is set
func ModalTrend(trends []string) string {
	counts := make(map[string]int)
	for _, t := range trends {
		if t != "" {
			counts[t]++
		}
	}

	best, bestCount := models.TrendNeutral, 0
	for trend, count := range counts {
		if count > bestCount || (count == bestCount && trend < best) {
			best, bestCount = trend, count
		}
	}
	return best
}
