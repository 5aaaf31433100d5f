// Package metrics derives per-company financial figures from stored records.
package metrics

import (
	"sort"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/ternarybob/stockpulse/internal/models"
	"gonum.org/v1/gonum/stat"
)

// Calculator is stateless and safe for concurrent use
type Calculator struct {
	window               int
	distributionsPerYear decimal.Decimal
}

// NewCalculator creates a calculator with a volatility window (in daily returns)
// and the number of dividend distributions per year
func NewCalculator(window, distributionsPerYear int) *Calculator {
	if window < 2 {
		window = 2
	}
	if distributionsPerYear < 1 {
		distributionsPerYear = 1
	}
	return &Calculator{
		window:               window,
		distributionsPerYear: decimal.NewFromInt(int64(distributionsPerYear)),
	}
}

// Window returns the volatility window length
func (c *Calculator) Window() int {
	return c.window
}

// Compute derives one CompanyMetrics per record, in input order.
// records must belong to one company and be ordered by trade date.
// A record that lacks an input yields nulls for the dependent fields only.
func (c *Calculator) Compute(records []*models.StockRecord) []*models.CompanyMetrics {
	out := make([]*models.CompanyMetrics, len(records))
	returns := make([]null.Float, len(records))

	for i, record := range records {
		m := &models.CompanyMetrics{
			CompanyID:     record.CompanyID,
			Sector:        record.Sector,
			TradeDate:     record.TradeDate,
			Day:           record.Day,
			Close:         record.Close.InexactFloat64(),
			Volume:        record.Volume,
			MarketCap:     MarketCap(record),
			PERatio:       PERatio(record),
			DividendYield: c.DividendYield(record),
		}

		if i > 0 {
			returns[i] = DailyReturn(records[i-1].Close, record.Close)
		}
		m.DailyReturn = returns[i]
		m.Volatility = c.volatility(returns[:i+1])

		out[i] = m
	}

	return out
}

// ComputeByCompany groups records by company, orders each series by date and computes it.
// The result maps company id to its metrics series.
func (c *Calculator) ComputeByCompany(records []*models.StockRecord) map[string][]*models.CompanyMetrics {
	series := GroupByCompany(records)
	result := make(map[string][]*models.CompanyMetrics, len(series))
	for company, recs := range series {
		result[company] = c.Compute(recs)
	}
	return result
}

// GroupByCompany splits records per company, each series ordered by trade date
func GroupByCompany(records []*models.StockRecord) map[string][]*models.StockRecord {
	series := make(map[string][]*models.StockRecord)
	for _, r := range records {
		series[r.CompanyID] = append(series[r.CompanyID], r)
	}
	for _, recs := range series {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Day < recs[j].Day })
	}
	return series
}

// MarketCap is close x shares outstanding, null when shares were not reported
func MarketCap(r *models.StockRecord) null.Float {
	if !r.HasShares() {
		return null.Float{}
	}
	return null.FloatFrom(r.Close.Mul(decimal.NewFromInt(r.SharesOutstanding)).InexactFloat64())
}

// PERatio is close / EPS, null when EPS is missing, zero or negative
func PERatio(r *models.StockRecord) null.Float {
	if !r.EarningsPerShare.Valid || !r.EarningsPerShare.Decimal.IsPositive() {
		return null.Float{}
	}
	return null.FloatFrom(r.Close.Div(r.EarningsPerShare.Decimal).InexactFloat64())
}

// DividendYield is annualised dividend / close.
// Zero when the dividend is zero, null when close is zero or the dividend is missing.
func (c *Calculator) DividendYield(r *models.StockRecord) null.Float {
	if !r.Close.IsPositive() || !r.DividendPerShare.Valid {
		return null.Float{}
	}
	if r.DividendPerShare.Decimal.IsZero() {
		return null.FloatFrom(0)
	}
	annual := r.DividendPerShare.Decimal.Mul(c.distributionsPerYear)
	return null.FloatFrom(annual.Div(r.Close).InexactFloat64())
}

// DailyReturn is close_t / close_{t-1} - 1, null when the previous close is not positive
func DailyReturn(prevClose, curClose decimal.Decimal) null.Float {
	if !prevClose.IsPositive() {
		return null.Float{}
	}
	return null.FloatFrom(curClose.InexactFloat64()/prevClose.InexactFloat64() - 1)
}

// volatility is the sample standard deviation of the defined returns among the
// trailing window ending at the last element; null with fewer than two
func (c *Calculator) volatility(returns []null.Float) null.Float {
	start := len(returns) - c.window
	if start < 0 {
		start = 0
	}

	values := Valid(returns[start:])
	if len(values) < 2 {
		return null.Float{}
	}
	return null.FloatFrom(stat.StdDev(values, nil))
}

// Valid extracts the non-null values
func Valid(values []null.Float) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			out = append(out, v.Float64)
		}
	}
	return out
}

// Mean averages the non-null values; null when there are none.
// Nulls are excluded from both numerator and denominator.
func Mean(values []null.Float) null.Float {
	valid := Valid(values)
	if len(valid) == 0 {
		return null.Float{}
	}
	return null.FloatFrom(stat.Mean(valid, nil))
}
