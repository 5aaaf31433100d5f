package models

import "github.com/guregu/null/v6"

// CorrelationMatrix holds pairwise Pearson correlations of daily returns.
// Values[i][j] is the correlation between Companies[i] and Companies[j]; null when undefined.
type CorrelationMatrix struct {
	Companies []string       `json:"companies"`
	Values    [][]null.Float `json:"values"`
}

// Get returns the cell for a pair of companies, null when either is absent
func (m CorrelationMatrix) Get(a, b string) null.Float {
	i, j := -1, -1
	for idx, id := range m.Companies {
		if id == a {
			i = idx
		}
		if id == b {
			j = idx
		}
	}
	if i < 0 || j < 0 {
		return null.Float{}
	}
	return m.Values[i][j]
}

// CompanySnapshot is one company's contribution to a sector summary
type CompanySnapshot struct {
	CompanyID      string     `json:"company_id"`
	Records        int        `json:"records"`
	LatestDay      string     `json:"latest_trade_date"`
	MarketCap      null.Float `json:"market_cap"` // on LatestDay
	MeanPERatio    null.Float `json:"mean_pe_ratio"`
	MeanYield      null.Float `json:"mean_dividend_yield"`
	MeanVolatility null.Float `json:"mean_volatility"`
	TotalVolume    int64      `json:"total_volume"`
}

// SectorSummary is recomputed per query and never persisted
type SectorSummary struct {
	Sector             string            `json:"sector"`
	Range              DateRange         `json:"date_range"`
	CompanyCount       int               `json:"company_count"`
	RecordCount        int               `json:"record_count"`
	AggregateMarketCap null.Float        `json:"aggregate_market_cap"`
	MeanPERatio        null.Float        `json:"mean_pe_ratio"`
	MeanDividendYield  null.Float        `json:"mean_dividend_yield"`
	MeanVolatility     null.Float        `json:"mean_volatility"`
	AverageClose       null.Float        `json:"avg_close"`
	TradingVolumeTotal int64             `json:"trading_volume_total"`
	Companies          []CompanySnapshot `json:"companies"`
	Correlation        CorrelationMatrix `json:"correlation_matrix"`
}

// SectorOverview is the compact per-sector row of the period view
type SectorOverview struct {
	Sector        string     `json:"sector"`
	AvgClose      float64    `json:"avg_close"`
	TotalVolume   int64      `json:"total_volume"`
	AvgVolatility null.Float `json:"avg_volatility"`
}

// CompanyPeriodPrices aggregates one company's days within a period
type CompanyPeriodPrices struct {
	CompanyID  string     `json:"company"`
	Sector     string     `json:"sector"`
	Period     string     `json:"date"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     int64      `json:"volume"`
	Volatility null.Float `json:"volatility"`
	PERatio    null.Float `json:"pe_ratio"`
	MarketCap  float64    `json:"market_cap"`
	Trend      string     `json:"trend"`
}
