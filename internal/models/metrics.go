package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// CompanyMetrics holds the figures derived from exactly one StockRecord.
// A field that cannot be computed is null, never zero.
type CompanyMetrics struct {
	CompanyID string    `json:"company_id"`
	Sector    string    `json:"sector"`
	TradeDate time.Time `json:"-"`
	Day       string    `json:"trade_date"`

	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`

	MarketCap     null.Float `json:"market_cap"`
	PERatio       null.Float `json:"pe_ratio"`
	DividendYield null.Float `json:"dividend_yield"`
	DailyReturn   null.Float `json:"daily_return"`
	Volatility    null.Float `json:"volatility"`
}

// DailyPrice pairs a stored record with its derived metrics
type DailyPrice struct {
	Record  *StockRecord    `json:"record"`
	Metrics *CompanyMetrics `json:"metrics"`
}

// CompanyPrices is the daily series for one company over a range
type CompanyPrices struct {
	CompanyID string       `json:"company_id"`
	Sector    string       `json:"sector"`
	Range     DateRange    `json:"date_range"`
	Days      []DailyPrice `json:"days"`
}
