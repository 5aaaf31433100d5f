package models

// Canonical input columns
const (
	ColCompanyID         = "company_id"
	ColSector            = "sector"
	ColTradeDate         = "trade_date"
	ColOpen              = "open"
	ColHigh              = "high"
	ColLow               = "low"
	ColClose             = "close"
	ColVolume            = "volume"
	ColSharesOutstanding = "shares_outstanding"
	ColEarningsPerShare  = "earnings_per_share"
	ColDividendPerShare  = "dividend_per_share"
	ColSentimentScore    = "sentiment_score"
	ColTrend             = "trend"

	// Ratio columns some sources report in place of shares, EPS and DPS
	ColMarketCap     = "market_cap"
	ColPERatio       = "pe_ratio"
	ColDividendYield = "dividend_yield"
)

// RequiredColumns must be present in every batch source
var RequiredColumns = []string{
	ColCompanyID,
	ColSector,
	ColTradeDate,
	ColOpen,
	ColHigh,
	ColLow,
	ColClose,
	ColVolume,
}

// RawRow maps canonical column names to raw cell values
type RawRow map[string]string

// Get returns the raw cell and whether the column was present
func (r RawRow) Get(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}
