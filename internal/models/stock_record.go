package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the canonical trade date format used in keys, queries and JSON
const DayLayout = "2006-01-02"

// Trend labels carried from the source snapshots
const (
	TrendBullish = "Bullish"
	TrendBearish = "Bearish"
	TrendNeutral = "Neutral"
)

// StockRecord is one company's trading day. (CompanyID, Day) is the identity key.
// Stored records are immutable: a later snapshot that disagrees is a conflict, not an update.
type StockRecord struct {
	Key       string    `json:"-"`
	CompanyID string    `json:"company_id" validate:"required"`
	Sector    string    `json:"sector" validate:"required"`
	TradeDate time.Time `json:"-" validate:"required"`
	Day       string    `json:"trade_date"` // DayLayout form of TradeDate, used for range scans

	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	Volume            int64 `json:"volume" validate:"gte=0"`
	SharesOutstanding int64 `json:"shares_outstanding" validate:"gte=0"` // 0 when not reported

	EarningsPerShare decimal.NullDecimal `json:"earnings_per_share"`
	DividendPerShare decimal.NullDecimal `json:"dividend_per_share"`
	SentimentScore   decimal.NullDecimal `json:"sentiment_score"`
	Trend            string              `json:"trend,omitempty" validate:"omitempty,oneof=Bullish Bearish Neutral"`

	RunID      string    `json:"run_id,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// RecordKey builds the storage key for an identity key
func RecordKey(companyID string, day string) string {
	return fmt.Sprintf("%s|%s", companyID, day)
}

// IdentityKey returns the storage key of the record
func (r *StockRecord) IdentityKey() string {
	return RecordKey(r.CompanyID, r.Day)
}

// HasShares reports whether shares outstanding was supplied
func (r *StockRecord) HasShares() bool {
	return r.SharesOutstanding > 0
}

// Diff lists the market-data fields that differ between two records with the same identity key.
// Ingestion bookkeeping (RunID, IngestedAt) is ignored.
func (r *StockRecord) Diff(other *StockRecord) []string {
	var fields []string
	if r.Sector != other.Sector {
		fields = append(fields, "sector")
	}
	if !r.Open.Equal(other.Open) {
		fields = append(fields, "open")
	}
	if !r.High.Equal(other.High) {
		fields = append(fields, "high")
	}
	if !r.Low.Equal(other.Low) {
		fields = append(fields, "low")
	}
	if !r.Close.Equal(other.Close) {
		fields = append(fields, "close")
	}
	if r.Volume != other.Volume {
		fields = append(fields, "volume")
	}
	if r.SharesOutstanding != other.SharesOutstanding {
		fields = append(fields, "shares_outstanding")
	}
	if !nullDecimalEqual(r.EarningsPerShare, other.EarningsPerShare) {
		fields = append(fields, "earnings_per_share")
	}
	if !nullDecimalEqual(r.DividendPerShare, other.DividendPerShare) {
		fields = append(fields, "dividend_per_share")
	}
	if !nullDecimalEqual(r.SentimentScore, other.SentimentScore) {
		fields = append(fields, "sentiment_score")
	}
	if r.Trend != other.Trend {
		fields = append(fields, "trend")
	}
	return fields
}

// SameAs reports whether two records carry identical market data
func (r *StockRecord) SameAs(other *StockRecord) bool {
	return r.CompanyID == other.CompanyID && r.Day == other.Day && len(r.Diff(other)) == 0
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
