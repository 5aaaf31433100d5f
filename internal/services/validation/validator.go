// Package validation turns raw input rows into typed, range-checked StockRecords.
package validation

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ternarybob/stockpulse/internal/models"
)

// dateLayouts are the accepted trade_date forms, tried in order
var dateLayouts = []string{
	models.DayLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
	hundred  = decimal.NewFromInt(100)
)

// Validator parses raw rows. It has no side effects beyond registering new sectors
// in a dynamic SectorRegistry, and only for rows that pass every check.
type Validator struct {
	sectors              *SectorRegistry
	validate             *validator.Validate
	now                  func() time.Time
	distributionsPerYear decimal.Decimal
}

// NewValidator creates a Validator bound to a sector registry
func NewValidator(sectors *SectorRegistry) *Validator {
	validate := validator.New()
	// Report json names so field errors match input column names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{
		sectors:              sectors,
		validate:             validate,
		now:                  time.Now,
		distributionsPerYear: decimal.NewFromInt(4),
	}
}

// WithDistributionsPerYear sets the payment frequency used to turn a dividend yield into
// a per-payment dividend. Values below one are ignored.
func (v *Validator) WithDistributionsPerYear(n int) *Validator {
	if n >= 1 {
		v.distributionsPerYear = decimal.NewFromInt(int64(n))
	}
	return v
}

// WithClock overrides the reference time used by the future-date check
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate produces a StockRecord or a *models.ValidationError naming the offending field
func (v *Validator) Validate(row models.RawRow) (*models.StockRecord, error) {
	for _, col := range models.RequiredColumns {
		if strings.TrimSpace(row[col]) == "" {
			return nil, models.NewValidationError(col, "required field is missing", "")
		}
	}

	record := &models.StockRecord{
		CompanyID: strings.TrimSpace(row[models.ColCompanyID]),
	}

	sector, known := v.sectors.Lookup(row[models.ColSector])
	if !known {
		if !v.sectors.AllowsDynamic() {
			return nil, models.NewValidationError(models.ColSector, "unknown sector", row[models.ColSector])
		}
		sector = strings.TrimSpace(row[models.ColSector])
	}
	record.Sector = sector

	tradeDate, err := v.parseTradeDate(row[models.ColTradeDate])
	if err != nil {
		return nil, err
	}
	record.TradeDate = tradeDate
	record.Day = tradeDate.Format(models.DayLayout)

	prices := []struct {
		col string
		dst *decimal.Decimal
	}{
		{models.ColOpen, &record.Open},
		{models.ColHigh, &record.High},
		{models.ColLow, &record.Low},
		{models.ColClose, &record.Close},
	}
	for _, p := range prices {
		d, err := parseNonNegativeDecimal(p.col, row[p.col])
		if err != nil {
			return nil, err
		}
		*p.dst = d
	}
	if !record.Close.IsPositive() {
		return nil, models.NewValidationError(models.ColClose, "must be positive", row[models.ColClose])
	}
	if record.High.LessThan(record.Low) {
		return nil, models.NewValidationError(models.ColHigh, "must not be below low", row[models.ColHigh])
	}

	if record.Volume, err = parseInteger(models.ColVolume, row[models.ColVolume]); err != nil {
		return nil, err
	}
	if record.Volume < 0 {
		return nil, models.NewValidationError(models.ColVolume, "must be non-negative", row[models.ColVolume])
	}

	if raw := strings.TrimSpace(row[models.ColSharesOutstanding]); raw != "" {
		if record.SharesOutstanding, err = parseInteger(models.ColSharesOutstanding, raw); err != nil {
			return nil, err
		}
		if record.SharesOutstanding <= 0 {
			return nil, models.NewValidationError(models.ColSharesOutstanding, "must be positive", raw)
		}
	}

	if record.EarningsPerShare, err = parseOptionalDecimal(models.ColEarningsPerShare, row[models.ColEarningsPerShare]); err != nil {
		return nil, err
	}
	if record.DividendPerShare, err = parseOptionalDecimal(models.ColDividendPerShare, row[models.ColDividendPerShare]); err != nil {
		return nil, err
	}
	if record.DividendPerShare.Valid && record.DividendPerShare.Decimal.IsNegative() {
		return nil, models.NewValidationError(models.ColDividendPerShare, "must be non-negative", row[models.ColDividendPerShare])
	}
	if record.SentimentScore, err = parseOptionalDecimal(models.ColSentimentScore, row[models.ColSentimentScore]); err != nil {
		return nil, err
	}

	if err := v.deriveFromRatios(row, record); err != nil {
		return nil, err
	}

	record.Trend = normalizeTrend(row[models.ColTrend])

	if err := v.validate.Struct(record); err != nil {
		return nil, structError(err)
	}

	if !known {
		// A concurrent row may have registered another spelling first
		if record.Sector, known = v.sectors.Resolve(sector); !known {
			return nil, models.NewValidationError(models.ColSector, "unknown sector", row[models.ColSector])
		}
	}

	return record, nil
}

// deriveFromRatios fills shares outstanding, EPS and DPS from market cap, P/E and
// dividend yield when a source reports the ratios instead. Reported inputs win.
func (v *Validator) deriveFromRatios(row models.RawRow, record *models.StockRecord) error {
	marketCap, err := parseOptionalDecimal(models.ColMarketCap, row[models.ColMarketCap])
	if err != nil {
		return err
	}
	if marketCap.Valid {
		if marketCap.Decimal.IsNegative() {
			return models.NewValidationError(models.ColMarketCap, "must be non-negative", row[models.ColMarketCap])
		}
		if record.SharesOutstanding == 0 {
			shares := marketCap.Decimal.Div(record.Close).Round(0)
			if shares.GreaterThan(maxInt64) {
				return models.NewValidationError(models.ColMarketCap, "out of range", row[models.ColMarketCap])
			}
			// Zero leaves shares unreported
			record.SharesOutstanding = shares.IntPart()
		}
	}

	pe, err := parseOptionalDecimal(models.ColPERatio, row[models.ColPERatio])
	if err != nil {
		return err
	}
	// A non-positive P/E carries no usable earnings figure
	if pe.Valid && pe.Decimal.IsPositive() && !record.EarningsPerShare.Valid {
		record.EarningsPerShare = decimal.NewNullDecimal(record.Close.Div(pe.Decimal))
	}

	yield, err := parseOptionalDecimal(models.ColDividendYield, row[models.ColDividendYield])
	if err != nil {
		return err
	}
	if yield.Valid {
		if yield.Decimal.IsNegative() {
			return models.NewValidationError(models.ColDividendYield, "must be non-negative", row[models.ColDividendYield])
		}
		if !record.DividendPerShare.Valid {
			y := yield.Decimal
			// Above 1 the yield is a percentage
			if y.GreaterThan(decimal.NewFromInt(1)) {
				y = y.Div(hundred)
			}
			record.DividendPerShare = decimal.NewNullDecimal(y.Mul(record.Close).Div(v.distributionsPerYear))
		}
	}

	return nil
}

func (v *Validator) parseTradeDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

		now := v.now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if day.After(today) {
			return time.Time{}, models.NewValidationError(models.ColTradeDate, "must not be in the future", raw)
		}
		return day, nil
	}
	return time.Time{}, models.NewValidationError(models.ColTradeDate, "not a valid calendar date", raw)
}

func parseNonNegativeDecimal(col, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, models.NewValidationError(col, "not a decimal number", raw)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, models.NewValidationError(col, "must be non-negative", raw)
	}
	return d, nil
}

func parseOptionalDecimal(col, raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, models.NewValidationError(col, "not a decimal number", raw)
	}
	return decimal.NewNullDecimal(d), nil
}

// parseInteger accepts plain integers and integral decimals such as "1200.0"
func parseInteger(col, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() {
		return 0, models.NewValidationError(col, "not an integer", raw)
	}
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return 0, models.NewValidationError(col, "out of range", raw)
	}
	return d.IntPart(), nil
}

func normalizeTrend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bullish":
		return models.TrendBullish
	case "bearish":
		return models.TrendBearish
	case "neutral":
		return models.TrendNeutral
	case "":
		return ""
	}
	// Left as-is so the struct check reports it
	return strings.TrimSpace(raw)
}

func structError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return models.NewValidationError(fe.Field(), "failed "+fe.Tag()+" check", "")
	}
	return models.NewValidationError("record", err.Error(), "")
}
