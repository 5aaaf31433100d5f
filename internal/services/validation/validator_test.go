package validation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/stockpulse/internal/models"
)

func fixedClock() time.Time {
	return time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)
}

func validRow() models.RawRow {
	return models.RawRow{
		models.ColCompanyID:         "AAA",
		models.ColSector:            "Technology",
		models.ColTradeDate:         "2024-01-02",
		models.ColOpen:              "99.5",
		models.ColHigh:              "101",
		models.ColLow:               "98.75",
		models.ColClose:             "100",
		models.ColVolume:            "12000",
		models.ColSharesOutstanding: "1000",
		models.ColEarningsPerShare:  "5",
		models.ColDividendPerShare:  "0.25",
	}
}

func newTestValidator() *Validator {
	return NewValidator(NewSectorRegistry([]string{"Technology", "Energy"}, false)).WithClock(fixedClock)
}

func TestValidator_ValidRow(t *testing.T) {
	record, err := newTestValidator().Validate(validRow())
	require.NoError(t, err)

	assert.Equal(t, "AAA", record.CompanyID)
	assert.Equal(t, "Technology", record.Sector)
	assert.Equal(t, "2024-01-02", record.Day)
	assert.True(t, record.Close.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(12000), record.Volume)
	assert.Equal(t, int64(1000), record.SharesOutstanding)
	assert.True(t, record.EarningsPerShare.Valid)
	assert.True(t, record.DividendPerShare.Decimal.Equal(decimal.RequireFromString("0.25")))
	assert.False(t, record.SentimentScore.Valid)
}

func TestValidator_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(models.RawRow)
		field  string
	}{
		{"missing company", func(r models.RawRow) { delete(r, models.ColCompanyID) }, models.ColCompanyID},
		{"blank close", func(r models.RawRow) { r[models.ColClose] = "  " }, models.ColClose},
		{"negative open", func(r models.RawRow) { r[models.ColOpen] = "-1" }, models.ColOpen},
		{"zero close", func(r models.RawRow) { r[models.ColClose] = "0" }, models.ColClose},
		{"price not numeric", func(r models.RawRow) { r[models.ColHigh] = "abc" }, models.ColHigh},
		{"high below low", func(r models.RawRow) { r[models.ColHigh] = "90" }, models.ColHigh},
		{"negative volume", func(r models.RawRow) { r[models.ColVolume] = "-5" }, models.ColVolume},
		{"fractional volume", func(r models.RawRow) { r[models.ColVolume] = "10.5" }, models.ColVolume},
		{"volume beyond int64", func(r models.RawRow) { r[models.ColVolume] = "99999999999999999999" }, models.ColVolume},
		{"volume beyond uint64", func(r models.RawRow) { r[models.ColVolume] = "18446744073709551617" }, models.ColVolume},
		{"volume in exponent form beyond int64", func(r models.RawRow) { r[models.ColVolume] = "1e30" }, models.ColVolume},
		{"volume below int64", func(r models.RawRow) { r[models.ColVolume] = "-99999999999999999999" }, models.ColVolume},
		{"shares beyond int64", func(r models.RawRow) { r[models.ColSharesOutstanding] = "18446744073709551617" }, models.ColSharesOutstanding},
		{"negative market cap", func(r models.RawRow) { r[models.ColMarketCap] = "-1" }, models.ColMarketCap},
		{"market cap not numeric", func(r models.RawRow) { r[models.ColMarketCap] = "big" }, models.ColMarketCap},
		{"market cap beyond int64 shares", func(r models.RawRow) {
			delete(r, models.ColSharesOutstanding)
			r[models.ColMarketCap] = "1e40"
		}, models.ColMarketCap},
		{"pe not numeric", func(r models.RawRow) { r[models.ColPERatio] = "n/a" }, models.ColPERatio},
		{"negative dividend yield", func(r models.RawRow) { r[models.ColDividendYield] = "-0.02" }, models.ColDividendYield},
		{"zero shares", func(r models.RawRow) { r[models.ColSharesOutstanding] = "0" }, models.ColSharesOutstanding},
		{"negative dividend", func(r models.RawRow) { r[models.ColDividendPerShare] = "-0.1" }, models.ColDividendPerShare},
		{"bad date", func(r models.RawRow) { r[models.ColTradeDate] = "2024-02-30" }, models.ColTradeDate},
		{"future date", func(r models.RawRow) { r[models.ColTradeDate] = "2024-07-01" }, models.ColTradeDate},
		{"unknown sector", func(r models.RawRow) { r[models.ColSector] = "Crypto" }, models.ColSector},
		{"unknown trend", func(r models.RawRow) { r[models.ColTrend] = "Sideways" }, models.ColTrend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			tt.mutate(row)

			record, err := newTestValidator().Validate(row)
			require.Error(t, err)
			assert.Nil(t, record)

			var vErr *models.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.field, vErr.Field)
			assert.NotEmpty(t, vErr.Reason)
		})
	}
}

func TestValidator_OptionalFields(t *testing.T) {
	row := validRow()
	delete(row, models.ColSharesOutstanding)
	row[models.ColEarningsPerShare] = "-1.5" // losses are valid input
	row[models.ColDividendPerShare] = ""
	row[models.ColTrend] = "bullish"
	row[models.ColVolume] = "1200.0"

	record, err := newTestValidator().Validate(row)
	require.NoError(t, err)
	assert.False(t, record.HasShares())
	assert.True(t, record.EarningsPerShare.Decimal.IsNegative())
	assert.False(t, record.DividendPerShare.Valid)
	assert.Equal(t, models.TrendBullish, record.Trend)
	assert.Equal(t, int64(1200), record.Volume)
}

func TestValidator_LargeIntegralVolume(t *testing.T) {
	row := validRow()
	row[models.ColVolume] = "9223372036854775807.0"

	record, err := newTestValidator().Validate(row)
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036854775807), record.Volume)
}

func TestValidator_RatioColumns(t *testing.T) {
	row := validRow()
	delete(row, models.ColSharesOutstanding)
	delete(row, models.ColEarningsPerShare)
	delete(row, models.ColDividendPerShare)
	row[models.ColMarketCap] = "150000"
	row[models.ColPERatio] = "20"
	row[models.ColDividendYield] = "0.01"

	record, err := newTestValidator().Validate(row)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), record.SharesOutstanding)
	require.True(t, record.EarningsPerShare.Valid)
	assert.True(t, record.EarningsPerShare.Decimal.Equal(decimal.NewFromInt(5)))
	require.True(t, record.DividendPerShare.Valid)
	assert.True(t, record.DividendPerShare.Decimal.Equal(decimal.RequireFromString("0.25")))

	t.Run("percentage yield", func(t *testing.T) {
		row := validRow()
		delete(row, models.ColDividendPerShare)
		row[models.ColDividendYield] = "2.5"

		record, err := newTestValidator().Validate(row)
		require.NoError(t, err)
		assert.True(t, record.DividendPerShare.Decimal.Equal(decimal.RequireFromString("0.625")))
	})

	t.Run("annual payer", func(t *testing.T) {
		row := validRow()
		delete(row, models.ColDividendPerShare)
		row[models.ColDividendYield] = "0.01"

		record, err := newTestValidator().WithDistributionsPerYear(1).Validate(row)
		require.NoError(t, err)
		assert.True(t, record.DividendPerShare.Decimal.Equal(decimal.NewFromInt(1)))
	})

	t.Run("reported inputs win", func(t *testing.T) {
		row := validRow()
		row[models.ColMarketCap] = "999999"
		row[models.ColPERatio] = "40"
		row[models.ColDividendYield] = "0.5"

		record, err := newTestValidator().Validate(row)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), record.SharesOutstanding)
		assert.True(t, record.EarningsPerShare.Decimal.Equal(decimal.NewFromInt(5)))
		assert.True(t, record.DividendPerShare.Decimal.Equal(decimal.RequireFromString("0.25")))
	})

	t.Run("non-positive pe and zero cap stay unreported", func(t *testing.T) {
		row := validRow()
		delete(row, models.ColSharesOutstanding)
		delete(row, models.ColEarningsPerShare)
		row[models.ColMarketCap] = "0"
		row[models.ColPERatio] = "-3"

		record, err := newTestValidator().Validate(row)
		require.NoError(t, err)
		assert.False(t, record.HasShares())
		assert.False(t, record.EarningsPerShare.Valid)
	})
}

func TestValidator_DynamicSectorRegisteredOnlyForValidRows(t *testing.T) {
	registry := NewSectorRegistry([]string{"Technology"}, true)
	v := NewValidator(registry).WithClock(fixedClock)

	row := validRow()
	row[models.ColSector] = "Utilities"
	row[models.ColClose] = "-4"

	_, err := v.Validate(row)
	require.Error(t, err)
	assert.Equal(t, []string{"Technology"}, registry.List())

	row = validRow()
	row[models.ColSector] = " Utilities "
	record, err := v.Validate(row)
	require.NoError(t, err)
	assert.Equal(t, "Utilities", record.Sector)
	assert.Equal(t, []string{"Technology", "Utilities"}, registry.List())

	row = validRow()
	row[models.ColSector] = "UTILITIES"
	record, err = v.Validate(row)
	require.NoError(t, err)
	assert.Equal(t, "Utilities", record.Sector, "later spellings resolve to the first registered one")
}

func TestValidator_DateLayouts(t *testing.T) {
	for _, raw := range []string{"2024-01-02", "2024-01-02T00:00:00Z", "2024-01-02 00:00:00", "2024/01/02"} {
		row := validRow()
		row[models.ColTradeDate] = raw

		record, err := newTestValidator().Validate(row)
		require.NoError(t, err, raw)
		assert.Equal(t, "2024-01-02", record.Day, raw)
	}

	// Today is not in the future
	row := validRow()
	row[models.ColTradeDate] = "2024-06-30"
	_, err := newTestValidator().Validate(row)
	assert.NoError(t, err)
}

func TestSectorRegistry_DynamicAndAliases(t *testing.T) {
	static := NewSectorRegistry([]string{"Technology"}, false)
	name, ok := static.Resolve(" technology ")
	assert.True(t, ok)
	assert.Equal(t, "Technology", name)

	_, ok = static.Resolve("Tech")
	assert.False(t, ok)

	dynamic := NewSectorRegistry([]string{"Technology"}, true)
	name, ok = dynamic.Resolve("Tech")
	assert.True(t, ok)
	assert.Equal(t, "Tech", name)
	assert.Equal(t, []string{"Tech", "Technology"}, dynamic.List())

	_, ok = dynamic.Resolve("")
	assert.False(t, ok)
}

func TestSectorRegistry_LookupAndRegister(t *testing.T) {
	registry := NewSectorRegistry([]string{"Technology"}, false)

	_, ok := registry.Lookup("Energy")
	assert.False(t, ok)
	assert.Equal(t, []string{"Technology"}, registry.List(), "lookup never registers")
	assert.False(t, registry.AllowsDynamic())

	registry.Register("Energy", " technology ", "")
	assert.Equal(t, []string{"Energy", "Technology"}, registry.List())

	name, ok := registry.Lookup("ENERGY")
	assert.True(t, ok)
	assert.Equal(t, "Energy", name)
}

func TestLoadSectorRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sectors.yaml")
	content := `allow_dynamic: false
sectors:
  - name: Technology
    aliases: [Tech, IT]
  - name: Energy
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	registry, err := LoadSectorRegistry(path, []string{"Finance"}, true)
	require.NoError(t, err)

	name, ok := registry.Resolve("tech")
	assert.True(t, ok)
	assert.Equal(t, "Technology", name)

	_, ok = registry.Resolve("Crypto")
	assert.False(t, ok, "file disables dynamic sectors")

	assert.Equal(t, []string{"Energy", "Finance", "Technology"}, registry.List())

	_, err = LoadSectorRegistry(filepath.Join(t.TempDir(), "missing.yaml"), nil, true)
	assert.Error(t, err)
}
