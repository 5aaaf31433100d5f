package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/stockpulse/internal/models"
)

// ErrMissingColumns is returned when a CSV header lacks required columns
var ErrMissingColumns = errors.New("csv header is missing required columns")

// headerAliases maps normalised alternative header names onto canonical columns
var headerAliases = map[string]string{
	"date":              models.ColTradeDate,
	"trading_date":      models.ColTradeDate,
	"company":           models.ColCompanyID,
	"ticker":            models.ColCompanyID,
	"symbol":            models.ColCompanyID,
	"shares":            models.ColSharesOutstanding,
	"eps":               models.ColEarningsPerShare,
	"dps":               models.ColDividendPerShare,
	"dividend":          models.ColDividendPerShare,
	"dividends":         models.ColDividendPerShare,
	"sentiment":         models.ColSentimentScore,
	"outstanding_share": models.ColSharesOutstanding,
	"marketcap":         models.ColMarketCap,
	"pe":                models.ColPERatio,
	"p_e_ratio":         models.ColPERatio,
	"yield":             models.ColDividendYield,
}

// CSVSource streams rows from a CSV with a header line
type CSVSource struct {
	name    string
	reader  *csv.Reader
	closer  io.Closer
	columns []string // canonical column per position, "" when ignored
	row     int
}

// NewCSVSource reads the header from r and maps it onto canonical columns
func NewCSVSource(name string, r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty csv: %w", name, ErrMissingColumns)
		}
		return nil, fmt.Errorf("%s: failed to read csv header: %w", name, err)
	}

	columns, err := mapHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &CSVSource{
		name:    name,
		reader:  reader,
		columns: columns,
	}, nil
}

// OpenCSVFile opens a CSV file as a RowSource
func OpenCSVFile(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	source, err := NewCSVSource(filepath.Base(path), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	source.closer = f
	return source, nil
}

// NormalizeHeader trims, lower-cases and joins words with underscores
func NormalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

func mapHeader(header []string) ([]string, error) {
	known := map[string]bool{
		models.ColSharesOutstanding: true,
		models.ColEarningsPerShare:  true,
		models.ColDividendPerShare:  true,
		models.ColSentimentScore:    true,
		models.ColTrend:             true,
		models.ColMarketCap:         true,
		models.ColPERatio:           true,
		models.ColDividendYield:     true,
	}
	for _, col := range models.RequiredColumns {
		known[col] = true
	}

	columns := make([]string, len(header))
	present := make(map[string]bool)
	for i, raw := range header {
		name := NormalizeHeader(raw)
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if !known[name] || present[name] {
			continue
		}
		columns[i] = name
		present[name] = true
	}

	var missing []string
	for _, col := range models.RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return columns, nil
}

func (s *CSVSource) Name() string {
	return s.name
}

func (s *CSVSource) Row() int {
	return s.row
}

// Next returns the next data row. Malformed lines come back as a ValidationError.
func (s *CSVSource) Next(ctx context.Context) (models.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	s.row++

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return nil, models.NewValidationError("row", parseErr.Err.Error(), "")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read row %d: %w", s.name, s.row, err)
	}

	row := make(models.RawRow, len(s.columns))
	for i, cell := range record {
		if i < len(s.columns) && s.columns[i] != "" {
			row[s.columns[i]] = cell
		}
	}
	return row, nil
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
