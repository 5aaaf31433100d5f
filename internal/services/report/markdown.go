package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/ternarybob/stockpulse/internal/models"
)

const missing = "n/a"

// BuildMarkdown writes the sector report as markdown. label names the covered period.
func BuildMarkdown(label string, generatedAt time.Time, overviews []models.SectorOverview, summaries []*models.SectorSummary) string {
	var b strings.Builder

	b.WriteString("# Sector Report\n\n")
	if label == "" {
		label = "all data"
	}
	fmt.Fprintf(&b, "Period: **%s**\n\n", label)
	fmt.Fprintf(&b, "Generated: %s\n\n", generatedAt.UTC().Format(time.RFC3339))

	if len(summaries) == 0 {
		b.WriteString("No records in this period.\n")
		return b.String()
	}

	b.WriteString("## Overview\n\n")
	b.WriteString("| Sector | Companies | Records | Market Cap | Mean P/E | Mean Yield | Mean Volatility | Volume |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "| %s | %d | %d | %s | %s | %s | %s | %d |\n",
			cell(s.Sector),
			s.CompanyCount,
			s.RecordCount,
			money(s.AggregateMarketCap),
			number(s.MeanPERatio, 2),
			percent(s.MeanDividendYield),
			percent(s.MeanVolatility),
			s.TradingVolumeTotal,
		)
	}
	b.WriteString("\n")

	if len(overviews) > 0 {
		b.WriteString("## Volume Ranking\n\n")
		b.WriteString("| Sector | Avg Close | Total Volume | Avg Volatility |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, o := range overviews {
			fmt.Fprintf(&b, "| %s | %.2f | %d | %s |\n", cell(o.Sector), o.AvgClose, o.TotalVolume, percent(o.AvgVolatility))
		}
		b.WriteString("\n")
	}

	for _, s := range summaries {
		writeSector(&b, s)
	}

	return b.String()
}

func writeSector(b *strings.Builder, s *models.SectorSummary) {
	fmt.Fprintf(b, "---\n\n## %s\n\n", cell(s.Sector))
	fmt.Fprintf(b, "Average close: %s\n\n", number(s.AverageClose, 2))

	b.WriteString("| Company | Records | Latest Day | Market Cap | Mean P/E | Mean Yield | Mean Volatility | Volume |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, c := range s.Companies {
		fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s | %s | %d |\n",
			cell(c.CompanyID),
			c.Records,
			c.LatestDay,
			money(c.MarketCap),
			number(c.MeanPERatio, 2),
			percent(c.MeanYield),
			percent(c.MeanVolatility),
			c.TotalVolume,
		)
	}
	b.WriteString("\n")

	m := s.Correlation
	if len(m.Companies) < 2 {
		return
	}

	b.WriteString("### Return Correlation\n\n")
	b.WriteString("| |")
	for _, id := range m.Companies {
		fmt.Fprintf(b, " %s |", cell(id))
	}
	b.WriteString("\n|---|")
	b.WriteString(strings.Repeat("---|", len(m.Companies)))
	b.WriteString("\n")
	for i, id := range m.Companies {
		fmt.Fprintf(b, "| %s |", cell(id))
		for _, v := range m.Values[i] {
			fmt.Fprintf(b, " %s |", number(v, 3))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func number(v null.Float, precision int) string {
	if !v.Valid {
		return missing
	}
	return fmt.Sprintf("%.*f", precision, v.Float64)
}

func percent(v null.Float) string {
	if !v.Valid {
		return missing
	}
	return fmt.Sprintf("%.2f%%", v.Float64*100)
}

func money(v null.Float) string {
	if !v.Valid {
		return missing
	}
	switch f := v.Float64; {
	case f >= 1e12:
		return fmt.Sprintf("%.2fT", f/1e12)
	case f >= 1e9:
		return fmt.Sprintf("%.2fB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%.2fM", f/1e6)
	default:
		return fmt.Sprintf("%.0f", f)
	}
}

// cell escapes table delimiters in free text
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
