// Package report renders sector summaries as markdown, HTML or PDF documents.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Output formats
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
)

// ErrUnsupportedFormat is returned for a format other than md, html or pdf
var ErrUnsupportedFormat = errors.New("unsupported report format, use md, html or pdf")

// SummarySource supplies the aggregated data a report is built from
type SummarySource interface {
	GetSectorSummaries(ctx context.Context, r models.DateRange) ([]*models.SectorSummary, error)
	GetSectorOverviews(ctx context.Context, r models.DateRange) ([]models.SectorOverview, error)
}

// Document is a rendered report
type Document struct {
	Content     []byte
	ContentType string
	Filename    string
}

// Service renders sector reports
type Service struct {
	source   SummarySource
	markdown goldmark.Markdown
	logger   arbor.ILogger
	now      func() time.Time
}

// NewService creates a report renderer over source
func NewService(source SummarySource, logger arbor.ILogger) *Service {
	return &Service{
		source:   source,
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table)),
		logger:   logger,
		now:      time.Now,
	}
}

// Render builds the sector report for r in the requested format.
// label names the period in the document and the filename.
func (s *Service) Render(ctx context.Context, r models.DateRange, label, format string) (*Document, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatHTML && format != FormatPDF {
		return nil, ErrUnsupportedFormat
	}

	summaries, err := s.source.GetSectorSummaries(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load sector summaries: %w", err)
	}
	overviews, err := s.source.GetSectorOverviews(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load sector overviews: %w", err)
	}

	md := BuildMarkdown(label, s.now(), overviews, summaries)
	base := filename(label)

	var doc *Document
	switch format {
	case FormatMarkdown:
		doc = &Document{Content: []byte(md), ContentType: "text/markdown; charset=utf-8", Filename: base + ".md"}
	case FormatHTML:
		content, err := s.toHTML(md)
		if err != nil {
			return nil, err
		}
		doc = &Document{Content: content, ContentType: "text/html; charset=utf-8", Filename: base + ".html"}
	case FormatPDF:
		source := []byte(md)
		content, err := renderPDF(s.markdown.Parser().Parse(text.NewReader(source)), source, "Sector Report "+label)
		if err != nil {
			return nil, fmt.Errorf("failed to render PDF: %w", err)
		}
		doc = &Document{Content: content, ContentType: "application/pdf", Filename: base + ".pdf"}
	}

	s.logger.Debug().
		Str("format", format).
		Str("period", label).
		Int("sectors", len(summaries)).
		Int("bytes", len(doc.Content)).
		Msg("Sector report rendered")

	return doc, nil
}

func (s *Service) toHTML(md string) ([]byte, error) {
	var body bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Sector Report</title>")
	page.WriteString("<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse;margin-bottom:1em}")
	page.WriteString("th,td{border:1px solid #ccc;padding:4px 8px}td{text-align:right}td:first-child{text-align:left}</style>")
	page.WriteString("</head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

func filename(label string) string {
	if label == "" {
		return "sector-report"
	}
	return "sector-report-" + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '_'
	}, label)
}
