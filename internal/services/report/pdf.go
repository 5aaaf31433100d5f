package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
)

// pdfRenderer walks a goldmark AST and draws it on an fpdf document.
// It covers the node kinds a sector report produces.
type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	font      string
	size      float64
	bold      bool
	italic    bool
	listLevel int
}

func renderPDF(doc ast.Node, source []byte, title string) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("StockPulse", true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 9)

	r := &pdfRenderer{
		pdf:    pdf,
		source: source,
		font:   "Arial",
		size:   9,
	}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, err
	}
	if err := pdf.Error(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(r.font, style, r.size)
}

func (r *pdfRenderer) pageWidth() float64 {
	w, _ := r.pdf.GetPageSize()
	left, _, right, _ := r.pdf.GetMargins()
	return w - left - right
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n.Kind() {
	case ast.KindHeading:
		return r.handleHeading(n.(*ast.Heading), entering)
	case ast.KindParagraph:
		if !entering {
			r.pdf.Ln(7)
		}
	case ast.KindText:
		if entering {
			r.pdf.Write(5, string(n.(*ast.Text).Segment.Value(r.source)))
			if n.(*ast.Text).SoftLineBreak() {
				r.pdf.Write(5, " ")
			}
		}
	case ast.KindEmphasis:
		if n.(*ast.Emphasis).Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case ast.KindList:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(2)
			}
		}
	case ast.KindListItem:
		if entering {
			r.pdf.Ln(5)
			left, _, _, _ := r.pdf.GetMargins()
			r.pdf.SetX(left + float64(r.listLevel)*5.0)
			r.pdf.Write(5, "- ")
		}
	case ast.KindThematicBreak:
		if entering {
			left, _, _, _ := r.pdf.GetMargins()
			r.pdf.Ln(2)
			r.pdf.Line(left, r.pdf.GetY(), left+r.pageWidth(), r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case extast.KindTable:
		if entering {
			r.renderTable(r.tableRows(n))
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) handleHeading(n *ast.Heading, entering bool) (ast.WalkStatus, error) {
	if entering {
		r.pdf.Ln(6)
		size := 10.0
		switch n.Level {
		case 1:
			size = 14
		case 2:
			size = 12
		case 3:
			size = 11
		}
		r.pdf.SetFont(r.font, "B", size)
	} else {
		r.pdf.Ln(6)
		r.updateFont()
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) tableRows(table ast.Node) [][]string {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *extast.TableHeader, *extast.TableRow:
				var row []string
				for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
					row = append(row, strings.TrimSpace(string(cell.Text(r.source))))
				}
				rows = append(rows, row)
			}
		}
	}
	collect(table)
	return rows
}

func (r *pdfRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	const fontSize = 8.0
	const lineHeight = 5.0
	numCols := len(rows[0])
	colWidths := r.columnWidths(rows, numCols, fontSize)
	_, pageHeight := r.pdf.GetPageSize()
	_, _, _, bottom := r.pdf.GetMargins()

	r.pdf.Ln(2)
	for i, row := range rows {
		style := ""
		fill := false
		if i == 0 {
			style = "B"
			fill = true
			r.pdf.SetFillColor(230, 230, 230)
		}
		r.pdf.SetFont(r.font, style, fontSize)

		if r.pdf.GetY()+lineHeight > pageHeight-bottom {
			r.pdf.AddPage()
		}

		for j := 0; j < numCols; j++ {
			cell := ""
			if j < len(row) {
				cell = r.fit(row[j], colWidths[j]-2)
			}
			align := "L"
			if i > 0 && j > 0 {
				align = "R"
			}
			r.pdf.CellFormat(colWidths[j], lineHeight, cell, "1", 0, align, fill, 0, "")
		}
		r.pdf.Ln(-1)
	}

	r.pdf.SetFillColor(255, 255, 255)
	r.pdf.Ln(3)
	r.updateFont()
}

// columnWidths sizes columns to their widest cell, scaled to the printable width
func (r *pdfRenderer) columnWidths(rows [][]string, numCols int, fontSize float64) []float64 {
	widths := make([]float64, numCols)
	pageWidth := r.pageWidth()

	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		r.pdf.SetFont(r.font, style, fontSize)
		for j := 0; j < numCols && j < len(row); j++ {
			if w := r.pdf.GetStringWidth(row[j]) + 4; w > widths[j] {
				widths[j] = w
			}
		}
	}

	const minWidth = 12.0
	total := 0.0
	for j := range widths {
		if widths[j] < minWidth {
			widths[j] = minWidth
		}
		total += widths[j]
	}
	if total > pageWidth {
		scale := pageWidth / total
		for j := range widths {
			widths[j] *= scale
		}
	}
	return widths
}

// fit truncates text with an ellipsis so it fits width
func (r *pdfRenderer) fit(text string, width float64) string {
	if r.pdf.GetStringWidth(text) <= width {
		return text
	}
	for len(text) > 1 && r.pdf.GetStringWidth(text+"...") > width {
		text = text[:len(text)-1]
	}
	return text + "..."
}
