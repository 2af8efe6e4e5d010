package export

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"reportq/internal/domain"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

type rgb struct{ r, g, b int }

func parseColor(s string, def rgb) rgb {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}
}

// pdfWriter draws document blocks onto an fpdf document. Core fonts are
// Latin-1 only, so every string goes through tr.
type pdfWriter struct {
	pdf     *fpdf.Fpdf
	tr      func(string) string
	font    string
	size    float64
	primary rgb
	accent  rgb
	width   float64
	height  float64

	source    []byte
	bold      bool
	italic    bool
	listLevel int
}

func newPDFWriter(doc domain.Document, orientation string, size float64) *pdfWriter {
	pdf := fpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("reportq", true)

	font := token(doc, "font_family", "Helvetica")
	switch strings.ToLower(font) {
	case "helvetica", "arial", "times", "courier":
	default:
		font = "Helvetica"
	}
	pageW, pageH := pdf.GetPageSize()
	w := &pdfWriter{
		pdf:     pdf,
		tr:      pdf.UnicodeTranslatorFromDescriptor(""),
		font:    font,
		size:    size,
		primary: parseColor(token(doc, "primary_color", ""), rgb{51, 51, 51}),
		width:   pageW - 30,
		height:  pageH,
	}
	w.accent = parseColor(token(doc, "accent_color", ""), w.primary)
	return w
}

func (w *pdfWriter) setFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont(w.font, style, w.size)
}

func (w *pdfWriter) heading(s string, size float64) {
	w.pdf.SetTextColor(w.primary.r, w.primary.g, w.primary.b)
	w.pdf.SetFont(w.font, "B", size)
	w.pdf.MultiCell(0, size*0.5, w.tr(s), "", "L", false)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.Ln(2)
	w.setFont()
}

func (w *pdfWriter) titleBlock(doc domain.Document) {
	w.heading(doc.Title, w.size*2.2)
	if doc.Subtitle != "" {
		w.pdf.SetFont(w.font, "I", w.size+1)
		w.pdf.MultiCell(0, 6, w.tr(doc.Subtitle), "", "L", false)
		w.setFont()
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) block(b domain.Block) error {
	switch b.Type {
	case domain.BlockSection:
		return w.section(b.Section)
	case domain.BlockChart:
		w.chart(b.Chart)
	case domain.BlockTable:
		w.heading(b.Table.Title, w.size+3)
		w.table(append([][]string{b.Table.Columns}, b.Table.Rows...))
	}
	return nil
}

func (w *pdfWriter) section(s *domain.Section) error {
	content := strings.TrimSpace(s.Content)
	if !strings.HasPrefix(content, "#") {
		w.heading(s.Title, w.size+5)
	}
	w.source = []byte(content)
	root := markdownParser.Parser().Parse(text.NewReader(w.source))
	w.setFont()
	if err := ast.Walk(root, w.walk); err != nil {
		return err
	}
	w.pdf.Ln(4)
	return nil
}

func (w *pdfWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := n.(type) {
	case *ast.Heading:
		if entering {
			w.pdf.Ln(3)
			w.heading(string(n.Text(w.source)), w.size+float64(7-min(n.Level, 6)))
		}
		return ast.WalkSkipChildren, nil
	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(6)
		}
	case *ast.Text:
		if entering {
			w.pdf.Write(5, w.tr(string(n.Segment.Value(w.source))))
			if n.SoftLineBreak() {
				w.pdf.Write(5, " ")
			}
		}
	case *ast.Emphasis:
		if n.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.setFont()
	case *ast.CodeSpan:
		if entering {
			w.pdf.SetFont("Courier", "", w.size)
			w.pdf.Write(5, w.tr(string(n.Text(w.source))))
			w.setFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.pdf.SetFont("Courier", "", w.size-1)
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				w.pdf.MultiCell(0, 4.5, w.tr(strings.TrimRight(string(seg.Value(w.source)), "\n")), "", "L", false)
			}
			w.setFont()
			w.pdf.Ln(2)
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			w.listLevel++
		} else {
			w.listLevel--
			w.pdf.Ln(3)
		}
	case *ast.ListItem:
		if entering {
			w.pdf.Ln(5)
			w.pdf.SetX(15 + float64(w.listLevel)*5)
			w.pdf.Write(5, "- ")
		}
	case *ast.TextBlock:
		// list item bodies; line breaks come from the list item
	case *extast.Table:
		if entering {
			w.table(tableRows(n, w.source))
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func tableRows(n *extast.Table, source []byte) [][]string {
	var rows [][]string
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, string(cell.Text(source)))
		}
		rows = append(rows, cells)
	}
	return rows
}

// table draws rows with the first row as header. Cells are truncated to fit
// their column.
func (w *pdfWriter) table(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	cols := len(rows[0])
	colW := w.width / float64(cols)
	size := w.size - 1

	for i, row := range rows {
		if i == 0 {
			w.pdf.SetFont(w.font, "B", size)
			w.pdf.SetFillColor(w.accent.r, w.accent.g, w.accent.b)
			w.pdf.SetTextColor(255, 255, 255)
		} else {
			w.pdf.SetFont(w.font, "", size)
			w.pdf.SetFillColor(255, 255, 255)
			w.pdf.SetTextColor(0, 0, 0)
		}
		for j := 0; j < cols; j++ {
			cell := ""
			if j < len(row) {
				cell = w.fit(row[j], colW-2)
			}
			w.pdf.CellFormat(colW, 7, cell, "1", 0, "L", true, 0, "")
		}
		w.pdf.Ln(-1)
	}
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.Ln(4)
	w.setFont()
}

func (w *pdfWriter) fit(s string, width float64) string {
	s = w.tr(strings.TrimSpace(s))
	if w.pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && w.pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}

const chartHeight = 60.0

func (w *pdfWriter) chart(c *domain.Chart) {
	w.heading(c.Title, w.size+3)
	if len(c.Points) == 0 {
		return
	}
	if w.pdf.GetY()+chartHeight+20 > w.height-15 {
		w.pdf.AddPage()
	}
	switch c.Type {
	case domain.ChartLine:
		w.lineChart(c.Points)
	case domain.ChartPie:
		w.shareChart(c.Points)
	default:
		w.barChart(c.Points)
	}
	w.setFont()
}

func maxValue(points []domain.DataPoint) float64 {
	m := 0.0
	for _, p := range points {
		m = math.Max(m, p.Value)
	}
	if m == 0 {
		m = 1
	}
	return m
}

func (w *pdfWriter) barChart(points []domain.DataPoint) {
	x0, y0 := 20.0, w.pdf.GetY()
	base := y0 + chartHeight
	slot := (w.width - 10) / float64(len(points))
	maxV := maxValue(points)

	w.pdf.SetDrawColor(120, 120, 120)
	w.pdf.Line(x0, base, x0+w.width-10, base)
	w.pdf.SetFillColor(w.accent.r, w.accent.g, w.accent.b)
	w.pdf.SetFont(w.font, "", w.size-2)
	for i, p := range points {
		h := math.Max(0, p.Value) / maxV * (chartHeight - 8)
		x := x0 + float64(i)*slot + slot*0.15
		w.pdf.Rect(x, base-h, slot*0.7, h, "F")
		w.pdf.SetXY(x, base-h-5)
		w.pdf.CellFormat(slot*0.7, 4, formatValue(p.Value), "", 0, "C", false, 0, "")
		w.pdf.SetXY(x-slot*0.15, base+1)
		w.pdf.CellFormat(slot, 4, w.fit(p.Label, slot), "", 0, "C", false, 0, "")
	}
	w.pdf.SetXY(15, base+8)
}

func (w *pdfWriter) lineChart(points []domain.DataPoint) {
	x0, y0 := 20.0, w.pdf.GetY()
	base := y0 + chartHeight
	step := (w.width - 10) / float64(max(len(points)-1, 1))
	maxV := maxValue(points)

	w.pdf.SetDrawColor(120, 120, 120)
	w.pdf.Line(x0, base, x0+w.width-10, base)
	w.pdf.SetDrawColor(w.accent.r, w.accent.g, w.accent.b)
	w.pdf.SetLineWidth(0.6)
	w.pdf.SetFont(w.font, "", w.size-2)
	var px, py float64
	for i, p := range points {
		x := x0 + float64(i)*step
		y := base - math.Max(0, p.Value)/maxV*(chartHeight-8)
		if i > 0 {
			w.pdf.Line(px, py, x, y)
		}
		w.pdf.Circle(x, y, 0.8, "F")
		w.pdf.SetXY(x-10, base+1)
		w.pdf.CellFormat(20, 4, w.fit(p.Label, 20), "", 0, "C", false, 0, "")
		px, py = x, y
	}
	w.pdf.SetLineWidth(0.2)
	w.pdf.SetXY(15, base+8)
}

// shareChart draws pie data as horizontal share bars with percentages.
func (w *pdfWriter) shareChart(points []domain.DataPoint) {
	total := 0.0
	for _, p := range points {
		total += math.Max(0, p.Value)
	}
	if total == 0 {
		total = 1
	}
	labelW := 50.0
	barMax := w.width - labelW - 20
	w.pdf.SetFont(w.font, "", w.size-1)
	w.pdf.SetFillColor(w.accent.r, w.accent.g, w.accent.b)
	for _, p := range points {
		share := math.Max(0, p.Value) / total
		y := w.pdf.GetY()
		w.pdf.CellFormat(labelW, 6, w.fit(p.Label, labelW-2), "", 0, "L", false, 0, "")
		w.pdf.Rect(15+labelW, y+1, barMax*share, 4, "F")
		w.pdf.SetXY(15+labelW+barMax*share+2, y)
		w.pdf.CellFormat(18, 6, fmt.Sprintf("%.1f%%", share*100), "", 1, "L", false, 0, "")
		w.pdf.SetX(15)
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) output() ([]byte, error) {
	if err := w.pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PDF renders doc as a portrait A4 report.
func PDF(doc domain.Document) ([]byte, error) {
	w := newPDFWriter(doc, "P", 10)
	w.pdf.AddPage()
	w.setFont()
	w.titleBlock(doc)
	for _, b := range doc.Blocks {
		if err := w.block(b); err != nil {
			return nil, err
		}
	}
	return w.output()
}

// Slides renders doc as a landscape deck: a title slide, then one slide per
// block.
func Slides(doc domain.Document) ([]byte, error) {
	w := newPDFWriter(doc, "L", 13)
	w.pdf.AddPage()
	w.pdf.SetY(70)
	w.titleBlock(doc)
	for _, b := range doc.Blocks {
		w.pdf.AddPage()
		if err := w.block(b); err != nil {
			return nil, err
		}
	}
	return w.output()
}
