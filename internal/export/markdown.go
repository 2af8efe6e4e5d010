package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"reportq/internal/domain"
)

// Markdown renders doc as a single markdown file. Charts become a value
// table since markdown has no native chart block.
func Markdown(doc domain.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	if doc.Subtitle != "" {
		fmt.Fprintf(&b, "_%s_\n\n", doc.Subtitle)
	}
	for _, blk := range doc.Blocks {
		switch blk.Type {
		case domain.BlockSection:
			writeSection(&b, blk.Section)
		case domain.BlockChart:
			writeChart(&b, blk.Chart)
		case domain.BlockTable:
			writeTable(&b, blk.Table.Title, blk.Table.Columns, blk.Table.Rows)
		}
	}
	return b.String()
}

func writeSection(b *strings.Builder, s *domain.Section) {
	content := strings.TrimSpace(s.Content)
	if !strings.HasPrefix(content, "#") {
		fmt.Fprintf(b, "## %s\n\n", s.Title)
	}
	b.WriteString(content)
	b.WriteString("\n\n")
}

func writeChart(b *strings.Builder, c *domain.Chart) {
	rows := make([][]string, 0, len(c.Points))
	for _, p := range c.Points {
		rows = append(rows, []string{p.Label, formatValue(p.Value)})
	}
	writeTable(b, fmt.Sprintf("%s (%s chart)", c.Title, c.Type), []string{"Label", "Value"}, rows)
}

func writeTable(b *strings.Builder, title string, cols []string, rows [][]string) {
	fmt.Fprintf(b, "### %s\n\n", title)
	if len(cols) == 0 {
		return
	}
	b.WriteString("| " + strings.Join(escapeCells(cols), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, r := range rows {
		cells := make([]string, len(cols))
		copy(cells, r)
		b.WriteString("| " + strings.Join(escapeCells(cells), " | ") + " |\n")
	}
	b.WriteString("\n")
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ReplaceAll(strings.ReplaceAll(c, "|", `\|`), "\n", " ")
	}
	return out
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

var markdownHTML = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithXHTML()),
)

const htmlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: %s, sans-serif; max-width: 860px; margin: 2rem auto; line-height: 1.5; color: #222; }
h1, h2, h3 { color: %s; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
th { background: %s; color: #fff; }
</style>
</head>
<body>
%s</body>
</html>
`

// HTML renders the markdown form of doc through goldmark and wraps it in a
// styled page using the document's design tokens.
func HTML(doc domain.Document) ([]byte, error) {
	var body bytes.Buffer
	if err := markdownHTML.Convert([]byte(Markdown(doc)), &body); err != nil {
		return nil, err
	}
	font := token(doc, "font_family", "Helvetica")
	primary := token(doc, "primary_color", "#333333")
	accent := token(doc, "accent_color", primary)
	page := fmt.Sprintf(htmlPage, htmlEscape(doc.Title), htmlEscape(font), htmlEscape(primary), htmlEscape(accent), body.String())
	return []byte(page), nil
}

func token(doc domain.Document, key, def string) string {
	if v, ok := doc.DesignTokens[key]; ok && v != "" {
		return v
	}
	return def
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")

func htmlEscape(s string) string { return htmlReplacer.Replace(s) }
