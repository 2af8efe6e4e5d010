package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportq/internal/domain"
)

func sampleDoc() domain.Document {
	return domain.Document{
		ID:       "task-123",
		Title:    "Solar Farm Feasibility Study",
		Subtitle: "Prepared for the board",
		DesignTokens: map[string]string{
			"primary_color": "#1F4E79",
			"accent_color":  "#2E86C1",
			"font_family":   "Helvetica",
		},
		Blocks: []domain.Block{
			{Type: domain.BlockSection, Section: &domain.Section{ID: "summary", Title: "Executive Summary", Content: "The project is **viable**.\n\n- Payback in 6 years\n- Margin 18%"}},
			{Type: domain.BlockChart, Chart: &domain.Chart{ID: "growth", Title: "Growth", Type: domain.ChartBar, Points: []domain.DataPoint{{Label: "2025", Value: 10}, {Label: "2026", Value: 12.5}}}},
			{Type: domain.BlockSection, Section: &domain.Section{ID: "market", Title: "Market", Content: "## Market\n\nDemand grows steadily in the région."}},
			{Type: domain.BlockTable, Table: &domain.Table{ID: "risks", Title: "Risks", Columns: []string{"Item", "Detail"}, Rows: [][]string{{"Price", "Panel prices | volatile"}}}},
			{Type: domain.BlockChart, Chart: &domain.Chart{ID: "share", Title: "Share", Type: domain.ChartPie, Points: []domain.DataPoint{{Label: "A", Value: 3}, {Label: "B", Value: 1}}}},
			{Type: domain.BlockChart, Chart: &domain.Chart{ID: "trend", Title: "Trend", Type: domain.ChartLine, Points: []domain.DataPoint{{Label: "Q1", Value: 1}, {Label: "Q2", Value: 4}, {Label: "Q3", Value: 2}}}},
		},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleDoc())
	assert.Contains(t, md, "# Solar Farm Feasibility Study")
	assert.Contains(t, md, "## Executive Summary")
	// sections that bring their own heading are not given a second one
	assert.NotContains(t, md, "## Market\n\n## Market")
	assert.Contains(t, md, "| 2026 | 12.50 |")
	assert.Contains(t, md, `Panel prices \| volatile`)
}

func TestHTMLUsesDesignTokens(t *testing.T) {
	out, err := HTML(sampleDoc())
	require.NoError(t, err)
	page := string(out)
	assert.Contains(t, page, "<title>Solar Farm Feasibility Study</title>")
	assert.Contains(t, page, "color: #1F4E79")
	assert.Contains(t, page, "<strong>viable</strong>")
	assert.Contains(t, page, "<table>")
}

func TestExportFormats(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	for _, format := range Formats {
		t.Run(format, func(t *testing.T) {
			path, err := r.Export(context.Background(), sampleDoc(), format)
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
			if format == FormatPDF || format == FormatSlides {
				assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
			}
		})
	}
}

func TestExportIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	first, err := r.Export(context.Background(), sampleDoc(), FormatMarkdown)
	require.NoError(t, err)
	second, err := r.Export(context.Background(), sampleDoc(), FormatMarkdown)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, filepath.Join(dir, "task-123.md"), first)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = r.Export(context.Background(), sampleDoc(), "pptx")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
}

func TestPathSanitisesID(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	doc := sampleDoc()
	doc.ID = "../../etc/passwd"
	p, err := r.Path(doc, FormatHTML)
	require.NoError(t, err)
	assert.Equal(t, r.dir, filepath.Dir(p))
}
