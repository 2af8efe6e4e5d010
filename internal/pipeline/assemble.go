package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"reportq/internal/domain"
)

const maxPoints = 8

// figureRe matches "label: ... 42" style lines, with or without a list
// marker, capturing the label and the first number after it.
var figureRe = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])?\s*\**([^:\n*]{1,40}?)\**\s*:\s*[^\d\n-]*(-?\d+(?:\.\d+)?)`)

// ExtractFigures returns labelled numbers found in content, in order.
func ExtractFigures(content string) []domain.DataPoint {
	var out []domain.DataPoint
	for _, m := range figureRe.FindAllStringSubmatch(content, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.DataPoint{Label: strings.TrimSpace(m[1]), Value: v})
		if len(out) == maxPoints {
			break
		}
	}
	return out
}

func wordCount(s string) int { return len(strings.Fields(s)) }

// BuildChart derives chart data from the source section. When the section
// holds fewer than two figures the chart falls back to section word counts.
func BuildChart(spec domain.ChartSpec, sections []domain.Section) domain.Chart {
	c := domain.Chart{ID: spec.ID, Title: spec.Title, Type: spec.Type}
	for _, s := range sections {
		if s.ID == spec.Source {
			c.Points = ExtractFigures(s.Content)
			break
		}
	}
	if len(c.Points) < 2 {
		c.Points = c.Points[:0]
		for _, s := range sections {
			c.Points = append(c.Points, domain.DataPoint{Label: s.Title, Value: float64(wordCount(s.Content))})
		}
	}
	return c
}

var listItemRe = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)

// BuildTable turns the list items of the source section into rows. Items of
// the form "label: detail" fill two columns.
func BuildTable(spec domain.TableSpec, sections []domain.Section) domain.Table {
	cols := spec.Columns
	if len(cols) == 0 {
		cols = []string{"Item", "Detail"}
	}
	t := domain.Table{ID: spec.ID, Title: spec.Title, Columns: append([]string(nil), cols...)}

	var content string
	for _, s := range sections {
		if s.ID == spec.Source {
			content = s.Content
			break
		}
	}

	items := listItemRe.FindAllStringSubmatch(content, -1)
	for _, m := range items {
		item := strings.Trim(strings.TrimSpace(m[1]), "*")
		label, detail, ok := strings.Cut(item, ":")
		if !ok {
			label, detail = item, ""
		}
		t.Rows = append(t.Rows, row(len(cols), strings.Trim(strings.TrimSpace(label), "*"), strings.TrimSpace(detail)))
	}
	if len(t.Rows) == 0 {
		for i, sentence := range sentences(content, 5) {
			t.Rows = append(t.Rows, row(len(cols), strconv.Itoa(i+1), sentence))
		}
	}
	return t
}

func row(width int, cells ...string) []string {
	r := make([]string, width)
	copy(r, cells)
	return r
}

func sentences(content string, limit int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, s := range strings.SplitAfter(line, ". ") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
				if len(out) == limit {
					return out
				}
			}
		}
	}
	return out
}

// Assemble interleaves charts and tables after the section at their anchor
// index. Anchors past the last section land at the end.
func Assemble(id, title, subtitle string, tpl *domain.ReportTemplate, sections []domain.Section) domain.Document {
	doc := domain.Document{ID: id, Title: title, Subtitle: subtitle, DesignTokens: tpl.DesignTokens}

	anchored := func(i int, last bool) []domain.Block {
		var blocks []domain.Block
		for _, spec := range tpl.Charts {
			if spec.AnchorAfter == i || last && spec.AnchorAfter >= len(sections) {
				c := BuildChart(spec, sections)
				blocks = append(blocks, domain.Block{Type: domain.BlockChart, Chart: &c})
			}
		}
		for _, spec := range tpl.Tables {
			if spec.AnchorAfter == i || last && spec.AnchorAfter >= len(sections) {
				t := BuildTable(spec, sections)
				blocks = append(blocks, domain.Block{Type: domain.BlockTable, Table: &t})
			}
		}
		return blocks
	}

	for i := range sections {
		s := sections[i]
		doc.Blocks = append(doc.Blocks, domain.Block{Type: domain.BlockSection, Section: &s})
		doc.Blocks = append(doc.Blocks, anchored(i, i == len(sections)-1)...)
	}
	return doc
}
