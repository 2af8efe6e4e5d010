package analysis

import (
	"encoding/csv"
	"sort"
	"strconv"
	"strings"

	"reportq/internal/domain"
)

type Stats struct {
	Lines    int         `json:"lines"`
	Words    int         `json:"words"`
	Chars    int         `json:"chars"`
	Table    *TableStats `json:"table,omitempty"`
	TopTerms []TermCount `json:"top_terms,omitempty"`
}

type TableStats struct {
	Rows    int           `json:"rows"`
	Columns []string      `json:"columns"`
	Numeric []ColumnStats `json:"numeric,omitempty"`
}

type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// TextStats counts lines, words and characters and ranks the most frequent
// terms of four letters or more.
func TextStats(content string) Stats {
	s := Stats{
		Words: len(strings.Fields(content)),
		Chars: len([]rune(content)),
	}
	if content != "" {
		s.Lines = strings.Count(content, "\n") + 1
		if strings.HasSuffix(content, "\n") {
			s.Lines--
		}
	}
	s.TopTerms = topTerms(content, 5)
	return s
}

func topTerms(content string, n int) []TermCount {
	counts := map[string]int{}
	var order []string
	for _, w := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len([]rune(w)) < 4 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	out := make([]TermCount, 0, len(order))
	for _, w := range order {
		out = append(out, TermCount{Term: w, Count: counts[w]})
	}
	// ties keep first-seen order
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// CSVStats parses content as CSV with a header row. A column is numeric
// when every non-empty cell parses as a number.
func CSVStats(content string) (*TableStats, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, domain.E(domain.ErrKindValidation, "analysis.csv", err)
	}
	if len(records) == 0 {
		return nil, domain.Validation("analysis.csv", "no header row")
	}

	header := records[0]
	t := &TableStats{Rows: len(records) - 1, Columns: header}
	for col, name := range header {
		cs := ColumnStats{Column: name}
		numeric := true
		sum := 0.0
		for _, rec := range records[1:] {
			if col >= len(rec) || strings.TrimSpace(rec[col]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				numeric = false
				break
			}
			if cs.Count == 0 || v < cs.Min {
				cs.Min = v
			}
			if cs.Count == 0 || v > cs.Max {
				cs.Max = v
			}
			sum += v
			cs.Count++
		}
		if numeric && cs.Count > 0 {
			cs.Mean = sum / float64(cs.Count)
			t.Numeric = append(t.Numeric, cs)
		}
	}
	return t, nil
}
