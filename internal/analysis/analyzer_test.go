package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportq/internal/domain"
	"reportq/internal/provider"
)

type beats struct {
	stages   []string
	progress []int
}

func (b *beats) Heartbeat(_ context.Context, stage string, progress int, _ string) error {
	b.stages = append(b.stages, stage)
	b.progress = append(b.progress, progress)
	return nil
}

const sales = `region,units,revenue
north,10,1200.5
south,4,300
east,,800
`

func task(t *testing.T, in map[string]any) domain.Task {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	return domain.Task{ID: "f1", Kind: domain.KindFileAnalysis, Input: raw}
}

func newAnalyzer(t *testing.T, b provider.Backend) *Analyzer {
	t.Helper()
	gen, err := provider.NewAdapter(provider.Options{}, b)
	require.NoError(t, err)
	return New(gen)
}

func TestCSVStats(t *testing.T) {
	ts, err := CSVStats(sales)
	require.NoError(t, err)
	assert.Equal(t, 3, ts.Rows)
	assert.Equal(t, []string{"region", "units", "revenue"}, ts.Columns)
	require.Len(t, ts.Numeric, 2)

	units := ts.Numeric[0]
	assert.Equal(t, "units", units.Column)
	assert.Equal(t, 2, units.Count)
	assert.Equal(t, 4.0, units.Min)
	assert.Equal(t, 10.0, units.Max)
	assert.InDelta(t, 7.0, units.Mean, 1e-9)

	assert.InDelta(t, 766.833, ts.Numeric[1].Mean, 1e-3)
}

func TestTextStats(t *testing.T) {
	s := TextStats("alpha beta gamma\nalpha delta\n")
	assert.Equal(t, 2, s.Lines)
	assert.Equal(t, 5, s.Words)
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "alpha", Count: 2}, s.TopTerms[0])

	assert.Zero(t, TextStats("").Lines)
}

func TestExecuteCSV(t *testing.T) {
	a := newAnalyzer(t, provider.StaticBackend{})
	rec := &beats{}

	raw, err := a.Execute(context.Background(), task(t, map[string]any{"filename": "sales.csv", "content": sales}), rec)
	require.NoError(t, err)

	assert.Equal(t, []int{5, 30, 60, 90, 100}, rec.progress)

	var res Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, FormatCSV, res.Format)
	require.NotNil(t, res.Stats.Table)
	assert.Equal(t, 3, res.Stats.Table.Rows)
	assert.Contains(t, res.Summary, "Summary of sales.csv")
	assert.False(t, res.Fallback)
	assert.Equal(t, 1, res.AIRequests)
}

func TestExecuteFallbackSummary(t *testing.T) {
	garbled := provider.Func(func(context.Context, provider.Request) (provider.Response, error) {
		return provider.Response{}, domain.E(domain.ErrKindMalformed, "test", errors.New("bad json"))
	})
	a := newAnalyzer(t, garbled)

	raw, err := a.Execute(context.Background(), task(t, map[string]any{"filename": "notes.txt", "content": "one two\nthree"}), &beats{})
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.Fallback)
	assert.Equal(t, "notes.txt (text): lines: 2; words: 3.", res.Summary)
}

func TestExecuteTransientErrorFails(t *testing.T) {
	slow := provider.Func(func(context.Context, provider.Request) (provider.Response, error) {
		return provider.Response{}, domain.E(domain.ErrKindTimeout, "test", context.DeadlineExceeded)
	})
	a := newAnalyzer(t, slow)
	rec := &beats{}

	_, err := a.Execute(context.Background(), task(t, map[string]any{"filename": "a.txt", "content": "x"}), rec)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, StageFailed, rec.stages[len(rec.stages)-1])
	assert.Equal(t, 90, rec.progress[len(rec.progress)-1])
}

func TestExecuteRejectsBadInput(t *testing.T) {
	a := newAnalyzer(t, provider.StaticBackend{})
	tests := map[string]map[string]any{
		"no filename": {"content": "x"},
		"no content":   {"filename": "a.txt"},
		"bad format":   {"filename": "a.txt", "content": "x", "format": "xlsx"},
		"broken csv":   {"filename": "a.csv", "content": "a,b\n\"unterminated"},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Execute(context.Background(), task(t, in), &beats{})
			require.Error(t, err)
			assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
		})
	}
}
