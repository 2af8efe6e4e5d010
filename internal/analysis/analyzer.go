package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
	"reportq/internal/ports"
	"reportq/internal/provider"
)

const (
	StageInitializing = "initializing"
	StageParsing      = "parsing"
	StageAnalysis     = "analysis"
	StageSummarizing  = "summarizing"
	StageCompleted    = "completed"
	StageFailed       = "failed"
)

var milestones = map[string]int{
	StageInitializing: 5,
	StageParsing:      30,
	StageAnalysis:     60,
	StageSummarizing:  90,
	StageCompleted:    100,
}

const summarySystem = "You are a data analyst. Summarise files in plain, factual prose of at most five sentences."

type Result struct {
	Filename   string         `json:"filename"`
	Format     string         `json:"format"`
	Stats      Stats          `json:"stats"`
	Summary    string         `json:"summary"`
	Fallback   bool           `json:"fallback_summary,omitempty"`
	Usage      provider.Usage `json:"usage"`
	AIRequests int            `json:"ai_requests"`
	DurationMs int64          `json:"duration_ms"`
}

type Analyzer struct {
	gen provider.Generator
	now func() time.Time
}

var _ ports.Handler = (*Analyzer)(nil)

func New(gen provider.Generator) *Analyzer {
	return &Analyzer{gen: gen, now: time.Now}
}

// Execute runs one attempt. Transient provider errors from the summary call
// are returned so the lane retries; any other provider failure yields a
// deterministic summary built from the statistics.
func (a *Analyzer) Execute(ctx context.Context, t domain.Task, reporter ports.Reporter) (json.RawMessage, error) {
	started := a.now()
	meter := provider.NewMeter()
	ctx = provider.WithMeter(ctx, meter)

	progress := 0
	enter := func(stage, msg string) error {
		progress = milestones[stage]
		return reporter.Heartbeat(ctx, stage, progress, msg)
	}
	fail := func(stage string, err error) error {
		if !domain.IsCancelled(err) && ctx.Err() == nil {
			_ = reporter.Heartbeat(ctx, StageFailed, progress, fmt.Sprintf("%s failed: %v", stage, err))
		}
		return err
	}

	if err := enter(StageInitializing, "validating input"); err != nil {
		return nil, err
	}
	req, err := ParseRequest(t.Input)
	if err != nil {
		return nil, fail(StageInitializing, err)
	}

	if err := enter(StageParsing, "parsing "+req.Filename); err != nil {
		return nil, err
	}
	stats := TextStats(req.Content)
	if req.Format == FormatCSV {
		table, err := CSVStats(req.Content)
		if err != nil {
			return nil, fail(StageParsing, err)
		}
		stats.Table = table
	}

	if err := enter(StageAnalysis, fmt.Sprintf("%d lines, %d words", stats.Lines, stats.Words)); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().
		Str("filename", req.Filename).
		Int("lines", stats.Lines).
		Int("words", stats.Words).
		Msg("file parsed")

	if err := enter(StageSummarizing, "requesting summary"); err != nil {
		return nil, err
	}
	res := Result{Filename: req.Filename, Format: req.Format, Stats: stats}
	resp, err := a.gen.Generate(ctx, summaryPrompt(req, stats), provider.Defaults, provider.Meta{
		Operation: provider.OpSummarize,
		TaskID:    t.ID,
		System:    summarySystem,
	})
	switch {
	case err == nil:
		res.Summary = strings.TrimSpace(resp.Content)
	case domain.IsTransient(err) || domain.IsCancelled(err):
		return nil, fail(StageSummarizing, err)
	default:
		log.Ctx(ctx).Warn().Err(err).Msg("summary failed, using statistics")
		res.Summary = fallbackSummary(req, stats)
		res.Fallback = true
	}

	totals := meter.Totals()
	res.Usage = totals.Usage
	res.AIRequests = totals.Requests
	res.DurationMs = a.now().Sub(started).Milliseconds()

	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	if err := reporter.Heartbeat(ctx, StageCompleted, milestones[StageCompleted], "analysis complete"); err != nil {
		return nil, err
	}
	return payload, nil
}

func statLines(s Stats) []string {
	lines := []string{
		fmt.Sprintf("lines: %d", s.Lines),
		fmt.Sprintf("words: %d", s.Words),
	}
	if s.Table != nil {
		lines = append(lines, fmt.Sprintf("rows: %d, columns: %s", s.Table.Rows, strings.Join(s.Table.Columns, ", ")))
		for _, c := range s.Table.Numeric {
			lines = append(lines, fmt.Sprintf("%s: min %g, max %g, mean %.2f", c.Column, c.Min, c.Max, c.Mean))
		}
	}
	return lines
}

const excerptRunes = 2000

func summaryPrompt(req Request, s Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", req.Filename)
	fmt.Fprintf(&b, "Format: %s\n\n", req.Format)
	b.WriteString("Statistics:\n")
	for _, l := range statLines(s) {
		b.WriteString("- " + l + "\n")
	}
	if req.Question != "" {
		fmt.Fprintf(&b, "\nQuestion: %s\n", req.Question)
	}
	excerpt := []rune(req.Content)
	if len(excerpt) > excerptRunes {
		excerpt = excerpt[:excerptRunes]
	}
	fmt.Fprintf(&b, "\n<content>\n%s\n</content>\n", string(excerpt))
	return b.String()
}

func fallbackSummary(req Request, s Stats) string {
	return fmt.Sprintf("%s (%s): %s.", req.Filename, req.Format, strings.Join(statLines(s), "; "))
}
