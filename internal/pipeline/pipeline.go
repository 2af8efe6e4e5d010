package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
	"reportq/internal/ports"
	"reportq/internal/provider"
	"reportq/internal/quality"
	"reportq/internal/recovery"
)

// Stage names and their progress milestones.
const (
	StageInitializing      = "initializing"
	StageDataCollection    = "data_collection"
	StageContentGeneration = "content_generation"
	StageFormatting        = "formatting"
	StageFinalizing        = "finalizing"
	StageCompleted         = "completed"
	StageFailed            = "failed"
)

var milestones = map[string]int{
	StageInitializing:      5,
	StageDataCollection:    25,
	StageContentGeneration: 50,
	StageFormatting:        75,
	StageFinalizing:        90,
	StageCompleted:         100,
}

type Pipeline struct {
	gen       provider.Generator
	templates ports.TemplateResolver
	exporter  ports.Exporter
	quality   *quality.Engine
	recovery  *recovery.Table
	now       func() time.Time
}

var _ ports.Handler = (*Pipeline)(nil)

type Option func(*Pipeline)

func WithQuality(e *quality.Engine) Option {
	return func(p *Pipeline) { p.quality = e }
}

func WithRecovery(t *recovery.Table) Option {
	return func(p *Pipeline) { p.recovery = t }
}

func New(gen provider.Generator, templates ports.TemplateResolver, exporter ports.Exporter, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:       gen,
		templates: templates,
		exporter:  exporter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.quality == nil {
		p.quality = quality.NewEngine(gen)
	}
	if p.recovery == nil {
		p.recovery = recovery.NewTable()
	}
	return p
}

// run is the mutable state of one attempt.
type run struct {
	task     domain.Task
	reporter ports.Reporter
	meter    *provider.Meter
	started  time.Time

	req      Request
	tpl      *domain.ReportTemplate
	sections []SectionResult
	doc      domain.Document
	exports  map[string]string
	progress int
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

// Execute runs one attempt. Each stage reports a heartbeat on entry; a stage
// error reports a failed heartbeat at the last milestone and is returned.
func (p *Pipeline) Execute(ctx context.Context, t domain.Task, reporter ports.Reporter) (json.RawMessage, error) {
	r := &run{task: t, reporter: reporter, meter: provider.NewMeter(), started: p.now()}
	ctx = provider.WithMeter(ctx, r.meter)

	stages := []stage{
		{StageInitializing, p.initialize},
		{StageDataCollection, p.collect},
		{StageContentGeneration, p.generate},
		{StageFormatting, p.format},
		{StageFinalizing, p.finalize},
	}
	for _, st := range stages {
		if err := reporter.Heartbeat(ctx, st.name, milestones[st.name], "entering "+st.name); err != nil {
			return nil, err
		}
		r.progress = milestones[st.name]

		if err := st.fn(ctx, r); err != nil {
			if !domain.IsCancelled(err) && ctx.Err() == nil {
				_ = reporter.Heartbeat(ctx, StageFailed, r.progress, fmt.Sprintf("%s failed: %v", st.name, err))
			}
			return nil, err
		}
	}

	res := r.result(p.now())
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	if err := reporter.Heartbeat(ctx, StageCompleted, milestones[StageCompleted], fmt.Sprintf("report generated with %d sections", len(r.sections))); err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *Pipeline) initialize(_ context.Context, r *run) error {
	req, err := ParseRequest(r.task.Input)
	if err != nil {
		return err
	}
	r.req = req
	return nil
}

func (p *Pipeline) collect(ctx context.Context, r *run) error {
	tpl, err := p.templates.ResolveTemplate(ctx, r.req.ReportType)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			return domain.E(domain.ErrKindValidation, "pipeline.collect", err)
		}
		return err
	}
	r.tpl = tpl
	log.Ctx(ctx).Debug().
		Str("report_type", tpl.ID).
		Int("sections", len(tpl.Sections)).
		Int("charts", len(tpl.Charts)).
		Int("tables", len(tpl.Tables)).
		Msg("template resolved")
	return nil
}

func (p *Pipeline) generate(ctx context.Context, r *run) error {
	total := len(r.tpl.Sections)
	var firstCause error
	failed := 0

	for i, st := range r.tpl.Sections {
		sec, err := p.section(ctx, r, st)
		if err != nil {
			return err
		}
		r.sections = append(r.sections, sec)

		msg := fmt.Sprintf("section %d/%d %q generated", i+1, total, st.Title)
		if sec.Fallback {
			msg = fmt.Sprintf("section %d/%d %q used fallback content", i+1, total, st.Title)
		}
		if sec.cause != nil {
			failed++
			if firstCause == nil {
				firstCause = sec.cause
			}
		}
		if err := r.reporter.Heartbeat(ctx, StageContentGeneration, r.progress, msg); err != nil {
			return err
		}
	}

	// one working section is enough to ship; none means the provider is down
	if total > 0 && failed == total {
		return fmt.Errorf("content generation failed for all %d sections: %w", total, firstCause)
	}
	return nil
}

func (p *Pipeline) format(ctx context.Context, r *run) error {
	sections := make([]domain.Section, len(r.sections))
	for i, s := range r.sections {
		sections[i] = domain.Section{ID: s.ID, Title: s.Title, Content: s.Content}
	}
	subtitle := fmt.Sprintf("%s for %s", r.tpl.Name, r.req.ProjectName())
	r.doc = Assemble(r.task.ID, r.req.Title, subtitle, r.tpl, sections)
	log.Ctx(ctx).Debug().Int("blocks", len(r.doc.Blocks)).Msg("document assembled")
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, r *run) error {
	r.exports = make(map[string]string, len(r.req.Formats))
	for _, format := range r.req.Formats {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := p.exporter.Export(ctx, r.doc, format)
		if err != nil {
			return fmt.Errorf("export %s: %w", format, err)
		}
		r.exports[format] = path
	}
	return nil
}

func (r *run) result(now time.Time) Result {
	totals := r.meter.Totals()
	res := Result{
		ReportType: r.tpl.ID,
		Title:      r.req.Title,
		Sections:   r.sections,
		Exports:    r.exports,
		Stats: GenerationStats{
			AIRequests: totals.Requests,
			CacheHits:  totals.CacheHits,
			Usage:      totals.Usage,
			DurationMs: now.Sub(r.started).Milliseconds(),
		},
	}
	for _, b := range r.doc.Blocks {
		switch b.Type {
		case domain.BlockChart:
			res.Charts++
		case domain.BlockTable:
			res.Tables++
		}
	}
	for _, s := range r.sections {
		if s.Fallback {
			res.Stats.FallbackSections++
		}
		if s.Quality != nil {
			res.Stats.Improvements += s.Quality.Iterations
		}
	}
	return res
}
