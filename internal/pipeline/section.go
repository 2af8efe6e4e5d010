package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
	"reportq/internal/provider"
	"reportq/internal/quality"
	"reportq/internal/recovery"
)

type Result struct {
	ReportType string            `json:"report_type"`
	Title      string            `json:"title"`
	Sections   []SectionResult   `json:"sections"`
	Charts     int               `json:"charts"`
	Tables     int               `json:"tables"`
	Exports    map[string]string `json:"exports"`
	Stats      GenerationStats   `json:"generation_stats"`
}

type GenerationStats struct {
	AIRequests       int            `json:"ai_requests"`
	CacheHits        int            `json:"cache_hits"`
	Usage            provider.Usage `json:"usage"`
	FallbackSections int            `json:"fallback_sections"`
	Improvements     int            `json:"improvement_iterations"`
	DurationMs       int64          `json:"duration_ms"`
}

type SectionResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Fallback bool   `json:"fallback"`
	// Recovery names the strategy that produced the content when the first
	// generation call failed.
	Recovery string               `json:"recovery,omitempty"`
	Quality  *SectionQuality      `json:"quality,omitempty"`
	Safety   *quality.SafetyReport `json:"safety,omitempty"`

	// cause is the provider error behind a fallback
	cause error
}

type SectionQuality struct {
	InitialScore float64 `json:"initial_score"`
	FinalScore   float64 `json:"final_score"`
	Confidence   float64 `json:"confidence"`
	Iterations   int     `json:"iterations"`
	Improved     bool    `json:"improved"`
}

// section produces one section. A provider failure that recovery cannot
// repair degrades the section to fallback text; the error is only set when
// the run must stop.
func (p *Pipeline) section(ctx context.Context, r *run, st domain.SectionTemplate) (SectionResult, error) {
	sec := SectionResult{ID: st.ID, Title: st.Title}
	prompt := sectionPrompt(r.req, r.tpl, st)
	call := func(ctx context.Context) (string, error) {
		resp, err := p.gen.Generate(ctx, prompt, provider.Defaults, provider.Meta{
			Operation: provider.OpSection,
			TaskID:    r.task.ID,
			System:    systemPrompt,
		})
		return resp.Content, err
	}

	content, err := call(ctx)
	if err != nil {
		content, err = p.recoverSection(ctx, r, st, call, err, &sec)
		if err != nil {
			return sec, err
		}
	}
	sec.Content = content

	if !sec.Fallback && r.req.AIAssist.QualityCheck {
		if err := p.improve(ctx, r, &sec); err != nil {
			return sec, err
		}
	}
	if !r.req.AIAssist.SkipSafety {
		rep := quality.CheckSafety(sec.Content)
		sec.Safety = &rep
		if !rep.Safe {
			log.Ctx(ctx).Warn().Str("section", st.ID).Str("risk", string(rep.Risk)).Msg("section flagged by safety check")
		}
	}
	return sec, nil
}

// recoverSection hands a failed generation to the recovery table until it either
// produces content or gives up, in which case the fallback text is used.
func (p *Pipeline) recoverSection(ctx context.Context, r *run, st domain.SectionTemplate, call func(context.Context) (string, error), genErr error, sec *SectionResult) (string, error) {
	fallback := fallbackSection(r.req, st)
	cause := genErr
	for attempt := 1; ; attempt++ {
		out, herr := p.recovery.HandleError(ctx, cause, recovery.Attempt{
			Operation: "section " + st.ID,
			Attempt:   attempt,
			Retry:     call,
			Fallback:  fallback,
		})
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sec.Recovery = string(out.Strategy)

		if herr == nil && out.Recovered {
			if out.Strategy == recovery.StrategyRetry {
				return out.Result, nil
			}
			sec.Fallback, sec.cause = true, cause
			return out.Result, nil
		}
		if herr != nil && out.Strategy == recovery.StrategyRetry && !recovery.Exhausted(herr) {
			cause = herr
			continue
		}
		if herr != nil {
			cause = herr
		}
		log.Ctx(ctx).Warn().Err(cause).Str("section", st.ID).Str("strategy", string(out.Strategy)).Msg("section generation gave up, using fallback content")
		sec.Fallback, sec.cause = true, cause
		return fallback, nil
	}
}

func (p *Pipeline) improve(ctx context.Context, r *run, sec *SectionResult) error {
	qctx := quality.Context{TaskID: r.task.ID, Title: sec.Title, Project: r.req.ProjectName()}
	a, err := p.quality.Assess(ctx, sec.Content, qctx)
	if err != nil {
		return fmt.Errorf("assess section %s: %w", sec.ID, err)
	}
	sq := &SectionQuality{InitialScore: a.OverallScore, FinalScore: a.OverallScore, Confidence: a.Confidence}
	sec.Quality = sq
	if a.OverallScore >= p.quality.Threshold() {
		return nil
	}

	maxRetries := -1
	if r.req.AIAssist.MaxImprovements != nil {
		maxRetries = *r.req.AIAssist.MaxImprovements
	}
	imp, err := p.quality.Improve(ctx, sec.Content, a, qctx, maxRetries)
	if err != nil {
		return fmt.Errorf("improve section %s: %w", sec.ID, err)
	}
	sec.Content = imp.FinalContent
	sq.FinalScore = imp.FinalAssessment.OverallScore
	sq.Confidence = imp.FinalAssessment.Confidence
	sq.Iterations = imp.Iterations
	sq.Improved = imp.Improved
	return nil
}
