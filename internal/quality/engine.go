package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reportq/internal/provider"
)

const (
	DefaultThreshold       = 0.8
	DefaultMaxImprovements = 2

	// neutralScore is used for every dimension when AI scoring is unavailable.
	neutralScore = 6.0
	aiWeight     = 0.7
	ruleWeight   = 0.3
)

// Engine assesses content with a rule battery and an AI review, and
// iteratively improves content that scores under the threshold.
type Engine struct {
	gen             provider.Generator
	rules           []Rule
	threshold       float64
	maxImprovements int
}

type EngineOption func(*Engine)

func WithThreshold(v float64) EngineOption {
	return func(e *Engine) { e.threshold = v }
}

func WithMaxImprovements(n int) EngineOption {
	return func(e *Engine) { e.maxImprovements = n }
}

func WithRules(rules ...Rule) EngineOption {
	return func(e *Engine) { e.rules = rules }
}

func NewEngine(gen provider.Generator, opts ...EngineOption) *Engine {
	e := &Engine{
		gen:             gen,
		rules:           DefaultRules,
		threshold:       DefaultThreshold,
		maxImprovements: DefaultMaxImprovements,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Threshold() float64 { return e.threshold }

// Assess runs every rule and one AI review concurrently and merges them.
// Provider failures do not fail the assessment; they lower its confidence.
func (e *Engine) Assess(ctx context.Context, content string, c Context) (Assessment, error) {
	results := make([]ValidationResult, len(e.rules))
	var ai aiReview

	g, gctx := errgroup.WithContext(ctx)
	for i, rule := range e.rules {
		g.Go(func() error {
			results[i] = rule(content, c)
			return nil
		})
	}
	g.Go(func() error {
		ai = e.review(gctx, content, c)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Assessment{}, err
	}
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}

	return merge(results, ai), nil
}

type aiReview struct {
	available   bool
	dims        Dimensions
	issues      []Issue
	suggestions []string
}

// aiScores is the JSON shape requested from the provider. Scores are 0-10.
type aiScores struct {
	Coherence       *float64 `json:"coherence"`
	Relevance       *float64 `json:"relevance"`
	Accuracy        *float64 `json:"accuracy"`
	Completeness    *float64 `json:"completeness"`
	Clarity         *float64 `json:"clarity"`
	Professionalism *float64 `json:"professionalism"`
	Issues          []struct {
		Type        string `json:"type"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
		Suggestion  string `json:"suggestion"`
	} `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

func neutralReview() aiReview {
	n := neutralScore / 10
	return aiReview{dims: Dimensions{n, n, n, n, n, n}}
}

func (e *Engine) review(ctx context.Context, content string, c Context) aiReview {
	if e.gen == nil {
		return neutralReview()
	}
	resp, err := e.gen.Generate(ctx, assessPrompt(content, c), provider.Constraints{Temperature: 0}, provider.Meta{
		Operation: provider.OpAssess,
		TaskID:    c.TaskID,
		System:    "You are a strict reviewer of professional business reports. Reply with JSON only.",
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("ai quality review unavailable, using neutral scores")
		return neutralReview()
	}
	r, err := decodeReview(resp.Content)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("ai quality review unparseable, using neutral scores")
		return neutralReview()
	}
	return r
}

// decodeReview extracts the first JSON object from text. All six scores must
// be present.
func decodeReview(text string) (aiReview, error) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return aiReview{}, fmt.Errorf("no JSON object in review")
	}
	var s aiScores
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return aiReview{}, fmt.Errorf("failed to decode review: %w", err)
	}
	scores := []*float64{s.Coherence, s.Relevance, s.Accuracy, s.Completeness, s.Clarity, s.Professionalism}
	for _, p := range scores {
		if p == nil {
			return aiReview{}, fmt.Errorf("review is missing a dimension score")
		}
	}
	norm := func(p *float64) float64 { return clamp01(*p / 10) }

	r := aiReview{
		available: true,
		dims: Dimensions{
			Coherence:       norm(s.Coherence),
			Relevance:       norm(s.Relevance),
			Accuracy:        norm(s.Accuracy),
			Completeness:    norm(s.Completeness),
			Clarity:         norm(s.Clarity),
			Professionalism: norm(s.Professionalism),
		},
		suggestions: s.Suggestions,
	}
	for _, is := range s.Issues {
		sev := Severity(strings.ToLower(is.Severity))
		if sev.rank() == 0 {
			sev = SeverityLow
		}
		r.issues = append(r.issues, Issue{Type: is.Type, Severity: sev, Description: is.Description, Suggestion: is.Suggestion})
	}
	return r, nil
}

func merge(results []ValidationResult, ai aiReview) Assessment {
	byRule := make(map[string]float64, len(results))
	passed := 0
	var issues []Issue
	for _, r := range results {
		byRule[r.Rule] = r.Score
		if r.Passed {
			passed++
		}
		issues = append(issues, r.Issues...)
	}
	issues = append(issues, ai.issues...)

	blend := func(aiScore float64, rule string) float64 {
		rs, ok := byRule[rule]
		if !ok {
			return aiScore
		}
		return clamp01(aiWeight*aiScore + ruleWeight*rs)
	}

	d := ai.dims
	d.Completeness = blend(d.Completeness, "length")
	d.Clarity = blend(d.Clarity, "structure")
	d.Professionalism = blend(d.Professionalism, "language")
	if num, ok := byRule["numbers"]; ok {
		acc := num
		if s, ok := byRule["sensitive"]; ok {
			acc = math.Min(acc, s)
		}
		d.Accuracy = clamp01(aiWeight*d.Accuracy + ruleWeight*acc)
	}

	passRate := 1.0
	if len(results) > 0 {
		passRate = float64(passed) / float64(len(results))
	}
	aiFactor := 0.0
	if ai.available {
		aiFactor = 1
	}

	return Assessment{
		OverallScore: d.Overall(),
		Dimensions:   d,
		Issues:       issues,
		Suggestions:  collectSuggestions(issues, ai.suggestions),
		Confidence:   clamp01(0.6*passRate + 0.4*aiFactor),
		Rules:        results,
		AIScored:     ai.available,
	}
}

func collectSuggestions(issues []Issue, extra []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, is := range issues {
		add(is.Suggestion)
	}
	for _, s := range extra {
		add(s)
	}
	return out
}

// Improvement is the result of the improvement loop. FinalContent is the
// best scoring version seen, which may be the input.
type Improvement struct {
	FinalContent    string     `json:"final_content"`
	FinalAssessment Assessment `json:"final_assessment"`
	Iterations      int        `json:"iterations"`
	Improved        bool       `json:"improved"`
}

// Improve asks the provider to revise content while the latest version scores
// under the threshold, up to maxRetries improvement calls. maxRetries < 0
// uses the engine default.
func (e *Engine) Improve(ctx context.Context, content string, a Assessment, c Context, maxRetries int) (Improvement, error) {
	if maxRetries < 0 {
		maxRetries = e.maxImprovements
	}
	best := Improvement{FinalContent: content, FinalAssessment: a}
	if e.gen == nil {
		return best, nil
	}

	current, currentA := content, a
	for best.Iterations < maxRetries && currentA.OverallScore < e.threshold {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		resp, err := e.gen.Generate(ctx, improvePrompt(current, currentA, c), provider.Constraints{Temperature: 0.3}, provider.Meta{
			Operation: provider.OpImprove,
			TaskID:    c.TaskID,
			System:    "You revise business report sections. Return only the revised section.",
		})
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int("iteration", best.Iterations+1).Msg("improvement call failed, keeping best version")
			return best, nil
		}
		best.Iterations++

		next, err := e.Assess(ctx, resp.Content, c)
		if err != nil {
			return best, err
		}
		log.Ctx(ctx).Debug().
			Int("iteration", best.Iterations).
			Float64("score", next.OverallScore).
			Float64("best", best.FinalAssessment.OverallScore).
			Msg("improvement assessed")

		current, currentA = resp.Content, next
		if next.OverallScore > best.FinalAssessment.OverallScore {
			best.FinalContent, best.FinalAssessment = resp.Content, next
			best.Improved = true
		}
	}
	return best, nil
}
