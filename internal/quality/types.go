// Package quality scores generated content and drives the improvement loop.
package quality

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

type Issue struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// Dimensions holds the six scored dimensions, each in [0,1].
type Dimensions struct {
	Coherence       float64 `json:"coherence"`
	Relevance       float64 `json:"relevance"`
	Accuracy        float64 `json:"accuracy"`
	Completeness    float64 `json:"completeness"`
	Clarity         float64 `json:"clarity"`
	Professionalism float64 `json:"professionalism"`
}

// Overall is the fixed weighted combination of the dimensions.
func (d Dimensions) Overall() float64 {
	return clamp01(0.20*d.Coherence +
		0.20*d.Relevance +
		0.15*d.Accuracy +
		0.15*d.Completeness +
		0.15*d.Clarity +
		0.15*d.Professionalism)
}

type ValidationResult struct {
	Rule   string  `json:"rule"`
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Issues []Issue `json:"issues,omitempty"`
}

type Assessment struct {
	OverallScore float64            `json:"overall_score"`
	Dimensions   Dimensions         `json:"dimensions"`
	Issues       []Issue            `json:"issues"`
	Suggestions  []string           `json:"suggestions"`
	Confidence   float64            `json:"confidence"`
	Rules        []ValidationResult `json:"rules"`
	AIScored     bool               `json:"ai_scored"`
}

// Context is what the engine knows about the content it is scoring.
type Context struct {
	TaskID   string
	Title    string
	Project  string
	Keywords []string
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
