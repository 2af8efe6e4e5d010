package quality

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

type Finding struct {
	Category string    `json:"category"`
	Risk     RiskLevel `json:"risk"`
	Detail   string    `json:"detail"`
	start    int
	end      int
}

type SafetyReport struct {
	Safe     bool      `json:"safe"`
	Risk     RiskLevel `json:"risk"`
	Findings []Finding `json:"findings,omitempty"`
	// Redacted is set only when the content is unsafe.
	Redacted string `json:"redacted,omitempty"`
}

const redaction = "[REDACTED]"

type pattern struct {
	category string
	risk     RiskLevel
	re       *regexp.Regexp
}

var sensitivePatterns = []pattern{
	{"pii_email", RiskHigh, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"pii_card", RiskHigh, regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`)},
	{"pii_national_id", RiskHigh, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{17}[\dXx]\b`)},
	{"pii_phone", RiskHigh, regexp.MustCompile(`(?:\+\d{1,3}[ -]?)?\(?\d{3}\)?[ -]\d{3}[ -]\d{4}\b`)},
	{"illegal", RiskCritical, regexp.MustCompile(`(?i)\b(?:money laundering|tax evasion|insider trading|bribery|counterfeit)\b`)},
	{"violence", RiskCritical, regexp.MustCompile(`(?i)\b(?:kill|murder|bomb|terrorist|massacre)\b`)},
	{"hate", RiskCritical, regexp.MustCompile(`(?i)\b(?:racial slur|ethnic cleansing|inferior race)\b`)},
}

var errorTokens = []string{"error:", "exception:", "traceback", "undefined", "null pointer", "as an ai language model"}

// scanSensitive returns span findings for personal data and harmful content.
func scanSensitive(content string) []Finding {
	var out []Finding
	for _, p := range sensitivePatterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			out = append(out, Finding{
				Category: p.category,
				Risk:     p.risk,
				Detail:   "matched " + p.category + " pattern",
				start:    loc[0],
				end:      loc[1],
			})
		}
	}
	return out
}

// CheckSafety screens content for personal data, harmful statements and
// structural defects. High and critical findings make the content unsafe.
func CheckSafety(content string) SafetyReport {
	findings := scanSensitive(content)

	if n := utf8.RuneCountInString(strings.TrimSpace(content)); n < 50 {
		findings = append(findings, Finding{Category: "too_short", Risk: RiskMedium, Detail: "content is shorter than 50 characters"})
	}
	lower := strings.ToLower(content)
	for _, tok := range errorTokens {
		if strings.Contains(lower, tok) {
			findings = append(findings, Finding{Category: "error_output", Risk: RiskMedium, Detail: "content contains " + tok})
			break
		}
	}

	rep := SafetyReport{Risk: RiskLow, Findings: findings}
	for _, f := range findings {
		if f.Risk.rank() > rep.Risk.rank() {
			rep.Risk = f.Risk
		}
	}
	rep.Safe = rep.Risk.rank() < RiskHigh.rank()
	if !rep.Safe {
		rep.Redacted = redact(content, findings)
	}
	return rep
}

func redact(content string, findings []Finding) string {
	spans := make([][2]int, 0, len(findings))
	for _, f := range findings {
		if f.end > f.start {
			spans = append(spans, [2]int{f.start, f.end})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })

	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s[1] <= pos {
			continue
		}
		// overlapping spans extend the previous redaction
		if s[0] >= pos {
			b.WriteString(content[pos:s[0]])
			b.WriteString(redaction)
		}
		pos = s[1]
	}
	b.WriteString(content[pos:])
	return b.String()
}
