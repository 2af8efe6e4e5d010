package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MinLength is the content length at which the length rule scores 1.
const MinLength = 200

// Rule is a pure check over content. Rules never call out and always return
// the same result for the same input.
type Rule func(content string, c Context) ValidationResult

// DefaultRules is the fixed battery every assessment runs, in order.
var DefaultRules = []Rule{
	CheckLength,
	CheckStructure,
	CheckLanguage,
	CheckNumbers,
	CheckSensitive,
}

func CheckLength(content string, _ Context) ValidationResult {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	r := ValidationResult{Rule: "length", Score: clamp01(float64(n) / MinLength), Passed: n >= MinLength}
	if !r.Passed {
		sev := SeverityHigh
		if n >= MinLength/2 {
			sev = SeverityMedium
		}
		r.Issues = append(r.Issues, Issue{
			Type:        "content_too_short",
			Severity:    sev,
			Description: fmt.Sprintf("content has %d characters, expected at least %d", n, MinLength),
			Suggestion:  "expand the section with supporting detail, data and conclusions",
		})
	}
	return r
}

var (
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	listItemRe  = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+\S`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
)

func CheckStructure(content string, _ Context) ValidationResult {
	found := 0
	if headingRe.MatchString(content) {
		found++
	}
	if listItemRe.MatchString(content) {
		found++
	}
	if len(paragraphRe.FindAllStringIndex(strings.TrimSpace(content), -1)) >= 1 {
		found++
	}
	r := ValidationResult{Rule: "structure", Score: float64(found) / 3, Passed: found >= 2}
	if !r.Passed {
		r.Issues = append(r.Issues, Issue{
			Type:        "weak_structure",
			Severity:    SeverityLow,
			Description: "content lacks headings, lists or paragraph breaks",
			Suggestion:  "organise the content with a heading, short paragraphs and a list of key points",
		})
	}
	return r
}

var (
	casualMarkers = []string{
		"lol", "gonna", "wanna", "kinda", "sorta", "awesome", "stuff", "btw",
		"super cool", "!!!", "no way", "totally", "basically", "yeah", "dunno",
	}
	professionalMarkers = []string{
		"analysis", "strategy", "objective", "implementation", "assessment",
		"furthermore", "therefore", "stakeholder", "framework", "evaluate",
		"recommend", "outcome", "risk", "forecast",
	}
)

func CheckLanguage(content string, _ Context) ValidationResult {
	lower := strings.ToLower(content)
	var casual []string
	for _, m := range casualMarkers {
		if containsWord(lower, m) {
			casual = append(casual, m)
		}
	}
	professional := 0
	for _, m := range professionalMarkers {
		if strings.Contains(lower, m) {
			professional++
		}
	}

	score := clamp01(0.7 - 0.1*float64(len(casual)) + 0.05*float64(professional))
	r := ValidationResult{Rule: "language", Score: score, Passed: len(casual) == 0 && score >= 0.6}
	if len(casual) > 0 {
		r.Issues = append(r.Issues, Issue{
			Type:        "informal_language",
			Severity:    SeverityMedium,
			Description: "informal expressions found: " + strings.Join(casual, ", "),
			Suggestion:  "replace informal expressions with precise, professional wording",
		})
	}
	return r
}

var percentRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*%`)

func CheckNumbers(content string, _ Context) ValidationResult {
	var bad []string
	for _, m := range percentRe.FindAllStringSubmatch(content, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v < 0 || v > 100 {
			bad = append(bad, m[0])
		}
	}
	r := ValidationResult{Rule: "numbers", Score: clamp01(1 - 0.25*float64(len(bad))), Passed: len(bad) == 0}
	if len(bad) > 0 {
		r.Issues = append(r.Issues, Issue{
			Type:        "invalid_percentage",
			Severity:    SeverityMedium,
			Description: "percentages outside 0-100: " + strings.Join(bad, ", "),
			Suggestion:  "check the figures and express shares as values between 0% and 100%",
		})
	}
	return r
}

func CheckSensitive(content string, _ Context) ValidationResult {
	findings := scanSensitive(content)
	r := ValidationResult{Rule: "sensitive", Score: clamp01(1 - 0.25*float64(len(findings))), Passed: len(findings) == 0}
	if len(findings) > 0 {
		cats := make([]string, 0, len(findings))
		seen := map[string]bool{}
		for _, f := range findings {
			if !seen[f.Category] {
				seen[f.Category] = true
				cats = append(cats, f.Category)
			}
		}
		r.Issues = append(r.Issues, Issue{
			Type:        "sensitive_content",
			Severity:    SeverityHigh,
			Description: "sensitive content detected: " + strings.Join(cats, ", "),
			Suggestion:  "remove personal data and sensitive statements from the report",
		})
	}
	return r
}

// containsWord matches m at word boundaries so that "lol" does not match
// "technology".
func containsWord(s, m string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], m)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(m)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// RunRules applies rules in order. It is the deterministic half of Assess.
func RunRules(rules []Rule, content string, c Context) []ValidationResult {
	out := make([]ValidationResult, len(rules))
	for i, rule := range rules {
		out[i] = rule(content, c)
	}
	return out
}
