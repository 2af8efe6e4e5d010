package quality

import (
	"fmt"
	"sort"
	"strings"
)

func assessPrompt(content string, c Context) string {
	var b strings.Builder
	b.WriteString("Score the report content below on six dimensions from 0 to 10: ")
	b.WriteString("coherence, relevance, accuracy, completeness, clarity, professionalism.\n")
	if c.Title != "" {
		fmt.Fprintf(&b, "Section: %s\n", c.Title)
	}
	if c.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", c.Project)
	}
	if len(c.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(c.Keywords, ", "))
	}
	b.WriteString(`Reply with a single JSON object: {"coherence": n, "relevance": n, "accuracy": n, `)
	b.WriteString(`"completeness": n, "clarity": n, "professionalism": n, `)
	b.WriteString(`"issues": [{"type": "", "severity": "low|medium|high|critical", "description": "", "suggestion": ""}], `)
	b.WriteString(`"suggestions": [""]}` + "\n\n")
	b.WriteString("<content>\n")
	b.WriteString(content)
	b.WriteString("\n</content>\n")
	return b.String()
}

// topIssues returns up to n high or critical issues, most severe first.
func topIssues(issues []Issue, n int) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity.rank() >= SeverityHigh.rank() {
			out = append(out, is)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity.rank() > out[j].Severity.rank() })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func improvePrompt(content string, a Assessment, c Context) string {
	var b strings.Builder
	b.WriteString("Revise the report section below so it reads as a professional, complete and accurate analysis.\n")
	if c.Title != "" {
		fmt.Fprintf(&b, "Section: %s\n", c.Title)
	}
	if c.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", c.Project)
	}
	fmt.Fprintf(&b, "Current score: %.2f\n", a.OverallScore)

	if top := topIssues(a.Issues, 3); len(top) > 0 {
		b.WriteString("Fix these issues:\n")
		for _, is := range top {
			fmt.Fprintf(&b, "- [%s] %s\n", is.Severity, is.Description)
		}
	}
	if len(a.Suggestions) > 0 {
		b.WriteString("Apply these suggestions:\n")
		for i, s := range a.Suggestions {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("Return only the revised section in markdown.\n\n<content>\n")
	b.WriteString(content)
	b.WriteString("\n</content>\n")
	return b.String()
}
