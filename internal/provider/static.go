package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"reportq/internal/domain"
)

// StaticBackend produces deterministic text without any network access. It
// lets the whole pipeline run in development and demos without API keys.
type StaticBackend struct{}

func (StaticBackend) Name() string { return "static" }

func (StaticBackend) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		kind, _ := contextKind(ctx, err)
		return Response{}, domain.E(kind, "provider.static", err)
	}

	var content string
	switch req.Operation {
	case OpAssess:
		content = staticAssessment(req.Prompt)
	case OpImprove:
		content = staticImprovement(req.Prompt)
	case OpSummarize:
		content = staticSummary(req.Prompt)
	default:
		content = staticSection(req.Prompt)
	}
	return Response{Content: content, Backend: "static", Model: "static-v1"}, nil
}

func promptField(prompt, name string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), name+":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func staticSection(prompt string) string {
	title := promptField(prompt, "Section")
	if title == "" {
		title = "Overview"
	}
	project := promptField(prompt, "Project")
	if project == "" {
		project = "the project"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "This section presents the %s analysis for %s. ", strings.ToLower(title), project)
	b.WriteString("The assessment follows a structured framework and evaluates objectives, ")
	b.WriteString("implementation strategy and expected outcomes for key stakeholders.\n\n")
	b.WriteString("- Objective: establish a measurable baseline\n")
	b.WriteString("- Strategy: phased implementation with quarterly reviews\n")
	b.WriteString("- Growth: 12% expected annual improvement\n\n")
	b.WriteString("Therefore, the recommended approach balances risk and return while keeping delivery predictable.\n")
	return b.String()
}

func staticImprovement(prompt string) string {
	original := prompt
	if i := strings.Index(prompt, "<content>"); i >= 0 {
		original = prompt[i+len("<content>"):]
		if j := strings.Index(original, "</content>"); j >= 0 {
			original = original[:j]
		}
	}
	original = strings.TrimSpace(original)
	return original + "\n\nFurthermore, the analysis has been reviewed for clarity and completeness, " +
		"and each recommendation is supported by a clear rationale and implementation plan.\n"
}

func staticAssessment(prompt string) string {
	content := prompt
	if i := strings.Index(prompt, "<content>"); i >= 0 {
		content = prompt[i+len("<content>"):]
		if j := strings.Index(content, "</content>"); j >= 0 {
			content = content[:j]
		}
	}
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	score := 5 + n/150
	if score > 9 {
		score = 9
	}
	return fmt.Sprintf(`{"coherence": %[1]d, "relevance": %[1]d, "accuracy": %[1]d, "completeness": %[1]d, "clarity": %[1]d, "professionalism": %[1]d, "issues": [], "suggestions": []}`, score)
}

func staticSummary(prompt string) string {
	name := promptField(prompt, "File")
	if name == "" {
		name = "the file"
	}
	var facts []string
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "- "); ok {
			facts = append(facts, v)
		}
	}
	if len(facts) > 3 {
		facts = facts[:3]
	}
	s := fmt.Sprintf("Summary of %s.", name)
	if len(facts) > 0 {
		s += " Key facts: " + strings.Join(facts, "; ") + "."
	}
	return s
}
