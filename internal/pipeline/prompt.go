package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"reportq/internal/domain"
)

const systemPrompt = "You are a senior analyst writing professional business reports. " +
	"Write factual, well structured markdown without placeholders or meta commentary."

var placeholderRe = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// fill replaces {name} placeholders with request parameters.
func fill(tmpl string, params map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		if v := strings.TrimSpace(params[key]); v != "" {
			return v
		}
		return "not specified"
	})
}

func parameters(req Request) map[string]string {
	p := make(map[string]string, len(req.Parameters)+1)
	for k, v := range req.Parameters {
		p[k] = v
	}
	p["project_name"] = req.ProjectName()
	return p
}

func sectionPrompt(req Request, tpl *domain.ReportTemplate, st domain.SectionTemplate) string {
	params := parameters(req)

	var b strings.Builder
	fmt.Fprintf(&b, "You are writing one section of a %s.\n", tpl.Name)
	fmt.Fprintf(&b, "Report: %s\n", req.Title)
	fmt.Fprintf(&b, "Section: %s\n", st.Title)
	fmt.Fprintf(&b, "Project: %s\n", req.ProjectName())

	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "project_name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		b.WriteString("Project parameters:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, params[k])
		}
	}

	if st.Prompt != "" {
		b.WriteString("\nInstructions:\n")
		b.WriteString(strings.TrimSpace(fill(st.Prompt, params)))
		b.WriteString("\n")
	}
	words := st.MinWords
	if words <= 0 {
		words = 200
	}
	fmt.Fprintf(&b, "\nWrite at least %d words in markdown. Start with the heading \"## %s\". ", words, st.Title)
	b.WriteString("Use short paragraphs and a bullet list of key figures where relevant.\n")
	return b.String()
}

// fallbackSection is the deterministic text used when a section cannot be
// generated.
func fallbackSection(req Request, st domain.SectionTemplate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", st.Title)
	fmt.Fprintf(&b, "This section covers the %s of %s. ", strings.ToLower(st.Title), req.ProjectName())
	b.WriteString("Automated drafting was not available when this report was generated, ")
	b.WriteString("so the section lists the points the analysis is expected to address.\n\n")
	if st.Prompt != "" {
		for _, line := range strings.Split(strings.TrimSpace(fill(st.Prompt, parameters(req))), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Review and complete this section before the report is distributed.\n")
	return b.String()
}
