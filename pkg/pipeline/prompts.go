package pipeline

import (
	"bytes"
	"fmt"
	"text/template"
)

// promptData carries everything any stage template might reference. Unused
// fields are simply ignored by templates that do not mention them.
type promptData struct {
	Subject   string
	Kind      string
	Findings  string
	Outline   string
	Narrative string
	Draft     string
	Level     string
}

//nolint:gochecknoglobals // Compiled once
var (
	researchTmpl = template.Must(template.New("research").Parse(`You are a research agent preparing an investigative brief.

Subject: {{.Subject}}

Gather what is known about the subject and produce findings with citations.
Prefer primary sources; mark each source "primary" or "secondary".

Respond with a single JSON object, no other text:
{
  "findings": "<detailed research findings in plain prose>",
  "sources": [
    {"title": "<source title>", "url": "<source url>", "kind": "primary|secondary"}
  ]
}`))

	classificationTmpl = template.Must(template.New("classification").Parse(`Classify the subject of an investigative brief.

Subject: {{.Subject}}

Research findings:
{{.Findings}}

Respond with a single JSON object, no other text:
{"kind": "person|organization|topic|event"}`))

	structureTmpl = template.Must(template.New("structure").Parse(`You are a structure agent for an investigative brief about a {{.Kind}}.

Subject: {{.Subject}}

Research findings:
{{.Findings}}

Produce a sectioned outline for the brief: section headings in order, each
with one sentence stating what the section must establish and which findings
support it. Output the outline as plain text.`))

	narrativeTmpl = template.Must(template.New("narrative").Parse(`You are a narrative agent for an investigative brief about a {{.Kind}}.

Subject: {{.Subject}}

Research findings:
{{.Findings}}

Write the brief as continuous prose grounded strictly in the findings. Do not
invent facts. Attribute claims to their sources inline. Output the narrative
as plain text.`))

	reconciliationTmpl = template.Must(template.New("reconciliation").Parse(`You are reconciling two drafts of an investigative brief about {{.Subject}}.

Outline:
{{.Outline}}

Narrative:
{{.Narrative}}

Merge them into one final draft: the narrative's prose arranged under the
outline's section structure. Resolve conflicts in favor of the narrative's
sourced claims. Output only the merged brief.`))

	summaryTmpl = template.Must(template.New("summary").Parse(`Summarize the following brief for a reader at the {{.Level}} reading level.
Preserve the key claims and their attribution; adjust vocabulary and sentence
complexity to the level. Output only the summary.

Brief:
{{.Draft}}`))
)

func renderPrompt(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
