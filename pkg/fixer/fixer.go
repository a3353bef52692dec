// Package fixer implements the seven dimension-keyed repair agents. Each
// fixer proposes prioritized text edits against the current draft for its one
// dimension; the reconcile package merges them.
package fixer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"briefgen/pkg/dimension"
	"briefgen/pkg/llm"
	"briefgen/pkg/logx"
	"briefgen/pkg/tokens"
)

// Priority ranks a suggested edit.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns a numeric rank for ordering; lower is more important.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p.Rank() < 4
}

// SuggestedEdit is one proposed change to the draft.
type SuggestedEdit struct {
	Section   string   `json:"section"`
	Original  string   `json:"original"`
	Proposed  string   `json:"proposed"`
	Rationale string   `json:"rationale"`
	Priority  Priority `json:"priority"`
}

// Result is the output of one fixer run. Ephemeral: consumed by
// reconciliation within the same round.
type Result struct {
	Dimension  dimension.Dimension
	Edits      []SuggestedEdit
	Confidence float64
	Latency    time.Duration
}

// guidance gives each fixer its repair focus, folded into the shared template.
//
//nolint:gochecknoglobals // Static prompt table
var guidance = map[dimension.Dimension]string{
	dimension.FirstPrinciples:     "Rebuild weak passages from explicit premises. Replace appeals to authority with reasoning the reader can verify.",
	dimension.InternalConsistency: "Find passages that contradict each other and rewrite the weaker one so the brief speaks with one voice.",
	dimension.EvidenceQuality:     "Strengthen claims with specific, attributable evidence. Flag and rewrite passages resting on a single or low-quality source.",
	dimension.Accessibility:       "Simplify jargon-heavy passages without losing precision. Shorten sentences that bury their point.",
	dimension.Objectivity:         "Remove editorializing and loaded language. Present competing views with equal seriousness.",
	dimension.FactualAccuracy:     "Correct or hedge statements presented more confidently than the evidence supports.",
	dimension.BiasDetection:       "Call out one-sided sourcing in the text itself and rewrite passages that launder a source's framing as fact.",
}

//nolint:gochecknoglobals // Parsed once at init
var fixerTmpl = template.Must(template.New("fixer").Parse(`You are a repair agent for analytical briefs, focused on one quality dimension: {{.Dimension}}.
The draft scored {{printf "%.1f" .Score}}/10 on this dimension. Reviewer critique: {{.Critique}}

Your focus: {{.Guidance}}

Propose targeted edits to raise this dimension's score. Each edit names the
section it touches, quotes the exact original text, and gives replacement text.
Priorities: critical, high, medium, low. Propose nothing if the draft is fine.

Respond with ONLY a JSON object of the form:
{"edits": [{"section": "...", "original": "...", "proposed": "...", "rationale": "...", "priority": "high"}], "confidence": 0.8}

DRAFT:
{{.Draft}}`))

type promptData struct {
	Dimension dimension.Dimension
	Score     float64
	Critique  string
	Guidance  string
	Draft     string
}

// draftTokenBudget caps how much draft text goes into a fixer prompt.
const draftTokenBudget = 6000

// Fixer proposes edits for one dimension.
type Fixer struct {
	dim     dimension.Dimension
	client  llm.Client
	counter *tokens.Counter
	logger  *logx.Logger
}

// New creates a fixer for the given dimension. The client must already carry
// the invoker's retry policy.
func New(dim dimension.Dimension, client llm.Client, counter *tokens.Counter) (*Fixer, error) {
	if !dim.IsValid() {
		return nil, fmt.Errorf("unknown dimension for fixer: %q", dim)
	}
	return &Fixer{
		dim:     dim,
		client:  client,
		counter: counter,
		logger:  logx.NewLogger("fixer"),
	}, nil
}

// Dimension returns the dimension this fixer targets.
func (f *Fixer) Dimension() dimension.Dimension {
	return f.dim
}

// Propose runs the fixer against the current draft.
func (f *Fixer) Propose(ctx context.Context, draft string, score float64, critique string) (*Result, error) {
	var buf bytes.Buffer
	err := fixerTmpl.Execute(&buf, promptData{
		Dimension: f.dim,
		Score:     score,
		Critique:  critique,
		Guidance:  guidance[f.dim],
		Draft:     f.counter.Truncate(draft, draftTokenBudget),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render fixer prompt for %s: %w", f.dim, err)
	}

	start := time.Now()
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(buf.String())})
	resp, err := f.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fixer %s call failed: %w", f.dim, err)
	}

	result, err := parseResult(f.dim, resp.Content)
	if err != nil {
		return nil, err
	}
	result.Latency = time.Since(start)
	f.logger.Debug("fixer %s proposed %d edits (confidence %.2f)", f.dim, len(result.Edits), result.Confidence)
	return result, nil
}

type rawResult struct {
	Edits      []SuggestedEdit `json:"edits"`
	Confidence float64         `json:"confidence"`
}

// parseResult decodes fixer output. Malformed output is a loud validation
// failure, never an empty default.
func parseResult(dim dimension.Dimension, content string) (*Result, error) {
	var raw rawResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("fixer %s returned malformed output: %w", dim, err)
	}
	for i := range raw.Edits {
		edit := &raw.Edits[i]
		if !edit.Priority.IsValid() {
			return nil, fmt.Errorf("fixer %s edit %d has invalid priority %q", dim, i, edit.Priority)
		}
		if strings.TrimSpace(edit.Original) == "" {
			return nil, fmt.Errorf("fixer %s edit %d has empty original text", dim, i)
		}
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return nil, fmt.Errorf("fixer %s confidence out of range [0,1]: %v", dim, raw.Confidence)
	}
	return &Result{
		Dimension:  dim,
		Edits:      raw.Edits,
		Confidence: raw.Confidence,
	}, nil
}

func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			return content[start : end+1]
		}
	}
	return content
}
