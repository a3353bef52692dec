// Package reconcile merges the edits proposed by one round's fixer agents
// into a single revised draft. Overlapping edits are resolved by priority and
// confidence; every losing edit is recorded as skipped with a reason. No edit
// is ever dropped silently.
package reconcile

import (
	"sort"
	"strings"

	"briefgen/pkg/dimension"
	"briefgen/pkg/fixer"
	"briefgen/pkg/logx"
)

// AppliedEdit records an edit that made it into the revised draft.
type AppliedEdit struct {
	Dimension dimension.Dimension
	Edit      fixer.SuggestedEdit
}

// SkippedEdit records an edit that lost reconciliation, with the reason.
type SkippedEdit struct {
	Dimension dimension.Dimension
	Reason    string
	Edit      fixer.SuggestedEdit
}

// Outcome is the result of merging one round of fixer output.
type Outcome struct {
	Revised string
	Applied []AppliedEdit
	Skipped []SkippedEdit
}

// Skip reasons.
const (
	ReasonSuperseded   = "superseded by higher-priority edit to same section"
	ReasonTextNotFound = "original text not present in draft"
	ReasonDuplicate    = "duplicate of an already-applied edit"
)

type candidate struct {
	dim        dimension.Dimension
	confidence float64
	edit       fixer.SuggestedEdit
}

// Merge applies the round's edits to the draft. Candidates are ordered by
// priority, then fixer confidence, then dimension name, so reconciliation is
// deterministic for a fixed set of fixer outputs.
func Merge(draft string, results []*fixer.Result) *Outcome {
	logger := logx.NewLogger("reconcile")

	var candidates []candidate
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, e := range r.Edits {
			candidates = append(candidates, candidate{
				dim:        r.Dimension,
				confidence: r.Confidence,
				edit:       e,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := &candidates[i], &candidates[j]
		if a.edit.Priority.Rank() != b.edit.Priority.Rank() {
			return a.edit.Priority.Rank() < b.edit.Priority.Rank()
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return a.dim < b.dim
	})

	outcome := &Outcome{Revised: draft}
	editedSections := make(map[string]bool)
	appliedOriginals := make(map[string]bool)

	for _, c := range candidates {
		if appliedOriginals[c.edit.Original] {
			outcome.Skipped = append(outcome.Skipped, SkippedEdit{
				Dimension: c.dim,
				Reason:    ReasonDuplicate,
				Edit:      c.edit,
			})
			continue
		}

		if !strings.Contains(outcome.Revised, c.edit.Original) {
			reason := ReasonTextNotFound
			if editedSections[c.edit.Section] {
				// A winning edit already rewrote this section out from
				// under the loser.
				reason = ReasonSuperseded
			}
			outcome.Skipped = append(outcome.Skipped, SkippedEdit{
				Dimension: c.dim,
				Reason:    reason,
				Edit:      c.edit,
			})
			continue
		}

		outcome.Revised = strings.Replace(outcome.Revised, c.edit.Original, c.edit.Proposed, 1)
		editedSections[c.edit.Section] = true
		appliedOriginals[c.edit.Original] = true
		outcome.Applied = append(outcome.Applied, AppliedEdit{
			Dimension: c.dim,
			Edit:      c.edit,
		})
	}

	logger.Debug("merged round: %d applied, %d skipped", len(outcome.Applied), len(outcome.Skipped))
	return outcome
}
