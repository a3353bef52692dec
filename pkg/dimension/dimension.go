// Package dimension defines the seven fixed quality dimensions a brief is
// scored on, the aggregate weight table, and the validated per-dimension
// score record.
package dimension

import (
	"fmt"
	"math"
	"sort"
)

// Dimension identifies one axis of brief quality, scored 0-10.
type Dimension string

const (
	// FirstPrinciples measures whether the argument is built up from
	// first-principles reasoning rather than received opinion.
	FirstPrinciples Dimension = "first_principles_coherence"
	// InternalConsistency measures whether the brief contradicts itself.
	InternalConsistency Dimension = "internal_consistency"
	// EvidenceQuality measures the strength and diversity of cited evidence.
	EvidenceQuality Dimension = "evidence_quality"
	// Accessibility measures readability for the target reading levels.
	Accessibility Dimension = "accessibility"
	// Objectivity measures balance and absence of editorializing.
	Objectivity Dimension = "objectivity"
	// FactualAccuracy measures correctness of stated facts.
	FactualAccuracy Dimension = "factual_accuracy"
	// BiasDetection measures how well the brief surfaces and handles bias
	// in its sources.
	BiasDetection Dimension = "bias_detection"
)

// All returns the seven dimensions in canonical order.
func All() []Dimension {
	return []Dimension{
		FirstPrinciples,
		InternalConsistency,
		EvidenceQuality,
		Accessibility,
		Objectivity,
		FactualAccuracy,
		BiasDetection,
	}
}

// Count is the number of quality dimensions.
const Count = 7

// IsValid reports whether d is one of the seven known dimensions.
func (d Dimension) IsValid() bool {
	switch d {
	case FirstPrinciples, InternalConsistency, EvidenceQuality,
		Accessibility, Objectivity, FactualAccuracy, BiasDetection:
		return true
	default:
		return false
	}
}

// aggregateWeights is the fixed weight table for combining per-dimension
// scores into one overall score. Values sum to 1.0. Evidence quality carries
// the heaviest weight.
//
//nolint:gochecknoglobals // Fixed rubric table
var aggregateWeights = map[Dimension]float64{
	FirstPrinciples:     0.15,
	InternalConsistency: 0.15,
	EvidenceQuality:     0.20,
	Accessibility:       0.15,
	Objectivity:         0.15,
	FactualAccuracy:     0.10,
	BiasDetection:       0.10,
}

// Weight returns the aggregate weight for a dimension.
func Weight(d Dimension) float64 {
	return aggregateWeights[d]
}

// ScoreSet maps every dimension to a score in [0,10]. Construct through
// NewScoreSet so the seven-keys invariant holds everywhere a ScoreSet exists.
type ScoreSet map[Dimension]float64

// NewScoreSet validates raw scores into a ScoreSet. Exactly the seven known
// dimensions must be present with values in [0,10]; missing, extra, or
// out-of-range entries are construction errors, never silently defaulted.
func NewScoreSet(raw map[Dimension]float64) (ScoreSet, error) {
	if len(raw) != Count {
		return nil, fmt.Errorf("score set must contain exactly %d dimensions, got %d", Count, len(raw))
	}
	set := make(ScoreSet, Count)
	for _, d := range All() {
		v, ok := raw[d]
		if !ok {
			return nil, fmt.Errorf("score set missing dimension %q", d)
		}
		if v < 0 || v > 10 {
			return nil, fmt.Errorf("score for %q out of range [0,10]: %v", d, v)
		}
		set[d] = v
	}
	return set, nil
}

// Aggregate computes the weighted overall score on the 0-10 scale.
func (s ScoreSet) Aggregate() float64 {
	var total float64
	for d, v := range s {
		total += v * aggregateWeights[d]
	}
	// Guard against float drift pushing the result a hair past the scale.
	return math.Min(10, math.Max(0, total))
}

// Clone returns a copy of the score set.
func (s ScoreSet) Clone() ScoreSet {
	out := make(ScoreSet, len(s))
	for d, v := range s {
		out[d] = v
	}
	return out
}

// Below returns the dimensions scoring strictly below floor, lowest first.
func (s ScoreSet) Below(floor float64) []Dimension {
	var out []Dimension
	for d, v := range s {
		if v < floor {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if s[out[i]] != s[out[j]] {
			return s[out[i]] < s[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
