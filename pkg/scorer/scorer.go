// Package scorer implements consensus scoring of a draft brief: three primary
// personas score their assigned dimensions, disagreements beyond a threshold
// are marked disputed, and the Arbiter persona is invoked (once, and only on
// disagreement) to settle them at elevated weight.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"briefgen/pkg/dimension"
	"briefgen/pkg/llm"
	"briefgen/pkg/logx"
	"briefgen/pkg/persona"
)

// Config controls consensus behavior.
type Config struct {
	// DisagreementThreshold is the max-min spread between primary scores on
	// one dimension before it is marked disputed.
	DisagreementThreshold float64
	// ArbiterWeight is the weight of the arbiter's score relative to each
	// primary score when combining a disputed dimension.
	ArbiterWeight float64
	// Parallel runs the three primary persona calls concurrently.
	Parallel bool
}

// DefaultConfig provides the standard consensus configuration.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	DisagreementThreshold: 1.5,
	ArbiterWeight:         1.5,
	Parallel:              true,
}

// ConsensusResult is the immutable outcome of one scoring pass. A later pass
// supersedes it; nothing mutates one in place.
type ConsensusResult struct {
	Scores         dimension.ScoreSet
	Critiques      map[dimension.Dimension]string
	Disputed       []dimension.Dimension
	Overall        float64
	ArbiterInvoked bool
}

// Scorer runs consensus scoring passes. Clients must already be wrapped by the
// invoker; the scorer never implements its own retry.
type Scorer struct {
	clients map[persona.Role]llm.Client
	cfg     Config
	logger  *logx.Logger
}

// New creates a Scorer. clients must contain an entry for each of the three
// primary roles and the arbiter.
func New(clients map[persona.Role]llm.Client, cfg Config) (*Scorer, error) {
	required := append(persona.Primaries(), persona.RoleArbiter)
	for _, role := range required {
		if _, ok := clients[role]; !ok {
			return nil, fmt.Errorf("scorer missing client for role %q", role)
		}
	}
	if cfg.DisagreementThreshold <= 0 {
		cfg.DisagreementThreshold = DefaultConfig.DisagreementThreshold
	}
	if cfg.ArbiterWeight <= 0 {
		cfg.ArbiterWeight = DefaultConfig.ArbiterWeight
	}
	return &Scorer{
		clients: clients,
		cfg:     cfg,
		logger:  logx.NewLogger("scorer"),
	}, nil
}

// evaluation is one persona's parsed scoring output.
type evaluation struct {
	scores    map[dimension.Dimension]float64
	critiques map[dimension.Dimension]string
}

// Score runs one full consensus pass over the draft.
func (s *Scorer) Score(ctx context.Context, draft string) (*ConsensusResult, error) {
	primaries := persona.Primaries()
	evals := make([]*evaluation, len(primaries))

	if s.cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, role := range primaries {
			g.Go(func() error {
				ev, err := s.evaluate(gctx, role, draft, nil)
				if err != nil {
					return err
				}
				evals[i] = ev
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, role := range primaries {
			ev, err := s.evaluate(ctx, role, draft, nil)
			if err != nil {
				return nil, err
			}
			evals[i] = ev
		}
	}

	// Collect primary scores per dimension in canonical role order so the
	// pass is deterministic for fixed persona outputs.
	primaryScores := make(map[dimension.Dimension][]float64)
	critiques := make(map[dimension.Dimension]string)
	for i := range primaries {
		for _, d := range dimension.All() {
			if v, ok := evals[i].scores[d]; ok {
				primaryScores[d] = append(primaryScores[d], v)
				if _, have := critiques[d]; !have {
					critiques[d] = evals[i].critiques[d]
				}
			}
		}
	}

	disputed := s.findDisputed(primaryScores)

	final := make(map[dimension.Dimension]float64, dimension.Count)
	for _, d := range dimension.All() {
		vals := primaryScores[d]
		if len(vals) == 0 {
			return nil, fmt.Errorf("no primary persona scored dimension %q", d)
		}
		final[d] = mean(vals)
	}

	arbiterInvoked := false
	if len(disputed) > 0 {
		arbiterInvoked = true
		arb, err := s.evaluate(ctx, persona.RoleArbiter, draft, disputed)
		if err != nil {
			return nil, err
		}
		isDisputed := make(map[dimension.Dimension]bool, len(disputed))
		for _, d := range disputed {
			isDisputed[d] = true
		}
		for _, d := range dimension.All() {
			if !isDisputed[d] {
				continue
			}
			arbScore, ok := arb.scores[d]
			if !ok {
				return nil, fmt.Errorf("arbiter did not score disputed dimension %q", d)
			}
			// Disputed dimensions blend primaries and arbiter with the
			// arbiter counted at elevated weight.
			vals := primaryScores[d]
			weighted := sum(vals) + arbScore*s.cfg.ArbiterWeight
			final[d] = weighted / (float64(len(vals)) + s.cfg.ArbiterWeight)
			if c, ok := arb.critiques[d]; ok && c != "" {
				critiques[d] = c
			}
		}
	}

	scores, err := dimension.NewScoreSet(final)
	if err != nil {
		return nil, fmt.Errorf("consensus produced invalid score set: %w", err)
	}

	result := &ConsensusResult{
		Scores:         scores,
		Critiques:      critiques,
		Disputed:       disputed,
		Overall:        scores.Aggregate(),
		ArbiterInvoked: arbiterInvoked,
	}
	s.logger.Info("consensus pass: overall=%.2f disputed=%d arbiter=%v", result.Overall, len(disputed), arbiterInvoked)
	return result, nil
}

// findDisputed returns dimensions where multiple primaries scored and their
// spread exceeds the threshold, in canonical dimension order.
func (s *Scorer) findDisputed(primaryScores map[dimension.Dimension][]float64) []dimension.Dimension {
	var disputed []dimension.Dimension
	for _, d := range dimension.All() {
		vals := primaryScores[d]
		if len(vals) < 2 {
			continue
		}
		lo, hi := vals[0], vals[0]
		for _, v := range vals[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > s.cfg.DisagreementThreshold {
			disputed = append(disputed, d)
		}
	}
	return disputed
}

// evaluate runs one persona's scoring call and parses the result.
func (s *Scorer) evaluate(ctx context.Context, role persona.Role, draft string, disputed []dimension.Dimension) (*evaluation, error) {
	p, err := persona.Get(role)
	if err != nil {
		return nil, err
	}
	prompt, err := p.RenderPrompt(draft, disputed)
	if err != nil {
		return nil, err
	}

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(prompt)})
	req.Temperature = llm.TemperatureScoring

	resp, err := s.clients[role].Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("persona %s scoring call failed: %w", role, err)
	}

	return parseEvaluation(role, resp.Content, p.Dimensions)
}

// rawEvaluation mirrors the JSON shape personas are instructed to return.
type rawEvaluation struct {
	Scores    map[string]float64 `json:"scores"`
	Critiques map[string]string  `json:"critiques"`
}

// parseEvaluation decodes a persona response. Missing, unknown, or unassigned
// dimension keys are validation failures; a default score is never
// substituted, and a score outside the persona's assignment never reaches the
// consensus math.
func parseEvaluation(role persona.Role, content string, assigned []dimension.Dimension) (*evaluation, error) {
	var raw rawEvaluation
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("persona %s returned malformed scoring output: %w", role, err)
	}

	allowed := make(map[dimension.Dimension]bool, len(assigned))
	for _, d := range assigned {
		allowed[d] = true
	}

	scores := make(map[dimension.Dimension]float64, len(assigned))
	for name, v := range raw.Scores {
		d := dimension.Dimension(name)
		if !d.IsValid() {
			return nil, fmt.Errorf("persona %s scored unknown dimension %q", role, name)
		}
		if !allowed[d] {
			return nil, fmt.Errorf("persona %s scored unassigned dimension %q", role, name)
		}
		scores[d] = v
	}
	for _, d := range assigned {
		if _, ok := scores[d]; !ok {
			return nil, fmt.Errorf("persona %s omitted assigned dimension %q", role, d)
		}
	}

	// Some models answer on a 0-1 scale despite instructions. When every
	// score fits in [0,1], normalize the whole set to 0-10.
	allUnit := true
	for _, v := range scores {
		if v > 1 {
			allUnit = false
		}
		if v < 0 || v > 10 {
			return nil, fmt.Errorf("persona %s score out of range: %v", role, v)
		}
	}
	if allUnit {
		for d, v := range scores {
			scores[d] = v * 10
		}
	}

	critiques := make(map[dimension.Dimension]string, len(raw.Critiques))
	for name, text := range raw.Critiques {
		d := dimension.Dimension(name)
		if allowed[d] {
			critiques[d] = text
		}
	}

	return &evaluation{scores: scores, critiques: critiques}, nil
}

// extractJSON strips markdown code fences and surrounding prose so strict
// JSON decoding can run on the object itself.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			return content[start : end+1]
		}
	}
	return content
}

func mean(vals []float64) float64 {
	return sum(vals) / float64(len(vals))
}

func sum(vals []float64) float64 {
	var total float64
	for _, v := range vals {
		total += v
	}
	return total
}

// SortedDimensions returns a copy of dims sorted canonically; used by callers
// that need stable iteration for logs and history records.
func SortedDimensions(dims []dimension.Dimension) []dimension.Dimension {
	out := make([]dimension.Dimension, len(dims))
	copy(out, dims)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
