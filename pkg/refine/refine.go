// Package refine drives the iterative repair loop: score, select
// underperforming dimensions, deploy fixers, reconcile, re-score, until the
// quality threshold is cleared or the attempt budget runs out. The loop is
// deterministic for deterministic scorer and fixer outputs.
package refine

import (
	"context"
	"fmt"
	"time"

	"briefgen/pkg/dimension"
	"briefgen/pkg/fixer"
	"briefgen/pkg/logx"
	"briefgen/pkg/reconcile"
	"briefgen/pkg/scorer"
)

// State is a refinement loop state.
type State string

const (
	StateScored          State = "scored"
	StateSelectingFixers State = "selecting-fixers"
	StateFixing          State = "fixing"
	StateReconciling     State = "reconciling"
	StateRescoring       State = "rescoring"
	StateConverged       State = "converged"
	StateExhausted       State = "exhausted"
)

// Config controls the refinement loop.
type Config struct {
	// QualityThreshold is the overall score at which the loop converges.
	QualityThreshold float64
	// DimensionFloor selects which dimensions get a fixer: those scoring
	// strictly below it.
	DimensionFloor float64
	// MaxAttempts bounds the number of rounds.
	MaxAttempts int
	// MaxFixersPerRound bounds fixer deployments per round for cost control.
	MaxFixersPerRound int
}

// DefaultConfig provides the standard refinement configuration.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	QualityThreshold:  6.0,
	DimensionFloor:    6.0,
	MaxAttempts:       3,
	MaxFixersPerRound: 3,
}

// Scorer re-scores a revised draft.
type Scorer interface {
	Score(ctx context.Context, draft string) (*scorer.ConsensusResult, error)
}

// Proposer is one deployable fixer agent.
type Proposer interface {
	Dimension() dimension.Dimension
	Propose(ctx context.Context, draft string, score float64, critique string) (*fixer.Result, error)
}

// AgentNotifier receives fixer lifecycle notifications so the orchestrator
// can republish them as progress events.
type AgentNotifier interface {
	AgentStarted(name string)
	AgentCompleted(name string, elapsed time.Duration)
}

type noopNotifier struct{}

func (noopNotifier) AgentStarted(string)                  {}
func (noopNotifier) AgentCompleted(string, time.Duration) {}

// Attempt records one completed round. The sequence is append-only and its
// terminal length is bounded by MaxAttempts.
type Attempt struct {
	Number       int
	Deployed     []dimension.Dimension
	EditsApplied int
	EditsSkipped []reconcile.SkippedEdit
	ScoreBefore  float64
	ScoreAfter   float64
	Latency      time.Duration
}

// Result is the loop's terminal outcome. On exhaustion FinalDraft is the
// best-scoring draft observed across all rounds, not necessarily the last.
type Result struct {
	FinalDraft string
	FinalScore *scorer.ConsensusResult
	State      State
	Attempts   []Attempt
	Warning    string
}

// Loop owns one run's refinement. Fixers and scorer must already route model
// calls through the invoker.
type Loop struct {
	cfg      Config
	scorer   Scorer
	fixers   map[dimension.Dimension]Proposer
	notifier AgentNotifier
	logger   *logx.Logger
}

// New creates a refinement loop. fixers must contain a proposer for every
// dimension.
func New(cfg Config, sc Scorer, fixers map[dimension.Dimension]Proposer, notifier AgentNotifier) (*Loop, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.MaxFixersPerRound <= 0 {
		cfg.MaxFixersPerRound = DefaultConfig.MaxFixersPerRound
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = DefaultConfig.QualityThreshold
	}
	if cfg.DimensionFloor <= 0 {
		cfg.DimensionFloor = cfg.QualityThreshold
	}
	for _, d := range dimension.All() {
		if _, ok := fixers[d]; !ok {
			return nil, fmt.Errorf("refinement loop missing fixer for dimension %q", d)
		}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Loop{
		cfg:      cfg,
		scorer:   sc,
		fixers:   fixers,
		notifier: notifier,
		logger:   logx.NewLogger("refine"),
	}, nil
}

// Run executes the loop starting from an already-scored draft. When the
// initial score clears the threshold the loop converges without any rounds.
func (l *Loop) Run(ctx context.Context, draft string, initial *scorer.ConsensusResult) (*Result, error) {
	result := &Result{
		FinalDraft: draft,
		FinalScore: initial,
		State:      StateScored,
	}

	if initial.Overall >= l.cfg.QualityThreshold {
		result.State = StateConverged
		return result, nil
	}

	current := initial
	currentDraft := draft
	bestDraft := draft
	bestScore := initial

	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("refinement cancelled: %w", err)
		}
		roundStart := time.Now()

		result.State = StateSelectingFixers
		deployed := l.selectFixers(current.Scores)
		if len(deployed) == 0 {
			result.State = StateExhausted
			result.Warning = "no dimension below floor yet overall score under threshold"
			break
		}

		result.State = StateFixing
		proposals := make([]*fixer.Result, 0, len(deployed))
		for _, d := range deployed {
			name := fmt.Sprintf("fixer:%s", d)
			l.notifier.AgentStarted(name)
			start := time.Now()
			prop, err := l.fixers[d].Propose(ctx, currentDraft, current.Scores[d], current.Critiques[d])
			if err != nil {
				return nil, fmt.Errorf("round %d: %w", attempt, err)
			}
			l.notifier.AgentCompleted(name, time.Since(start))
			proposals = append(proposals, prop)
		}

		result.State = StateReconciling
		outcome := reconcile.Merge(currentDraft, proposals)

		result.State = StateRescoring
		rescored, err := l.scorer.Score(ctx, outcome.Revised)
		if err != nil {
			return nil, fmt.Errorf("round %d rescoring failed: %w", attempt, err)
		}

		result.Attempts = append(result.Attempts, Attempt{
			Number:       attempt,
			Deployed:     deployed,
			EditsApplied: len(outcome.Applied),
			EditsSkipped: outcome.Skipped,
			ScoreBefore:  current.Overall,
			ScoreAfter:   rescored.Overall,
			Latency:      time.Since(roundStart),
		})
		l.logger.Info("round %d: %.2f -> %.2f (%d edits applied, %d skipped)",
			attempt, current.Overall, rescored.Overall, len(outcome.Applied), len(outcome.Skipped))

		if rescored.Overall > bestScore.Overall {
			bestDraft = outcome.Revised
			bestScore = rescored
		}

		currentDraft = outcome.Revised
		current = rescored

		if rescored.Overall >= l.cfg.QualityThreshold {
			result.State = StateConverged
			result.FinalDraft = outcome.Revised
			result.FinalScore = rescored
			return result, nil
		}
	}

	// Budget spent without convergence: keep the best draft seen.
	result.State = StateExhausted
	result.FinalDraft = bestDraft
	result.FinalScore = bestScore
	if result.Warning == "" {
		result.Warning = fmt.Sprintf("attempt budget (%d) exhausted below quality threshold %.1f", l.cfg.MaxAttempts, l.cfg.QualityThreshold)
	}
	l.logger.Warn("refinement exhausted: best score %.2f", bestScore.Overall)
	return result, nil
}

// selectFixers picks the dimensions to repair this round: below the floor,
// lowest score first, capped at MaxFixersPerRound.
func (l *Loop) selectFixers(scores dimension.ScoreSet) []dimension.Dimension {
	under := scores.Below(l.cfg.DimensionFloor)
	if len(under) > l.cfg.MaxFixersPerRound {
		under = under[:l.cfg.MaxFixersPerRound]
	}
	return under
}
