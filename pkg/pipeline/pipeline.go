// Package pipeline orchestrates one brief-generation run end to end: credit
// gate, research, classification, parallel structure and narrative drafting,
// reconciliation, reading-level summaries, consensus scoring and the
// refinement loop. Each run owns its event bus and its investigation record;
// there is no shared mutable state between runs.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"briefgen/pkg/config"
	"briefgen/pkg/credit"
	"briefgen/pkg/dimension"
	"briefgen/pkg/events"
	"briefgen/pkg/invoker"
	"briefgen/pkg/llm"
	"briefgen/pkg/llmerrors"
	"briefgen/pkg/logx"
	"briefgen/pkg/metrics"
	"briefgen/pkg/persistence"
	"briefgen/pkg/refine"
	"briefgen/pkg/scorer"
)

// readingLevels are the summary variants produced for every brief.
//
//nolint:gochecknoglobals // Fixed product surface
var readingLevels = []string{"elementary", "high-school", "expert"}

// Store is the persistence surface the pipeline needs. *persistence.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	CreateInvestigation(subject, ownerID, kind string, createdAt time.Time) (string, error)
	SetKind(id, kind string) error
	UpdateStatus(id, status string) error
	Complete(id, draft string, score float64, refunded bool, completedAt time.Time) error
	Fail(id, reason string, refunded bool, failedAt time.Time) error
	AddSources(investigationID string, sources []persistence.Source) error
}

// Scorer runs one consensus scoring pass.
type Scorer interface {
	Score(ctx context.Context, draft string) (*scorer.ConsensusResult, error)
}

// Config tunes one pipeline instance.
type Config struct {
	// StageTimeout bounds each stage's model work. The refinement stage gets
	// one timeout per round since each round is a full fix-and-rescore pass.
	StageTimeout time.Duration
	// QualityThreshold is the score below which the credit is refunded.
	QualityThreshold float64
	// Refinement configures the repair loop.
	Refinement refine.Config
}

// DefaultConfig provides the standard pipeline configuration.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	StageTimeout:     5 * time.Minute,
	QualityThreshold: config.QualityThreshold,
	Refinement:       refine.DefaultConfig,
}

// RunResult is the outcome of one successful run. Failed runs return an error
// instead; partial drafts never surface as results.
type RunResult struct {
	InvestigationID string
	Subject         string
	Kind            string
	Draft           string
	Summaries       map[string]string
	Score           *scorer.ConsensusResult
	Refunded        bool
	RefinementState refine.State
	Attempts        []refine.Attempt
	Warning         string
	Agents          []AgentStatus
}

// Pipeline generates briefs. Safe for concurrent runs; all per-run state lives
// in the run value.
type Pipeline struct {
	cfg    Config
	client llm.Client
	inv    *invoker.Invoker
	scorer Scorer
	fixers map[dimension.Dimension]refine.Proposer
	store  Store
	ledger credit.Ledger
	logger *logx.Logger
}

// New creates a Pipeline. client is the raw provider client; the pipeline
// wraps it with the invoker per stage. fixers must cover every dimension.
func New(cfg Config, client llm.Client, inv *invoker.Invoker, sc Scorer, fixers map[dimension.Dimension]refine.Proposer, store Store, ledger credit.Ledger) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("pipeline requires a model client")
	}
	if inv == nil {
		return nil, fmt.Errorf("pipeline requires an invoker")
	}
	if sc == nil {
		return nil, fmt.Errorf("pipeline requires a scorer")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	if ledger == nil {
		return nil, fmt.Errorf("pipeline requires a credit ledger")
	}
	for _, d := range dimension.All() {
		if _, ok := fixers[d]; !ok {
			return nil, fmt.Errorf("pipeline missing fixer for dimension %q", d)
		}
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultConfig.StageTimeout
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = DefaultConfig.QualityThreshold
	}
	if cfg.Refinement.QualityThreshold <= 0 {
		cfg.Refinement.QualityThreshold = cfg.QualityThreshold
	}
	return &Pipeline{
		cfg:    cfg,
		client: client,
		inv:    inv,
		scorer: sc,
		fixers: fixers,
		store:  store,
		ledger: ledger,
		logger: logx.NewLogger("pipeline"),
	}, nil
}

// run is the per-run mutable state: investigation identity, current stage and
// agent statuses, plus the refund guard.
type run struct {
	id       string
	subject  string
	ownerID  string
	bus      *events.Bus
	mu       sync.Mutex
	stage    Stage
	agents   []AgentStatus
	refunded bool
}

func (r *run) setStage(s Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
	r.bus.Publish(events.Event{Type: events.TypeStageChanged, Stage: string(s)})
}

func (r *run) agentStarted(stage Stage, name string) {
	r.mu.Lock()
	r.agents = append(r.agents, AgentStatus{
		Name:      name,
		Stage:     stage,
		State:     AgentRunning,
		StartedAt: time.Now().UTC(),
	})
	r.mu.Unlock()
	r.bus.Publish(events.Event{Type: events.TypeAgentStarted, Stage: string(stage), Agent: name})
}

// agentDone updates the most recent status entry for name; the same agent name
// can recur across refinement rounds.
func (r *run) agentDone(stage Stage, name string, elapsed time.Duration, ok bool) {
	r.mu.Lock()
	for i := len(r.agents) - 1; i >= 0; i-- {
		if r.agents[i].Name == name {
			r.agents[i].Elapsed = elapsed
			if ok {
				r.agents[i].State = AgentCompleted
			} else {
				r.agents[i].State = AgentFailed
			}
			break
		}
	}
	r.mu.Unlock()
	if ok {
		r.bus.Publish(events.Event{
			Type:     events.TypeAgentCompleted,
			Stage:    string(stage),
			Agent:    name,
			Metadata: map[string]any{"elapsed_ms": elapsed.Milliseconds()},
		})
	}
}

func (r *run) agentStatuses() []AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentStatus, len(r.agents))
	copy(out, r.agents)
	return out
}

// refineNotifier republishes fixer lifecycle notifications as run events.
type refineNotifier struct{ r *run }

func (n refineNotifier) AgentStarted(name string) {
	n.r.agentStarted(StageRefinement, name)
}

func (n refineNotifier) AgentCompleted(name string, elapsed time.Duration) {
	n.r.agentDone(StageRefinement, name, elapsed, true)
}

// Run executes one full generation for subject on behalf of ownerID. bus may
// be nil when the caller does not consume progress events; it is closed when
// the run ends, after exactly one terminal event for any run that started.
// Insufficient credit is reported before anything is billed or persisted.
func (p *Pipeline) Run(ctx context.Context, subject, ownerID string, bus *events.Bus) (*RunResult, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner cannot be empty")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	defer bus.Close()

	ok, err := p.ledger.HasCredits(ownerID, 1)
	if err != nil {
		return nil, fmt.Errorf("credit check failed: %w", err)
	}
	if !ok {
		return nil, credit.ErrInsufficientCredit
	}

	id, err := p.store.CreateInvestigation(subject, ownerID, "", time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create investigation: %w", err)
	}

	// Deduct up front; every path out of execute either completes the record
	// or refunds through fail.
	if err := p.ledger.DeductCredits(ownerID, 1, id, "brief generation"); err != nil {
		if ferr := p.store.Fail(id, "credit deduction failed", false, time.Now()); ferr != nil {
			p.logger.Error("failed to mark %s failed after deduction error: %v", id, ferr)
		}
		return nil, fmt.Errorf("credit deduction failed: %w", err)
	}

	// Every model call under this run carries the brief ID for token metrics.
	ctx = invoker.WithBriefID(ctx, id)

	r := &run{
		id:      id,
		subject: subject,
		ownerID: ownerID,
		bus:     bus,
		stage:   StageInitializing,
	}
	bus.Publish(events.Event{
		Type:     events.TypeStarted,
		Stage:    string(StageInitializing),
		Message:  subject,
		Metadata: map[string]any{"investigation_id": id},
	})

	result, err := p.execute(ctx, r)
	if err != nil {
		return nil, p.fail(ctx, r, err)
	}
	return result, nil
}

// fail is the single failure path: refund (unless already refunded), persist
// the failure, and emit the sanitized error event. Cancellation suppresses
// further events but never the refund. Refund errors are logged, not masked.
func (p *Pipeline) fail(ctx context.Context, r *run, cause error) error {
	if !r.refunded {
		if err := p.ledger.RefundCredits(r.ownerID, 1, r.id, "generation failed"); err != nil {
			p.logger.Error("refund failed for %s: %v", r.id, err)
		} else {
			r.refunded = true
			metrics.IncRefund()
		}
	}
	if err := p.store.Fail(r.id, cause.Error(), r.refunded, time.Now()); err != nil {
		p.logger.Error("failed to persist failure for %s: %v", r.id, err)
	}

	p.logger.Error("run %s failed in stage %s: %v", r.id, r.stage, cause)
	if ctx.Err() == nil {
		message := "brief generation failed"
		if llmerrors.IsServiceUnavailable(cause) {
			message = llmerrors.SanitizedUnavailableMessage
		}
		r.bus.Publish(events.Event{
			Type:     events.TypeError,
			Stage:    string(StageFailed),
			Message:  message,
			Metadata: map[string]any{"investigation_id": r.id},
		})
	}
	return cause
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*RunResult, error) {
	if err := p.store.UpdateStatus(r.id, persistence.StatusGenerating); err != nil {
		return nil, err
	}

	findings, err := p.runResearch(ctx, r)
	if err != nil {
		return nil, err
	}
	kind, err := p.runClassification(ctx, r, findings)
	if err != nil {
		return nil, err
	}
	outline, narrative, err := p.runParallelDrafts(ctx, r, findings, kind)
	if err != nil {
		return nil, err
	}
	draft, err := p.runReconciliation(ctx, r, outline, narrative)
	if err != nil {
		return nil, err
	}
	summaries, err := p.runSummaries(ctx, r, draft)
	if err != nil {
		return nil, err
	}
	initial, err := p.runScoring(ctx, r, draft)
	if err != nil {
		return nil, err
	}

	finalDraft := draft
	finalScore := initial
	refState := refine.StateConverged
	var attempts []refine.Attempt
	var warning string
	if initial.Overall < p.cfg.QualityThreshold {
		res, rerr := p.runRefinement(ctx, r, draft, initial)
		if rerr != nil {
			return nil, rerr
		}
		finalDraft = res.FinalDraft
		finalScore = res.FinalScore
		refState = res.State
		attempts = res.Attempts
		warning = res.Warning
	}

	// Quality gate: a brief below threshold still completes with its best
	// draft, but the credit comes back.
	refunded := finalScore.Overall < p.cfg.QualityThreshold
	if refunded {
		if err := p.ledger.RefundCredits(r.ownerID, 1, r.id, "quality threshold not met"); err != nil {
			p.logger.Error("quality refund failed for %s: %v", r.id, err)
		} else {
			r.refunded = true
			metrics.IncRefund()
		}
	}

	if err := p.store.Complete(r.id, finalDraft, finalScore.Overall, refunded, time.Now()); err != nil {
		return nil, err
	}

	r.bus.Publish(events.Event{
		Type:    events.TypeComplete,
		Stage:   string(StageComplete),
		Message: warning,
		Metadata: map[string]any{
			"investigation_id": r.id,
			"score":            finalScore.Overall,
			"refunded":         refunded,
			"refinement_state": string(refState),
			"agents":           r.agentStatuses(),
		},
	})
	p.logger.Info("run %s complete: score=%.2f refunded=%v state=%s", r.id, finalScore.Overall, refunded, refState)

	return &RunResult{
		InvestigationID: r.id,
		Subject:         r.subject,
		Kind:            kind,
		Draft:           finalDraft,
		Summaries:       summaries,
		Score:           finalScore,
		Refunded:        refunded,
		RefinementState: refState,
		Attempts:        attempts,
		Warning:         warning,
		Agents:          r.agentStatuses(),
	}, nil
}

// agentCall runs one model call as a named agent with lifecycle events.
func (p *Pipeline) agentCall(ctx context.Context, r *run, stage Stage, agent, prompt string) (string, error) {
	r.agentStarted(stage, agent)
	start := time.Now()

	client := p.inv.WrapClient(string(stage), p.client)
	resp, err := client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(prompt)}))
	elapsed := time.Since(start)
	if err != nil {
		r.agentDone(stage, agent, elapsed, false)
		return "", fmt.Errorf("%s: %w", agent, err)
	}
	r.agentDone(stage, agent, elapsed, true)
	return resp.Content, nil
}

func (p *Pipeline) runResearch(ctx context.Context, r *run) (string, error) {
	r.setStage(StageResearch)
	start := time.Now()
	defer func() { metrics.ObserveStage(string(StageResearch), time.Since(start)) }()

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	prompt, err := renderPrompt(researchTmpl, promptData{Subject: r.subject})
	if err != nil {
		return "", err
	}
	content, err := p.agentCall(stageCtx, r, StageResearch, "researcher", prompt)
	if err != nil {
		return "", err
	}
	findings, sources, err := parseResearch(content)
	if err != nil {
		return "", err
	}
	for i := range sources {
		sources[i].InvestigationID = r.id
	}
	if len(sources) > 0 {
		if err := p.store.AddSources(r.id, sources); err != nil {
			return "", err
		}
	}
	return findings, nil
}

func (p *Pipeline) runClassification(ctx context.Context, r *run, findings string) (string, error) {
	r.setStage(StageClassification)
	start := time.Now()
	defer func() { metrics.ObserveStage(string(StageClassification), time.Since(start)) }()

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	prompt, err := renderPrompt(classificationTmpl, promptData{Subject: r.subject, Findings: findings})
	if err != nil {
		return "", err
	}
	content, err := p.agentCall(stageCtx, r, StageClassification, "classifier", prompt)
	if err != nil {
		return "", err
	}
	kind, err := parseClassification(content)
	if err != nil {
		return "", err
	}
	if err := p.store.SetKind(r.id, kind); err != nil {
		return "", err
	}
	return kind, nil
}

// runParallelDrafts runs the structure and narrative agents concurrently under
// one shared timeout. Both must finish; one failure cancels the other.
func (p *Pipeline) runParallelDrafts(ctx context.Context, r *run, findings, kind string) (outline, narrative string, err error) {
	r.setStage(StageStructure)
	r.setStage(StageNarrative)
	start := time.Now()
	defer func() {
		metrics.ObserveStage(string(StageStructure), time.Since(start))
		metrics.ObserveStage(string(StageNarrative), time.Since(start))
	}()

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	data := promptData{Subject: r.subject, Kind: kind, Findings: findings}
	structurePrompt, err := renderPrompt(structureTmpl, data)
	if err != nil {
		return "", "", err
	}
	narrativePrompt, err := renderPrompt(narrativeTmpl, data)
	if err != nil {
		return "", "", err
	}

	g, gctx := errgroup.WithContext(stageCtx)
	g.Go(func() error {
		out, aerr := p.agentCall(gctx, r, StageStructure, "structurer", structurePrompt)
		if aerr != nil {
			return aerr
		}
		outline = out
		return nil
	})
	g.Go(func() error {
		out, aerr := p.agentCall(gctx, r, StageNarrative, "narrator", narrativePrompt)
		if aerr != nil {
			return aerr
		}
		narrative = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return outline, narrative, nil
}

func (p *Pipeline) runReconciliation(ctx context.Context, r *run, outline, narrative string) (string, error) {
	r.setStage(StageReconciliation)
	start := time.Now()
	defer func() { metrics.ObserveStage(string(StageReconciliation), time.Since(start)) }()

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	prompt, err := renderPrompt(reconciliationTmpl, promptData{
		Subject:   r.subject,
		Outline:   outline,
		Narrative: narrative,
	})
	if err != nil {
		return "", err
	}
	return p.agentCall(stageCtx, r, StageReconciliation, "reconciler", prompt)
}

func (p *Pipeline) runSummaries(ctx context.Context, r *run, draft string) (map[string]string, error) {
	r.setStage(StageSummary)
	start := time.Now()
	defer func() { metrics.ObserveStage(string(StageSummary), time.Since(start)) }()

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	summaries := make(map[string]string, len(readingLevels))
	for _, level := range readingLevels {
		prompt, err := renderPrompt(summaryTmpl, promptData{Draft: draft, Level: level})
		if err != nil {
			return nil, err
		}
		content, err := p.agentCall(stageCtx, r, StageSummary, "summarizer:"+level, prompt)
		if err != nil {
			return nil, err
		}
		summaries[level] = content
	}
	return summaries, nil
}

func (p *Pipeline) runScoring(ctx context.Context, r *run, draft string) (*scorer.ConsensusResult, error) {
	r.setStage(StageClarityScoring)
	start := time.Now()
	defer func() { metrics.ObserveStage(string(StageClarityScoring), time.Since(start)) }()

	if err := p.store.UpdateStatus(r.id, persistence.StatusScoring); err != nil {
		return nil, err
	}

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return p.scorer.Score(stageCtx, draft)
}

func (p *Pipeline) runRefinement(ctx context.Context, r *run, draft string, initial *scorer.ConsensusResult) (*refine.Result, error) {
	r.setStage(StageRefinement)
	start := time.Now()
	defer func() { metrics.ObserveStage(string(StageRefinement), time.Since(start)) }()

	if err := p.store.UpdateStatus(r.id, persistence.StatusRefining); err != nil {
		return nil, err
	}

	loop, err := refine.New(p.cfg.Refinement, p.scorer, p.fixers, refineNotifier{r: r})
	if err != nil {
		return nil, err
	}

	// One stage timeout per round; each round is a full fix-and-rescore pass.
	rounds := p.cfg.Refinement.MaxAttempts
	if rounds <= 0 {
		rounds = refine.DefaultConfig.MaxAttempts
	}
	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(rounds)*p.cfg.StageTimeout)
	defer cancel()

	return loop.Run(stageCtx, draft, initial)
}
