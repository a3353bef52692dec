package pipeline

import "time"

// Stage identifies one phase of brief generation.
type Stage string

const (
	StageInitializing   Stage = "initializing"
	StageResearch       Stage = "research"
	StageClassification Stage = "classification"
	StageStructure      Stage = "structure"
	StageNarrative      Stage = "narrative"
	StageReconciliation Stage = "reconciliation"
	StageSummary        Stage = "summary"
	StageClarityScoring Stage = "clarity-scoring"
	StageRefinement     Stage = "refinement"
	StageComplete       Stage = "complete"
	StageFailed         Stage = "failed"
)

// Stages returns the non-terminal stages in execution order. Structure and
// narrative run concurrently but occupy fixed positions in the sequence.
func Stages() []Stage {
	return []Stage{
		StageInitializing,
		StageResearch,
		StageClassification,
		StageStructure,
		StageNarrative,
		StageReconciliation,
		StageSummary,
		StageClarityScoring,
		StageRefinement,
	}
}

// AgentState is an agent's lifecycle state within a run.
type AgentState string

const (
	AgentPending   AgentState = "pending"
	AgentRunning   AgentState = "running"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// AgentStatus records one agent deployment within a run.
type AgentStatus struct {
	Name      string
	Stage     Stage
	State     AgentState
	StartedAt time.Time
	Elapsed   time.Duration
}
