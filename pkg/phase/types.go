package phase

import (
	"fmt"
	"time"

	"github.com/entrhq/phaseguard/pkg/complexity"
)

// Status is the lifecycle status of a single phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// IsValid checks if a status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether the phase will not run again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// ResultStatus is the outcome recorded for one attempt at a phase.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultPartial   ResultStatus = "partial"
	ResultSkipped   ResultStatus = "skipped"
)

// Strategy is the algorithm used to split a requirement into phases.
type Strategy string

const (
	StrategyFeatureBased Strategy = "feature-based"
	StrategyLayerBased   Strategy = "layer-based"
	StrategyIncremental  Strategy = "incremental"
)

// IsValid checks if a strategy value is valid
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFeatureBased, StrategyLayerBased, StrategyIncremental:
		return true
	}
	return false
}

// ExecutionMode tells whether a mission runs as one unit or as phases.
type ExecutionMode string

const (
	ModeSingle ExecutionMode = "single"
	ModePhased ExecutionMode = "phased"
)

// OverallStatus is the mission-level status.
type OverallStatus string

const (
	OverallInProgress OverallStatus = "in-progress"
	OverallCompleted  OverallStatus = "completed"
	OverallFailed     OverallStatus = "failed"
	OverallPaused     OverallStatus = "paused"
)

// Phase is a bounded unit of agent work. Phase i only depends on phases
// with a lower index.
type Phase struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Requirements         []string `json:"requirements"`
	Deliverables         []string `json:"deliverables"`
	VerificationCriteria []string `json:"verificationCriteria"`
	EstimatedTokens      int      `json:"estimatedTokens"`
	Dependencies         []string `json:"dependencies"`
	Status               Status   `json:"status"`
	Order                int      `json:"order"`
	Domains              []string `json:"domains"`
	RiskFactors          []string `json:"riskFactors"`
}

// Result is an immutable record of one phase outcome.
type Result struct {
	PhaseID            string       `json:"phaseId"`
	Status             ResultStatus `json:"status"`
	FilesCreated       []string     `json:"filesCreated"`
	FilesModified      []string     `json:"filesModified"`
	VerificationPassed bool         `json:"verificationPassed"`
	UserApproved       bool         `json:"userApproved"`
	TokenUsage         int          `json:"tokenUsage"`
	CompletedAt        time.Time    `json:"completedAt"`
	ErrorMessage       string       `json:"errorMessage,omitempty"`
	Summary            string       `json:"summary,omitempty"`
}

// ExecutionState is the durable root object for one mission.
type ExecutionState struct {
	TaskID               string        `json:"taskId"`
	OriginalRequirement  string        `json:"originalRequirement"`
	Phases               []Phase       `json:"phases"`
	CurrentPhaseIndex    int           `json:"currentPhaseIndex"`
	PhaseResults         []Result      `json:"phaseResults"`
	ExecutionMode        ExecutionMode `json:"executionMode"`
	StrategyUsed         Strategy      `json:"strategyUsed,omitempty"`
	EstimatedTotalTokens int           `json:"estimatedTotalTokens"`
	ActualTokensUsed     int           `json:"actualTokensUsed"`
	StartedAt            time.Time     `json:"startedAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
	CompletedAt          *time.Time    `json:"completedAt,omitempty"`
	OverallStatus        OverallStatus `json:"overallStatus"`
}

// IsComplete reports whether every phase has been passed.
func (s *ExecutionState) IsComplete() bool {
	return s.CurrentPhaseIndex >= len(s.Phases)
}

// GenerationResult is the output of the phase generator.
type GenerationResult struct {
	Phases               []Phase          `json:"phases"`
	StrategyUsed         Strategy         `json:"strategyUsed"`
	TotalPhases          int              `json:"totalPhases"`
	ExecutionOrder       []string         `json:"executionOrder"`
	TotalEstimatedTokens int              `json:"totalEstimatedTokens"`
	Complexity           complexity.Score `json:"complexity"`
	Rationale            string           `json:"rationale"`
	Warnings             []string         `json:"warnings"`
}

// Progress summarizes how far a mission has come.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ID builds the identifier of the phase at a 0-based index.
func ID(index int) string {
	return fmt.Sprintf("phase-%d", index+1)
}
