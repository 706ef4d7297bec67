package types

import (
	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/complexity"
	"github.com/entrhq/phaseguard/pkg/phase"
)

// MissionEventType defines the type of event emitted by the mission executor.
type MissionEventType string

const (
	EventTypeModeDecided         MissionEventType = "mode_decided"          // EventTypeModeDecided indicates the executor chose single or phased execution.
	EventTypePhaseStarted        MissionEventType = "phase_started"         // EventTypePhaseStarted indicates the current phase moved to in-progress.
	EventTypePhaseCompleted      MissionEventType = "phase_completed"       // EventTypePhaseCompleted indicates a phase result was recorded.
	EventTypeApprovalNeeded      MissionEventType = "approval_needed"       // EventTypeApprovalNeeded indicates the executor is waiting on ProvideApproval.
	EventTypeBudgetUpdate        MissionEventType = "budget_update"         // EventTypeBudgetUpdate indicates token usage changed.
	EventTypeBudgetStatusChanged MissionEventType = "budget_status_changed" // EventTypeBudgetStatusChanged indicates the budget crossed a threshold.
	EventTypeAllComplete         MissionEventType = "all_complete"          // EventTypeAllComplete indicates every phase has been completed or skipped.
	EventTypeMissionAborted      MissionEventType = "mission_aborted"       // EventTypeMissionAborted indicates the mission was aborted and paused.
	EventTypeError               MissionEventType = "error"                 // EventTypeError indicates an error during orchestration.
)

// MissionEvent represents an event emitted by the executor. Only the fields
// relevant to Type are populated.
type MissionEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error contains error information for error events.
	Error error

	// Complexity is the analysis behind a mode decision.
	Complexity *complexity.Score

	// Phase is the phase the event concerns.
	Phase *phase.Phase

	// Result is the recorded phase result (for phase completed events).
	Result *phase.Result

	// Approval is the pending request (for approval needed events).
	Approval *ApprovalRequest

	// Budget is the budget snapshot (for budget events).
	Budget *budget.Budget

	// StatusChange describes a budget threshold crossing.
	StatusChange *budget.StatusChange

	// Progress is the mission progress at the time of the event.
	Progress *phase.Progress

	// Mode is the chosen execution mode (for mode decided events).
	Mode phase.ExecutionMode

	// Reason carries the abort reason or a human-readable rationale.
	Reason string

	// Type indicates the kind of event.
	Type MissionEventType
}

// NewModeDecidedEvent creates a mode decided event.
func NewModeDecidedEvent(mode phase.ExecutionMode, score complexity.Score, rationale string) *MissionEvent {
	return &MissionEvent{
		Type:       EventTypeModeDecided,
		Mode:       mode,
		Complexity: &score,
		Reason:     rationale,
		Metadata:   make(map[string]interface{}),
	}
}

// NewPhaseStartedEvent creates a phase started event.
func NewPhaseStartedEvent(p phase.Phase, progress phase.Progress) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypePhaseStarted,
		Phase:    &p,
		Progress: &progress,
		Metadata: make(map[string]interface{}),
	}
}

// NewPhaseCompletedEvent creates a phase completed event.
func NewPhaseCompletedEvent(p phase.Phase, result phase.Result, progress phase.Progress) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypePhaseCompleted,
		Phase:    &p,
		Result:   &result,
		Progress: &progress,
		Metadata: make(map[string]interface{}),
	}
}

// NewApprovalNeededEvent creates an approval needed event.
func NewApprovalNeededEvent(req ApprovalRequest) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypeApprovalNeeded,
		Approval: &req,
		Metadata: make(map[string]interface{}),
	}
}

// NewBudgetUpdateEvent creates a budget update event.
func NewBudgetUpdateEvent(b budget.Budget) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypeBudgetUpdate,
		Budget:   &b,
		Metadata: make(map[string]interface{}),
	}
}

// NewBudgetStatusChangedEvent creates a budget status changed event.
func NewBudgetStatusChangedEvent(change budget.StatusChange) *MissionEvent {
	b := change.Budget
	return &MissionEvent{
		Type:         EventTypeBudgetStatusChanged,
		Budget:       &b,
		StatusChange: &change,
		Metadata:     make(map[string]interface{}),
	}
}

// NewAllCompleteEvent creates an all complete event.
func NewAllCompleteEvent(progress phase.Progress) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypeAllComplete,
		Progress: &progress,
		Metadata: make(map[string]interface{}),
	}
}

// NewMissionAbortedEvent creates a mission aborted event.
func NewMissionAbortedEvent(reason string) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypeMissionAborted,
		Reason:   reason,
		Metadata: make(map[string]interface{}),
	}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) *MissionEvent {
	return &MissionEvent{
		Type:     EventTypeError,
		Error:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithMetadata adds metadata to the event and returns the event for chaining.
func (e *MissionEvent) WithMetadata(key string, value interface{}) *MissionEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsPhaseEvent returns true if the event marks a phase transition.
func (e *MissionEvent) IsPhaseEvent() bool {
	return e.Type == EventTypePhaseStarted ||
		e.Type == EventTypePhaseCompleted ||
		e.Type == EventTypeAllComplete
}

// IsBudgetEvent returns true for budget update and status change events.
func (e *MissionEvent) IsBudgetEvent() bool {
	return e.Type == EventTypeBudgetUpdate || e.Type == EventTypeBudgetStatusChanged
}

// IsErrorEvent returns true if this is an error event.
func (e *MissionEvent) IsErrorEvent() bool {
	return e.Type == EventTypeError
}

// IsTerminalEvent returns true if no further phase events follow without
// caller action.
func (e *MissionEvent) IsTerminalEvent() bool {
	return e.Type == EventTypeAllComplete || e.Type == EventTypeMissionAborted
}
