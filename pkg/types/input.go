package types

import (
	"time"

	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/phase"
)

// ApprovalRequest is what a reviewer sees at the gate between two phases.
type ApprovalRequest struct {
	ID                  string         `json:"id"`
	PhaseID             string         `json:"phaseId"`
	PhaseName           string         `json:"phaseName"`
	Summary             string         `json:"summary"`
	FilesCreated        []string       `json:"filesCreated"`
	FilesModified       []string       `json:"filesModified"`
	VerificationResults []string       `json:"verificationResults"`
	VerificationPassed  bool           `json:"verificationPassed"`
	Budget              budget.Budget  `json:"budget"`
	NextPhase           *phase.Phase   `json:"nextPhase,omitempty"`
	Progress            phase.Progress `json:"progress"`
	RequestedAt         time.Time      `json:"requestedAt"`
}

// ApprovalResponse is the reviewer's answer. Abort implies rejection.
type ApprovalResponse struct {
	// Approved lets the mission advance to the next phase.
	Approved bool `json:"approved"`

	// Abort rejects and pauses the whole mission.
	Abort bool `json:"abort,omitempty"`

	// Feedback is recorded on the phase. On rejection it is appended to the
	// current phase's requirements so the resubmission can address it.
	Feedback string `json:"feedback,omitempty"`

	// NextPhaseRequirements, when non-empty, replaces the requirements of
	// the next phase before it starts.
	NextPhaseRequirements []string `json:"nextPhaseRequirements,omitempty"`

	// AutoApproved marks responses synthesized by policy, not a person.
	AutoApproved bool `json:"autoApproved,omitempty"`
}

// NewApproval creates an approving response.
func NewApproval(feedback string) *ApprovalResponse {
	return &ApprovalResponse{Approved: true, Feedback: feedback}
}

// NewRejection creates a rejecting response that keeps the mission alive.
func NewRejection(feedback string) *ApprovalResponse {
	return &ApprovalResponse{Approved: false, Feedback: feedback}
}

// NewAbort creates a rejecting response that aborts the mission.
func NewAbort(reason string) *ApprovalResponse {
	return &ApprovalResponse{Approved: false, Abort: true, Feedback: reason}
}
