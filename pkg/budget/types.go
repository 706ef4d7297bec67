// Package budget tracks token usage for the current phase against a ceiling.
//
// The Monitor keeps an append-only in-memory log of usage events and derives
// a Budget snapshot from (total, used) on demand. Status change listeners
// fire only on transitions, never on every tracked event while the status
// holds steady. Reset is the seam between phases: each phase starts with
// its own fresh allowance.
package budget

import "time"

// Status classifies how much of the budget is gone.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusExhausted Status = "exhausted"
)

// Action is the recommended reaction to a budget status.
type Action string

const (
	ActionContinue   Action = "continue"
	ActionWrapUp     Action = "wrap-up"
	ActionCheckpoint Action = "checkpoint"
	ActionStop       Action = "stop"
)

// EventType classifies where tokens were spent.
type EventType string

const (
	EventPrompt      EventType = "prompt"
	EventResponse    EventType = "response"
	EventToolInput   EventType = "tool-input"
	EventToolOutput  EventType = "tool-output"
	EventFileContent EventType = "file-content"
	EventSystem      EventType = "system"
)

// UsageEvent is one entry of the usage log.
type UsageEvent struct {
	Type        EventType `json:"type"`
	Tokens      int       `json:"tokens"`
	Description string    `json:"description,omitempty"`
	PhaseID     string    `json:"phaseId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Budget is a snapshot recomputed from the total and the used count.
type Budget struct {
	Total             int     `json:"total"`
	Used              int     `json:"used"`
	Remaining         int     `json:"remaining"`
	PercentUsed       float64 `json:"percentUsed"`
	Status            Status  `json:"status"`
	RecommendedAction Action  `json:"recommendedAction"`
}

// StatusChange describes a transition between two statuses.
type StatusChange struct {
	From    Status `json:"from"`
	To      Status `json:"to"`
	Budget  Budget `json:"budget"`
	PhaseID string `json:"phaseId,omitempty"`
}
