package mission

import (
	"fmt"
	"strings"

	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/phase"
)

// GeneratePromptContext renders the mission position, the current phase's
// scope and the budget status as a block for the agent's system prompt.
// It returns an empty string when no mission is active.
func (e *Executor) GeneratePromptContext() string {
	state := e.State()
	if state == nil {
		return ""
	}
	b := e.monitor.Budget()
	return buildPromptContext(state, b, e.monitor.Recommendations())
}

func buildPromptContext(state *phase.ExecutionState, b budget.Budget, recommendations []string) string {
	var builder strings.Builder

	builder.WriteString("<mission_context>\n")
	fmt.Fprintf(&builder, "Mission: %s\n", state.OriginalRequirement)
	fmt.Fprintf(&builder, "Mode: %s\n", state.ExecutionMode)
	builder.WriteString("</mission_context>\n\n")

	if state.IsComplete() {
		builder.WriteString("<current_phase>\nAll phases are complete. Do not start new work.\n</current_phase>\n")
		return builder.String()
	}

	current := state.Phases[state.CurrentPhaseIndex]
	builder.WriteString("<current_phase>\n")
	fmt.Fprintf(&builder, "Phase %d of %d: %s\n", state.CurrentPhaseIndex+1, len(state.Phases), current.Name)
	if current.Description != "" {
		fmt.Fprintf(&builder, "%s\n", current.Description)
	}
	writeList(&builder, "Requirements", current.Requirements)
	writeList(&builder, "Deliverables", current.Deliverables)
	writeList(&builder, "Verification", current.VerificationCriteria)
	builder.WriteString("Work only on this phase. Stop and report when its deliverables are done.\n")
	builder.WriteString("</current_phase>\n\n")

	if done := completedPhases(state); len(done) > 0 {
		builder.WriteString("<completed_phases>\n")
		for _, line := range done {
			fmt.Fprintf(&builder, "- %s\n", line)
		}
		builder.WriteString("</completed_phases>\n\n")
	}

	builder.WriteString("<token_budget>\n")
	fmt.Fprintf(&builder, "Used %d of %d tokens (%.0f%%), %d remaining. Status: %s.\n", b.Used, b.Total, b.PercentUsed, b.Remaining, b.Status)
	for _, r := range recommendations {
		fmt.Fprintf(&builder, "- %s\n", r)
	}
	builder.WriteString("</token_budget>\n")

	return builder.String()
}

func writeList(builder *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(builder, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(builder, "- %s\n", item)
	}
}

func completedPhases(state *phase.ExecutionState) []string {
	var lines []string
	for _, p := range state.Phases[:state.CurrentPhaseIndex] {
		line := fmt.Sprintf("%s (%s)", p.Name, p.Status)
		if summary := lastSummary(state.PhaseResults, p.ID); summary != "" {
			line += ": " + summary
		}
		lines = append(lines, line)
	}
	return lines
}

func lastSummary(results []phase.Result, phaseID string) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].PhaseID == phaseID && results[i].Summary != "" {
			return results[i].Summary
		}
	}
	return ""
}
