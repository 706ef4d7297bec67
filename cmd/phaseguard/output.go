package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/phaseguard/pkg/metrics"
	"github.com/entrhq/phaseguard/pkg/mission"
	"github.com/entrhq/phaseguard/pkg/phase"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "format", "f", formatText, "output format: text, json or yaml")
}

// render writes v in the requested format; text output is delegated to
// printText.
func render(w io.Writer, format string, v interface{}, printText func(io.Writer)) error {
	switch format {
	case formatText, "":
		printText(w)
		return nil
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		// Round-trip through JSON so YAML keys match the JSON field names.
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func printAnalysis(w io.Writer, a *mission.Analysis) {
	s := a.Complexity
	fmt.Fprintln(w, headerStyle.Render("Requirement analysis"))
	fmt.Fprintln(w, field("Score", fmt.Sprintf("%d (%s)", s.Score, s.Level)))
	fmt.Fprintln(w, field("Recommendation", s.Recommendation))
	fmt.Fprintln(w, field("Mode", a.RecommendedMode))
	fmt.Fprintln(w, field("Rationale", a.Rationale))
	fmt.Fprintln(w, field("Domains", joinOrNone(s.Metrics.TechnicalDomains)))
	fmt.Fprintln(w, field("Features", s.Metrics.FeatureCount))
	fmt.Fprintln(w, field("Risks", joinOrNone(s.Metrics.RiskFactors)))
	fmt.Fprintln(w, field("Est. tokens", s.EstimatedTokens))
	fmt.Fprintln(w, field("Phases", s.SuggestedPhaseCount))

	if a.Generation != nil {
		fmt.Fprintln(w)
		printPlan(w, a.Generation)
	}
}

func printPlan(w io.Writer, gen *phase.GenerationResult) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Plan: %d phases (%s), ~%d tokens",
		gen.TotalPhases, gen.StrategyUsed, gen.TotalEstimatedTokens)))
	if gen.Rationale != "" {
		fmt.Fprintln(w, mutedStyle.Render(gen.Rationale))
	}

	byID := make(map[string]phase.Phase, len(gen.Phases))
	for _, p := range gen.Phases {
		byID[p.ID] = p
	}
	for _, id := range gen.ExecutionOrder {
		p, ok := byID[id]
		if !ok {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render(p.ID), valueStyle.Render(p.Name),
			mutedStyle.Render(fmt.Sprintf("~%d tokens", p.EstimatedTokens)))
		if len(p.Dependencies) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("  after "+strings.Join(p.Dependencies, ", ")))
		}
		fmt.Fprint(w, bulletList(p.Requirements))
		if len(p.Deliverables) > 0 {
			fmt.Fprintln(w, mutedStyle.Render("  deliverables: "+strings.Join(p.Deliverables, ", ")))
		}
	}

	if len(gen.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, warning := range gen.Warnings {
			fmt.Fprintln(w, warnStyle.Render("! "+warning))
		}
	}
}

func printState(w io.Writer, state *phase.ExecutionState, progress phase.Progress) {
	fmt.Fprintln(w, headerStyle.Render("Mission "+state.TaskID))
	fmt.Fprintln(w, field("Requirement", truncate(state.OriginalRequirement, 72)))
	fmt.Fprintln(w, field("Mode", state.ExecutionMode))
	fmt.Fprintln(w, field("Status", state.OverallStatus))
	fmt.Fprintln(w, field("Progress", fmt.Sprintf("%s %d/%d (%.0f%%)",
		progressBar(progress.Percent, 20), progress.Completed, progress.Total, progress.Percent)))
	fmt.Fprintln(w, field("Tokens", fmt.Sprintf("%d used of ~%d estimated", state.ActualTokensUsed, state.EstimatedTotalTokens)))
	fmt.Fprintln(w)

	for i, p := range state.Phases {
		marker := "  "
		if i == state.CurrentPhaseIndex {
			marker = headerStyle.Render("→ ")
		}
		fmt.Fprintf(w, "%s%-9s %-40s %s\n", marker, p.ID, truncate(p.Name, 40), phaseBadge(p.Status))
	}

	if n := len(state.PhaseResults); n > 0 {
		last := state.PhaseResults[n-1]
		fmt.Fprintln(w)
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d results recorded; last: %s %s at %s",
			n, last.PhaseID, last.Status, last.CompletedAt.Format("2006-01-02 15:04"))))
	}
}

func printMetrics(w io.Writer, samples []metrics.Sample) {
	fmt.Fprintln(w, headerStyle.Render("Metrics"))
	if len(samples) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("nothing recorded"))
		return
	}
	for _, s := range samples {
		fmt.Fprintln(w, "  "+s.String())
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
