package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/phaseguard/pkg/browser"
	"github.com/entrhq/phaseguard/pkg/budget"
	"github.com/entrhq/phaseguard/pkg/phase"
)

// Color palette shared by every command's output.
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // primary accent
	coralPink   = lipgloss.Color("#FFCCCB") // secondary accent
	mintGreen   = lipgloss.Color("#A8E6CF") // success
	amber       = lipgloss.Color("#FFD59E") // warnings
	mutedGray   = lipgloss.Color("#6B7280") // secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // primary text
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(coralPink)

	valueStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	successStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	warnStyle = lipgloss.NewStyle().
			Foreground(amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
)

// field renders "label  value" with the label padded to width.
func field(label string, value interface{}) string {
	return labelStyle.Render(fmt.Sprintf("%-16s", label)) + valueStyle.Render(fmt.Sprint(value))
}

func phaseBadge(s phase.Status) string {
	switch s {
	case phase.StatusCompleted:
		return successStyle.Render("✓ completed")
	case phase.StatusInProgress:
		return headerStyle.Render("▶ in-progress")
	case phase.StatusFailed:
		return errorStyle.Render("✗ failed")
	case phase.StatusSkipped:
		return mutedStyle.Render("↷ skipped")
	default:
		return mutedStyle.Render("○ pending")
	}
}

func budgetBadge(s budget.Status) string {
	switch s {
	case budget.StatusHealthy:
		return successStyle.Render(string(s))
	case budget.StatusWarning:
		return warnStyle.Render(string(s))
	default:
		return errorStyle.Render(string(s))
	}
}

func loadBadge(s browser.PageLoadStatus) string {
	switch s {
	case browser.StatusLoaded:
		return successStyle.Render(string(s))
	case browser.StatusPartial:
		return warnStyle.Render(string(s))
	default:
		return errorStyle.Render(string(s))
	}
}

// progressBar draws a fixed-width bar for a 0..100 percentage.
func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return successStyle.Render(strings.Repeat("■", filled)) +
		mutedStyle.Render(strings.Repeat("□", width-filled))
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render("•"), item)
	}
	return b.String()
}
