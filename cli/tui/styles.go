// Package tui holds the Bubble Tea views of the ferry CLI.
//
// Views are opt-in (--tui) and render the same payloads as the plain
// renderers; nothing is shown in a view that the JSON output lacks.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/ferry/types"
)

var (
	accent  = lipgloss.Color("#0EA5E9")
	good    = lipgloss.Color("#22C55E")
	busy    = lipgloss.Color("#EAB308")
	bad     = lipgloss.Color("#F43F5E")
	dim     = lipgloss.Color("#64748B")
	bright  = lipgloss.Color("#F8FAFC")
	neutral = lipgloss.Color("#A78BFA")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dim).Width(12)
	ValueStyle = lipgloss.NewStyle().Foreground(bright)
	HelpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(good)
	WarningStyle = lipgloss.NewStyle().Foreground(busy)
	ErrorStyle   = lipgloss.NewStyle().Foreground(bad)

	statBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 2).
		Width(16).
		Align(lipgloss.Center)
	statLabel = lipgloss.NewStyle().Foreground(dim)
	statValue = lipgloss.NewStyle().Bold(true)
)

// StateStyle colors a transfer state or outcome.
func StateStyle(state string) lipgloss.Style {
	switch {
	case state == string(types.OutcomeSuccess) || state == string(types.StateDone):
		return SuccessStyle
	case state == string(types.OutcomeFailed):
		return ErrorStyle
	case types.TransferState(state).IsActive():
		return WarningStyle
	default:
		return ValueStyle
	}
}

// outcomeMark prefixes an outcome in table cells. Cells stay unstyled so
// the table can measure them.
func outcomeMark(outcome string) string {
	switch outcome {
	case string(types.OutcomeSuccess):
		return "✓ " + outcome
	case string(types.OutcomeFailed):
		return "✗ " + outcome
	default:
		return outcome
	}
}

func renderStatBox(label, value string, color lipgloss.Color) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statValue.Foreground(color).Render(value),
		statLabel.Render(label))
	return statBox.BorderForeground(color).Render(content)
}
