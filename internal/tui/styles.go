// SPDX-License-Identifier: MIT
package tui

import (
	"cardio/internal/analysis"
	"cardio/internal/classify"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#E0475B")
	muted  = lipgloss.Color("#6C6C6C")

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(accent).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	dimStyle = lipgloss.NewStyle().
			Foreground(muted)

	highlightStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	traceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	beatStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	gridStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#303030"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 2)

	bpmStyle = lipgloss.NewStyle().
			Bold(true)

	noticeStyles = map[noticeLevel]lipgloss.Style{
		noticeInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7")),
		noticeWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		noticeError: lipgloss.NewStyle().Foreground(accent).Bold(true),
	}
)

// statusColor maps a rate category onto the BPM card colour.
func statusColor(s analysis.BpmStatus) lipgloss.Color {
	switch s {
	case analysis.StatusNormal:
		return lipgloss.Color("#25A065")
	case analysis.StatusBradycardia:
		return lipgloss.Color("#5FAFD7")
	case analysis.StatusTachycardia:
		return accent
	default:
		return muted
	}
}

func severityStyle(s classify.Severity) lipgloss.Style {
	switch s {
	case classify.SeverityCritical:
		return noticeStyles[noticeError]
	case classify.SeverityWarning:
		return noticeStyles[noticeWarn]
	default:
		return traceStyle.Bold(true)
	}
}
