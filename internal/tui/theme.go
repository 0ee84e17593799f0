package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorPrimary = lipgloss.Color("#2563EB") // Blue (selection)
	colorMuted   = lipgloss.Color("#6B7280") // Gray
	colorAccent  = lipgloss.Color("#10B981") // Green (progress fill)
)

// Shared styles used across prompts.
var (
	// Prompt title line above a selection list.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F3F4F6"))

	// Selected item in a list.
	selectedItemStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorPrimary)

	// Normal (unselected) item in a list.
	normalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D1D5DB"))

	// Muted text (sizes, secondary info).
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	// Help text at the bottom.
	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)
