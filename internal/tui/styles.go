// Package tui provides the terminal shell for the Saathi assistant.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	primaryColor = lipgloss.Color("#1F7A4D") // Green
	accentColor  = lipgloss.Color("#F59E0B") // Amber
	userColor    = lipgloss.Color("#2563EB") // Blue
	errorColor   = lipgloss.Color("#EF4444") // Red
	dimColor     = lipgloss.Color("#6B7280") // Gray
	bgColor      = lipgloss.Color("#1F2937") // Dark gray
	textColor    = lipgloss.Color("#F9FAFB") // Light
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	chatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	userMessageStyle = lipgloss.NewStyle().
				Foreground(userColor).
				Bold(true)

	assistantMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(dimColor).
				Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	listeningStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errorColor).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(textColor).
			Padding(0, 1).
			Bold(true)

	statusValueStyle = lipgloss.NewStyle().
				Background(bgColor).
				Foreground(textColor).
				Padding(0, 1)
)

var wrapStyle = lipgloss.NewStyle()
