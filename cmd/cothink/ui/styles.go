// Package ui provides the visual styling for the cothink interactive CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	Primary = lipgloss.Color("#7C6FCD") // soft violet
	Accent  = lipgloss.Color("#4db6ac") // teal
	Muted   = lipgloss.Color("#6b7280") // gray
	Warning = lipgloss.Color("#FFC107")
	Danger  = lipgloss.Color("#e53935")
)

var (
	// TitleStyle renders the banner line.
	TitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	// PromptStyle renders the input prompt prefix.
	PromptStyle = lipgloss.NewStyle().
			Foreground(Accent).
			Bold(true)

	// AgentStyle renders agent replies.
	AgentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#f2f2f2"})

	// ModeStyle renders the current-mode tag in the prompt.
	ModeStyle = lipgloss.NewStyle().
			Foreground(Muted)

	// HintStyle renders help text and command listings.
	HintStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)

	// ErrorStyle renders failures.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(Danger).
			Bold(true)
)

// Banner renders the session-opening banner.
func Banner(name, version string) string {
	return TitleStyle.Render(name+" "+version) + "\n" +
		HintStyle.Render("type /help for commands, /exit to quit")
}
