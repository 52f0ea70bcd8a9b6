package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent = lipgloss.Color("62")
	colorMuted  = lipgloss.Color("240")
	colorFaint  = lipgloss.Color("241")
)

var paneBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder())

// Pane borders.
var (
	StyleFocusedBorder   = paneBorder.BorderForeground(colorAccent)
	StyleUnfocusedBorder = paneBorder.BorderForeground(colorMuted)
)

// Task status styles. Evicted tasks are done and no longer hold a value.
var (
	StyleStatusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")).Bold(true)
	StyleStatusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true)
	StyleStatusTarget   = StyleStatusComplete.Foreground(lipgloss.Color("cyan"))
	StyleStatusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("red")).Bold(true)
	StyleStatusEvicted  = lipgloss.NewStyle().Foreground(colorMuted)
)

var (
	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp     = lipgloss.NewStyle().Foreground(colorFaint)
	StyleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(lipgloss.Color("0"))
)
