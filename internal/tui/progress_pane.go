package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/events"
)

// ProgressPaneModel shows run-level counters and a progress bar.
type ProgressPaneModel struct {
	description string
	total       int
	completed   int
	resident    int
	peak        int
	evicted     int
	failed      int
	done        bool
	bar         progress.Model
	width       int
	height      int
	focused     bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunProgressEvent:
		m.description = msg.Description
		m.total = msg.Total
		m.completed = msg.Completed
		m.resident = msg.Resident
		m.peak = max(m.peak, msg.Resident)
		m.done = msg.Done
	case events.ValueEvictedEvent:
		m.evicted++
	case events.TaskFailedEvent:
		m.failed++
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render(m.title())
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Steps:    %d/%d\n", m.completed, m.total))
	b.WriteString(fmt.Sprintf("Resident: %s (peak %d)\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.resident)), m.peak))
	b.WriteString(fmt.Sprintf("Released: %s\n", StyleStatusEvicted.Render(fmt.Sprintf("%d", m.evicted))))
	b.WriteString(fmt.Sprintf("Failed:   %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString("\n")

	if m.total > 0 {
		m.bar.Width = min(m.width-6, 50)
		b.WriteString(m.bar.ViewAs(m.Percent()))
		b.WriteString("\n")
	}

	switch {
	case m.done && m.failed > 0:
		b.WriteString(StyleStatusFailed.Render("Run aborted"))
	case m.done:
		b.WriteString(StyleStatusComplete.Render("Run finished"))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m ProgressPaneModel) title() string {
	if m.description == "" {
		return "Progress"
	}
	return m.description
}

// Percent returns the completed fraction of the schedule.
func (m ProgressPaneModel) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

// Done reports whether the run has ended.
func (m ProgressPaneModel) Done() bool { return m.done }

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
