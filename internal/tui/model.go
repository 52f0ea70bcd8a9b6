// Package tui is the interactive run monitor: a task list with per-task
// detail, run progress, and a settings overlay for the engine config.
package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
)

const paneCount = 2

// runEndedMsg is sent when the event subscription closes.
type runEndedMsg struct{}

// Model is the root Bubble Tea model for the monitor.
type Model struct {
	taskPane     TaskPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
	exitOnDone   bool
	ended        bool
}

// Option configures a Model.
type Option func(*Model)

// WithExitOnDone quits the monitor as soon as the run ends.
func WithExitOnDone(exit bool) Option {
	return func(m *Model) { m.exitOnDone = exit }
}

// New creates a new monitor model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus, cfg *config.Config, globalPath, projectPath string, opts ...Option) Model {
	m := Model{
		taskPane:     NewTaskPaneModel(),
		progressPane: NewProgressPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneTasks,
		eventSub:     eventBus.SubscribeAll(1024),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return runEndedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The settings overlay is modal.
		if m.showSettings {
			if key.Matches(msg, keys.Close) {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			} else {
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Settings):
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case key.Matches(msg, keys.NextPane):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.TasksPane):
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case key.Matches(msg, keys.RunPane):
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.TaskStartedEvent, events.TaskCompletedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.TaskFailedEvent, events.ValueEvictedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RunProgressEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)
		if msg.Done {
			m.ended = true
		}
		if msg.Done && m.exitOnDone {
			m.quitting = true
			return m, tea.Quit
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	case runEndedMsg:
		m.ended = true
		if m.exitOnDone {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, tea.Batch(cmds...)
}

// RunEnded reports whether the monitored run has finished or its event
// stream has closed.
func (m Model) RunEnded() bool {
	return m.ended
}

// View renders the monitor.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	panes := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, panes, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	taskWidth := (m.width * 65) / 100
	progressWidth := m.width - taskWidth
	availableHeight := m.height - 1 // help bar

	m.taskPane.SetSize(taskWidth, availableHeight)
	m.progressPane.SetSize(progressWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
