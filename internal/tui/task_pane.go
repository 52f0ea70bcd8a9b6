package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/events"
)

// Task statuses as shown in the list.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusEvicted   = "evicted"
)

// TaskState is what the monitor knows about one scheduled task.
type TaskState struct {
	Key       string
	Label     string
	Index     int
	Status    string
	Target    bool
	StartTime time.Time
	Duration  time.Duration
	Log       []string
}

// TaskPaneModel lists tasks in schedule order next to a scrollable detail
// view of the selected one.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // key -> state
	order       []string              // keys in start order
	selectedIdx int
	follow      bool // keep the newest task selected
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.follow = m.selectedIdx == len(m.order)-1
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.follow = false
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.First):
			if len(m.order) > 0 {
				m.selectedIdx = 0
				m.follow = len(m.order) == 1
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Last):
			if len(m.order) > 0 {
				// Jumping to the end resumes following new tasks.
				m.selectedIdx = len(m.order) - 1
				m.follow = true
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		if _, exists := m.tasks[msg.Key]; !exists {
			m.tasks[msg.Key] = &TaskState{
				Key:       msg.Key,
				Label:     msg.Label,
				Index:     msg.Index,
				Status:    StatusRunning,
				StartTime: msg.Timestamp,
			}
			m.order = append(m.order, msg.Key)
		}
		m.logf(msg.Key, "step %d started", msg.Index)
		if m.follow {
			m.selectedIdx = len(m.order) - 1
		}
		m.updateViewportContent()

	case events.TaskCompletedEvent:
		if task, exists := m.tasks[msg.Key]; exists {
			task.Status = StatusCompleted
			task.Target = msg.Target
			task.Duration = msg.Duration
			note := ""
			if msg.Target {
				note = ", yielded"
			}
			m.logf(msg.Key, "completed in %v%s", msg.Duration, note)
		}

	case events.TaskFailedEvent:
		if task, exists := m.tasks[msg.Key]; exists {
			task.Status = StatusFailed
			m.logf(msg.Key, "failed: %v", msg.Err)
		}

	case events.ValueEvictedEvent:
		if task, exists := m.tasks[msg.Key]; exists {
			task.Status = StatusEvicted
			m.logf(msg.Key, "value released after step %d", msg.Index)
		}
	}

	return m, cmd
}

func (m *TaskPaneModel) logf(key, format string, args ...any) {
	task, ok := m.tasks[key]
	if !ok {
		return
	}
	task.Log = append(task.Log, fmt.Sprintf(format, args...))
	if m.getSelectedKey() == key {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusEvicted.Render("Waiting..."))
	}

	// Keep the selection visible when the list is taller than the pane.
	rows := max(1, m.height-6)
	start := 0
	if m.selectedIdx >= rows {
		start = m.selectedIdx - rows + 1
	}
	for i := start; i < len(m.order) && i < start+rows; i++ {
		task := m.tasks[m.order[i]]
		name := task.Label
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(task.Status, task.Target), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator. Completed targets get a
// distinct marker from completed intermediates.
func StatusIcon(status string, target bool) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		if target {
			return StyleStatusTarget.Render("★")
		}
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	case StatusEvicted:
		return StyleStatusEvicted.Render("·")
	default:
		return StyleStatusEvicted.Render("○")
	}
}

// Selected returns the selected task, if any.
func (m TaskPaneModel) Selected() (TaskState, bool) {
	task, ok := m.tasks[m.getSelectedKey()]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

// Len returns how many tasks the pane has seen.
func (m TaskPaneModel) Len() int { return len(m.order) }

func (m TaskPaneModel) getSelectedKey() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.getSelectedKey()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", StyleTitle.Render(task.Label))
	fmt.Fprintf(&b, "key:    %s\n", task.Key)
	fmt.Fprintf(&b, "step:   %d\n", task.Index)
	fmt.Fprintf(&b, "status: %s\n\n", task.Status)
	b.WriteString(strings.Join(task.Log, "\n"))
	m.viewport.SetContent(b.String())
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(0, width-28-6)
	m.viewport.Height = max(0, height-4)
	m.updateViewportContent()
}

// SetFocused sets whether this pane has focus.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
