package tui

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/events"
)

func newTestModel(t *testing.T, opts ...Option) Model {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	dir := t.TempDir()
	m := New(bus, config.DefaultConfig(), filepath.Join(dir, "global.json"), filepath.Join(dir, "project.json"), opts...)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func feed(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestModelTracksTasks(t *testing.T) {
	m := newTestModel(t)
	now := time.Now()

	m = feed(m,
		events.TaskStartedEvent{Key: "k1", Label: "base", Index: 0, Timestamp: now},
		events.TaskCompletedEvent{Key: "k1", Label: "base", Index: 0, Duration: time.Millisecond},
		events.RunProgressEvent{Description: "Merging", Total: 2, Completed: 1, Resident: 1},
		events.TaskStartedEvent{Key: "k2", Label: "merged", Index: 1, Timestamp: now},
		events.TaskCompletedEvent{Key: "k2", Label: "merged", Index: 1, Target: true},
		events.ValueEvictedEvent{Key: "k1", Index: 1},
		events.RunProgressEvent{Description: "Merging", Total: 2, Completed: 2, Resident: 1, Done: true},
	)

	if m.taskPane.Len() != 2 {
		t.Fatalf("task pane has %d tasks, want 2", m.taskPane.Len())
	}
	sel, ok := m.taskPane.Selected()
	if !ok || sel.Label != "merged" || sel.Status != StatusCompleted || !sel.Target {
		t.Errorf("selected = %+v", sel)
	}
	if got := m.taskPane.tasks["k1"].Status; got != StatusEvicted {
		t.Errorf("base status = %q, want evicted", got)
	}
	if !m.progressPane.Done() || m.progressPane.Percent() != 1 || m.progressPane.evicted != 1 {
		t.Errorf("progress pane = %+v", m.progressPane)
	}

	if !m.RunEnded() {
		t.Error("run should be marked ended after the final progress event")
	}

	view := m.View()
	for _, want := range []string{"Tasks", "merged", "Merging", "Run finished"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelFailure(t *testing.T) {
	m := newTestModel(t)
	m = feed(m,
		events.TaskStartedEvent{Key: "k", Label: "blend", Index: 0},
		events.TaskFailedEvent{Key: "k", Label: "blend", Index: 0, Err: errors.New("boom")},
		events.RunProgressEvent{Total: 3, Done: true},
	)

	sel, _ := m.taskPane.Selected()
	if sel.Status != StatusFailed || !strings.Contains(strings.Join(sel.Log, "\n"), "boom") {
		t.Errorf("selected = %+v", sel)
	}
	if !strings.Contains(m.View(), "Run aborted") {
		t.Error("view should report the aborted run")
	}
}

func TestModelSelectionAndFocus(t *testing.T) {
	m := newTestModel(t)
	m = feed(m,
		events.TaskStartedEvent{Key: "a", Label: "a"},
		events.TaskStartedEvent{Key: "b", Label: "b"},
		tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")},
	)
	if sel, _ := m.taskPane.Selected(); sel.Key != "a" {
		t.Errorf("selected %q after moving up, want a", sel.Key)
	}

	// Manual selection stops following new tasks.
	m = feed(m, events.TaskStartedEvent{Key: "c", Label: "c"})
	if sel, _ := m.taskPane.Selected(); sel.Key != "a" {
		t.Errorf("selection jumped to %q", sel.Key)
	}

	m = feed(m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focusedPane != PaneProgress {
		t.Errorf("focus = %v, want progress pane", m.focusedPane)
	}
	m = feed(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if sel, _ := m.taskPane.Selected(); sel.Key != "a" {
		t.Error("unfocused task pane must ignore keys")
	}

	// Jumping to the last task resumes following.
	m = feed(m,
		tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1")},
		tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")},
		events.TaskStartedEvent{Key: "d", Label: "d"},
	)
	if sel, _ := m.taskPane.Selected(); sel.Key != "d" {
		t.Errorf("selected %q, want d after jumping to the end", sel.Key)
	}
	m = feed(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	if sel, _ := m.taskPane.Selected(); sel.Key != "a" {
		t.Errorf("selected %q, want a after jumping to the start", sel.Key)
	}
}

func TestHelpViewListsBindings(t *testing.T) {
	help := HelpView()
	for _, want := range []string{"tab: cycle focus", "j/k: select task", "s: settings", "q: quit"} {
		if !strings.Contains(help, want) {
			t.Errorf("help bar missing %q: %s", want, help)
		}
	}
}

func TestModelExitOnDone(t *testing.T) {
	m := newTestModel(t, WithExitOnDone(true))
	next, cmd := m.Update(events.RunProgressEvent{Total: 1, Completed: 1, Done: true})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if next.(Model).View() != "" {
		t.Error("quitting model should render nothing")
	}
}

func TestSettingsApplyAndTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	s := NewSettingsPaneModel(cfg, filepath.Join(dir, "g.json"), filepath.Join(dir, "p.json"))

	if s.TargetPath() != filepath.Join(dir, "p.json") {
		t.Errorf("default target = %q, want project path", s.TargetPath())
	}
	s.computeDevice = "cuda:1"
	s.quiet = true
	s.saveTarget = SaveGlobal
	s.ApplyToConfig()

	if cfg.ComputeDevice != "cuda:1" || !cfg.Quiet {
		t.Errorf("config not updated: %+v", cfg)
	}
	if s.TargetPath() != filepath.Join(dir, "g.json") {
		t.Errorf("target = %q, want global path", s.TargetPath())
	}
	if err := validDevice("warp:drive"); err == nil {
		t.Error("expected invalid device to fail validation")
	}
}

func TestModelRunEndedOnClosedStream(t *testing.T) {
	m := newTestModel(t)
	if m.RunEnded() {
		t.Fatal("fresh model reports an ended run")
	}
	m = feed(m, runEndedMsg{})
	if !m.RunEnded() {
		t.Error("closed event stream should end the run")
	}
	if m.quitting {
		t.Error("model without exit-on-done must keep running")
	}
}
