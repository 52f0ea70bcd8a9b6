package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Quit      key.Binding
	Settings  key.Binding
	Close     key.Binding
	NextPane  key.Binding
	TasksPane key.Binding
	RunPane   key.Binding
	Down      key.Binding
	Up        key.Binding
	First     key.Binding
	Last      key.Binding
}

var keys = keyMap{
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Settings:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Close:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
	NextPane:  key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "cycle focus")),
	TasksPane: key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "tasks")),
	RunPane:   key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "run")),
	Down:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/k", "select task")),
	Up:        key.NewBinding(key.WithKeys("k", "up")),
	First:     key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g/G", "first/last")),
	Last:      key.NewBinding(key.WithKeys("G", "end")),
}

// HelpView returns a one-line help bar built from the bindings.
func HelpView() string {
	var parts []string
	for _, b := range []key.Binding{keys.NextPane, keys.TasksPane, keys.RunPane, keys.Down, keys.First, keys.Settings, keys.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+": "+h.Desc)
	}
	return StyleHelp.Render(strings.Join(parts, " | "))
}
