package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/device"
)

// Save targets offered by the settings form.
const (
	SaveGlobal  = "global"
	SaveProject = "project"
)

// SettingsPaneModel manages the settings form overlay. Changes apply to the
// next run; the one in progress keeps its devices.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget      string
	computeDevice   string
	retentionDevice string
	logLevel        string
	storePath       string
	quiet           bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = SaveProject
	m.computeDevice = m.config.ComputeDevice
	m.retentionDevice = m.config.RetentionDevice
	m.logLevel = m.config.LogLevel
	m.storePath = m.config.StorePath
	m.quiet = m.config.Quiet
}

func validDevice(s string) error {
	_, err := device.Parse(s)
	return err
}

func validLevel(s string) error {
	_, err := zerolog.ParseLevel(s)
	return err
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = NewSettingsForm(&m.saveTarget, &m.computeDevice, &m.retentionDevice, &m.logLevel, &m.storePath, &m.quiet)
}

// NewSettingsForm builds the engine settings form bound to the given fields.
// It is shared by the monitor's overlay and the standalone config command.
func NewSettingsForm(saveTarget, compute, retention, logLevel, storePath *string, quiet *bool) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project (.taskgraph/config.json)", SaveProject),
					huh.NewOption("Global (~/.taskgraph/config.json)", SaveGlobal),
				).
				Value(saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("computeDevice").
				Title("Compute Device").
				Value(compute).
				Placeholder("cuda:0").
				Validate(validDevice),

			huh.NewInput().
				Key("retentionDevice").
				Title("Retention Device").
				Value(retention).
				Placeholder("cpu").
				Validate(validDevice),
		).Title("Devices"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("trace", "debug", "info", "warn", "error")...).
				Value(logLevel).
				Validate(validLevel),

			huh.NewInput().
				Key("storePath").
				Title("Result Store").
				Value(storePath).
				Placeholder(".taskgraph/results.db"),

			huh.NewConfirm().
				Key("quiet").
				Title("Hide progress bar").
				Value(quiet),
		).Title("Run Settings"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Close) {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.ApplyToConfig()
		if err := config.Save(m.config, m.TargetPath()); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// ApplyToConfig copies form field values back to the config.
func (m *SettingsPaneModel) ApplyToConfig() {
	m.config.ComputeDevice = m.computeDevice
	m.config.RetentionDevice = m.retentionDevice
	m.config.LogLevel = m.logLevel
	m.config.StorePath = m.storePath
	m.config.Quiet = m.quiet
}

// TargetPath returns the file the form saves to.
func (m SettingsPaneModel) TargetPath() string {
	if m.saveTarget == SaveGlobal {
		return m.globalPath
	}
	return m.projectPath
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	switch {
	case m.err != nil:
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	default:
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(max(0, m.width-4)).
		Height(max(0, m.height-4))

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(max(0, w-8)).WithHeight(max(0, h-8))
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the form
// from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
