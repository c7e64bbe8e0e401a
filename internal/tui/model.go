// Package tui provides the BubbleTea-based settings editor.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jmylchreest/xsnotify/internal/config"
	"github.com/jmylchreest/xsnotify/internal/settings"
)

// Mode represents the current UI mode.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeEdit
	ModeAdd
	ModeHelp
)

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldToggle
)

// field is one editable row.
type field struct {
	label string
	kind  fieldKind
	value func(c *config.Config) string
	// set receives the typed text for fieldText and is called with an empty
	// string to flip a fieldToggle.
	set func(e *settings.Editor, c *config.Config, v string) error
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

var fields = []field{
	{
		label: "Port",
		value: func(c *config.Config) string { return strconv.Itoa(c.Port) },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetPort(v) },
	},
	{
		label: "Host",
		value: func(c *config.Config) string { return c.Host },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetHost(v) },
	},
	{
		label: "Notification strategy",
		kind:  fieldToggle,
		value: func(c *config.Config) string { return string(c.NotificationStrategy) },
		set: func(e *settings.Editor, c *config.Config, _ string) error {
			next := config.StrategyPolling
			if c.NotificationStrategy == config.StrategyPolling {
				next = config.StrategyListener
			}
			return e.SetStrategy(string(next))
		},
	},
	{
		label: "Polling rate (ms)",
		value: func(c *config.Config) string { return strconv.Itoa(c.PollingRate) },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetPollingRate(v) },
	},
	{
		label: "Dynamic timeout",
		kind:  fieldToggle,
		value: func(c *config.Config) string { return onOff(c.DynamicTimeout) },
		set: func(e *settings.Editor, c *config.Config, _ string) error {
			return e.SetDynamicTimeout(!c.DynamicTimeout)
		},
	},
	{
		label: "Default timeout (s)",
		value: func(c *config.Config) string { return formatFloat(c.DefaultTimeout) },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetDefaultTimeout(v) },
	},
	{
		label: "Reading speed (wpm)",
		value: func(c *config.Config) string { return formatFloat(c.ReadingSpeed) },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetReadingSpeed(v) },
	},
	{
		label: "Min timeout (s)",
		value: func(c *config.Config) string { return formatFloat(c.MinTimeout) },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetMinTimeout(v) },
	},
	{
		label: "Max timeout (s)",
		value: func(c *config.Config) string { return formatFloat(c.MaxTimeout) },
		set:   func(e *settings.Editor, _ *config.Config, v string) error { return e.SetMaxTimeout(v) },
	},
}

// Model is the settings TUI model.
type Model struct {
	editor *settings.Editor
	cfg    *config.Config

	mode   Mode
	cursor int

	input textinput.Model
	help  help.Model
	keys  KeyMap

	width  int
	height int

	// Status message
	statusMsg string
	statusErr bool
}

// New creates a settings model backed by editor.
func New(editor *settings.Editor) Model {
	input := textinput.New()
	input.CharLimit = 256
	input.Cursor.SetMode(cursor.CursorStatic)

	return Model{
		editor: editor,
		cfg:    editor.Config(),
		mode:   ModeBrowse,
		input:  input,
		help:   help.New(),
		keys:   DefaultKeyMap(),
	}
}

// Init initializes the TUI.
func (m Model) Init() tea.Cmd {
	return nil
}

// rows is the number of selectable rows: every field, then every skipped app.
func (m Model) rows() int {
	return len(fields) + len(m.cfg.SkippedApps)
}

// selectedApp returns the skipped app under the cursor, if any.
func (m Model) selectedApp() (string, bool) {
	i := m.cursor - len(fields)
	if i < 0 || i >= len(m.cfg.SkippedApps) {
		return "", false
	}
	return m.cfg.SkippedApps[i], true
}

type statusMsg struct {
	text  string
	isErr bool
}

type clearStatusMsg struct{}

func status(text string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return statusMsg{text: text, isErr: isErr}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(msg.Width-30, 10)
		return m, nil

	case statusMsg:
		m.statusMsg = msg.text
		m.statusErr = msg.isErr
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return clearStatusMsg{}
		})

	case clearStatusMsg:
		m.statusMsg = ""
		m.statusErr = false
		return m, nil
	}

	if m.mode == ModeEdit || m.mode == ModeAdd {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey handles key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case ModeEdit, ModeAdd:
		return m.handleInputKey(msg)
	case ModeHelp:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help), key.Matches(msg, m.keys.Back):
			m.mode = ModeBrowse
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.mode = ModeHelp
		return m, nil
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.cursor < m.rows()-1 {
			m.cursor++
		}
		return m, nil
	case key.Matches(msg, m.keys.Home):
		m.cursor = 0
		return m, nil
	case key.Matches(msg, m.keys.End):
		m.cursor = m.rows() - 1
		return m, nil
	case key.Matches(msg, m.keys.Add):
		return m.startInput(ModeAdd, "")
	case key.Matches(msg, m.keys.Remove):
		app, ok := m.selectedApp()
		if !ok {
			return m, nil
		}
		return m.apply(func() error { return m.editor.RemoveSkippedApp(app) },
			fmt.Sprintf("No longer skipping %s", app))
	case key.Matches(msg, m.keys.Enter):
		if m.cursor >= len(fields) {
			return m, nil
		}
		f := fields[m.cursor]
		if f.kind == fieldToggle {
			return m.apply(func() error { return f.set(m.editor, m.cfg, "") },
				"Saved "+strings.ToLower(f.label))
		}
		return m.startInput(ModeEdit, f.value(m.cfg))
	}
	return m, nil
}

// handleInputKey handles keys while a text input is focused. Enter and esc
// are matched by type so that bound letters can be typed.
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.stopInput()
		return m, nil
	case tea.KeyEnter:
		value := m.input.Value()
		mode := m.mode
		m.stopInput()
		if mode == ModeAdd {
			app := strings.TrimSpace(value)
			if app == "" {
				return m, nil
			}
			return m.apply(func() error { return m.editor.AddSkippedApp(app) },
				fmt.Sprintf("Skipping %s", app))
		}
		f := fields[m.cursor]
		return m.apply(func() error { return f.set(m.editor, m.cfg, value) },
			"Saved "+strings.ToLower(f.label))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) startInput(mode Mode, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Placeholder = ""
	if mode == ModeAdd {
		m.input.Placeholder = "application name"
	}
	m.input.SetValue(value)
	m.input.CursorEnd()
	cmd := m.input.Focus()
	return m, cmd
}

func (m *Model) stopInput() {
	m.mode = ModeBrowse
	m.input.Blur()
	m.input.SetValue("")
}

// apply runs one editor change and reports the outcome in the status line.
// A change that leaves the timeouts inconsistent is saved but flagged.
func (m Model) apply(change func() error, done string) (tea.Model, tea.Cmd) {
	if err := change(); err != nil {
		return m, status(err.Error(), true)
	}
	m.cfg = m.editor.Config()
	if m.cursor >= m.rows() {
		m.cursor = m.rows() - 1
	}
	if err := m.editor.Validate(); err != nil {
		return m, status("Saved, but: "+strings.ReplaceAll(err.Error(), "\n", "; "), true)
	}
	return m, status(done, false)
}

// View renders the TUI.
func (m Model) View() string {
	if m.mode == ModeHelp {
		return m.viewHelp()
	}

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))
	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))
	cursorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))
	dimStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))

	var b strings.Builder
	b.WriteString(headerStyle.Render("XS Notify Settings"))
	b.WriteString("\n\n")

	for i, f := range fields {
		b.WriteString(m.cursorMark(i, cursorStyle))
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-22s", f.label)))
		if m.mode == ModeEdit && i == m.cursor {
			b.WriteString(m.input.View())
		} else {
			b.WriteString(f.value(m.cfg))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Skipped apps"))
	b.WriteString("\n")
	if len(m.cfg.SkippedApps) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
	}
	for i, app := range m.cfg.SkippedApps {
		b.WriteString(m.cursorMark(len(fields)+i, cursorStyle))
		b.WriteString(app)
		b.WriteString("\n")
	}
	if m.mode == ModeAdd {
		b.WriteString(cursorStyle.Render("+ "))
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.editor.Path()))
	if m.statusMsg != "" {
		statusStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))
		if m.statusErr {
			statusStyle = statusStyle.Foreground(lipgloss.Color("9"))
		}
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(m.statusMsg))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}

func (m Model) cursorMark(row int, style lipgloss.Style) string {
	if row == m.cursor && m.mode != ModeAdd {
		return style.Render("> ")
	}
	return "  "
}

func (m Model) viewHelp() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)

	h := m.help
	h.ShowAll = true

	s := titleStyle.Render("Keyboard Shortcuts") + "\n\n"
	s += h.View(m.keys) + "\n\n"
	s += lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(
		"Changes are saved immediately. Restart xsnotify to apply them.")
	return s
}

// RunOptions configures the TUI.
type RunOptions struct {
	// ConfigPath is the file being edited. Empty uses the default location.
	ConfigPath string
}

// Run starts the settings TUI.
func Run(opts RunOptions) error {
	path := opts.ConfigPath
	if path == "" {
		path = config.ConfigPath()
	}

	editor, err := settings.Open(path)
	if err != nil {
		return err
	}

	p := tea.NewProgram(New(editor), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
