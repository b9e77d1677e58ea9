// Package dashboard provides the budget overview tab of the watch view.
package dashboard

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/tokenwatch/internal/app"
	"github.com/j-veylop/tokenwatch/internal/ui/components"
)

// keyMap defines the key bindings specific to the dashboard tab.
type keyMap struct {
	ScrollDown key.Binding
	ScrollUp   key.Binding
	Top        key.Binding
	Chart      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		ScrollDown: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "top"),
		),
		Chart: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "toggle chart"),
		),
	}
}

// Config holds the values the dashboard renders against.
type Config struct {
	WarningPct  float64
	CriticalPct float64
	Version     string
}

// Model represents the dashboard tab state.
type Model struct {
	state     *app.State
	cfg       Config
	keys      keyMap
	spinner   components.LoadingSpinner
	budgetBar components.BudgetBar
	viewport  viewport.Model
	width     int
	height    int
	// sparkline renders the rate history inline instead of as a plot.
	sparkline bool
}

// New creates a new dashboard model.
func New(state *app.State, cfg Config) *Model {
	return &Model{
		state:     state,
		cfg:       cfg,
		keys:      defaultKeyMap(),
		spinner:   components.NewSpinner("Waiting for the first sample..."),
		budgetBar: components.NewBudgetBar(cfg.WarningPct, cfg.CriticalPct),
		viewport:  viewport.New(0, 0),
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Init()
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Chart):
		m.sparkline = !m.sparkline
	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}
	return nil
}

// SetSize sets the available size for the dashboard.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
}

// ShortHelp returns the key bindings for the help overlay.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.ScrollDown, m.keys.ScrollUp, m.keys.Top, m.keys.Chart}
}
