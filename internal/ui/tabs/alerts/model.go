// Package alerts provides the alert list tab of the watch view.
package alerts

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/j-veylop/tokenwatch/internal/app"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/ui/styles"
)

type keyMap struct {
	Acknowledge key.Binding
	Filter      key.Binding
	Down        key.Binding
	Up          key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Acknowledge: key.NewBinding(
			key.WithKeys("enter", "a"),
			key.WithHelp("enter/a", "acknowledge"),
		),
		Filter: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "only unacknowledged"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next alert"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev alert"),
		),
	}
}

// Model represents the alerts tab state.
type Model struct {
	state  *app.State
	table  table.Model
	keys   keyMap
	width  int
	height int

	onlyOpen bool
	// visible is the alert behind each table row.
	visible []models.Alert
}

// New creates a new alerts model.
func New(state *app.State) *Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Subtle).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.Primary)
	s.Selected = s.Selected.
		Foreground(styles.TextPrimary).
		Background(styles.BgDark).
		Bold(true)
	t.SetStyles(s)

	return &Model{state: state, table: t, keys: defaultKeyMap()}
}

func columns(width int) []table.Column {
	msgWidth := max(width-62, 20)
	return []table.Column{
		{Title: "When", Width: 16},
		{Title: "Severity", Width: 9},
		{Title: "Type", Width: 21},
		{Title: "Message", Width: msgWidth},
		{Title: "Status", Width: 8},
	}
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	m.sync()

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Acknowledge):
		if a, ok := m.Selected(); ok && !a.Acknowledged {
			return m, app.Acknowledge(a.ID)
		}
		return m, nil
	case key.Matches(keyMsg, m.keys.Filter):
		m.onlyOpen = !m.onlyOpen
		m.sync()
		m.table.SetCursor(0)
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// sync rebuilds the table rows from the shared state.
func (m *Model) sync() {
	all := m.state.Snapshot().Alerts
	m.visible = m.visible[:0]
	for _, a := range all {
		if m.onlyOpen && a.Acknowledged {
			continue
		}
		m.visible = append(m.visible, a)
	}

	rows := make([]table.Row, 0, len(m.visible))
	for _, a := range m.visible {
		status := "open"
		switch {
		case a.ResolvedAt != nil:
			status = "resolved"
		case a.Acknowledged:
			status = "acked"
		}
		rows = append(rows, table.Row{
			humanize.Time(a.Timestamp),
			string(a.Severity),
			string(a.Type),
			a.Message,
			status,
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

// Selected returns the alert under the cursor.
func (m *Model) Selected() (models.Alert, bool) {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.visible) {
		return models.Alert{}, false
	}
	return m.visible[c], true
}

// SetSize sets the available size for the tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.table.SetColumns(columns(max(width-8, 80)))
	m.table.SetHeight(max(height-10, 5))
}

// ShortHelp returns the key bindings for the help overlay.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.Down, m.keys.Up, m.keys.Acknowledge, m.keys.Filter}
}

func (m *Model) subtitle() string {
	snap := m.state.Snapshot()
	open := snap.UnacknowledgedCount()
	s := fmt.Sprintf("%d alerts, %d unacknowledged", len(snap.Alerts), open)
	if m.onlyOpen {
		s += " (showing unacknowledged)"
	}
	return s
}
