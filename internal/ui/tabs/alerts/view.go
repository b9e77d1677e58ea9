package alerts

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/tokenwatch/internal/ui/styles"
)

// View renders the alerts tab.
func (m *Model) View() string {
	m.sync()

	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left,
			styles.TitleStyle.Render("Alerts"),
			styles.HelpStyle.Render(m.subtitle()),
			"",
		),
	}

	cardWidth := max(m.width-6, 60)
	if len(m.visible) == 0 {
		sections = append(sections, styles.CardStyle.Width(cardWidth).Render(
			styles.HelpStyle.Render("No alerts. Thresholds have not been crossed."),
		))
	} else {
		sections = append(sections,
			styles.CardStyle.Width(cardWidth).Render(m.table.View()),
			m.renderDetail(),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetail shows the full text of the selected alert.
func (m *Model) renderDetail() string {
	a, ok := m.Selected()
	if !ok {
		return ""
	}
	var b strings.Builder
	b.WriteString(styles.SeverityStyle(a.Severity).Render(a.Title))
	b.WriteString("\n")
	b.WriteString(styles.ValueStyle.Render(a.Message))
	b.WriteString("\n")
	b.WriteString(styles.HelpStyle.Render(a.Timestamp.Local().Format("2006-01-02 15:04:05") + "  id " + a.ID))
	return b.String()
}
