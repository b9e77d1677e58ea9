package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/j-veylop/tokenwatch/internal/app"
	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/ui/components"
	"github.com/j-veylop/tokenwatch/internal/ui/styles"
)

const chartHeight = 8

// View renders the dashboard.
func (m *Model) View() string {
	snap := m.state.Snapshot()
	if !snap.Loaded {
		return m.spinner.View(m.width, m.height)
	}

	cardWidth := max(m.width-6, 40)
	sections := []string{
		m.renderTitle(snap),
		m.card(cardWidth, "Budget", m.renderBudget(snap, cardWidth-6)),
		m.card(cardWidth, "Rate (tokens/hour)", m.renderRate(snap, cardWidth-16)),
		m.card(cardWidth, "Prediction", m.renderPrediction(snap)),
	}
	if len(snap.Forecast) > 0 {
		sections = append(sections, m.card(cardWidth, "Forecast", m.renderForecast(snap, cardWidth-6)))
	}
	sections = append(sections, renderBackend(snap.Backend))

	m.viewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, sections...))
	return m.viewport.View()
}

func (m *Model) card(width int, title, body string) string {
	return styles.CardStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, styles.SubTitleStyle.Render(title), body),
	)
}

func (m *Model) renderTitle(snap app.Snapshot) string {
	title := styles.TitleStyle.Render("tokenwatch")
	sub := "Token budget monitor"
	if m.cfg.Version != "" {
		sub += " v" + m.cfg.Version
	}
	if !snap.LastUpdated.IsZero() {
		sub += " · updated " + humanize.Time(snap.LastUpdated)
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, styles.HelpStyle.Render(sub), "")
}

func (m *Model) renderBudget(snap app.Snapshot, width int) string {
	if snap.Quota <= 0 {
		return styles.HelpStyle.Render("No quota configured")
	}
	lines := []string{m.budgetBar.View("Used", snap.BudgetUsed, snap.Quota, width)}

	if s := snap.Latest; s != nil {
		lines = append(lines, "",
			stat("Last sample", humanize.Time(s.Timestamp)),
			stat("Tokens", humanize.Comma(s.TokensUsed)),
			stat("Requests", humanize.Comma(s.RequestsCount)),
			stat("Avg response", fmt.Sprintf("%.0f ms", s.AvgResponseTime)),
			stat("Errors", humanize.Comma(s.ErrorCount)),
			stat("Cost", fmt.Sprintf("$%.4f", s.CostUSD)),
		)
	} else {
		lines = append(lines, "", styles.HelpStyle.Render("No samples collected yet"))
	}
	return strings.Join(lines, "\n")
}

func stat(label, value string) string {
	return styles.LabelStyle.Render(fmt.Sprintf("%-14s", label)) + styles.ValueStyle.Render(value)
}

func (m *Model) renderRate(snap app.Snapshot, width int) string {
	if len(snap.Rates) == 0 {
		return styles.HelpStyle.Render("No data available")
	}
	current := snap.Rates[len(snap.Rates)-1]
	header := stat("Current", humanize.CommafWithDigits(current, 0)+" tokens/h")

	if m.sparkline || len(snap.Rates) < 2 {
		return header + "\n" + components.RenderSparkline(snap.Rates, width)
	}
	return header + "\n\n" + components.RenderLineChart(snap.Rates, width, chartHeight, "")
}

func (m *Model) renderPrediction(snap app.Snapshot) string {
	p := snap.Prediction
	if p == nil {
		return styles.HelpStyle.Render("Not enough history for a prediction")
	}
	if p.Unbounded() || p.HoursRemaining == nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			stat("Exhaustion", styles.UnknownStyle.Render("unbounded")),
			stat("Confidence", fmt.Sprintf("%.0f%%", p.Confidence*100)),
		)
	}

	hours := *p.HoursRemaining
	lines := []string{
		stat("Remaining", styles.HoursStyle(hours).Render(formatHours(hours))),
	}
	if p.ExhaustionTime != nil {
		lines = append(lines, stat("Exhaustion", humanize.Time(*p.ExhaustionTime)))
	}
	lines = append(lines, stat("Confidence", fmt.Sprintf("%.0f%%", p.Confidence*100)))
	return strings.Join(lines, "\n")
}

func formatHours(h float64) string {
	switch {
	case h <= 0:
		return "exhausted"
	case h < 1:
		return fmt.Sprintf("%.0f min", h*60)
	case h < 48:
		return fmt.Sprintf("%.1f h", h)
	default:
		return fmt.Sprintf("%.1f days", h/24)
	}
}

func (m *Model) renderForecast(snap app.Snapshot, width int) string {
	values := make([]float64, 0, len(snap.Forecast))
	labels := make([]string, 0, len(snap.Forecast))
	var cost float64
	for _, p := range snap.Forecast {
		if p.PredictedTokens == nil {
			continue
		}
		values = append(values, *p.PredictedTokens)
		labels = append(labels, p.ForDate)
		if p.PredictedCost != nil {
			cost += *p.PredictedCost
		}
	}
	chart := components.RenderBarChart(values, labels, width, func(v float64) string {
		return humanize.CommafWithDigits(v, 0)
	})
	return chart + "\n\n" + stat("Projected cost", fmt.Sprintf("$%.2f", cost))
}

func renderBackend(s db.Stats) string {
	var b strings.Builder
	b.WriteString("Storage: ")
	switch s.Backend {
	case "":
		b.WriteString(styles.CriticalStyle.Render("unavailable"))
	case db.KindPostgres:
		b.WriteString(styles.SafeStyle.Render(string(s.Backend)))
		if s.Pool != nil {
			fmt.Fprintf(&b, " (pool %d/%d in use)", s.Pool.AcquiredConns, s.Pool.MaxConns)
		}
	default:
		b.WriteString(styles.InfoStyle.Render(string(s.Backend)))
		if s.Path != "" {
			b.WriteString(" " + s.Path)
		}
	}
	if s.PrimaryError != "" {
		b.WriteString("\n" + styles.WarningStyle.Render("Primary unavailable: "+s.PrimaryError))
	}
	return styles.HelpStyle.Render(b.String())
}

